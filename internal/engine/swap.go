package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/bamsammich/subvol/internal/btrfs"
	"github.com/bamsammich/subvol/internal/event"
	"github.com/bamsammich/subvol/internal/mounts"
	"github.com/bamsammich/subvol/internal/pathutil"
	"github.com/bamsammich/subvol/internal/platform"
	"github.com/bamsammich/subvol/internal/stats"
)

var (
	// ErrInvalidInput is returned for paths that are missing, equal, or nested.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotSubvolume is returned when a path is not a subvolume root.
	ErrNotSubvolume = errors.New("not a subvolume")
	// ErrDestinationOccupied is returned when a counterpart below NEW holds
	// anything but an empty plain directory. Nothing has been changed.
	ErrDestinationOccupied = errors.New("destination occupied")
	// ErrLeftoverSubvolumes is returned when subvolumes remain below TARGET
	// after relocation. The final exchange is not attempted.
	ErrLeftoverSubvolumes = errors.New("subvolumes left behind after relocation")
	// ErrAborted is returned when the operator declines the final exchange.
	ErrAborted = errors.New("swap aborted before final exchange")
)

// FS is the set of mutation primitives a swap needs.
type FS interface {
	Probe(path string) (platform.Occupancy, error)
	MkdirAll(path string) error
	Move(src, dst string) error
	Exchange(a, b string) error
	RemoveEmptyDir(path string) error
}

// Lister enumerates subvolumes. Subvolumes returns the absolute paths of
// every subvolume at or below dir, sorted parent-before-child.
type Lister interface {
	Subvolumes(dir string) ([]string, error)
}

const defaultTmpSuffix = ".tmp"

// SwapConfig describes a swap of the TARGET and NEW hierarchies.
type SwapConfig struct {
	FS     FS
	Lister Lister
	// Confirm, when set, is asked between verification and the final
	// exchange. Returning false aborts with ErrAborted.
	Confirm      func() (bool, error)
	Canonicalize func(string) (string, error)
	Events       chan<- event.Event
	Journal      *Journal
	Stats        *stats.Collector
	Target       string
	New          string
	TmpSuffix    string
}

// SwapResult is the outcome of a swap.
type SwapResult struct {
	Err       error
	Target    string
	New       string
	Moved     []string // relocated subvolumes, at their new location
	Skipped   []string // carried along by a relocated ancestor
	Stats     stats.Snapshot
	Stage     Stage
	Exchanged bool // the final swap used the atomic exchange
}

func (c SwapConfig) emit(e event.Event) {
	event.Emit(c.Events, e)
}

// Swap moves every subvolume nested below Target to the same relative
// location below New, then swaps Target and New. Afterwards the nested
// subvolumes sit under the Target path and Target's own content sits at the
// New path; running it again restores the original layout.
//
// The phases are:
//  1. check every counterpart under New is absent or an empty directory,
//     before mutating anything;
//  2. relocate the nested subvolumes outermost first;
//  3. list Target again and require that nothing is left below it;
//  4. exchange Target and New atomically, or with three restorable renames.
func Swap(ctx context.Context, cfg SwapConfig) SwapResult {
	collector := cfg.Stats
	if collector == nil {
		collector = stats.NewCollector()
	}
	res := swap(ctx, cfg, collector)
	res.Stats = collector.Snapshot()
	if res.Err != nil {
		collector.AddFailures(1)
		res.Stats.Failures++
	}
	return res
}

func swap(ctx context.Context, cfg SwapConfig, collector *stats.Collector) SwapResult {
	target, newPath, err := cfg.validate()
	if err != nil {
		return SwapResult{Err: err, Target: cfg.Target, New: cfg.New}
	}
	res := SwapResult{Target: target, New: newPath}

	// Phase 1: precondition.
	cfg.emit(event.Event{Type: event.PhaseStarted, Phase: 1, Path: target, Dest: newPath})
	children, err := cfg.children(target)
	if err != nil {
		res.Err = err
		return res
	}
	if err := cfg.checkCounterparts(target, newPath, children); err != nil {
		res.Err = err
		return res
	}

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	// Phase 2: relocation.
	cfg.emit(event.Event{Type: event.PhaseStarted, Phase: 2, Path: target, Dest: newPath})
	moved, skipped, err := cfg.relocate(target, newPath, children, collector)
	res.Moved, res.Skipped = moved, skipped
	if err != nil {
		res.Err = err
		return res
	}

	// Phase 3: verification.
	cfg.emit(event.Event{Type: event.PhaseStarted, Phase: 3, Path: target})
	leftover, err := cfg.children(target)
	if err != nil {
		res.Err = fmt.Errorf("verify %s: %w", target, err)
		return res
	}
	if len(leftover) > 0 {
		res.Err = fmt.Errorf("%w: %s", ErrLeftoverSubvolumes, strings.Join(leftover, ", "))
		return res
	}

	if cfg.Confirm != nil {
		ok, err := cfg.Confirm()
		if err != nil {
			res.Err = fmt.Errorf("confirm: %w", err)
			return res
		}
		if !ok {
			cfg.emit(event.Event{Type: event.Aborted, Path: target, Dest: newPath})
			res.Err = ErrAborted
			return res
		}
	}

	// Phase 4: final swap.
	cfg.emit(event.Event{Type: event.PhaseStarted, Phase: 4, Path: target, Dest: newPath})
	res.Exchanged, res.Stage, res.Err = cfg.exchange(target, newPath, collector)
	return res
}

func (c SwapConfig) validate() (target, newPath string, err error) {
	canon := c.Canonicalize
	if canon == nil {
		canon = mounts.Canonicalize
	}

	paths := make([]string, 0, 2)
	for _, p := range []string{c.Target, c.New} {
		cp, err := canon(p)
		if err != nil {
			return "", "", fmt.Errorf("%w: %s: %w", ErrInvalidInput, p, err)
		}
		info, err := os.Stat(cp)
		if err != nil {
			return "", "", fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		if !info.IsDir() {
			return "", "", fmt.Errorf("%w: %s is not a directory", ErrInvalidInput, cp)
		}
		paths = append(paths, cp)
	}
	target, newPath = paths[0], paths[1]

	if pathutil.Within(target, newPath) || pathutil.Within(newPath, target) {
		return "", "", fmt.Errorf("%w: %s and %s overlap", ErrInvalidInput, target, newPath)
	}

	for _, p := range paths {
		subs, err := c.Lister.Subvolumes(p)
		if err != nil {
			return "", "", fmt.Errorf("list subvolumes of %s: %w", p, err)
		}
		if len(subs) == 0 || subs[0] != p {
			return "", "", fmt.Errorf("%s: %w", p, ErrNotSubvolume)
		}
	}
	return target, newPath, nil
}

// children returns the subvolumes strictly below dir, sorted.
func (c SwapConfig) children(dir string) ([]string, error) {
	subs, err := c.Lister.Subvolumes(dir)
	if err != nil {
		return nil, fmt.Errorf("list subvolumes of %s: %w", dir, err)
	}
	var out []string
	for _, s := range subs {
		if s != dir && pathutil.Within(s, dir) {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, pathutil.Compare)
	return out, nil
}

func counterpart(target, newPath, p string) string {
	rel, _ := pathutil.Rel(target, p)
	return pathutil.Join(newPath, rel)
}

func (c SwapConfig) checkCounterparts(target, newPath string, children []string) error {
	var conflicts *multierror.Error
	for _, child := range children {
		dst := counterpart(target, newPath, child)
		occ, err := c.FS.Probe(dst)
		if err != nil {
			return fmt.Errorf("probe %s: %w", dst, err)
		}
		if occ == platform.Occupied {
			conflicts = multierror.Append(conflicts, fmt.Errorf("%s: exists and is not an empty directory", dst))
		}
	}
	if err := conflicts.ErrorOrNil(); err != nil {
		slog.Debug("swap precondition failed", "target", target, "new", newPath, "conflicts", len(conflicts.Errors))
		return fmt.Errorf("%w: %w", ErrDestinationOccupied, err)
	}
	return nil
}

func (c SwapConfig) relocate(
	target, newPath string,
	children []string,
	collector *stats.Collector,
) (moved, skipped []string, err error) {
	var last string
	for _, child := range children {
		if last != "" && pathutil.Within(child, last) {
			skipped = append(skipped, child)
			collector.AddSubvolsSkipped(1)
			c.emit(event.Event{Type: event.SubvolumeSkipped, Phase: 2, Path: child})
			continue
		}

		dst := counterpart(target, newPath, child)
		occ, err := c.FS.Probe(dst)
		if err != nil {
			return moved, skipped, fmt.Errorf("probe %s: %w", dst, err)
		}
		switch occ {
		case platform.Occupied:
			return moved, skipped, fmt.Errorf("%w: %s appeared during relocation", btrfs.ErrCorrupt, dst)
		case platform.EmptyDir:
			if err := c.FS.RemoveEmptyDir(dst); err != nil {
				return moved, skipped, fmt.Errorf("remove placeholder %s: %w", dst, err)
			}
			collector.AddPlaceholdersRemoved(1)
			c.emit(event.Event{Type: event.PlaceholderRemoved, Phase: 2, Path: dst})
			c.record(2, "rmdir", dst, "")
		case platform.Absent:
			if err := c.ensureParent(dst, collector); err != nil {
				return moved, skipped, err
			}
		}

		if err := c.FS.Move(child, dst); err != nil {
			return moved, skipped, fmt.Errorf("move %s to %s: %w", child, dst, err)
		}
		collector.AddSubvolsMoved(1)
		c.emit(event.Event{Type: event.SubvolumeMoved, Phase: 2, Path: child, Dest: dst})
		c.record(2, "move", child, dst)
		moved = append(moved, dst)
		last = child
	}
	return moved, skipped, nil
}

func (c SwapConfig) ensureParent(dst string, collector *stats.Collector) error {
	parent := filepath.Dir(dst)
	occ, err := c.FS.Probe(parent)
	if err != nil {
		return fmt.Errorf("probe %s: %w", parent, err)
	}
	if occ != platform.Absent {
		return nil
	}
	if err := c.FS.MkdirAll(parent); err != nil {
		return fmt.Errorf("create %s: %w", parent, err)
	}
	collector.AddDirsCreated(1)
	c.emit(event.Event{Type: event.DirCreated, Phase: 2, Path: parent})
	c.record(2, "mkdir", parent, "")
	return nil
}

// record and setStage log journal write failures; they never fail a swap.
func (c SwapConfig) record(phase int, op, src, dst string) {
	if err := c.Journal.Record(phase, op, src, dst); err != nil {
		slog.Warn("journal step not recorded", "op", op, "src", src, "dst", dst, "error", err)
	}
}

func (c SwapConfig) setStage(s Stage) {
	if err := c.Journal.SetStage(s); err != nil {
		slog.Warn("journal stage not recorded", "stage", s, "error", err)
	}
}
