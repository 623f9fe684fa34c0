package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/bamsammich/subvol/internal/event"
	"github.com/bamsammich/subvol/internal/platform"
	"github.com/bamsammich/subvol/internal/stats"
)

var (
	// ErrFallbackStep reports a failed fallback rename whose completed
	// steps were undone: Target and New are as they were before phase 4.
	ErrFallbackStep = errors.New("fallback rename failed, layout restored")
	// ErrUnrecoverable reports a failed fallback rename whose undo also
	// failed. FallbackError.Stage names the layout left on disk.
	ErrUnrecoverable = errors.New("fallback rename failed and could not be undone")
)

// Stage is the on-disk layout of the final swap. With T the original
// Target content, N the original New content and TMP = Target+suffix:
type Stage int

const (
	StagePending      Stage = iota // T at Target, N at New
	StageTargetParked              // T at TMP, Target absent, N at New
	StageNewPlaced                 // T at TMP, N at Target, New absent
	StageSwapped                   // N at Target, T at New
)

var stageNames = [...]string{
	StagePending:      "pending",
	StageTargetParked: "target_parked",
	StageNewPlaced:    "new_placed",
	StageSwapped:      "swapped",
}

func (s Stage) String() string {
	if s >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "unknown"
}

// ParseStage is the inverse of Stage.String.
func ParseStage(name string) (Stage, error) {
	for i, n := range stageNames {
		if n == name {
			return Stage(i), nil
		}
	}
	return StagePending, fmt.Errorf("unknown stage %q", name)
}

// FallbackError reports a failed step of the three-rename fallback.
type FallbackError struct {
	Err        error // the step's failure
	RestoreErr error // failures while undoing completed steps
	Target     string
	New        string
	Tmp        string
	Step       int   // 1: Target->Tmp, 2: New->Target, 3: Tmp->New
	Stage      Stage // layout left on disk
}

func (e *FallbackError) Error() string {
	if e.RestoreErr != nil {
		return fmt.Sprintf("final swap step %d failed: %v; restore failed: %v (left in stage %s, tmp %s)",
			e.Step, e.Err, e.RestoreErr, e.Stage, e.Tmp)
	}
	return fmt.Sprintf("final swap step %d failed: %v (restored)", e.Step, e.Err)
}

func (e *FallbackError) Unwrap() []error {
	kind := ErrFallbackStep
	if e.RestoreErr != nil {
		kind = ErrUnrecoverable
	}
	errs := []error{kind, e.Err}
	if e.RestoreErr != nil {
		errs = append(errs, e.RestoreErr)
	}
	return errs
}

func (c SwapConfig) exchange(target, newPath string, collector *stats.Collector) (bool, Stage, error) {
	err := c.FS.Exchange(target, newPath)
	if err == nil {
		collector.AddRenames(1)
		c.emit(event.Event{Type: event.Exchanged, Phase: 4, Path: target, Dest: newPath})
		c.record(4, "exchange", target, newPath)
		c.setStage(StageSwapped)
		return true, StageSwapped, nil
	}
	if !errors.Is(err, platform.ErrExchangeUnsupported) {
		return false, StagePending, fmt.Errorf("exchange %s and %s: %w", target, newPath, err)
	}

	slog.Info("atomic exchange unavailable, using rename fallback", "reason", err)
	stage, err := c.fallback(target, newPath, collector)
	return false, stage, err
}

// fallback swaps target and newPath with three renames, undoing completed
// renames when one fails.
func (c SwapConfig) fallback(target, newPath string, collector *stats.Collector) (Stage, error) {
	suffix := c.TmpSuffix
	if suffix == "" {
		suffix = defaultTmpSuffix
	}
	tmp := target + suffix

	fail := func(step int, stage Stage, stepErr, restoreErr error) (Stage, error) {
		c.setStage(stage)
		return stage, &FallbackError{
			Err:        stepErr,
			RestoreErr: restoreErr,
			Target:     target,
			New:        newPath,
			Tmp:        tmp,
			Step:       step,
			Stage:      stage,
		}
	}

	// Step 1: park Target.
	if err := c.rename(target, tmp, collector); err != nil {
		return fail(1, StagePending, err, nil)
	}
	c.setStage(StageTargetParked)

	// Step 2: New takes Target's place.
	if err := c.rename(newPath, target, collector); err != nil {
		if rerr := c.restore(tmp, target, collector); rerr != nil {
			return fail(2, StageTargetParked, err, rerr)
		}
		return fail(2, StagePending, err, nil)
	}
	c.setStage(StageNewPlaced)

	// Step 3: parked Target takes New's place.
	if err := c.rename(tmp, newPath, collector); err != nil {
		if rerr := c.restore(target, newPath, collector); rerr != nil {
			return fail(3, StageNewPlaced, err, rerr)
		}
		if rerr := c.restore(tmp, target, collector); rerr != nil {
			return fail(3, StageTargetParked, err, rerr)
		}
		return fail(3, StagePending, err, nil)
	}

	c.setStage(StageSwapped)
	return StageSwapped, nil
}

func (c SwapConfig) rename(src, dst string, collector *stats.Collector) error {
	if err := c.FS.Move(src, dst); err != nil {
		return fmt.Errorf("rename %s to %s: %w", src, dst, err)
	}
	collector.AddRenames(1)
	c.emit(event.Event{Type: event.FallbackRename, Phase: 4, Path: src, Dest: dst})
	c.record(4, "rename", src, dst)
	return nil
}

func (c SwapConfig) restore(src, dst string, collector *stats.Collector) error {
	if err := c.FS.Move(src, dst); err != nil {
		return fmt.Errorf("restore %s to %s: %w", src, dst, err)
	}
	collector.AddRenames(1)
	c.emit(event.Event{Type: event.Restored, Phase: 4, Path: src, Dest: dst})
	c.record(4, "restore", src, dst)
	return nil
}
