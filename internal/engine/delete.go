package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/bamsammich/subvol/internal/btrfs"
	"github.com/bamsammich/subvol/internal/event"
	"github.com/bamsammich/subvol/internal/mounts"
	"github.com/bamsammich/subvol/internal/pathutil"
	"github.com/bamsammich/subvol/internal/stats"
)

// DeleteConfig controls a recursive delete.
type DeleteConfig struct {
	Events       chan<- event.Event
	Lister       Lister
	Deleter      btrfs.Deleter
	Stats        *stats.Collector
	Canonicalize func(string) (string, error)
	Paths        []string
	Flags        btrfs.DeleteFlags
	DryRun       bool
}

// DeleteRecursive deletes each path and every subvolume nested below it,
// deepest first, in a single call to the deletion primitive. Each path must
// be a subvolume. It returns the subvolumes in deletion order; with DryRun
// nothing is deleted.
func DeleteRecursive(ctx context.Context, cfg DeleteConfig) ([]string, error) {
	canon := cfg.Canonicalize
	if canon == nil {
		canon = mounts.Canonicalize
	}

	var all []string
	for _, p := range cfg.Paths {
		cp, err := canon(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidInput, p, err)
		}
		subs, err := cfg.Lister.Subvolumes(cp)
		if err != nil {
			return nil, fmt.Errorf("list subvolumes of %s: %w", cp, err)
		}
		if len(subs) == 0 || subs[0] != cp {
			return nil, fmt.Errorf("%s: %w", cp, ErrNotSubvolume)
		}
		all = append(all, subs...)
	}

	// Reverse component order puts every subvolume before its parent.
	slices.SortFunc(all, func(a, b string) int { return pathutil.Compare(b, a) })
	all = slices.Compact(all)

	if cfg.DryRun {
		for _, p := range all {
			event.Emit(cfg.Events, event.Event{Type: event.SubvolumeDeleted, Path: p, DryRun: true})
		}
		return all, nil
	}

	if len(all) == 0 {
		return nil, nil
	}
	if err := cfg.Deleter.Delete(ctx, all, cfg.Flags); err != nil {
		return nil, fmt.Errorf("delete subvolumes: %w", err)
	}
	for _, p := range all {
		if cfg.Stats != nil {
			cfg.Stats.AddSubvolsDeleted(1)
		}
		event.Emit(cfg.Events, event.Event{Type: event.SubvolumeDeleted, Path: p})
	}
	return all, nil
}
