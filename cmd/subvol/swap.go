package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bamsammich/subvol/internal/engine"
	"github.com/bamsammich/subvol/internal/event"
	"github.com/bamsammich/subvol/internal/mounts"
	"github.com/bamsammich/subvol/internal/platform"
	"github.com/bamsammich/subvol/internal/stats"
	"github.com/bamsammich/subvol/internal/ui"
)

func newSwapCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "swap TARGET NEW",
		Short: "Move the subvolumes nested in TARGET into NEW, then swap TARGET and NEW",
		Long: `Move every subvolume nested below TARGET to the same relative location
below NEW, then swap TARGET and NEW. Running the same command again restores
the original layout.

Each counterpart below NEW must be absent or an empty directory; nothing is
changed otherwise. The steps are recorded in a journal that is removed on
success and kept on failure (see "subvol journal").`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.swap(cmd, args[0], args[1])
		},
	}
}

func (a *app) swap(cmd *cobra.Command, target, newPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := engine.SwapConfig{
		FS:     platform.Local{},
		Lister: a.lister(),
		Target: target,
		New:    newPath,
	}
	if s := a.cfg.Swap.TmpSuffix; s != nil {
		cfg.TmpSuffix = *s
	}
	if c := a.cfg.Swap.Confirm; c != nil && *c {
		if !ui.IsTTY(os.Stdin.Fd()) {
			return fmt.Errorf("%w: swap.confirm is set but stdin is not a terminal", engine.ErrInvalidInput)
		}
		cfg.Confirm = ui.SwapConfirmation(ui.User{}, target, newPath)
	}
	if j := a.cfg.Swap.Journal; j == nil || *j {
		cfg.Journal = openJournal(target, newPath)
	}

	collector := stats.NewCollector()
	events := make(chan event.Event, 256)
	cfg.Events = events
	cfg.Stats = collector
	wait := a.progress(cmd, events, collector)

	res := engine.Swap(ctx, cfg)
	close(events)
	wait()

	finishJournal(cfg.Journal, res)
	if res.Err != nil {
		var fe *engine.FallbackError
		if errors.As(res.Err, &fe) {
			slog.Error("final swap failed", "step", fe.Step, "stage", fe.Stage, "tmp", fe.Tmp)
		}
		return res.Err
	}
	return nil
}

// openJournal opens the journal for the canonical pair. Failing to open it
// only costs the record, so it is logged and the swap goes ahead.
func openJournal(target, newPath string) *engine.Journal {
	t, err := mounts.Canonicalize(target)
	if err != nil {
		return nil
	}
	n, err := mounts.Canonicalize(newPath)
	if err != nil {
		return nil
	}
	j, err := engine.OpenJournal(t, n)
	if err != nil {
		slog.Warn("swap journal disabled", "error", err)
		return nil
	}
	slog.Debug("swap journal opened", "path", j.Path(), "run", j.RunID())
	return j
}

func finishJournal(j *engine.Journal, res engine.SwapResult) {
	if j == nil {
		return
	}
	if err := j.Close(); err != nil {
		slog.Warn("close swap journal", "error", err)
	}
	if res.Err != nil {
		slog.Info("swap journal kept", "path", j.Path(), "stage", res.Stage)
		return
	}
	if err := j.Remove(); err != nil {
		slog.Warn("remove swap journal", "path", j.Path(), "error", err)
	}
}
