package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bamsammich/subvol/internal/btrfs"
	"github.com/bamsammich/subvol/internal/engine"
	"github.com/bamsammich/subvol/internal/event"
	"github.com/bamsammich/subvol/internal/stats"
)

func newDeleteCmd(a *app) *cobra.Command {
	var (
		commitAfter bool
		commitEach  bool
		dryRun      bool
	)

	cmd := &cobra.Command{
		Use:   "delete [flags] PATH...",
		Short: "Delete subvolumes together with every subvolume nested below them",
		Long: `Delete each PATH and the subvolumes nested below it, deepest first,
with "btrfs subvolume delete". --verbose and --quiet are passed on to it.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if c := a.cfg.Delete.Commit; c != nil &&
				!cmd.Flags().Changed("commit-after") && !cmd.Flags().Changed("commit-each") {
				commitAfter = *c == "after"
				commitEach = *c == "each"
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			collector := stats.NewCollector()
			events := make(chan event.Event, 256)
			wait := a.progress(cmd, events, collector)

			_, err := engine.DeleteRecursive(ctx, engine.DeleteConfig{
				Events:  events,
				Lister:  a.lister(),
				Deleter: &btrfs.ExecDeleter{Stdout: cmd.OutOrStdout()},
				Stats:   collector,
				Paths:   args,
				Flags: btrfs.DeleteFlags{
					CommitAfter: commitAfter,
					CommitEach:  commitEach,
					Verbose:     a.verbose,
					Quiet:       a.quiet,
				},
				DryRun: dryRun,
			})
			close(events)
			wait()
			if err != nil {
				return fmt.Errorf("delete: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&commitAfter, "commit-after", "c", false, "wait for the transaction commit at the end")
	cmd.Flags().BoolVarP(&commitEach, "commit-each", "C", false, "wait for the transaction commit after each deletion")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "print what would be deleted")
	cmd.MarkFlagsMutuallyExclusive("commit-after", "commit-each")

	return cmd
}
