package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bamsammich/subvol/internal/engine"
	"github.com/bamsammich/subvol/internal/mounts"
)

func newJournalCmd(_ *app) *cobra.Command {
	var remove bool

	cmd := &cobra.Command{
		Use:   "journal [flags] TARGET NEW",
		Short: "Show the recorded steps of the last failed swap of TARGET and NEW",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := mounts.CanonicalizeLeaf(args[0])
			if err != nil {
				return fmt.Errorf("%w: %w", engine.ErrInvalidInput, err)
			}
			newPath, err := mounts.CanonicalizeLeaf(args[1])
			if err != nil {
				return fmt.Errorf("%w: %w", engine.ErrInvalidInput, err)
			}

			j, err := engine.LoadJournal(target, newPath)
			if err != nil {
				return err
			}
			defer j.Close()

			stage, err := j.Stage()
			if err != nil {
				return err
			}
			steps, err := j.Steps()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "journal %s\nrun     %s\nstage   %s\n\n", j.Path(), j.RunID(), stage)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SEQ\tPHASE\tTIME\tOP\tSOURCE\tDEST")
			for _, s := range steps {
				fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\n",
					s.Seq, s.Phase, s.At.Format(time.RFC3339), s.Op, s.Src, s.Dst)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if remove {
				if err := j.Close(); err != nil {
					return err
				}
				return j.Remove()
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&remove, "remove", false, "delete the journal after printing it")
	return cmd
}
