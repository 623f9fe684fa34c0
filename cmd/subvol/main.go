package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/bamsammich/subvol/internal/btrfs"
	"github.com/bamsammich/subvol/internal/config"
	"github.com/bamsammich/subvol/internal/engine"
	"github.com/bamsammich/subvol/internal/event"
	"github.com/bamsammich/subvol/internal/listing"
	"github.com/bamsammich/subvol/internal/mounts"
	"github.com/bamsammich/subvol/internal/pathns"
	"github.com/bamsammich/subvol/internal/stats"
	"github.com/bamsammich/subvol/internal/ui"
)

var version = "dev"

func main() {
	os.Exit(run())
}

// app holds state shared by every subcommand.
type app struct {
	logFile *os.File
	cfg     config.Config
	logPath string
	verbose bool
	quiet   bool
}

func run() int {
	var (
		a           app
		showVersion bool
	)

	rootCmd := &cobra.Command{
		Use:           "subvol",
		Short:         "List btrfs subvolumes and swap subvolume hierarchies",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.setup()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showVersion {
				fmt.Fprintf(cmd.OutOrStdout(), "subvol %s\n", version)
				return nil
			}
			return cmd.Help()
		},
	}

	rootCmd.Flags().BoolVar(&showVersion, "version", false, "print version and exit")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&a.quiet, "quiet", "q", false, "suppress progress output")
	rootCmd.PersistentFlags().StringVar(&a.logPath, "log", "", "write a structured JSON log to `FILE`")
	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	rootCmd.AddCommand(
		newListCmd(&a),
		newSwapCmd(&a),
		newDeleteCmd(&a),
		newJournalCmd(&a),
		docsCmd,
	)

	err := rootCmd.Execute()
	a.close()
	if err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCode(err)
	}
	return 0
}

// setup configures logging and loads the optional config file.
func (a *app) setup() error {
	logLevel := slog.LevelWarn
	if a.verbose {
		logLevel = slog.LevelDebug
	} else if !a.quiet {
		logLevel = slog.LevelInfo
	}
	textHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	var logHandler slog.Handler = textHandler
	if a.logPath != "" {
		lf, err := os.Create(a.logPath)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		a.logFile = lf
		jsonHandler := slog.NewJSONHandler(lf, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
		logHandler = ui.NewMultiHandler(textHandler, jsonHandler)
	}
	slog.SetDefault(slog.New(logHandler))

	cfg, err := config.Load()
	if err != nil {
		slog.Warn("failed to load config", "error", err)
	}
	a.cfg = cfg
	return nil
}

func (a *app) close() {
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}

// lister builds a subvolume lister over the live mount table.
func (*app) lister() *listing.Lister {
	return listing.New(pathns.New(mounts.NewTable()))
}

// progress starts a presenter for events. The returned func waits for the
// presenter to drain the channel after the caller closes it, then prints
// the summary.
func (a *app) progress(cmd *cobra.Command, events chan event.Event, collector *stats.Collector) func() {
	// When --log is set, tee events through a logging goroutine
	// that writes structured records before forwarding to the presenter.
	presenterEvents := (<-chan event.Event)(events)
	if a.logFile != nil {
		teed := make(chan event.Event, cap(events))
		go func() {
			for ev := range events {
				attrs := []slog.Attr{
					slog.String("type", ev.Type.String()),
					slog.String("path", ev.Path),
				}
				if ev.Dest != "" {
					attrs = append(attrs, slog.String("dest", ev.Dest))
				}
				if ev.Phase != 0 {
					attrs = append(attrs, slog.Int("phase", ev.Phase))
				}
				if ev.DryRun {
					attrs = append(attrs, slog.Bool("dry_run", true))
				}
				slog.LogAttrs(context.Background(), slog.LevelDebug, "subvol.event", attrs...)
				teed <- ev
			}
			close(teed)
		}()
		presenterEvents = teed
	}

	presenter := ui.NewPresenter(ui.Config{
		Writer: cmd.OutOrStdout(),
		Stats:  collector,
		Quiet:  a.quiet,
	})

	var (
		presenterErr error
		presenterWg  sync.WaitGroup
	)
	presenterWg.Add(1)
	go func() {
		defer presenterWg.Done()
		presenterErr = presenter.Run(presenterEvents)
	}()

	return func() {
		presenterWg.Wait()
		if presenterErr != nil {
			fmt.Fprintf(os.Stderr, "presenter: %v\n", presenterErr)
		}
		if summary := presenter.Summary(); summary != "" {
			fmt.Fprintln(os.Stderr, summary)
		}
	}
}

// Exit codes per error kind.
const (
	exitFailure     = 1
	exitInvalid     = 2
	exitNotFound    = 3
	exitOccupied    = 4
	exitCorrupt     = 5
	exitLeftover    = 6
	exitRestored    = 7
	exitUnrecovered = 8
)

func exitCode(err error) int {
	switch {
	case errors.Is(err, engine.ErrUnrecoverable):
		return exitUnrecovered
	case errors.Is(err, engine.ErrFallbackStep):
		return exitRestored
	case errors.Is(err, engine.ErrDestinationOccupied):
		return exitOccupied
	case errors.Is(err, engine.ErrLeftoverSubvolumes):
		return exitLeftover
	case errors.Is(err, btrfs.ErrCorrupt):
		return exitCorrupt
	case errors.Is(err, mounts.ErrNotFound):
		return exitNotFound
	case errors.Is(err, engine.ErrInvalidInput),
		errors.Is(err, engine.ErrNotSubvolume),
		errors.Is(err, listing.ErrInvalidMode),
		errors.Is(err, listing.ErrNotBtrfs):
		return exitInvalid
	default:
		return exitFailure
	}
}

type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}
