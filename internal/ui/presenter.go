package ui

import (
	"io"

	"github.com/bamsammich/subvol/internal/event"
	"github.com/bamsammich/subvol/internal/stats"
)

// Presenter consumes events and displays progress.
type Presenter interface {
	// Run consumes events until the channel closes. Blocks until done.
	Run(events <-chan event.Event) error
	// Summary returns the final summary line.
	Summary() string
}

// Config configures a Presenter.
type Config struct {
	Writer io.Writer
	Stats  stats.Reader
	Quiet  bool
}

// NewPresenter creates the appropriate presenter based on configuration.
//
//nolint:ireturn // quiet or plain, chosen at runtime
func NewPresenter(cfg Config) Presenter {
	if cfg.Quiet {
		return &quietPresenter{stats: cfg.Stats}
	}
	return &plainPresenter{w: cfg.Writer, stats: cfg.Stats}
}
