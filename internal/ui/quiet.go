package ui

import (
	"github.com/bamsammich/subvol/internal/event"
	"github.com/bamsammich/subvol/internal/stats"
)

// quietPresenter consumes events but produces no output.
type quietPresenter struct {
	stats stats.Reader
}

func (p *quietPresenter) Run(events <-chan event.Event) error {
	for range events {
	}
	return nil
}

func (p *quietPresenter) Summary() string {
	return ""
}
