package ui

import (
	"fmt"
	"io"

	"github.com/bamsammich/subvol/internal/event"
	"github.com/bamsammich/subvol/internal/stats"
)

// plainPresenter writes one trace line per event.
type plainPresenter struct {
	w     io.Writer
	stats stats.Reader
}

func (p *plainPresenter) Run(events <-chan event.Event) error {
	for ev := range events {
		if line := TraceLine(ev); line != "" {
			fmt.Fprintln(p.w, line)
		}
	}
	return nil
}

func (p *plainPresenter) Summary() string {
	if p.stats == nil {
		return ""
	}
	return CompletionSummary(p.stats.Snapshot())
}

var phaseNames = map[int]string{
	1: "checking destinations",
	2: "relocating nested subvolumes",
	3: "verifying",
	4: "swapping",
}

// TraceLine renders ev as a single line of progress output.
func TraceLine(ev event.Event) string {
	switch ev.Type {
	case event.PhaseStarted:
		return fmt.Sprintf("phase %d: %s", ev.Phase, phaseNames[ev.Phase])
	case event.PlaceholderRemoved:
		return "rmdir " + ev.Path
	case event.DirCreated:
		return "mkdir " + ev.Path
	case event.SubvolumeMoved, event.FallbackRename:
		return fmt.Sprintf("mv %s -> %s", ev.Path, ev.Dest)
	case event.SubvolumeSkipped:
		return fmt.Sprintf("skip %s (moved with its parent)", ev.Path)
	case event.Exchanged:
		return fmt.Sprintf("exchange %s <-> %s", ev.Path, ev.Dest)
	case event.Restored:
		return fmt.Sprintf("restore %s -> %s", ev.Path, ev.Dest)
	case event.SubvolumeDeleted:
		if ev.DryRun {
			return "would delete " + ev.Path
		}
		return "delete " + ev.Path
	case event.Aborted:
		return fmt.Sprintf("aborted: %s and %s not swapped", ev.Path, ev.Dest)
	}
	return ""
}
