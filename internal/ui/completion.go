package ui

import (
	"fmt"
	"strings"

	"github.com/bamsammich/subvol/internal/stats"
)

// CompletionSummary builds a final summary line from a snapshot. Counters
// that stayed at zero are left out.
// Format: done ✓  moved 3  skipped 1  renames 1  time 0s  errors 0
func CompletionSummary(snap stats.Snapshot) string {
	icon := "✓"
	if snap.Failures > 0 {
		icon = "✗"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "done %s", icon)
	for _, c := range []struct {
		label string
		n     int64
	}{
		{"moved", snap.SubvolsMoved},
		{"skipped", snap.SubvolsSkipped},
		{"placeholders", snap.PlaceholdersRemoved},
		{"dirs", snap.DirsCreated},
		{"renames", snap.Renames},
		{"deleted", snap.SubvolsDeleted},
	} {
		if c.n > 0 {
			fmt.Fprintf(&b, "  %s %s", c.label, FormatCount(c.n))
		}
	}
	fmt.Fprintf(&b, "  time %s  errors %d", FormatDuration(snap.Elapsed), snap.Failures)
	return b.String()
}
