package event

import "time"

// Type identifies the kind of event.
type Type int

const (
	PhaseStarted Type = iota + 1
	PlaceholderRemoved
	DirCreated
	SubvolumeMoved
	SubvolumeSkipped
	Exchanged
	FallbackRename
	Restored
	SubvolumeDeleted
	Aborted
)

var typeNames = [...]string{
	PhaseStarted:       "PhaseStarted",
	PlaceholderRemoved: "PlaceholderRemoved",
	DirCreated:         "DirCreated",
	SubvolumeMoved:     "SubvolumeMoved",
	SubvolumeSkipped:   "SubvolumeSkipped",
	Exchanged:          "Exchanged",
	FallbackRename:     "FallbackRename",
	Restored:           "Restored",
	SubvolumeDeleted:   "SubvolumeDeleted",
	Aborted:            "Aborted",
}

func (t Type) String() string {
	if t > 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// Event represents a single mutation or milestone reported by the engine.
type Event struct {
	Timestamp time.Time
	Error     error
	Path      string // subject of the operation
	Dest      string // destination, for moves and renames
	Type      Type
	Phase     int // swap phase 1-4, 0 outside a swap
	DryRun    bool
}

// Emit sends ev on ch with the current time, if ch is non-nil.
func Emit(ch chan<- Event, ev Event) {
	if ch == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	ch <- ev
}
