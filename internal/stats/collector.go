package stats

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Reader is the read side of a Collector, used by presenters.
type Reader interface {
	Snapshot() Snapshot
}

// Collector tracks mutation counts using atomic counters.
type Collector struct {
	startTime           time.Time
	subvolsMoved        atomic.Int64
	subvolsSkipped      atomic.Int64
	placeholdersRemoved atomic.Int64
	dirsCreated         atomic.Int64
	renames             atomic.Int64
	subvolsDeleted      atomic.Int64
	failures            atomic.Int64
}

// NewCollector creates a Collector with startTime set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	SubvolsMoved        int64
	SubvolsSkipped      int64
	PlaceholdersRemoved int64
	DirsCreated         int64
	Renames             int64
	SubvolsDeleted      int64
	Failures            int64
	Elapsed             time.Duration
}

func (c *Collector) AddSubvolsMoved(n int64)        { c.subvolsMoved.Add(n) }
func (c *Collector) AddSubvolsSkipped(n int64)      { c.subvolsSkipped.Add(n) }
func (c *Collector) AddPlaceholdersRemoved(n int64) { c.placeholdersRemoved.Add(n) }
func (c *Collector) AddDirsCreated(n int64)         { c.dirsCreated.Add(n) }
func (c *Collector) AddRenames(n int64)             { c.renames.Add(n) }
func (c *Collector) AddSubvolsDeleted(n int64)      { c.subvolsDeleted.Add(n) }
func (c *Collector) AddFailures(n int64)            { c.failures.Add(n) }

// Snapshot returns a point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		SubvolsMoved:        c.subvolsMoved.Load(),
		SubvolsSkipped:      c.subvolsSkipped.Load(),
		PlaceholdersRemoved: c.placeholdersRemoved.Load(),
		DirsCreated:         c.dirsCreated.Load(),
		Renames:             c.renames.Load(),
		SubvolsDeleted:      c.subvolsDeleted.Load(),
		Failures:            c.failures.Load(),
		Elapsed:             c.Elapsed(),
	}
}

// Elapsed returns time since collector creation.
func (c *Collector) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"moved=%d skipped=%d placeholders=%d dirs=%d renames=%d deleted=%d failures=%d",
		s.SubvolsMoved, s.SubvolsSkipped, s.PlaceholdersRemoved,
		s.DirsCreated, s.Renames, s.SubvolsDeleted, s.Failures,
	)
}
