// Package progress keeps the run-wide counters shared by the pager, the
// download workers and the progress display.
package progress

import (
	"sync"
	"time"

	"civitscraper/pkg/models"
)

// Snapshot is a consistent copy of the counters at one instant.
type Snapshot struct {
	Pages      int
	Seen       int
	Downloaded int
	Skipped    int
	Failed     int
	Bytes      int64
	Elapsed    time.Duration
}

// Completed is the number of records with a final outcome.
func (s Snapshot) Completed() int {
	return s.Downloaded + s.Skipped + s.Failed
}

// Pending is the number of seen records still waiting for an outcome.
func (s Snapshot) Pending() int {
	return s.Seen - s.Completed()
}

// Rate returns downloaded images per minute.
func (s Snapshot) Rate() float64 {
	minutes := s.Elapsed.Minutes()
	if minutes <= 0 {
		return 0
	}
	return float64(s.Downloaded) / minutes
}

// Tracker is safe for concurrent use. Updates and snapshots share one short
// critical section so readers never observe a torn update.
type Tracker struct {
	mu    sync.Mutex
	c     Snapshot
	start time.Time
	now   func() time.Time
}

// NewTracker starts the elapsed clock.
func NewTracker() *Tracker {
	t := &Tracker{now: time.Now}
	t.start = t.now()
	return t
}

// PageFetched counts one metadata page and the n records it listed.
func (t *Tracker) PageFetched(n int) {
	t.mu.Lock()
	t.c.Pages++
	t.c.Seen += n
	t.mu.Unlock()
}

// Seen adds n records to the seen total without counting a page.
func (t *Tracker) Seen(n int) {
	t.mu.Lock()
	t.c.Seen += n
	t.mu.Unlock()
}

// Record applies one final outcome.
func (t *Tracker) Record(o models.Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch o.Kind {
	case models.Downloaded:
		t.c.Downloaded++
		t.c.Bytes += o.Bytes
	case models.Skipped:
		t.c.Skipped++
	case models.Failed:
		t.c.Failed++
	}
}

// Snapshot returns the current counters.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	s := t.c
	t.mu.Unlock()
	s.Elapsed = t.now().Sub(t.start)
	return s
}
