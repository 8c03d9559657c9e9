package job

import (
	"time"
)

// Track records where a job that left this server went.
type Track struct {
	JobID    string
	Location string
	State    State
	HopCount int
	Modified time.Time
}

// Tracking maps job ids to their last known server.
type Tracking struct {
	entries map[string]*Track
}

// NewTracking creates an empty tracking table.
func NewTracking() *Tracking {
	return &Tracking{entries: make(map[string]*Track)}
}

// Update records that jobID is at location. A move to a new location
// counts one hop.
func (t *Tracking) Update(jobID, location string, state State, now time.Time) {
	tr, ok := t.entries[jobID]
	if !ok {
		tr = &Track{JobID: jobID}
		t.entries[jobID] = tr
	}
	if ok && tr.Location != location {
		tr.HopCount++
	}
	tr.Location = location
	tr.State = state
	tr.Modified = now
}

// Locate returns the last known location of jobID.
func (t *Tracking) Locate(jobID string) (string, bool) {
	tr, ok := t.entries[jobID]
	if !ok {
		return "", false
	}
	return tr.Location, true
}

// Remove forgets jobID.
func (t *Tracking) Remove(jobID string) {
	delete(t.entries, jobID)
}

// Entries returns every entry.
func (t *Tracking) Entries() []Track {
	out := make([]Track, 0, len(t.entries))
	for _, tr := range t.entries {
		out = append(out, *tr)
	}
	return out
}

// Len returns the number of entries.
func (t *Tracking) Len() int { return len(t.entries) }
