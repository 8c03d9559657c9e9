package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StateVersion is the current version of the state file format.
const StateVersion = 1

// ServerState contains the job state of a batch server.
type ServerState struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `json:"saved_at"`

	// Server is the server name the jobs belong to.
	Server string `json:"server"`

	// Jobs contains every top-level job, history included.
	Jobs []JobRecord `json:"jobs,omitempty"`

	// Tracking contains the locations of jobs that moved away.
	Tracking []TrackRecord `json:"tracking,omitempty"`
}

// JobRecord is the saved form of one job.
type JobRecord struct {
	ID       string `json:"id"`
	State    string `json:"state"`
	Substate int    `json:"substate"`

	// Attrs holds every set attribute in wire form.
	Attrs []AttrRecord `json:"attrs,omitempty"`

	// Array is the submitted index range of an array parent.
	Array   string         `json:"array,omitempty"`
	Subjobs []SubjobRecord `json:"subjobs,omitempty"`
	History time.Time      `json:"history_at,omitempty"`
}

// AttrRecord is one saved attribute fragment.
type AttrRecord struct {
	Name     string `json:"name"`
	Resource string `json:"resource,omitempty"`
	Value    string `json:"value"`
}

// SubjobRecord is the saved state of one array element.
type SubjobRecord struct {
	State    string `json:"state"`
	Substate int    `json:"substate"`
}

// TrackRecord is one saved tracking table entry.
type TrackRecord struct {
	JobID    string    `json:"job_id"`
	Location string    `json:"location"`
	State    string    `json:"state"`
	HopCount int       `json:"hop_count,omitempty"`
	Modified time.Time `json:"modified"`
}

// ServerStateStore manages persistence of server state to a JSON file.
type ServerStateStore struct {
	mu   sync.Mutex
	path string
}

// NewServerStateStore creates a new server state store.
func NewServerStateStore(path string) *ServerStateStore {
	return &ServerStateStore{path: path}
}

// Path returns the state file path.
func (s *ServerStateStore) Path() string {
	return s.path
}

// Save persists the server state to disk.
func (s *ServerStateStore) Save(state *ServerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Ensure parent directory exists
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	state.Version = StateVersion
	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now()
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	// Replace atomically.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Load reads the server state from disk.
// Returns nil, nil if the file doesn't exist (empty state).
func (s *ServerStateStore) Load() (*ServerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state := &ServerState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, err
	}

	return state, nil
}

// Clear removes the state file.
func (s *ServerStateStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
