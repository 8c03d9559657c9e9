package persistence

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestServerStateStore(t *testing.T) {
	t.Run("SaveAndLoadEmpty", func(t *testing.T) {
		dir := t.TempDir()
		store := NewServerStateStore(filepath.Join(dir, "state.json"))

		if err := store.Save(&ServerState{Server: "svr"}); err != nil {
			t.Fatalf("Save() error = %v", err)
		}

		got, err := store.Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if got.Version != StateVersion {
			t.Errorf("Version = %d, want %d", got.Version, StateVersion)
		}
		if got.SavedAt.IsZero() {
			t.Error("SavedAt not stamped")
		}
	})

	t.Run("LoadNonExistent", func(t *testing.T) {
		dir := t.TempDir()
		store := NewServerStateStore(filepath.Join(dir, "nonexistent.json"))

		got, err := store.Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if got != nil {
			t.Errorf("Load() = %v, want nil for non-existent file", got)
		}
	})

	t.Run("JobsRoundTrip", func(t *testing.T) {
		dir := t.TempDir()
		store := NewServerStateStore(filepath.Join(dir, "sub", "state.json"))

		hist := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
		state := &ServerState{
			Server: "svr",
			Jobs: []JobRecord{
				{
					ID:       "1.svr",
					State:    "Q",
					Substate: 10,
					Attrs: []AttrRecord{
						{Name: "Job_Name", Value: "sim"},
						{Name: "Resource_List", Resource: "ncpus", Value: "4"},
					},
				},
				{
					ID:      "2[].svr",
					State:   "F",
					Array:   "1-3",
					Subjobs: []SubjobRecord{{State: "F", Substate: 92}, {State: "F", Substate: 94}, {State: "X", Substate: 93}},
					History: hist,
				},
			},
			Tracking: []TrackRecord{{JobID: "9.svr", Location: "svr2", State: "T", HopCount: 1}},
		}

		if err := store.Save(state); err != nil {
			t.Fatalf("Save() error = %v", err)
		}

		got, err := store.Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if len(got.Jobs) != 2 {
			t.Fatalf("len(Jobs) = %d, want 2", len(got.Jobs))
		}
		if got.Jobs[0].Attrs[1].Resource != "ncpus" {
			t.Errorf("Attrs[1].Resource = %q, want ncpus", got.Jobs[0].Attrs[1].Resource)
		}
		if len(got.Jobs[1].Subjobs) != 3 || got.Jobs[1].Subjobs[1].Substate != 94 {
			t.Errorf("Subjobs = %+v", got.Jobs[1].Subjobs)
		}
		if !got.Jobs[1].History.Equal(hist) {
			t.Errorf("History = %v, want %v", got.Jobs[1].History, hist)
		}
		if len(got.Tracking) != 1 || got.Tracking[0].Location != "svr2" {
			t.Errorf("Tracking = %+v", got.Tracking)
		}
		if _, err := os.Stat(store.Path() + ".tmp"); !os.IsNotExist(err) {
			t.Error("temporary file left behind")
		}
	})

	t.Run("Clear", func(t *testing.T) {
		dir := t.TempDir()
		store := NewServerStateStore(filepath.Join(dir, "state.json"))
		_ = store.Save(&ServerState{Jobs: []JobRecord{{ID: "1.svr"}}})

		if err := store.Clear(); err != nil {
			t.Fatalf("Clear() error = %v", err)
		}
		got, err := store.Load()
		if err != nil {
			t.Fatalf("Load() after Clear() error = %v", err)
		}
		if got != nil {
			t.Errorf("Load() after Clear() = %v, want nil", got)
		}
		if err := store.Clear(); err != nil {
			t.Errorf("second Clear() error = %v", err)
		}
	})
}
