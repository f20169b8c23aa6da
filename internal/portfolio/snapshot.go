package portfolio

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// SnapshotFile persists the last reconciled state so the "previous" input
// survives restarts.
type SnapshotFile struct {
	filePath string
	mu       sync.Mutex
	version  int64
}

type snapshot struct {
	Version   int64  `json:"version"` // Monotonic version for atomic updates
	UpdatedAt string `json:"updated_at"`
	State     State  `json:"state"`
}

func NewSnapshotFile(filePath string) *SnapshotFile {
	return &SnapshotFile{filePath: filePath}
}

// Load returns the stored state; ok is false when no snapshot exists yet
func (f *SnapshotFile) Load() (State, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, false, nil
		}
		return State{}, false, fmt.Errorf("failed to read portfolio snapshot: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return State{}, false, fmt.Errorf("failed to unmarshal portfolio snapshot: %w", err)
	}
	f.version = snap.Version
	return snap.State, true, nil
}

// Save atomically replaces the snapshot with s
func (f *SnapshotFile) Save(s State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.version++
	data, err := json.MarshalIndent(snapshot{
		Version:   f.version,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
		State:     s,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal portfolio snapshot: %w", err)
	}

	// Atomic write using temp file + rename
	tempPath := f.filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp portfolio snapshot: %w", err)
	}
	if err := os.Rename(tempPath, f.filePath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename portfolio snapshot: %w", err)
	}
	return nil
}
