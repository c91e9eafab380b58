package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// SnapshotFile is the on-disk name under the memory root.
const SnapshotFile = "scheduler.json"

// HistoryCap bounds how many results the snapshot retains.
const HistoryCap = 200

// Snapshot is the persisted shape.
type Snapshot struct {
	Tasks   []Task       `json:"tasks"`
	History []TaskResult `json:"history"`
}

// Store persists scheduler state as a single JSON file. History is held here
// so both Load and the running scheduler share one capped buffer.
type Store struct {
	path string

	mu      sync.Mutex
	history []TaskResult
}

// NewStore roots the snapshot under dir (typically memory.root_dir).
func NewStore(dir string) *Store {
	return &Store{path: filepath.Join(dir, SnapshotFile)}
}

// Load reads the snapshot. A missing file is an empty snapshot; a corrupt
// file is an error the caller surfaces as a doctor finding.
func (s *Store) Load() (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Snapshot{}, nil
		}
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return &snap, nil
}

// Save writes tasks plus the current history atomically (write + rename).
func (s *Store) Save(tasks []Task) error {
	s.mu.Lock()
	snap := Snapshot{Tasks: tasks, History: append([]TaskResult(nil), s.history...)}
	s.mu.Unlock()

	data, err := json.MarshalIndent(&snap, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// SeedHistory installs history loaded from disk, trimming to the cap.
func (s *Store) SeedHistory(h []TaskResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(h) > HistoryCap {
		h = h[len(h)-HistoryCap:]
	}
	s.history = append([]TaskResult(nil), h...)
}

// AppendHistory records a result, dropping the oldest beyond the cap.
func (s *Store) AppendHistory(r TaskResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, r)
	if len(s.history) > HistoryCap {
		s.history = s.history[len(s.history)-HistoryCap:]
	}
}

// History returns a copy of the retained results.
func (s *Store) History() []TaskResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TaskResult(nil), s.history...)
}

// ClearHistory wipes the retained results.
func (s *Store) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

// Clear removes the snapshot file (the ClearState repair action).
func (s *Store) Clear() error {
	err := os.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
