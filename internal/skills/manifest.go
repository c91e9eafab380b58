// Package skills manages skill subprocesses: manifest discovery, the
// per-skill process state machine, and the supervisor with its restart
// budget and quarantine policy.
package skills

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/saorsa-labs/fae/internal/logging"
)

// ManifestFile is the per-skill manifest name.
const ManifestFile = "skill.json"

// CredentialSpec names an environment variable a skill needs at handshake.
type CredentialSpec struct {
	Name     string `json:"name"`
	EnvVar   string `json:"env_var"`
	Required bool   `json:"required"`
}

// Manifest describes one installed skill.
type Manifest struct {
	ID          string           `json:"id"`
	Version     string           `json:"version"`
	EntryFile   string           `json:"entry_file"`
	Credentials []CredentialSpec `json:"credentials,omitempty"`
}

// LoadManifest reads and validates the manifest in dir. The entry file must
// exist on disk before the skill can be considered installed.
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("skill manifest in %s: %w", dir, err)
	}
	if m.ID == "" || m.EntryFile == "" {
		return nil, fmt.Errorf("skill manifest in %s: id and entry_file are required", dir)
	}
	if _, err := os.Stat(filepath.Join(dir, m.EntryFile)); err != nil {
		return nil, fmt.Errorf("skill %s: entry file missing: %w", m.ID, err)
	}
	return &m, nil
}

// State of an installed skill.
type State string

const (
	StateActive      State = "active"
	StateDisabled    State = "disabled"
	StateQuarantined State = "quarantined"
)

// ManagedSkill is one installed skill plus its administrative state.
type ManagedSkill struct {
	Manifest  *Manifest
	Dir       string
	State     State
	LastError string
}

// Library is the set of installed skills under a root directory, with
// optional fsnotify-driven reload.
type Library struct {
	root string

	mu     sync.RWMutex
	skills map[string]*ManagedSkill

	// OnChange, when set, fires after every rescan triggered by the watcher.
	OnChange func()
}

func NewLibrary(root string) *Library {
	return &Library{root: root, skills: make(map[string]*ManagedSkill)}
}

// Scan walks the root for skill directories. Already-known skills keep their
// state (a quarantined skill stays quarantined across rescans); removed
// skills are dropped.
func (l *Library) Scan() error {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	found := make(map[string]*ManagedSkill)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(l.root, e.Name())
		m, err := LoadManifest(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				logging.Warnf("[skills] skipping %s: %v", dir, err)
			}
			continue
		}
		found[m.ID] = &ManagedSkill{Manifest: m, Dir: dir, State: StateActive}
	}

	l.mu.Lock()
	for id, sk := range found {
		if prev, ok := l.skills[id]; ok {
			sk.State = prev.State
			sk.LastError = prev.LastError
		}
	}
	l.skills = found
	l.mu.Unlock()
	return nil
}

// Watch rescans on filesystem changes until the watcher is closed or stop is
// closed. Runs in its own goroutine.
func (l *Library) Watch(stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(l.root); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-stop:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				if err := l.Scan(); err != nil {
					logging.Warnf("[skills] rescan failed: %v", err)
					continue
				}
				logging.Debugf("[skills] rescanned after %s", ev.Op)
				if l.OnChange != nil {
					l.OnChange()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warnf("[skills] watcher error: %v", err)
			}
		}
	}()
	return nil
}

// Get returns the managed skill with the given id.
func (l *Library) Get(id string) (*ManagedSkill, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	sk, ok := l.skills[id]
	return sk, ok
}

// List returns all managed skills.
func (l *Library) List() []*ManagedSkill {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*ManagedSkill, 0, len(l.skills))
	for _, sk := range l.skills {
		out = append(out, sk)
	}
	return out
}

// SetState updates a skill's administrative state. Enabling a quarantined
// skill clears its last error.
func (l *Library) SetState(id string, s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if sk, ok := l.skills[id]; ok {
		sk.State = s
		if s == StateActive {
			sk.LastError = ""
		}
	}
}

// Quarantine marks a skill quarantined with the triggering error. A
// quarantined skill never auto-starts.
func (l *Library) Quarantine(id, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if sk, ok := l.skills[id]; ok {
		sk.State = StateQuarantined
		sk.LastError = reason
	}
}
