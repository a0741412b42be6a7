// Package cache owns the on-disk snapshot store.
//
// Ownership boundary:
// - one JSON file per target, written atomically
// - freshness derivation from the snapshot timestamp
//
// Readers and the collector never share file handles; rename is the
// only publication step.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danmuck/pbxmon/internal/pbx"
)

var (
	ErrDirRequired    = errors.New("cache: directory required")
	ErrTargetRequired = errors.New("cache: target name required")
)

// LoadState distinguishes the ways a target's cache entry can be
// unusable without treating any of them as a fatal error; status
// reporting needs all of them as data.
type LoadState string

const (
	StateOK          LoadState = "ok"
	StateMissing     LoadState = "missing"
	StateCorrupt     LoadState = "corrupt"
	StateNoTimestamp LoadState = "no_timestamp"
)

// Entry is one loaded cache file plus its derived freshness.
type Entry struct {
	Target   string
	State    LoadState
	Snapshot pbx.Snapshot
	Age      time.Duration
	Fresh    bool
	Detail   string
}

// Store reads and writes per-target snapshot files under one directory.
type Store struct {
	dir string
	ttl time.Duration

	// now is swapped in tests
	now func() time.Time
}

func NewStore(dir string, ttl time.Duration) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, ErrDirRequired
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cache: create dir: %w", err)
	}
	return &Store{dir: dir, ttl: ttl, now: time.Now}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Write publishes one snapshot atomically: encode to a temp file in the
// same directory, then rename over the target path.
func (s *Store) Write(snap pbx.Snapshot) error {
	target := strings.TrimSpace(snap.Target)
	if target == "" {
		return ErrTargetRequired
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", target, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+target+"-*.tmp")
	if err != nil {
		return fmt.Errorf("cache: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("cache: chmod: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("cache: write %s: %w", target, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cache: close %s: %w", target, err)
	}
	if err := os.Rename(tmp.Name(), s.path(target)); err != nil {
		return fmt.Errorf("cache: publish %s: %w", target, err)
	}
	return nil
}

// Load returns the cache entry for one target. Missing files, decode
// failures, and absent timestamps come back as load states, not errors.
func (s *Store) Load(target string) Entry {
	target = strings.TrimSpace(target)
	entry := Entry{Target: target}

	data, err := os.ReadFile(s.path(target))
	if err != nil {
		entry.State = StateMissing
		entry.Detail = err.Error()
		return entry
	}
	var snap pbx.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		entry.State = StateCorrupt
		entry.Detail = err.Error()
		return entry
	}
	entry.Snapshot = snap
	if snap.CollectedAt.IsZero() {
		entry.State = StateNoTimestamp
		return entry
	}
	entry.State = StateOK
	entry.Age = s.now().Sub(snap.CollectedAt)
	entry.Fresh = entry.Age <= s.ttl
	return entry
}

func (s *Store) path(target string) string {
	return filepath.Join(s.dir, target+".json")
}
