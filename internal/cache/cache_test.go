package cache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/pbxmon/internal/pbx"
	"github.com/danmuck/pbxmon/internal/testutil/testlog"
)

func TestWriteLoadRoundTrip(t *testing.T) {
	testlog.Start(t)

	store, err := NewStore(t.TempDir(), time.Minute)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	collected := time.Now().UTC().Add(-10 * time.Second)
	store.now = func() time.Time { return collected.Add(10 * time.Second) }

	snap := pbx.Snapshot{
		Target:      "pbx01",
		CollectedAt: collected,
		Endpoints: []pbx.Endpoint{
			{Tech: "PJSIP", Name: "6001", Online: true},
		},
		Errors: map[string]string{"queues": "rejected: no queues"},
	}
	if err := store.Write(snap); err != nil {
		t.Fatalf("write: %v", err)
	}

	entry := store.Load("pbx01")
	if entry.State != StateOK {
		t.Fatalf("state = %q, detail %q", entry.State, entry.Detail)
	}
	if !entry.Fresh {
		t.Fatalf("entry stale at age %v with ttl %v", entry.Age, store.TTL())
	}
	if entry.Age != 10*time.Second {
		t.Fatalf("age = %v, want 10s", entry.Age)
	}
	if len(entry.Snapshot.Endpoints) != 1 || entry.Snapshot.Endpoints[0].Name != "6001" {
		t.Fatalf("snapshot lost data: %+v", entry.Snapshot)
	}
	if entry.Snapshot.Errors["queues"] == "" {
		t.Fatal("section errors lost")
	}

	info, err := os.Stat(filepath.Join(store.Dir(), "pbx01.json"))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("perm = %v, want 0600", info.Mode().Perm())
	}
}

func TestLoadStaleEntry(t *testing.T) {
	testlog.Start(t)

	store, err := NewStore(t.TempDir(), 30*time.Second)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	collected := time.Now().UTC().Add(-time.Hour)
	if err := store.Write(pbx.Snapshot{Target: "pbx01", CollectedAt: collected}); err != nil {
		t.Fatalf("write: %v", err)
	}
	entry := store.Load("pbx01")
	if entry.State != StateOK || entry.Fresh {
		t.Fatalf("expected stale ok entry, got state %q fresh %v", entry.State, entry.Fresh)
	}
	if entry.Age < 59*time.Minute {
		t.Fatalf("age = %v", entry.Age)
	}
}

func TestLoadDistinguishesFailureStates(t *testing.T) {
	testlog.Start(t)

	dir := t.TempDir()
	store, err := NewStore(dir, time.Minute)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if got := store.Load("absent").State; got != StateMissing {
		t.Fatalf("missing file state = %q", got)
	}

	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{nope"), 0o600); err != nil {
		t.Fatalf("write corrupt: %v", err)
	}
	if got := store.Load("broken").State; got != StateCorrupt {
		t.Fatalf("corrupt file state = %q", got)
	}

	if err := os.WriteFile(filepath.Join(dir, "blank.json"), []byte(`{"target":"blank"}`), 0o600); err != nil {
		t.Fatalf("write timestampless: %v", err)
	}
	if got := store.Load("blank").State; got != StateNoTimestamp {
		t.Fatalf("timestampless state = %q", got)
	}
}

func TestWriteValidation(t *testing.T) {
	testlog.Start(t)

	if _, err := NewStore("  ", time.Minute); !errors.Is(err, ErrDirRequired) {
		t.Fatalf("expected ErrDirRequired, got %v", err)
	}
	store, err := NewStore(t.TempDir(), time.Minute)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Write(pbx.Snapshot{}); !errors.Is(err, ErrTargetRequired) {
		t.Fatalf("expected ErrTargetRequired, got %v", err)
	}
}
