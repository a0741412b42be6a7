package collector

import (
	"context"
	"math/rand"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/pbxmon/internal/cache"
	"github.com/danmuck/pbxmon/internal/config"
	"github.com/danmuck/pbxmon/internal/testutil/amitest"
	"github.com/danmuck/pbxmon/internal/testutil/testlog"
)

func testConfig(t *testing.T, addr string) config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Collector.CacheDir = t.TempDir()
	cfg.Collector.PollInterval = time.Second
	cfg.API.Enabled = false
	cfg.Targets = []config.TargetConfig{{
		Name:            "pbx01",
		Addr:            addr,
		Username:        "u",
		Secret:          "p",
		ConnectTimeout:  time.Second,
		LoginTimeout:    time.Second,
		ActionTimeout:   time.Second,
		ExpectEndpoints: true,
	}}
	return cfg
}

func TestPollOncePublishesSnapshot(t *testing.T) {
	testlog.Start(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	done := make(chan error, 1)
	go func() {
		done <- amitest.Serve(ln, amitest.Fixture{Username: "u", Secret: "p"})
	}()

	svc, err := New(testConfig(t, ln.Addr().String()))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.pollOnce(context.Background(), svc.cfg.Targets[0]); err != nil {
		t.Fatalf("poll once: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("scripted peer exit err: %v", err)
	}

	entry := svc.Store().Load("pbx01")
	if entry.State != cache.StateOK {
		t.Fatalf("cache state = %q, detail %q", entry.State, entry.Detail)
	}
	if len(entry.Snapshot.Endpoints) != 3 {
		t.Fatalf("snapshot endpoints = %d, want 3", len(entry.Snapshot.Endpoints))
	}

	statuses := svc.pollStatuses()
	if len(statuses) != 1 || statuses[0].Outcome != "ok" || statuses[0].Failures != 0 {
		t.Fatalf("poll statuses = %+v", statuses)
	}
}

func TestPollOnceClassifiesConnectionFailure(t *testing.T) {
	testlog.Start(t)

	// a listener that is immediately closed leaves a refused port
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	svc, err := New(testConfig(t, addr))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.pollOnce(context.Background(), svc.cfg.Targets[0]); err == nil {
		t.Fatal("poll against dead target succeeded")
	}

	statuses := svc.pollStatuses()
	if statuses[0].Outcome != "connection" {
		t.Fatalf("outcome = %q, want connection", statuses[0].Outcome)
	}
	if statuses[0].Failures != 1 {
		t.Fatalf("failures = %d, want 1", statuses[0].Failures)
	}
	if svc.Store().Load("pbx01").State != cache.StateMissing {
		t.Fatal("failed poll wrote a cache entry")
	}
}

func TestCollectOnceReportsFailedTargets(t *testing.T) {
	testlog.Start(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	liveAddr := ln.Addr().String()
	done := make(chan error, 1)
	go func() {
		done <- amitest.Serve(ln, amitest.Fixture{Username: "u", Secret: "p"})
	}()

	deadLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	deadAddr := deadLn.Addr().String()
	_ = deadLn.Close()

	cfg := testConfig(t, liveAddr)
	cfg.Targets = append(cfg.Targets, config.TargetConfig{
		Name:           "pbx02",
		Addr:           deadAddr,
		Username:       "u",
		Secret:         "p",
		ConnectTimeout: 200 * time.Millisecond,
	})
	svc, err := New(cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	err = svc.CollectOnce(context.Background())
	if err == nil {
		t.Fatal("expected partial failure")
	}
	if !strings.Contains(err.Error(), "1 of 2") || !strings.Contains(err.Error(), "pbx02") {
		t.Fatalf("err = %v", err)
	}
	// the healthy target was still collected
	if svc.Store().Load("pbx01").State != cache.StateOK {
		t.Fatal("healthy target not collected")
	}
	if err := <-done; err != nil {
		t.Fatalf("scripted peer exit err: %v", err)
	}
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	testlog.Start(t)

	b := Backoff{Initial: time.Second, Max: 10 * time.Second, Multiplier: 2.0}
	if got := b.Delay(1, nil); got != time.Second {
		t.Fatalf("attempt 1 = %v", got)
	}
	if got := b.Delay(2, nil); got != 2*time.Second {
		t.Fatalf("attempt 2 = %v", got)
	}
	if got := b.Delay(3, nil); got != 4*time.Second {
		t.Fatalf("attempt 3 = %v", got)
	}
	if got := b.Delay(10, nil); got != 10*time.Second {
		t.Fatalf("attempt 10 = %v, want cap", got)
	}
	if got := (Backoff{}).Delay(3, nil); got != 0 {
		t.Fatalf("zero config delay = %v", got)
	}
}

func TestBackoffJitterStaysBounded(t *testing.T) {
	testlog.Start(t)

	b := Backoff{Initial: time.Second, Max: time.Minute, Multiplier: 2.0, Jitter: true}
	rng := rand.New(rand.NewSource(1))
	for attempt := 2; attempt <= 6; attempt++ {
		raw := Backoff{Initial: b.Initial, Max: b.Max, Multiplier: b.Multiplier}.Delay(attempt, nil)
		got := b.Delay(attempt, rng)
		if got < raw/2 || got >= raw+raw/2 {
			t.Fatalf("attempt %d: jittered %v outside [%v, %v)", attempt, got, raw/2, raw+raw/2)
		}
	}
}
