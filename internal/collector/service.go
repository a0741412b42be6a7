package collector

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/pbxmon/internal/ami"
	"github.com/danmuck/pbxmon/internal/cache"
	"github.com/danmuck/pbxmon/internal/config"
	"github.com/danmuck/pbxmon/internal/observability"
	"github.com/danmuck/pbxmon/internal/pbx"
	"github.com/danmuck/pbxmon/internal/status"
)

const shutdownGrace = 5 * time.Second

// PollStatus is the last-cycle outcome the API reports per target.
type PollStatus struct {
	Target      string    `json:"target"`
	LastAttempt time.Time `json:"last_attempt"`
	Outcome     string    `json:"outcome"`
	Detail      string    `json:"detail,omitempty"`
	Failures    int       `json:"consecutive_failures"`
}

// Service runs one poll loop per target and the HTTP surface.
type Service struct {
	cfg   config.Config
	store *cache.Store

	startedAt time.Time

	mu        sync.RWMutex
	lastPolls map[string]PollStatus
}

func New(cfg config.Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := cache.NewStore(cfg.Collector.CacheDir, cfg.Collector.CacheTTL)
	if err != nil {
		return nil, err
	}
	return &Service{
		cfg:       cfg,
		store:     store,
		startedAt: time.Now(),
		lastPolls: make(map[string]PollStatus, len(cfg.Targets)),
	}, nil
}

// Run blocks until a process signal or a fatal HTTP server error.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.serve(ctx)
}

func (s *Service) serve(ctx context.Context) error {
	observability.RegisterMetrics()

	var wg sync.WaitGroup
	for _, target := range s.cfg.Targets {
		wg.Add(1)
		go func(target config.TargetConfig) {
			defer wg.Done()
			s.pollLoop(ctx, target)
		}(target)
	}

	httpErr := make(chan error, 1)
	var server *http.Server
	if s.cfg.API.Enabled {
		server = &http.Server{Addr: s.cfg.API.ListenAddr, Handler: s.Router()}
		go func() {
			log.Info().Str("addr", s.cfg.API.ListenAddr).Msg("collector_api_listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				httpErr <- err
				return
			}
			httpErr <- nil
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-httpErr:
		if err != nil {
			runErr = fmt.Errorf("collector: api server: %w", err)
		}
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
	wg.Wait()
	log.Info().Msg("collector_stopped")
	return runErr
}

// CollectOnce polls every target a single time, for cron-style runs.
// Targets run sequentially so a small host is not flooded with sockets.
func (s *Service) CollectOnce(ctx context.Context) error {
	var failed []string
	for _, target := range s.cfg.Targets {
		if err := s.pollOnce(ctx, target); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", target.Name, err))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("collector: %d of %d targets failed: %v", len(failed), len(s.cfg.Targets), failed)
	}
	return nil
}

func (s *Service) pollLoop(ctx context.Context, target config.TargetConfig) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	backoff := Backoff{
		Initial:    s.cfg.Collector.BackoffInitial,
		Max:        s.cfg.Collector.BackoffMax,
		Multiplier: s.cfg.Collector.BackoffMultiplier,
		Jitter:     true,
	}
	failures := 0

	for {
		err := s.pollOnce(ctx, target)
		if ctx.Err() != nil {
			return
		}

		wait := s.cfg.Collector.PollInterval
		if err != nil {
			failures++
			wait = backoff.Delay(failures, rng)
			if wait > s.cfg.Collector.PollInterval {
				wait = s.cfg.Collector.PollInterval
			}
			log.Warn().
				Str("target", target.Name).
				Int("consecutive_failures", failures).
				Dur("retry_in", wait).
				Err(err).
				Msg("poll_failed")
		} else {
			failures = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// pollOnce runs one full cycle against one target: fresh session, login,
// collect, publish, close. A stale session is never reused across cycles,
// which is also the reconnect policy after timeouts.
func (s *Service) pollOnce(ctx context.Context, target config.TargetConfig) error {
	start := time.Now()
	err := s.collectTarget(ctx, target)

	outcome := string(ami.Classify(err))
	observability.RecordPoll(target.Name, outcome, time.Since(start))

	ps := PollStatus{
		Target:      target.Name,
		LastAttempt: start.UTC(),
		Outcome:     outcome,
	}
	if err != nil {
		ps.Detail = err.Error()
		s.mu.Lock()
		ps.Failures = s.lastPolls[target.Name].Failures + 1
		s.lastPolls[target.Name] = ps
		s.mu.Unlock()
		return err
	}
	s.mu.Lock()
	s.lastPolls[target.Name] = ps
	s.mu.Unlock()
	log.Debug().Str("target", target.Name).Dur("took", time.Since(start)).Msg("poll_ok")
	return nil
}

func (s *Service) collectTarget(ctx context.Context, target config.TargetConfig) error {
	cfg := ami.Config{
		Address:        target.Addr,
		ConnectTimeout: target.ConnectTimeout,
		LoginTimeout:   target.LoginTimeout,
		ActionTimeout:  target.ActionTimeout,
	}
	client, err := ami.Dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Login(ctx, target.Username, target.Secret); err != nil {
		return err
	}

	snap := pbx.Collect(ctx, client, target.Name)
	if total, _ := client.DiscardStats(); total > 0 {
		observability.AddDiscardedBlocks(target.Name, total)
	}
	if err := s.store.Write(snap); err != nil {
		return err
	}
	observability.SetSnapshotAge(target.Name, time.Since(snap.CollectedAt))
	return nil
}

// Store exposes the snapshot store to the binaries sharing it.
func (s *Service) Store() *cache.Store {
	return s.store
}

// TargetSpecs maps the configured targets to the status rules' shape.
func (s *Service) TargetSpecs() []status.TargetSpec {
	specs := make([]status.TargetSpec, 0, len(s.cfg.Targets))
	for _, target := range s.cfg.Targets {
		specs = append(specs, status.TargetSpec{
			Name:            target.Name,
			ExpectEndpoints: target.ExpectEndpoints,
			QueueWaitWarn:   target.QueueWaitWarn,
		})
	}
	return specs
}

func (s *Service) pollStatuses() []PollStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PollStatus, 0, len(s.cfg.Targets))
	for _, target := range s.cfg.Targets {
		ps, ok := s.lastPolls[target.Name]
		if !ok {
			ps = PollStatus{Target: target.Name, Outcome: "pending"}
		}
		out = append(out, ps)
	}
	return out
}

func (s *Service) hasTarget(name string) bool {
	for _, target := range s.cfg.Targets {
		if target.Name == name {
			return true
		}
	}
	return false
}
