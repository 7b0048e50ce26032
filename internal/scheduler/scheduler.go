// Package scheduler runs the background sync loop: a recurring ticker, an
// online probe, and an explicit trigger channel for "sync now" requests
// and connectivity-regained kicks. At most one cycle runs at a time; the
// driver's single-flight guard is the backstop, the scheduler simply never
// races itself.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ilyakasyanov/walletsync/internal/common"
	"github.com/ilyakasyanov/walletsync/internal/logging"
	"github.com/ilyakasyanov/walletsync/internal/models"
	"github.com/ilyakasyanov/walletsync/internal/queue"
	"github.com/ilyakasyanov/walletsync/internal/store"
	"github.com/ilyakasyanov/walletsync/internal/syncer"
	"github.com/ilyakasyanov/walletsync/internal/transport"
)

// Config tunes the scheduler loops.
type Config struct {
	// ProbeInterval is how often remote reachability is checked.
	ProbeInterval time.Duration
	// ProbeTimeout bounds one reachability check.
	ProbeTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{ProbeInterval: 10 * time.Second, ProbeTimeout: 3 * time.Second}
}

// Status is a point-in-time snapshot of the sync engine for callers
// (status endpoint, UI polling).
type Status struct {
	IsOnline               bool  `json:"isOnline"`
	SyncInProgress         bool  `json:"syncInProgress"`
	LastSyncTimestamp      int64 `json:"lastSyncTimestamp"`
	PendingOperationsCount int   `json:"pendingOperationsCount"`
}

// Scheduler drives periodic and on-demand sync cycles.
type Scheduler struct {
	driver    *syncer.Driver
	store     *store.Store
	queue     *queue.Queue
	transport transport.Transport
	creds     func() transport.Credentials
	cfg       Config
	log       logging.Logger

	trigger chan struct{}

	mu      sync.Mutex
	online  bool
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a scheduler. creds is called at the start of every cycle so
// token refreshes become visible without restarting the loop.
func New(d *syncer.Driver, st *store.Store, q *queue.Queue, tr transport.Transport, creds func() transport.Credentials, cfg Config, log logging.Logger) *Scheduler {
	def := DefaultConfig()
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = def.ProbeInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	return &Scheduler{
		driver:    d,
		store:     st,
		queue:     q,
		transport: tr,
		creds:     creds,
		cfg:       cfg,
		log:       log.With("component", "scheduler"),
		trigger:   make(chan struct{}, 1),
	}
}

// Start launches the sync and probe loops. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.runSyncLoop(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.runProbeLoop(ctx)
	}()
}

// Close stops the loops and waits for an in-flight cycle to finish.
// Pending work stays queued for the next start.
func (s *Scheduler) Close() {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}
	cancel()
	s.wg.Wait()
}

// ForceSync requests an immediate cycle. Collapses with an already-pending
// request; never blocks.
func (s *Scheduler) ForceSync() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// IsOnline reports the last probe verdict.
func (s *Scheduler) IsOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Status reports the engine state for callers.
func (s *Scheduler) Status(ctx context.Context) (*Status, error) {
	st := &Status{
		IsOnline:       s.IsOnline(),
		SyncInProgress: s.driver.SyncInProgress(),
	}
	state, err := s.store.SyncState(ctx)
	if err != nil {
		return nil, err
	}
	st.LastSyncTimestamp = state.LastSync
	n, err := s.queue.PendingCount(ctx)
	if err != nil {
		return nil, err
	}
	st.PendingOperationsCount = n
	return st, nil
}

func (s *Scheduler) runSyncLoop(ctx context.Context) {
	hint := s.driver.NextScheduleHint()
	timer := time.NewTimer(hint.Interval)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			s.runCycle(ctx, hint.MinPriority)
		case <-s.trigger:
			s.runCycle(ctx, models.PriorityLow)
		case <-ctx.Done():
			return
		}

		// drain a tick that fired during a triggered cycle, else the
		// reset timer delivers it immediately
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		hint = s.driver.NextScheduleHint()
		timer.Reset(hint.Interval)
	}
}

func (s *Scheduler) runCycle(ctx context.Context, minPriority models.Priority) {
	if !s.IsOnline() {
		s.log.Debug(ctx, "skipping cycle while offline")
		return
	}
	result, err := s.driver.ProcessQueue(ctx, s.creds(), minPriority)
	switch {
	case errors.Is(err, common.ErrSyncInProgress):
		s.log.Debug(ctx, "cycle already running")
	case err != nil:
		s.log.Warn(ctx, "sync cycle failed", "error", err)
	case result != nil && result.SyncedCount > 0:
		// pushed something; pull the remote's view back in
		if _, err := s.driver.PerformIncrementalSync(ctx, s.creds()); err != nil {
			s.log.Warn(ctx, "incremental pull failed", "error", err)
		}
	}
	if result != nil && result.Success {
		if n, err := s.queue.CleanupCompletedOperations(ctx); err != nil {
			s.log.Warn(ctx, "queue cleanup failed", "error", err)
		} else if n > 0 {
			s.log.Debug(ctx, "pruned completed operations", "count", n)
		}
	}
}

// runProbeLoop pings the remote on an interval and flips the online flag.
// Regaining connectivity kicks an immediate cycle.
func (s *Scheduler) runProbeLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ProbeInterval)
	defer ticker.Stop()

	s.probe(ctx)
	for {
		select {
		case <-ticker.C:
			s.probe(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) probe(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	err := s.transport.Ping(pctx)
	cancel()

	s.mu.Lock()
	was := s.online
	s.online = err == nil
	now := s.online
	s.mu.Unlock()

	if was != now {
		s.log.Info(ctx, "connectivity changed", "online", now)
		if now {
			s.ForceSync()
		}
	}
}
