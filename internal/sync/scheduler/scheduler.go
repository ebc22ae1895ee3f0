// Package scheduler decides when a sync pass runs and drives it.
//
// Every trigger (reconnect, timer, force, visibility, enqueue) funnels
// through SyncNow, which refuses to start while another pass is running.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stevedores/dashboard-sync/internal/errors"
	"github.com/stevedores/dashboard-sync/internal/logging"
	"github.com/stevedores/dashboard-sync/internal/models"
	"github.com/stevedores/dashboard-sync/internal/sync/status"
	"github.com/stevedores/dashboard-sync/internal/sync/submitter"
)

// Reason names what triggered a pass.
type Reason string

const (
	ReasonReconnect Reason = "reconnect"
	ReasonTimer     Reason = "timer"
	ReasonForce     Reason = "force"
	ReasonVisible   Reason = "visible"
	ReasonEnqueue   Reason = "enqueue"
	ReasonResolved  Reason = "resolved"
)

// Why a pass did not run.
const (
	SkipOffline    = "offline"
	SkipInProgress = "in_progress"
	SkipEmpty      = "empty"
	SkipStopped    = "stopped"
)

// Queue is the part of the operation store the scheduler reads.
type Queue interface {
	ListPending() []*models.SyncRecord
	ListReady(now time.Time) []*models.SyncRecord
	PurgeSynced(ctx context.Context, olderThan time.Duration) (int, error)
}

// Submitter sends one batch.
type Submitter interface {
	SubmitBatch(ctx context.Context, records []*models.SyncRecord) submitter.BatchResult
}

// Connectivity reports whether the server is reachable.
type Connectivity interface {
	IsOnline() bool
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	Interval      time.Duration // periodic pass interval
	BatchSize     int           // records per batch
	PassTimeout   time.Duration // upper bound for a whole pass
	PurgeSchedule string        // cron spec for the synced-record cleanup; empty disables it
	PurgeAfter    time.Duration // synced records older than this are purged
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Interval:      30 * time.Second,
		BatchSize:     5,
		PassTimeout:   5 * time.Minute,
		PurgeSchedule: "@every 1h",
		PurgeAfter:    24 * time.Hour,
	}
}

// PassResult describes one call to SyncNow.
type PassResult struct {
	Reason     Reason
	Ran        bool
	Skipped    string
	Batches    int
	StartedAt  time.Time
	FinishedAt time.Time
	submitter.BatchResult
}

// Scheduler runs sync passes.
type Scheduler struct {
	queue     Queue
	submitter Submitter
	network   Connectivity
	events    status.Publisher
	cfg       SchedulerConfig
	now       func() time.Time

	syncInProgress atomic.Bool

	mu              sync.RWMutex
	isRunning       bool
	lastSyncAttempt time.Time
	cron            *cronRunner
	baseCtx         context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithEvents publishes pass events to p.
func WithEvents(p status.Publisher) Option {
	return func(s *Scheduler) { s.events = p }
}

// WithClock overrides the clock used for backoff gates.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates a new Scheduler.
func NewScheduler(q Queue, sub Submitter, network Connectivity, config *SchedulerConfig, opts ...Option) *Scheduler {
	def := DefaultSchedulerConfig()
	if config == nil {
		config = def
	}
	cfg := *config
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.PassTimeout <= 0 {
		cfg.PassTimeout = def.PassTimeout
	}

	s := &Scheduler{
		queue:     q,
		submitter: sub,
		network:   network,
		events:    status.Discard,
		cfg:       cfg,
		now:       time.Now,
		baseCtx:   context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers the periodic jobs and starts them.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}

	baseCtx, cancel := context.WithCancel(ctx)
	runner := newCronRunner(baseCtx)

	tick := fmt.Sprintf("@every %s", s.cfg.Interval)
	if _, err := runner.Add(tick, func(ctx context.Context) { s.SyncNow(ctx, ReasonTimer) }); err != nil {
		cancel()
		return errors.Wrap(errors.ErrInvalid, "invalid sync interval", err)
	}
	if s.cfg.PurgeSchedule != "" {
		if _, err := runner.Add(s.cfg.PurgeSchedule, func(ctx context.Context) { s.Purge(ctx) }); err != nil {
			cancel()
			return errors.Wrap(errors.ErrInvalid, "invalid purge schedule", err)
		}
	}
	runner.Start()

	s.cron = runner
	s.baseCtx = baseCtx
	s.cancel = cancel
	s.isRunning = true

	logging.Info("sync scheduler started", map[string]interface{}{
		"interval":   s.cfg.Interval.String(),
		"batch_size": s.cfg.BatchSize,
		"purge":      s.cfg.PurgeSchedule,
	})
	return nil
}

// Stop stops the periodic jobs and waits for triggered passes to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	runner, cancel := s.cron, s.cancel
	s.mu.Unlock()

	cancel()
	runner.Stop()
	s.wg.Wait()

	logging.Info("sync scheduler stopped")
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// InProgress reports whether a pass is running.
func (s *Scheduler) InProgress() bool {
	return s.syncInProgress.Load()
}

// LastSyncAttempt returns when the last pass started, or zero.
func (s *Scheduler) LastSyncAttempt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSyncAttempt
}

// Trigger starts a pass in the background. It returns false when the pass
// would be refused right away.
func (s *Scheduler) Trigger(reason Reason) bool {
	if !s.network.IsOnline() || s.syncInProgress.Load() {
		return false
	}

	s.mu.RLock()
	ctx := s.baseCtx
	s.mu.RUnlock()
	if ctx.Err() != nil {
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.SyncNow(ctx, reason)
	}()
	return true
}

// SyncNow runs a pass and waits for it. It returns immediately, doing
// nothing, when offline, when a pass is already running or when nothing
// is due. Forced passes ignore retry backoff.
func (s *Scheduler) SyncNow(ctx context.Context, reason Reason) PassResult {
	result := PassResult{Reason: reason}

	if ctx.Err() != nil {
		result.Skipped = SkipStopped
		return result
	}
	if !s.network.IsOnline() {
		result.Skipped = SkipOffline
		return result
	}
	if !s.syncInProgress.CompareAndSwap(false, true) {
		result.Skipped = SkipInProgress
		logging.Debug("sync already in progress, skipping", map[string]interface{}{"reason": string(reason)})
		return result
	}
	defer s.syncInProgress.Store(false)

	var records []*models.SyncRecord
	if reason == ReasonForce {
		records = s.queue.ListPending()
	} else {
		records = s.queue.ListReady(s.now())
	}
	if len(records) == 0 {
		result.Skipped = SkipEmpty
		return result
	}

	result.Ran = true
	result.StartedAt = s.now()
	s.mu.Lock()
	s.lastSyncAttempt = result.StartedAt
	s.mu.Unlock()

	logging.Info("sync pass started", map[string]interface{}{
		"reason":  string(reason),
		"records": len(records),
	})
	s.events.Publish(status.Event{Type: status.EventSyncStarted, Reason: string(reason), Attempted: len(records)})

	passCtx, cancel := context.WithTimeout(ctx, s.cfg.PassTimeout)
	defer cancel()

	for start := 0; start < len(records); start += s.cfg.BatchSize {
		if passCtx.Err() != nil {
			break
		}
		end := start + s.cfg.BatchSize
		if end > len(records) {
			end = len(records)
		}
		result.BatchResult.Add(s.submitter.SubmitBatch(passCtx, records[start:end]))
		result.Batches++
	}
	result.FinishedAt = s.now()

	fields := map[string]interface{}{
		"reason":    string(reason),
		"batches":   result.Batches,
		"synced":    result.Synced,
		"conflicts": result.Conflicts,
		"retried":   result.Retried,
		"failed":    result.Failed,
	}
	event := status.Event{
		Reason:    string(reason),
		Attempted: len(records),
		Synced:    result.Synced,
		Conflicts: result.Conflicts,
		Retried:   result.Retried,
		Failed:    result.Failed,
	}
	if result.Failed > 0 {
		event.Type = status.EventSyncFailed
		event.ErrorCode = string(errors.ErrSyncFailed)
		logging.Warn("sync pass finished with failures", fields)
	} else {
		event.Type = status.EventSyncCompleted
		logging.Info("sync pass completed", fields)
	}
	s.events.Publish(event)

	return result
}

// Purge removes synced records older than the configured age.
func (s *Scheduler) Purge(ctx context.Context) (int, error) {
	n, err := s.queue.PurgeSynced(ctx, s.cfg.PurgeAfter)
	if err != nil {
		logging.ErrorWithCode("failed to purge synced records", string(errors.CodeOf(err)), err)
		return 0, err
	}
	return n, nil
}
