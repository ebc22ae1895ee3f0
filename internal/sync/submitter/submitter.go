// Package submitter sends batches of sync records to the reconciliation
// endpoint and records each outcome in the operation store.
package submitter

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"

	apperrors "github.com/stevedores/dashboard-sync/internal/errors"
	"github.com/stevedores/dashboard-sync/internal/logging"
	"github.com/stevedores/dashboard-sync/internal/models"
	"github.com/stevedores/dashboard-sync/internal/sync/queue"
	"github.com/stevedores/dashboard-sync/internal/sync/status"
	"github.com/stevedores/dashboard-sync/internal/sync/transport"
)

// Store is the part of the operation store the submitter writes through.
type Store interface {
	Update(ctx context.Context, id string, patch queue.Patch) (*models.SyncRecord, error)
	Release(ctx context.Context, id string) (*models.SyncRecord, error)
}

// ConflictHandler receives records the server answered with a conflict.
type ConflictHandler interface {
	HandleConflict(ctx context.Context, rec *models.SyncRecord)
}

// BackoffConfig shapes the delay before a transient failure is retried.
type BackoffConfig struct {
	Initial       time.Duration `mapstructure:"initial"`
	Max           time.Duration `mapstructure:"max"`
	Multiplier    float64       `mapstructure:"multiplier"`
	Randomization float64       `mapstructure:"randomization"`
}

// Config configures a Submitter.
type Config struct {
	MaxRetries  int
	SendTimeout time.Duration
	Backoff     BackoffConfig
}

// DefaultConfig returns the default submitter settings.
func DefaultConfig() Config {
	return Config{
		MaxRetries:  3,
		SendTimeout: 10 * time.Second,
		Backoff: BackoffConfig{
			Initial:       2 * time.Second,
			Max:           5 * time.Minute,
			Multiplier:    2,
			Randomization: 0.2,
		},
	}
}

// Outcome is what happened to one record.
type Outcome string

const (
	OutcomeSynced   Outcome = "synced"
	OutcomeConflict Outcome = "conflict"
	OutcomeRetry    Outcome = "retry"
	OutcomeFailed   Outcome = "failed"
	OutcomeSkipped  Outcome = "skipped"
)

// RecordResult reports the outcome for one record.
type RecordResult struct {
	RecordID   string
	EntityType models.EntityType
	Outcome    Outcome
	RetryCount int
	Err        error
}

// BatchResult summarizes a batch.
type BatchResult struct {
	Records   []RecordResult
	Synced    int
	Conflicts int
	Retried   int
	Failed    int
	Skipped   int
}

// Add folds another batch into r.
func (r *BatchResult) Add(other BatchResult) {
	r.Records = append(r.Records, other.Records...)
	r.Synced += other.Synced
	r.Conflicts += other.Conflicts
	r.Retried += other.Retried
	r.Failed += other.Failed
	r.Skipped += other.Skipped
}

func (r *BatchResult) record(res RecordResult) {
	r.Records = append(r.Records, res)
	switch res.Outcome {
	case OutcomeSynced:
		r.Synced++
	case OutcomeConflict:
		r.Conflicts++
	case OutcomeRetry:
		r.Retried++
	case OutcomeFailed:
		r.Failed++
	case OutcomeSkipped:
		r.Skipped++
	}
}

// Submitter processes records one at a time.
type Submitter struct {
	store     Store
	transport transport.Transport
	cfg       Config
	events    status.Publisher
	conflicts ConflictHandler
	now       func() time.Time
}

// Option customizes a Submitter.
type Option func(*Submitter)

// WithEvents publishes per-record events to p.
func WithEvents(p status.Publisher) Option {
	return func(s *Submitter) { s.events = p }
}

// WithConflictHandler hands conflict records to h.
func WithConflictHandler(h ConflictHandler) Option {
	return func(s *Submitter) { s.conflicts = h }
}

// WithClock overrides the clock used for retry gates.
func WithClock(now func() time.Time) Option {
	return func(s *Submitter) { s.now = now }
}

// New creates a Submitter. Zero config fields take their defaults.
func New(store Store, tr transport.Transport, cfg Config, opts ...Option) *Submitter {
	def := DefaultConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff.Initial = def.Backoff.Initial
	}
	if cfg.Backoff.Max <= 0 {
		cfg.Backoff.Max = def.Backoff.Max
	}
	if cfg.Backoff.Multiplier < 1 {
		cfg.Backoff.Multiplier = def.Backoff.Multiplier
	}
	if cfg.Backoff.Randomization < 0 || cfg.Backoff.Randomization >= 1 {
		cfg.Backoff.Randomization = def.Backoff.Randomization
	}

	s := &Submitter{
		store:     store,
		transport: tr,
		cfg:       cfg,
		events:    status.Discard,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetConflictHandler replaces the conflict handler. It must be called
// before the first batch.
func (s *Submitter) SetConflictHandler(h ConflictHandler) {
	s.conflicts = h
}

// SubmitBatch sends records in order. Every outcome is written to the
// store before the next record is sent. A cancelled context stops the
// batch; records not yet started stay pending.
func (s *Submitter) SubmitBatch(ctx context.Context, records []*models.SyncRecord) BatchResult {
	var result BatchResult
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		result.record(s.submit(ctx, rec))
	}
	return result
}

func (s *Submitter) submit(ctx context.Context, rec *models.SyncRecord) RecordResult {
	res := RecordResult{RecordID: rec.ID, EntityType: rec.EntityType}

	syncing := models.StatusSyncing
	current, err := s.store.Update(ctx, rec.ID, queue.Patch{Status: &syncing})
	if err != nil {
		// Discarded, resolved or superseded into a state we may not send.
		logging.Debug("skipping record", map[string]interface{}{
			"record_id": rec.ID,
			"error":     err.Error(),
		})
		res.Outcome = OutcomeSkipped
		res.Err = err
		return res
	}
	revision := current.Revision

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	resp, sendErr := s.transport.Send(sendCtx, transport.NewRequest(current))
	cancel()

	switch {
	case sendErr != nil:
		return s.handleFailure(ctx, current, revision, sendErr)
	case resp.Result == transport.ResultSuccess:
		return s.handleSuccess(ctx, current, revision, resp)
	case resp.Result == transport.ResultConflict:
		return s.handleConflict(ctx, current, resp)
	default:
		return s.handleFailure(ctx, current, revision,
			apperrors.Transient(apperrors.Newf(apperrors.ErrSyncTransport, "unknown result %q", resp.Result)))
	}
}

func (s *Submitter) handleSuccess(ctx context.Context, rec *models.SyncRecord, revision int, resp *transport.Response) RecordResult {
	res := RecordResult{RecordID: rec.ID, EntityType: rec.EntityType}

	synced := models.StatusSynced
	zero := int64(0)
	updated, err := s.store.Update(ctx, rec.ID, queue.Patch{
		Status:         &synced,
		ServerHash:     &resp.ServerHash,
		NextRetryAt:    &zero,
		ExpectRevision: &revision,
	})
	if err != nil {
		return s.persistFailed(ctx, rec, err)
	}

	res.RetryCount = updated.RetryCount
	if updated.Status == models.StatusSynced {
		res.Outcome = OutcomeSynced
		logging.Debug("record synced", map[string]interface{}{
			"record_id":   rec.ID,
			"entity_type": string(rec.EntityType),
			"server_hash": resp.ServerHash,
		})
	} else {
		// Superseded in flight; the newer payload goes out next pass.
		res.Outcome = OutcomeRetry
	}
	return res
}

func (s *Submitter) handleConflict(ctx context.Context, rec *models.SyncRecord, resp *transport.Response) RecordResult {
	res := RecordResult{RecordID: rec.ID, EntityType: rec.EntityType}

	conflict := models.StatusConflict
	data := resp.ServerData
	if data == nil {
		data = models.Payload{}
	}
	updated, err := s.store.Update(ctx, rec.ID, queue.Patch{
		Status:       &conflict,
		ServerHash:   &resp.ServerHash,
		ConflictData: &data,
	})
	if err != nil {
		return s.persistFailed(ctx, rec, err)
	}

	res.Outcome = OutcomeConflict
	res.RetryCount = updated.RetryCount

	logging.Info("sync conflict", map[string]interface{}{
		"record_id":   rec.ID,
		"entity_type": string(rec.EntityType),
		"target_id":   rec.TargetID,
		"server_hash": resp.ServerHash,
	})
	s.events.Publish(status.Event{
		Type:       status.EventSyncConflict,
		RecordID:   rec.ID,
		EntityType: rec.EntityType,
		TargetID:   rec.TargetID,
	})

	if s.conflicts != nil {
		s.conflicts.HandleConflict(ctx, updated)
	}
	return res
}

func (s *Submitter) handleFailure(ctx context.Context, rec *models.SyncRecord, revision int, sendErr error) RecordResult {
	res := RecordResult{RecordID: rec.ID, EntityType: rec.EntityType, Err: sendErr}
	sendErr = apperrors.Categorize(sendErr)
	msg := sendErr.Error()

	patch := queue.Patch{LastError: &msg, ExpectRevision: &revision}
	retries := rec.RetryCount
	var target models.SyncStatus

	if apperrors.IsPermanent(sendErr) {
		target = models.StatusError
	} else {
		retries++
		patch.RetryCount = &retries
		if retries >= s.cfg.MaxRetries {
			target = models.StatusError
		} else {
			target = models.StatusPending
			next := s.now().Add(s.RetryDelay(retries)).UnixMilli()
			patch.NextRetryAt = &next
		}
	}
	patch.Status = &target

	updated, err := s.store.Update(ctx, rec.ID, patch)
	if err != nil {
		return s.persistFailed(ctx, rec, err)
	}
	res.RetryCount = updated.RetryCount

	if updated.Status == models.StatusError {
		res.Outcome = OutcomeFailed
		logging.Warn("record failed", map[string]interface{}{
			"record_id":   rec.ID,
			"entity_type": string(rec.EntityType),
			"retry_count": updated.RetryCount,
			"permanent":   apperrors.IsPermanent(sendErr),
			"error_code":  string(apperrors.CodeOf(sendErr)),
		})
		return res
	}

	res.Outcome = OutcomeRetry
	logging.Debug("record will be retried", map[string]interface{}{
		"record_id":     rec.ID,
		"retry_count":   updated.RetryCount,
		"next_retry_at": updated.NextRetryAt,
		"error":         msg,
	})
	return res
}

// persistFailed reports an outcome the store could not record and hands
// the record back to pending, so the next pass resends it. The server
// answers a resend from its idempotency ledger.
func (s *Submitter) persistFailed(ctx context.Context, rec *models.SyncRecord, err error) RecordResult {
	logging.ErrorWithCode("failed to record sync outcome", string(apperrors.CodeOf(err)), err, map[string]interface{}{
		"record_id": rec.ID,
	})
	if _, relErr := s.store.Release(ctx, rec.ID); relErr != nil {
		logging.Warn("released record only in memory", map[string]interface{}{
			"record_id": rec.ID,
			"error":     relErr.Error(),
		})
	}
	return RecordResult{RecordID: rec.ID, EntityType: rec.EntityType, Outcome: OutcomeFailed, Err: err}
}

// RetryDelay returns the wait before the given retry attempt (1-based).
func (s *Submitter) RetryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.Backoff.Initial
	b.MaxInterval = s.cfg.Backoff.Max
	b.Multiplier = s.cfg.Backoff.Multiplier
	b.RandomizationFactor = s.cfg.Backoff.Randomization
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.InitialInterval
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}
