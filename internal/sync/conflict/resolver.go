// Package conflict settles records the server answered with a conflict.
//
// Each entity type has a policy: client_wins and merge (and server_wins,
// when configured) run automatically after a short delay; manual leaves
// the record in conflict until ResolveManual is called. A failed automatic
// resolution is not retried.
package conflict

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/stevedores/dashboard-sync/internal/errors"
	"github.com/stevedores/dashboard-sync/internal/logging"
	"github.com/stevedores/dashboard-sync/internal/models"
	"github.com/stevedores/dashboard-sync/internal/sync/queue"
	"github.com/stevedores/dashboard-sync/internal/uuid"
)

// DefaultAutoResolveDelay leaves a conflict visible before it is settled.
const DefaultAutoResolveDelay = time.Second

// Store is the part of the operation store the resolver uses.
type Store interface {
	Get(id string) (*models.SyncRecord, error)
	Resolve(ctx context.Context, id string, res queue.Resolution) (*models.SyncRecord, error)
}

// LogWriter records conflict outcomes.
type LogWriter interface {
	CreateConflictLog(ctx context.Context, log *models.ConflictLog) error
}

// Config configures a Resolver.
type Config struct {
	AutoResolveDelay time.Duration
	Policies         Policies
}

// Resolver settles conflicts.
type Resolver struct {
	store Store
	logs  LogWriter
	cfg   Config
	now   func() time.Time

	mu         sync.Mutex
	timers     map[string]*time.Timer
	closed     bool
	wg         sync.WaitGroup
	onResolved []func(rec *models.SyncRecord)
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithClock overrides the clock used for log timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a Resolver. logs may be nil.
func NewResolver(store Store, logs LogWriter, cfg Config, opts ...Option) *Resolver {
	if cfg.AutoResolveDelay <= 0 {
		cfg.AutoResolveDelay = DefaultAutoResolveDelay
	}
	if cfg.Policies.ByEntity == nil && cfg.Policies.Default == "" {
		cfg.Policies = DefaultPolicies()
	}
	r := &Resolver{
		store:  store,
		logs:   logs,
		cfg:    cfg,
		now:    time.Now,
		timers: make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnResolved registers fn to run after a record is moved back to pending.
func (r *Resolver) OnResolved(fn func(rec *models.SyncRecord)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onResolved = append(r.onResolved, fn)
}

// PolicyFor returns the policy applied to an entity type.
func (r *Resolver) PolicyFor(entityType models.EntityType) Policy {
	return r.cfg.Policies.For(entityType)
}

// HandleConflict schedules resolution of a record now in conflict.
func (r *Resolver) HandleConflict(ctx context.Context, rec *models.SyncRecord) {
	policy := r.PolicyFor(rec.EntityType)

	if !policy.Strategy.Automatic() {
		logging.Info("conflict awaiting manual resolution", map[string]interface{}{
			"record_id":   rec.ID,
			"entity_type": string(rec.EntityType),
		})
		r.writeLog(ctx, rec, policy.Strategy, models.ConflictOutcomeManual, "")
		return
	}
	r.schedule(rec.ID, policy.Strategy)
}

// Pending returns the IDs of records with a scheduled resolution.
func (r *Resolver) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.timers))
	for id := range r.timers {
		ids = append(ids, id)
	}
	return ids
}

// Close cancels scheduled resolutions and waits for running ones.
func (r *Resolver) Close() {
	r.mu.Lock()
	r.closed = true
	for id, t := range r.timers {
		if t.Stop() {
			r.wg.Done()
		}
		delete(r.timers, id)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Resolver) schedule(id string, strategy Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.cancelLocked(id)

	r.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(r.cfg.AutoResolveDelay, func() {
		defer r.wg.Done()
		r.mu.Lock()
		if r.timers[id] == t {
			delete(r.timers, id)
		}
		r.mu.Unlock()
		r.autoResolve(id, strategy)
	})
	r.timers[id] = t
}

// cancelLocked stops a scheduled resolution. Caller holds mu.
func (r *Resolver) cancelLocked(id string) {
	if t, ok := r.timers[id]; ok {
		if t.Stop() {
			r.wg.Done()
		}
		delete(r.timers, id)
	}
}

func (r *Resolver) autoResolve(id string, strategy Strategy) {
	ctx := context.Background()

	rec, err := r.store.Get(id)
	if err != nil || rec.Status != models.StatusConflict {
		// Discarded or settled by hand in the meantime.
		return
	}

	res, err := r.build(rec, strategy, nil)
	if err == nil {
		rec, err = r.apply(ctx, rec, res)
	}
	if err != nil {
		logging.Warn("automatic conflict resolution failed", map[string]interface{}{
			"record_id":   id,
			"entity_type": string(rec.EntityType),
			"strategy":    string(strategy),
			"error_code":  string(apperrors.CodeOf(err)),
		})
		r.writeLog(ctx, rec, strategy, models.ConflictOutcomeFailed, err.Error())
		return
	}

	logging.Info("conflict resolved", map[string]interface{}{
		"record_id":   id,
		"entity_type": string(rec.EntityType),
		"strategy":    string(strategy),
	})
}

// ResolveManual settles a conflict with an explicit strategy and returns
// the payload that will be sent. merged is used with StrategyMerge; when
// nil the entity's merge rules build it.
func (r *Resolver) ResolveManual(ctx context.Context, id string, strategy Strategy, merged models.Payload) (models.Payload, error) {
	if !strategy.Automatic() {
		return nil, apperrors.Newf(apperrors.ErrResolutionInvalid, "unknown resolution %q", strategy)
	}

	r.mu.Lock()
	r.cancelLocked(id)
	r.mu.Unlock()

	rec, err := r.store.Get(id)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Wrap(apperrors.ErrConflictNotFound, "no conflict for record", err)
		}
		return nil, err
	}
	if rec.Status != models.StatusConflict {
		return nil, apperrors.Newf(apperrors.ErrConflictNotFound, "record %s is %s, not in conflict", id, rec.Status)
	}

	res, err := r.build(rec, strategy, merged)
	if err != nil {
		return nil, err
	}
	if _, err := r.apply(ctx, rec, res); err != nil {
		return nil, err
	}
	return res.Payload.Clone(), nil
}

// build computes the resolution for rec.
func (r *Resolver) build(rec *models.SyncRecord, strategy Strategy, merged models.Payload) (queue.Resolution, error) {
	res := queue.Resolution{BaseHash: rec.ServerHash, Marker: string(strategy)}

	switch strategy {
	case StrategyClientWins:
		res.Payload = rec.Payload
		if rec.Operation == models.OperationCreate {
			res.Operation = models.OperationUpdate
		}

	case StrategyServerWins:
		if rec.ConflictData == nil {
			return res, apperrors.Newf(apperrors.ErrResolutionInvalid, "record %s has no server data", rec.ID)
		}
		res.Payload = rec.ConflictData
		res.Operation = models.OperationUpdate

	case StrategyMerge:
		if rec.Operation == models.OperationDelete {
			// Nothing to merge into a delete; the local intent stands.
			res.Payload = rec.Payload
			res.Marker = string(StrategyClientWins)
			break
		}
		if merged != nil {
			res.Payload = merged
		} else {
			res.Payload = Merge(rec.Payload, rec.ConflictData, r.PolicyFor(rec.EntityType).Fields)
		}
		res.Operation = models.OperationUpdate

	default:
		return res, apperrors.Newf(apperrors.ErrResolutionInvalid, "unknown resolution %q", strategy)
	}
	return res, nil
}

func (r *Resolver) apply(ctx context.Context, rec *models.SyncRecord, res queue.Resolution) (*models.SyncRecord, error) {
	updated, err := r.store.Resolve(ctx, rec.ID, res)
	if err != nil {
		return rec, err
	}
	r.writeLog(ctx, rec, Strategy(res.Marker), models.ConflictOutcomeResolved, "")

	r.mu.Lock()
	hooks := append([]func(*models.SyncRecord){}, r.onResolved...)
	r.mu.Unlock()
	for _, fn := range hooks {
		fn(updated.Clone())
	}
	return updated, nil
}

func (r *Resolver) writeLog(ctx context.Context, rec *models.SyncRecord, strategy Strategy, outcome, detail string) {
	if r.logs == nil {
		return
	}
	now := r.now().UnixMilli()
	entry := &models.ConflictLog{
		ID:         uuid.New(),
		RecordID:   rec.ID,
		EntityType: rec.EntityType,
		TargetID:   rec.TargetID,
		LocalHash:  rec.ClientHash,
		ServerHash: rec.ServerHash,
		Strategy:   string(strategy),
		Outcome:    outcome,
		Detail:     detail,
		DetectedAt: rec.UpdatedAt,
	}
	if outcome == models.ConflictOutcomeResolved {
		entry.ResolvedAt = now
	}
	if err := r.logs.CreateConflictLog(ctx, entry); err != nil {
		logging.Error("failed to write conflict log", err, map[string]interface{}{
			"record_id": rec.ID,
		})
	}
}
