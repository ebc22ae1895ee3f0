// Package queue provides the durable local operation store for offline mutations.
//
// The Store owns every SyncRecord. Other components read copies and write
// back through Update, Resolve and friends so persistence stays
// authoritative. At most one record per (entity type, target) is unsynced
// (pending, syncing or conflict) at a time; newer mutations supersede it in
// place.
package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "github.com/stevedores/dashboard-sync/internal/errors"
	"github.com/stevedores/dashboard-sync/internal/logging"
	"github.com/stevedores/dashboard-sync/internal/models"
	"github.com/stevedores/dashboard-sync/internal/sync/fingerprint"
	"github.com/stevedores/dashboard-sync/internal/sync/lifecycle"
	"github.com/stevedores/dashboard-sync/internal/uuid"
)

// Persister is the durable backing for the store.
type Persister interface {
	LoadSyncRecords(ctx context.Context) ([]*models.SyncRecord, error)
	LoadKnownHashes(ctx context.Context) ([]*models.KnownHash, error)
	// SaveSyncRecord must also persist the target's known hash when the
	// record is synced.
	SaveSyncRecord(ctx context.Context, rec *models.SyncRecord) error
	DeleteSyncRecords(ctx context.Context, ids []string) error
}

// Options configures a Store.
type Options struct {
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Patch lists the fields Update may change. Nil fields are left alone.
type Patch struct {
	Status       *models.SyncStatus
	RetryCount   *int
	NextRetryAt  *int64
	ServerHash   *string
	ConflictData *models.Payload
	LastError    *string

	// ExpectRevision, when set, is the revision observed when the caller
	// started working on the record. If the record was superseded since,
	// an outcome of synced or error is turned into pending so the newer
	// payload is still delivered.
	ExpectRevision *int
}

// Resolution is the outcome of conflict resolution applied by Resolve.
type Resolution struct {
	Operation models.Operation // empty keeps the current operation
	Payload   models.Payload
	BaseHash  string
	Marker    string // client_wins, server_wins, merge, manual
}

// Store is the local operation store.
type Store struct {
	persister Persister
	now       func() time.Time

	mu      sync.RWMutex
	records map[string]*models.SyncRecord
	known   map[targetKey]string
	seq     int64
	closed  bool

	hooksMu   sync.RWMutex
	onEnqueue []func(rec *models.SyncRecord)
}

type targetKey struct {
	entityType models.EntityType
	targetID   string
}

// Open loads all persisted records. Records left in syncing by an
// interrupted pass are reset to pending and written back.
func Open(ctx context.Context, p Persister, opts Options) (*Store, error) {
	if p == nil {
		return nil, apperrors.New(apperrors.ErrInvalid, "persister is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	loaded, err := p.LoadSyncRecords(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStoreUnavailable, "failed to load sync records", err)
	}
	known, err := p.LoadKnownHashes(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStoreUnavailable, "failed to load known hashes", err)
	}

	s := &Store{
		persister: p,
		now:       now,
		records:   make(map[string]*models.SyncRecord, len(loaded)),
		known:     make(map[targetKey]string, len(known)),
	}
	for _, k := range known {
		s.known[targetKey{k.EntityType, k.TargetID}] = k.ServerHash
	}

	// Synced records without a persisted known hash fill the gap; loaded
	// is in enqueue order so the newest one wins.
	fallback := make(map[targetKey]string)
	reset := 0
	for _, rec := range loaded {
		if rec.Seq > s.seq {
			s.seq = rec.Seq
		}
		if rec.Status == models.StatusSyncing {
			status, err := lifecycle.Transition(ctx, rec.Status, lifecycle.EventReset)
			if err != nil {
				return nil, err
			}
			rec.Status = status
			rec.UpdatedAt = now().UnixMilli()
			if err := p.SaveSyncRecord(ctx, rec); err != nil {
				return nil, apperrors.Wrap(apperrors.ErrStoreUnavailable, "failed to reset interrupted record", err)
			}
			reset++
		}
		if rec.Status == models.StatusSynced {
			if _, ok := s.known[targetKey{rec.EntityType, rec.TargetID}]; !ok {
				fallback[targetKey{rec.EntityType, rec.TargetID}] = rec.ServerHash
			}
		}
		s.records[rec.ID] = rec
	}

	for key, hash := range fallback {
		s.known[key] = hash
	}

	logging.Info("sync store opened", map[string]interface{}{
		"records": len(s.records),
		"known":   len(s.known),
		"reset":   reset,
	})
	return s, nil
}

// Close stops the store from accepting further operations. The persister
// is owned by the caller and left open.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// OnEnqueue registers fn to run after every successful Enqueue.
func (s *Store) OnEnqueue(fn func(rec *models.SyncRecord)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.onEnqueue = append(s.onEnqueue, fn)
}

// =====================================================
// Enqueue
// =====================================================

// Enqueue records a local mutation and returns its record ID. An unsynced
// record for the same target is superseded in place; the returned ID is
// then that record's ID.
func (s *Store) Enqueue(ctx context.Context, entityType models.EntityType, op models.Operation, payload models.Payload, targetID string) (string, error) {
	if entityType == "" {
		return "", apperrors.New(apperrors.ErrValidation, "entity type is required")
	}
	if !op.Valid() {
		return "", apperrors.Newf(apperrors.ErrValidation, "unknown operation %q", op)
	}
	if op != models.OperationDelete && payload == nil {
		return "", apperrors.Newf(apperrors.ErrValidation, "%s requires a payload", op)
	}

	targetID = resolveTarget(targetID, payload)
	if targetID == "" {
		if op != models.OperationCreate {
			return "", apperrors.Newf(apperrors.ErrValidation, "%s requires a target id", op)
		}
		targetID = uuid.New()
	}

	payload = payload.Clone()
	hash := fingerprint.Of(payload)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", apperrors.New(apperrors.ErrStoreClosed, "sync store is closed")
	}

	now := s.now().UnixMilli()
	var rec *models.SyncRecord
	superseded := false

	if existing := s.unsyncedFor(entityType, targetID); existing != nil {
		prev := existing.Clone()
		existing.Operation = coalesce(existing.Operation, op)
		existing.Payload = payload
		existing.ClientHash = hash
		existing.CreatedAt = now
		existing.UpdatedAt = now
		existing.NextRetryAt = 0
		if existing.Status == models.StatusSyncing {
			existing.Revision++
		}
		if err := s.persister.SaveSyncRecord(ctx, existing); err != nil {
			s.records[prev.ID] = prev
			s.mu.Unlock()
			return "", apperrors.Wrap(apperrors.ErrStoreUnavailable, "failed to persist mutation", err)
		}
		rec = existing.Clone()
		superseded = true
	} else {
		s.seq++
		fresh := &models.SyncRecord{
			ID:         uuid.NewRecordID(s.now()),
			Seq:        s.seq,
			EntityType: entityType,
			TargetID:   targetID,
			Operation:  op,
			Payload:    payload,
			CreatedAt:  now,
			UpdatedAt:  now,
			Status:     models.StatusPending,
			ClientHash: hash,
			BaseHash:   s.lastServerHash(entityType, targetID),
		}
		if err := s.persister.SaveSyncRecord(ctx, fresh); err != nil {
			s.seq--
			s.mu.Unlock()
			return "", apperrors.Wrap(apperrors.ErrStoreUnavailable, "failed to persist mutation", err)
		}
		s.records[fresh.ID] = fresh
		rec = fresh.Clone()
	}
	s.mu.Unlock()

	logging.Debug("mutation enqueued", map[string]interface{}{
		"record_id":   rec.ID,
		"entity_type": string(rec.EntityType),
		"target_id":   rec.TargetID,
		"operation":   string(rec.Operation),
		"status":      string(rec.Status),
		"superseded":  superseded,
	})

	s.hooksMu.RLock()
	hooks := append([]func(*models.SyncRecord){}, s.onEnqueue...)
	s.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(rec.Clone())
	}

	return rec.ID, nil
}

// resolveTarget falls back to the payload's "id" field.
func resolveTarget(targetID string, payload models.Payload) string {
	if targetID != "" {
		return targetID
	}
	if id, ok := payload["id"].(string); ok {
		return id
	}
	return ""
}

// coalesce folds a new operation into an unsynced one for the same target.
func coalesce(prev, next models.Operation) models.Operation {
	if next == models.OperationDelete {
		return models.OperationDelete
	}
	if prev == models.OperationCreate {
		return models.OperationCreate
	}
	return next
}

// unsyncedFor returns the record owning the target, if any. Caller holds mu.
func (s *Store) unsyncedFor(entityType models.EntityType, targetID string) *models.SyncRecord {
	for _, rec := range s.records {
		if rec.EntityType == entityType && rec.TargetID == targetID && rec.Status.Unsynced() {
			return rec
		}
	}
	return nil
}

// lastServerHash returns the last server hash this terminal saw for the
// target. It survives purges of the synced records. Caller holds mu.
func (s *Store) lastServerHash(entityType models.EntityType, targetID string) string {
	return s.known[targetKey{entityType, targetID}]
}

// =====================================================
// Update
// =====================================================

// Update applies a partial update and returns the resulting record.
// Status changes must follow the record lifecycle.
func (s *Store) Update(ctx context.Context, id string, patch Patch) (*models.SyncRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}
	prev := rec.Clone()

	superseded := patch.ExpectRevision != nil && *patch.ExpectRevision != rec.Revision

	if patch.Status != nil && *patch.Status != rec.Status {
		target := *patch.Status
		if superseded && (target == models.StatusSynced || target == models.StatusError) {
			target = models.StatusPending
		}
		if target != rec.Status {
			event := lifecycle.EventFor(rec.Status, target)
			if event == "" {
				return nil, apperrors.Newf(apperrors.ErrInvalid,
					"illegal status change %s -> %s for record %s", rec.Status, target, id)
			}
			if _, err := lifecycle.Transition(ctx, rec.Status, event); err != nil {
				return nil, err
			}
			rec.Status = target
		}
		if superseded && *patch.Status == models.StatusError {
			// The failure belongs to the replaced payload.
			rec.RetryCount = 0
			patch.RetryCount = nil
		}
	}

	if patch.RetryCount != nil {
		if *patch.RetryCount < rec.RetryCount {
			s.records[id] = prev
			return nil, apperrors.Newf(apperrors.ErrInvalid, "retry count cannot decrease for record %s", id)
		}
		rec.RetryCount = *patch.RetryCount
	}
	if patch.NextRetryAt != nil {
		rec.NextRetryAt = *patch.NextRetryAt
	}
	if patch.ServerHash != nil {
		rec.ServerHash = *patch.ServerHash
		if superseded && rec.Status == models.StatusPending {
			// The server now holds the replaced payload; the newer one
			// builds on it.
			rec.BaseHash = *patch.ServerHash
		}
	}
	if patch.ConflictData != nil {
		rec.ConflictData = (*patch.ConflictData).Clone()
	}
	if patch.LastError != nil {
		rec.LastError = *patch.LastError
	}
	if rec.Status == models.StatusSynced {
		rec.ConflictData = nil
		rec.LastError = ""
	}
	rec.UpdatedAt = s.now().UnixMilli()

	if err := s.persister.SaveSyncRecord(ctx, rec); err != nil {
		s.records[id] = prev
		return nil, apperrors.Wrap(apperrors.ErrStoreUnavailable, "failed to persist record update", err)
	}
	if rec.Status == models.StatusSynced {
		s.known[targetKey{rec.EntityType, rec.TargetID}] = rec.ServerHash
	}
	return rec.Clone(), nil
}

// Resolve moves a conflict record back to pending with a resolved payload.
// The client hash is recomputed from the new payload.
func (s *Store) Resolve(ctx context.Context, id string, res Resolution) (*models.SyncRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.StatusConflict {
		return nil, apperrors.Newf(apperrors.ErrConflictNotFound, "record %s is %s, not in conflict", id, rec.Status)
	}
	if res.Operation != "" && !res.Operation.Valid() {
		return nil, apperrors.Newf(apperrors.ErrResolutionInvalid, "unknown operation %q", res.Operation)
	}
	status, err := lifecycle.Transition(ctx, rec.Status, lifecycle.EventResolve)
	if err != nil {
		return nil, err
	}

	prev := rec.Clone()
	if res.Operation != "" {
		rec.Operation = res.Operation
	}
	rec.Payload = res.Payload.Clone()
	rec.ClientHash = fingerprint.Of(rec.Payload)
	rec.BaseHash = res.BaseHash
	rec.Resolution = res.Marker
	rec.ConflictData = nil
	rec.Status = status
	rec.RetryCount = 0
	rec.NextRetryAt = 0
	rec.LastError = ""
	rec.UpdatedAt = s.now().UnixMilli()

	if err := s.persister.SaveSyncRecord(ctx, rec); err != nil {
		s.records[id] = prev
		return nil, apperrors.Wrap(apperrors.ErrStoreUnavailable, "failed to persist resolution", err)
	}
	return rec.Clone(), nil
}

// Requeue moves an error record back to pending for a manual retry.
func (s *Store) Requeue(ctx context.Context, id string) (*models.SyncRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}
	if other := s.unsyncedFor(rec.EntityType, rec.TargetID); other != nil && other.ID != id {
		return nil, apperrors.Newf(apperrors.ErrInvalid,
			"record %s supersedes %s; retry is not needed", other.ID, id)
	}
	status, err := lifecycle.Transition(ctx, rec.Status, lifecycle.EventRequeue)
	if err != nil {
		return nil, err
	}

	prev := rec.Clone()
	rec.Status = status
	rec.RetryCount = 0
	rec.NextRetryAt = 0
	rec.LastError = ""
	rec.UpdatedAt = s.now().UnixMilli()

	if err := s.persister.SaveSyncRecord(ctx, rec); err != nil {
		s.records[id] = prev
		return nil, apperrors.Wrap(apperrors.ErrStoreUnavailable, "failed to persist requeue", err)
	}
	return rec.Clone(), nil
}

// Release moves a syncing record whose outcome could not be recorded back
// to pending so a later pass resends it. The change is kept in memory even
// when it cannot be persisted; the persisted copy is still syncing and is
// reset on the next open.
func (s *Store) Release(ctx context.Context, id string) (*models.SyncRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.StatusSyncing {
		return rec.Clone(), nil
	}
	status, err := lifecycle.Transition(ctx, rec.Status, lifecycle.EventReset)
	if err != nil {
		return nil, err
	}
	rec.Status = status
	rec.UpdatedAt = s.now().UnixMilli()

	if err := s.persister.SaveSyncRecord(ctx, rec); err != nil {
		return rec.Clone(), apperrors.Wrap(apperrors.ErrStoreUnavailable, "failed to persist release", err)
	}
	return rec.Clone(), nil
}

// Discard drops a record the user no longer wants delivered. Records in
// flight cannot be discarded.
func (s *Store) Discard(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.getLocked(id)
	if err != nil {
		return err
	}
	if rec.Status == models.StatusSyncing {
		return apperrors.Newf(apperrors.ErrInvalid, "record %s is syncing", id)
	}
	if err := s.persister.DeleteSyncRecords(ctx, []string{id}); err != nil {
		return apperrors.Wrap(apperrors.ErrStoreUnavailable, "failed to discard record", err)
	}
	delete(s.records, id)
	return nil
}

// PurgeSynced removes synced records last updated at least olderThan ago
// and returns how many were removed. Zero removes every synced record.
func (s *Store) PurgeSynced(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, apperrors.New(apperrors.ErrStoreClosed, "sync store is closed")
	}

	cutoff := s.now().Add(-olderThan).UnixMilli()
	var ids []string
	for id, rec := range s.records {
		if rec.Status == models.StatusSynced && rec.UpdatedAt <= cutoff {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	sort.Strings(ids)

	if err := s.persister.DeleteSyncRecords(ctx, ids); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStoreUnavailable, "failed to purge synced records", err)
	}
	for _, id := range ids {
		delete(s.records, id)
	}

	logging.Info("purged synced records", map[string]interface{}{"count": len(ids)})
	return len(ids), nil
}

// =====================================================
// Reads
// =====================================================

// Get returns a copy of the record with the given ID.
func (s *Store) Get(id string) (*models.SyncRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

func (s *Store) getLocked(id string) (*models.SyncRecord, error) {
	if s.closed {
		return nil, apperrors.New(apperrors.ErrStoreClosed, "sync store is closed")
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "sync record %s not found", id)
	}
	return rec, nil
}

// List returns copies of all records in enqueue order.
func (s *Store) List() []*models.SyncRecord {
	return s.filter(func(*models.SyncRecord) bool { return true })
}

// ListPending returns pending records in enqueue order.
func (s *Store) ListPending() []*models.SyncRecord {
	return s.ListByStatus(models.StatusPending)
}

// ListByStatus returns records with the given status in enqueue order.
func (s *Store) ListByStatus(status models.SyncStatus) []*models.SyncRecord {
	return s.filter(func(rec *models.SyncRecord) bool { return rec.Status == status })
}

// ListReady returns pending records whose backoff gate has passed.
func (s *Store) ListReady(now time.Time) []*models.SyncRecord {
	ms := now.UnixMilli()
	return s.filter(func(rec *models.SyncRecord) bool {
		return rec.Status == models.StatusPending && rec.NextRetryAt <= ms
	})
}

func (s *Store) filter(keep func(*models.SyncRecord) bool) []*models.SyncRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.SyncRecord, 0, len(s.records))
	for _, rec := range s.records {
		if keep(rec) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Seq < out[j].Seq
	})
	return out
}

// Counts returns the number of records per status. Every status is present.
func (s *Store) Counts() map[models.SyncStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.SyncStatus]int, len(models.AllStatuses))
	for _, status := range models.AllStatuses {
		counts[status] = 0
	}
	for _, rec := range s.records {
		counts[rec.Status]++
	}
	return counts
}

// Len returns the total number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// String implements fmt.Stringer for diagnostics.
func (s *Store) String() string {
	c := s.Counts()
	return fmt.Sprintf("queue{pending:%d syncing:%d synced:%d conflict:%d error:%d}",
		c[models.StatusPending], c[models.StatusSyncing], c[models.StatusSynced],
		c[models.StatusConflict], c[models.StatusError])
}
