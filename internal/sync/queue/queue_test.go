// Package queue provides unit tests for the local operation store.
package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevedores/dashboard-sync/internal/db"
	apperrors "github.com/stevedores/dashboard-sync/internal/errors"
	"github.com/stevedores/dashboard-sync/internal/models"
	"github.com/stevedores/dashboard-sync/internal/sync/fingerprint"
	"github.com/stevedores/dashboard-sync/internal/sync/queue/queuetest"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newStore(t *testing.T, seed ...*models.SyncRecord) (*Store, *queuetest.Persister, *fakeClock) {
	t.Helper()
	p := queuetest.NewPersister(seed...)
	clock := &fakeClock{now: time.UnixMilli(1700000000000)}
	s, err := Open(context.Background(), p, Options{Now: clock.Now})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, p, clock
}

func statusPtr(s models.SyncStatus) *models.SyncStatus { return &s }
func intPtr(i int) *int                               { return &i }
func strPtr(s string) *string                         { return &s }

// =====================================================
// Enqueue
// =====================================================

func TestEnqueue(t *testing.T) {
	s, p, _ := newStore(t)
	ctx := context.Background()

	payload := models.Payload{"count": 150, "location": "Berth A1"}
	id, err := s.Enqueue(ctx, models.EntityCargoTally, models.OperationCreate, payload, "tally-1")
	require.NoError(t, err)

	rec, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, rec.Status)
	assert.Equal(t, models.EntityCargoTally, rec.EntityType)
	assert.Equal(t, "tally-1", rec.TargetID)
	assert.Equal(t, fingerprint.Of(payload), rec.ClientHash)
	assert.Equal(t, 0, rec.RetryCount)
	assert.Equal(t, int64(1), rec.Seq)
	assert.Empty(t, rec.ServerHash)

	// Persisted before returning
	assert.NotNil(t, p.Record(id))

	// Caller's payload is copied
	payload["count"] = 999
	rec, _ = s.Get(id)
	assert.Equal(t, 150, rec.Payload["count"])
}

func TestEnqueue_validation(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		entityType models.EntityType
		op         models.Operation
		payload    models.Payload
		target     string
	}{
		{"missing entity type", "", models.OperationCreate, models.Payload{}, "x"},
		{"unknown operation", models.EntityVessel, "upsert", models.Payload{}, "x"},
		{"update without payload", models.EntityVessel, models.OperationUpdate, nil, "x"},
		{"update without target", models.EntityVessel, models.OperationUpdate, models.Payload{"name": "a"}, ""},
		{"delete without target", models.EntityVessel, models.OperationDelete, nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Enqueue(ctx, tt.entityType, tt.op, tt.payload, tt.target)
			assert.True(t, apperrors.Is(err, apperrors.ErrValidation), "got %v", err)
		})
	}
	assert.Equal(t, 0, s.Len())
}

func TestEnqueue_targetFromPayload(t *testing.T) {
	s, _, _ := newStore(t)

	id, err := s.Enqueue(context.Background(), models.EntityVessel, models.OperationUpdate,
		models.Payload{"id": "v-7", "name": "Aurora"}, "")
	require.NoError(t, err)

	rec, _ := s.Get(id)
	assert.Equal(t, "v-7", rec.TargetID)
}

func TestEnqueue_createGeneratesTarget(t *testing.T) {
	s, _, _ := newStore(t)

	id, err := s.Enqueue(context.Background(), models.EntityCargoTally, models.OperationCreate,
		models.Payload{"count": 1}, "")
	require.NoError(t, err)

	rec, _ := s.Get(id)
	assert.NotEmpty(t, rec.TargetID)
}

func TestEnqueue_supersedesPending(t *testing.T) {
	s, _, clock := newStore(t)
	ctx := context.Background()

	first, err := s.Enqueue(ctx, models.EntityVessel, models.OperationUpdate, models.Payload{"eta": "10:00"}, "v-1")
	require.NoError(t, err)
	clock.Advance(time.Second)
	second, err := s.Enqueue(ctx, models.EntityVessel, models.OperationUpdate, models.Payload{"eta": "11:00"}, "v-1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, s.Len())

	rec, _ := s.Get(first)
	assert.Equal(t, "11:00", rec.Payload["eta"])
	assert.Equal(t, fingerprint.Of(models.Payload{"eta": "11:00"}), rec.ClientHash)
	assert.Equal(t, clock.Now().UnixMilli(), rec.CreatedAt)
}

func TestEnqueue_differentTargetsDoNotSupersede(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	_, err := s.Enqueue(ctx, models.EntityVessel, models.OperationUpdate, models.Payload{"a": 1}, "v-1")
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, models.EntityVessel, models.OperationUpdate, models.Payload{"a": 1}, "v-2")
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, models.EntityCargoTally, models.OperationUpdate, models.Payload{"a": 1}, "v-1")
	require.NoError(t, err)

	assert.Equal(t, 3, s.Len())
}

func TestEnqueue_coalescesOperations(t *testing.T) {
	tests := []struct {
		first, second, want models.Operation
	}{
		{models.OperationCreate, models.OperationUpdate, models.OperationCreate},
		{models.OperationCreate, models.OperationDelete, models.OperationDelete},
		{models.OperationUpdate, models.OperationDelete, models.OperationDelete},
		{models.OperationUpdate, models.OperationUpdate, models.OperationUpdate},
		{models.OperationDelete, models.OperationUpdate, models.OperationUpdate},
	}
	for _, tt := range tests {
		t.Run(string(tt.first)+"_"+string(tt.second), func(t *testing.T) {
			s, _, _ := newStore(t)
			ctx := context.Background()

			id, err := s.Enqueue(ctx, models.EntityVessel, tt.first, models.Payload{"v": 1}, "v-1")
			require.NoError(t, err)
			_, err = s.Enqueue(ctx, models.EntityVessel, tt.second, models.Payload{"v": 2}, "v-1")
			require.NoError(t, err)

			rec, _ := s.Get(id)
			assert.Equal(t, tt.want, rec.Operation)
		})
	}
}

func TestEnqueue_supersedeSyncingBumpsRevision(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	id, _ := s.Enqueue(ctx, models.EntityVessel, models.OperationUpdate, models.Payload{"v": 1}, "v-1")
	rec, err := s.Update(ctx, id, Patch{Status: statusPtr(models.StatusSyncing)})
	require.NoError(t, err)
	observed := rec.Revision

	_, err = s.Enqueue(ctx, models.EntityVessel, models.OperationUpdate, models.Payload{"v": 2}, "v-1")
	require.NoError(t, err)

	rec, _ = s.Get(id)
	assert.Equal(t, models.StatusSyncing, rec.Status)
	assert.Equal(t, observed+1, rec.Revision)

	// The in-flight success for the old payload must not mark the new one synced.
	rec, err = s.Update(ctx, id, Patch{
		Status:         statusPtr(models.StatusSynced),
		ServerHash:     strPtr("srv-1"),
		ExpectRevision: &observed,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, rec.Status)
	assert.Equal(t, "srv-1", rec.BaseHash)
	assert.Equal(t, 2, rec.Payload["v"])
}

func TestEnqueue_supersedeSyncingThenPermanentError(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	id, _ := s.Enqueue(ctx, models.EntityVessel, models.OperationUpdate, models.Payload{"v": 1}, "v-1")
	rec, _ := s.Update(ctx, id, Patch{Status: statusPtr(models.StatusSyncing)})
	observed := rec.Revision
	_, _ = s.Enqueue(ctx, models.EntityVessel, models.OperationUpdate, models.Payload{"v": 2}, "v-1")

	rec, err := s.Update(ctx, id, Patch{
		Status:         statusPtr(models.StatusError),
		RetryCount:     intPtr(3),
		ExpectRevision: &observed,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, rec.Status)
	assert.Equal(t, 0, rec.RetryCount)
}

func TestEnqueue_supersedeConflictKeepsConflict(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	id, _ := s.Enqueue(ctx, models.EntityVessel, models.OperationUpdate, models.Payload{"v": 1}, "v-1")
	_, err := s.Update(ctx, id, Patch{Status: statusPtr(models.StatusSyncing)})
	require.NoError(t, err)
	server := models.Payload{"v": 0}
	_, err = s.Update(ctx, id, Patch{Status: statusPtr(models.StatusConflict), ConflictData: &server})
	require.NoError(t, err)

	_, err = s.Enqueue(ctx, models.EntityVessel, models.OperationUpdate, models.Payload{"v": 2}, "v-1")
	require.NoError(t, err)

	rec, _ := s.Get(id)
	assert.Equal(t, models.StatusConflict, rec.Status)
	assert.Equal(t, 2, rec.Payload["v"])
	assert.Equal(t, 0, rec.ConflictData["v"])
}

func TestEnqueue_baseHashFromLastSynced(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	id, _ := s.Enqueue(ctx, models.EntityVessel, models.OperationCreate, models.Payload{"v": 1}, "v-1")
	_, err := s.Update(ctx, id, Patch{Status: statusPtr(models.StatusSyncing)})
	require.NoError(t, err)
	_, err = s.Update(ctx, id, Patch{Status: statusPtr(models.StatusSynced), ServerHash: strPtr("srv-1")})
	require.NoError(t, err)

	next, err := s.Enqueue(ctx, models.EntityVessel, models.OperationUpdate, models.Payload{"v": 2}, "v-1")
	require.NoError(t, err)
	assert.NotEqual(t, id, next)

	rec, _ := s.Get(next)
	assert.Equal(t, "srv-1", rec.BaseHash)
}

func TestEnqueue_baseHashSurvivesPurge(t *testing.T) {
	s, p, _ := newStore(t)
	ctx := context.Background()

	id, _ := s.Enqueue(ctx, models.EntityVessel, models.OperationCreate, models.Payload{"v": 1}, "v-1")
	_, err := s.Update(ctx, id, Patch{Status: statusPtr(models.StatusSyncing)})
	require.NoError(t, err)
	_, err = s.Update(ctx, id, Patch{Status: statusPtr(models.StatusSynced), ServerHash: strPtr("srv-1")})
	require.NoError(t, err)

	n, err := s.PurgeSynced(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	next, err := s.Enqueue(ctx, models.EntityVessel, models.OperationUpdate, models.Payload{"v": 2}, "v-1")
	require.NoError(t, err)
	rec, _ := s.Get(next)
	assert.Equal(t, "srv-1", rec.BaseHash)

	// A reopened store still knows the hash.
	require.NoError(t, s.Discard(ctx, next))
	reopened, err := Open(ctx, p, Options{})
	require.NoError(t, err)
	again, err := reopened.Enqueue(ctx, models.EntityVessel, models.OperationUpdate, models.Payload{"v": 3}, "v-1")
	require.NoError(t, err)
	rec, _ = reopened.Get(again)
	assert.Equal(t, "srv-1", rec.BaseHash)
}

func TestOpen_knownHashFromSyncedRecords(t *testing.T) {
	seed := &models.SyncRecord{
		ID: "r1", Seq: 1, EntityType: models.EntityVessel, TargetID: "v-1",
		Operation: models.OperationCreate, Payload: models.Payload{"v": 1},
		Status: models.StatusSynced, ClientHash: "c1", ServerHash: "srv-7",
	}
	s, _, _ := newStore(t, seed)

	id, err := s.Enqueue(context.Background(), models.EntityVessel, models.OperationUpdate, models.Payload{"v": 2}, "v-1")
	require.NoError(t, err)
	rec, _ := s.Get(id)
	assert.Equal(t, "srv-7", rec.BaseHash)
}

func TestEnqueue_persistenceFailure(t *testing.T) {
	s, p, _ := newStore(t)
	ctx := context.Background()

	p.SetFail(true)
	_, err := s.Enqueue(ctx, models.EntityVessel, models.OperationCreate, models.Payload{"v": 1}, "v-1")
	assert.True(t, apperrors.Is(err, apperrors.ErrStoreUnavailable))
	assert.Equal(t, 0, s.Len())

	p.SetFail(false)
	id, err := s.Enqueue(ctx, models.EntityVessel, models.OperationCreate, models.Payload{"v": 1}, "v-1")
	require.NoError(t, err)

	// A failed supersede leaves the previous payload in place.
	p.SetFail(true)
	_, err = s.Enqueue(ctx, models.EntityVessel, models.OperationUpdate, models.Payload{"v": 2}, "v-1")
	assert.True(t, apperrors.Is(err, apperrors.ErrStoreUnavailable))
	rec, _ := s.Get(id)
	assert.Equal(t, 1, rec.Payload["v"])
}

func TestEnqueue_closed(t *testing.T) {
	s, _, _ := newStore(t)
	require.NoError(t, s.Close())

	_, err := s.Enqueue(context.Background(), models.EntityVessel, models.OperationCreate, models.Payload{}, "v-1")
	assert.True(t, apperrors.Is(err, apperrors.ErrStoreClosed))

	_, err = s.Get("anything")
	assert.True(t, apperrors.Is(err, apperrors.ErrStoreClosed))
}

func TestEnqueue_hook(t *testing.T) {
	s, _, _ := newStore(t)

	var got []*models.SyncRecord
	s.OnEnqueue(func(rec *models.SyncRecord) { got = append(got, rec) })

	id, err := s.Enqueue(context.Background(), models.EntityVessel, models.OperationCreate, models.Payload{"v": 1}, "v-1")
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)

	// Hook receives a copy
	got[0].Status = models.StatusError
	rec, _ := s.Get(id)
	assert.Equal(t, models.StatusPending, rec.Status)
}

// =====================================================
// Update
// =====================================================

func TestUpdate_lifecycle(t *testing.T) {
	s, p, _ := newStore(t)
	ctx := context.Background()

	id, _ := s.Enqueue(ctx, models.EntityCargoTally, models.OperationCreate, models.Payload{"count": 1}, "t-1")

	_, err := s.Update(ctx, id, Patch{Status: statusPtr(models.StatusSyncing)})
	require.NoError(t, err)

	rec, err := s.Update(ctx, id, Patch{Status: statusPtr(models.StatusSynced), ServerHash: strPtr("abc123")})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSynced, rec.Status)
	assert.Equal(t, "abc123", rec.ServerHash)
	assert.Equal(t, "abc123", p.Record(id).ServerHash)
}

func TestUpdate_illegalTransition(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	id, _ := s.Enqueue(ctx, models.EntityVessel, models.OperationUpdate, models.Payload{"v": 1}, "v-1")
	_, _ = s.Update(ctx, id, Patch{Status: statusPtr(models.StatusSyncing)})
	_, _ = s.Update(ctx, id, Patch{Status: statusPtr(models.StatusConflict)})

	// conflict -> synced must go through the resolver
	_, err := s.Update(ctx, id, Patch{Status: statusPtr(models.StatusSynced)})
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))

	rec, _ := s.Get(id)
	assert.Equal(t, models.StatusConflict, rec.Status)
}

func TestUpdate_retryCountMonotonic(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	id, _ := s.Enqueue(ctx, models.EntityVessel, models.OperationUpdate, models.Payload{"v": 1}, "v-1")
	_, err := s.Update(ctx, id, Patch{RetryCount: intPtr(2)})
	require.NoError(t, err)

	_, err = s.Update(ctx, id, Patch{RetryCount: intPtr(1)})
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))

	rec, _ := s.Get(id)
	assert.Equal(t, 2, rec.RetryCount)
}

func TestUpdate_notFound(t *testing.T) {
	s, _, _ := newStore(t)
	_, err := s.Update(context.Background(), "missing", Patch{})
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestUpdate_persistenceFailureRollsBack(t *testing.T) {
	s, p, _ := newStore(t)
	ctx := context.Background()

	id, _ := s.Enqueue(ctx, models.EntityVessel, models.OperationUpdate, models.Payload{"v": 1}, "v-1")
	p.SetFail(true)

	_, err := s.Update(ctx, id, Patch{Status: statusPtr(models.StatusSyncing)})
	assert.True(t, apperrors.Is(err, apperrors.ErrStoreUnavailable))

	rec, _ := s.Get(id)
	assert.Equal(t, models.StatusPending, rec.Status)
}

// =====================================================
// Resolve, Requeue, Discard, Purge
// =====================================================

func conflictRecord(t *testing.T, s *Store) string {
	t.Helper()
	ctx := context.Background()
	id, err := s.Enqueue(ctx, models.EntityVessel, models.OperationCreate, models.Payload{"v": 1}, "v-1")
	require.NoError(t, err)
	_, err = s.Update(ctx, id, Patch{Status: statusPtr(models.StatusSyncing)})
	require.NoError(t, err)
	server := models.Payload{"v": 0}
	_, err = s.Update(ctx, id, Patch{Status: statusPtr(models.StatusConflict), ConflictData: &server, RetryCount: intPtr(1)})
	require.NoError(t, err)
	return id
}

func TestResolve(t *testing.T) {
	s, _, _ := newStore(t)
	id := conflictRecord(t, s)

	merged := models.Payload{"v": 5}
	rec, err := s.Resolve(context.Background(), id, Resolution{
		Operation: models.OperationUpdate,
		Payload:   merged,
		BaseHash:  "srv-0",
		Marker:    models.ResolutionMerge,
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusPending, rec.Status)
	assert.Equal(t, models.OperationUpdate, rec.Operation)
	assert.Equal(t, fingerprint.Of(merged), rec.ClientHash)
	assert.Equal(t, "srv-0", rec.BaseHash)
	assert.Equal(t, models.ResolutionMerge, rec.Resolution)
	assert.Nil(t, rec.ConflictData)
	assert.Equal(t, 0, rec.RetryCount)
}

func TestResolve_notInConflict(t *testing.T) {
	s, _, _ := newStore(t)
	id, _ := s.Enqueue(context.Background(), models.EntityVessel, models.OperationUpdate, models.Payload{"v": 1}, "v-1")

	_, err := s.Resolve(context.Background(), id, Resolution{Payload: models.Payload{}})
	assert.True(t, apperrors.Is(err, apperrors.ErrConflictNotFound))
}

func TestRequeue(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	id, _ := s.Enqueue(ctx, models.EntityVessel, models.OperationUpdate, models.Payload{"v": 1}, "v-1")
	_, _ = s.Update(ctx, id, Patch{Status: statusPtr(models.StatusSyncing)})
	_, err := s.Update(ctx, id, Patch{Status: statusPtr(models.StatusError), RetryCount: intPtr(3), LastError: strPtr("timeout")})
	require.NoError(t, err)

	rec, err := s.Requeue(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, rec.Status)
	assert.Equal(t, 0, rec.RetryCount)
	assert.Empty(t, rec.LastError)

	// Only error records can be requeued
	_, err = s.Requeue(ctx, id)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))
}

func TestRequeue_targetOwnedByNewerRecord(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	id, _ := s.Enqueue(ctx, models.EntityVessel, models.OperationUpdate, models.Payload{"v": 1}, "v-1")
	_, _ = s.Update(ctx, id, Patch{Status: statusPtr(models.StatusError)})
	newer, _ := s.Enqueue(ctx, models.EntityVessel, models.OperationUpdate, models.Payload{"v": 2}, "v-1")
	require.NotEqual(t, id, newer)

	_, err := s.Requeue(ctx, id)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))
}

func TestRelease(t *testing.T) {
	s, p, _ := newStore(t)
	ctx := context.Background()

	id, _ := s.Enqueue(ctx, models.EntityCargoTally, models.OperationCreate, models.Payload{"n": 1}, "t-1")
	_, err := s.Update(ctx, id, Patch{Status: statusPtr(models.StatusSyncing)})
	require.NoError(t, err)

	p.SetFail(true)
	rec, err := s.Release(ctx, id)
	assert.True(t, apperrors.Is(err, apperrors.ErrStoreUnavailable))
	assert.Equal(t, models.StatusPending, rec.Status)
	p.SetFail(false)
	assert.Equal(t, models.StatusSyncing, p.Record(id).Status)

	// Releasing a record that is not syncing changes nothing.
	rec, err = s.Release(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, rec.Status)
}

func TestDiscard(t *testing.T) {
	s, p, _ := newStore(t)
	ctx := context.Background()

	id := conflictRecord(t, s)
	require.NoError(t, s.Discard(ctx, id))
	assert.Equal(t, 0, s.Len())
	assert.Nil(t, p.Record(id))

	_, err := s.Get(id)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestDiscard_syncingRejected(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	id, _ := s.Enqueue(ctx, models.EntityVessel, models.OperationUpdate, models.Payload{"v": 1}, "v-1")
	_, _ = s.Update(ctx, id, Patch{Status: statusPtr(models.StatusSyncing)})

	assert.True(t, apperrors.Is(s.Discard(ctx, id), apperrors.ErrInvalid))
}

func TestPurgeSynced(t *testing.T) {
	s, _, clock := newStore(t)
	ctx := context.Background()

	synced := func(target string) string {
		id, _ := s.Enqueue(ctx, models.EntityCargoTally, models.OperationCreate, models.Payload{"t": target}, target)
		_, _ = s.Update(ctx, id, Patch{Status: statusPtr(models.StatusSyncing)})
		_, err := s.Update(ctx, id, Patch{Status: statusPtr(models.StatusSynced), ServerHash: strPtr("h")})
		require.NoError(t, err)
		return id
	}

	old := synced("t-1")
	clock.Advance(2 * time.Hour)
	recent := synced("t-2")
	pending, _ := s.Enqueue(ctx, models.EntityCargoTally, models.OperationCreate, models.Payload{"t": 3}, "t-3")

	n, err := s.PurgeSynced(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Get(old)
	assert.Error(t, err)
	_, err = s.Get(recent)
	assert.NoError(t, err)

	n, err = s.PurgeSynced(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Get(pending)
	assert.NoError(t, err)
}

// =====================================================
// Reads
// =====================================================

func TestListPendingOrder(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	var ids []string
	for _, target := range []string{"a", "b", "c", "d"} {
		id, err := s.Enqueue(ctx, models.EntityCargoTally, models.OperationCreate, models.Payload{"t": target}, target)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	_, _ = s.Update(ctx, ids[1], Patch{Status: statusPtr(models.StatusSyncing)})

	pending := s.ListPending()
	require.Len(t, pending, 3)
	assert.Equal(t, ids[0], pending[0].ID)
	assert.Equal(t, ids[2], pending[1].ID)
	assert.Equal(t, ids[3], pending[2].ID)
}

func TestListReady(t *testing.T) {
	s, _, clock := newStore(t)
	ctx := context.Background()

	gated, _ := s.Enqueue(ctx, models.EntityCargoTally, models.OperationCreate, models.Payload{"t": 1}, "a")
	open, _ := s.Enqueue(ctx, models.EntityCargoTally, models.OperationCreate, models.Payload{"t": 2}, "b")

	until := clock.Now().Add(time.Minute).UnixMilli()
	_, err := s.Update(ctx, gated, Patch{NextRetryAt: &until})
	require.NoError(t, err)

	ready := s.ListReady(clock.Now())
	require.Len(t, ready, 1)
	assert.Equal(t, open, ready[0].ID)

	assert.Len(t, s.ListReady(clock.Now().Add(2*time.Minute)), 2)
}

func TestCounts(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	conflictRecord(t, s)
	_, _ = s.Enqueue(ctx, models.EntityCargoTally, models.OperationCreate, models.Payload{"t": 1}, "a")

	counts := s.Counts()
	assert.Equal(t, 1, counts[models.StatusPending])
	assert.Equal(t, 1, counts[models.StatusConflict])
	assert.Equal(t, 0, counts[models.StatusError])
	assert.Len(t, counts, len(models.AllStatuses))
	assert.Contains(t, s.String(), "conflict:1")
}

func TestListReturnsCopies(t *testing.T) {
	s, _, _ := newStore(t)
	id, _ := s.Enqueue(context.Background(), models.EntityVessel, models.OperationCreate, models.Payload{"v": 1}, "v-1")

	list := s.List()
	list[0].Status = models.StatusSynced
	list[0].Payload["v"] = 2

	rec, _ := s.Get(id)
	assert.Equal(t, models.StatusPending, rec.Status)
	assert.Equal(t, 1, rec.Payload["v"])
}

// =====================================================
// Open / restart
// =====================================================

func TestOpen_resetsSyncing(t *testing.T) {
	seed := []*models.SyncRecord{
		{ID: "1", Seq: 1, EntityType: models.EntityVessel, TargetID: "a", Operation: models.OperationUpdate, Status: models.StatusSyncing},
		{ID: "2", Seq: 2, EntityType: models.EntityVessel, TargetID: "b", Operation: models.OperationUpdate, Status: models.StatusConflict},
		{ID: "3", Seq: 7, EntityType: models.EntityVessel, TargetID: "c", Operation: models.OperationUpdate, Status: models.StatusSynced},
	}
	s, p, _ := newStore(t, seed...)

	rec, err := s.Get("1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, rec.Status)
	assert.Equal(t, models.StatusPending, p.Record("1").Status)

	rec, _ = s.Get("2")
	assert.Equal(t, models.StatusConflict, rec.Status)

	// Sequence continues after the highest loaded value
	id, err := s.Enqueue(context.Background(), models.EntityVessel, models.OperationCreate, models.Payload{}, "d")
	require.NoError(t, err)
	rec, _ = s.Get(id)
	assert.Equal(t, int64(8), rec.Seq)
}

func TestOpen_loadFailure(t *testing.T) {
	p := queuetest.NewPersister()
	p.SetFail(true)

	_, err := Open(context.Background(), p, Options{})
	assert.True(t, apperrors.Is(err, apperrors.ErrStoreUnavailable))

	_, err = Open(context.Background(), nil, Options{})
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))
}

func TestRestartWithSQLite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	open := func() (*db.DB, *Store) {
		database, err := db.Open(dir, "")
		require.NoError(t, err)
		require.NoError(t, database.Migrate())
		s, err := Open(ctx, db.NewRepository(database.DB), Options{})
		require.NoError(t, err)
		return database, s
	}

	database, s := open()
	id, err := s.Enqueue(ctx, models.EntityCargoTally, models.OperationCreate,
		models.Payload{"count": 150, "location": "Berth A1"}, "tally-1")
	require.NoError(t, err)
	_, err = s.Update(ctx, id, Patch{Status: statusPtr(models.StatusSyncing)})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, database.Close())

	database, s = open()
	defer database.Close()

	rec, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, rec.Status)
	assert.Equal(t, "Berth A1", rec.Payload["location"])
	assert.Equal(t, fingerprint.Of(rec.Payload), rec.ClientHash)
}

func TestConcurrentEnqueue(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.Enqueue(ctx, models.EntityVessel, models.OperationUpdate, models.Payload{"n": n}, "v-1")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// All mutations for one target collapse into one unsynced record.
	assert.Equal(t, 1, s.Len())
}
