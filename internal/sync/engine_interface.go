// Package sync wires the offline sync components into one engine.
package sync

import (
	"context"

	"github.com/stevedores/dashboard-sync/internal/models"
	"github.com/stevedores/dashboard-sync/internal/sync/conflict"
	"github.com/stevedores/dashboard-sync/internal/sync/queue"
	"github.com/stevedores/dashboard-sync/internal/sync/scheduler"
	"github.com/stevedores/dashboard-sync/internal/sync/status"
)

// SyncEngineInterface is the surface the UI layer and API handlers use.
// It allows for mocking in tests.
type SyncEngineInterface interface {
	// Enqueue records a local mutation and returns its record ID. It fails
	// only when the mutation could not be stored.
	Enqueue(ctx context.Context, entityType models.EntityType, op models.Operation, payload models.Payload, targetID string) (string, error)

	// ForceSync runs a pass now, ignoring retry backoff.
	ForceSync(ctx context.Context) scheduler.PassResult

	// Snapshot returns the aggregate queue state.
	Snapshot() status.Snapshot

	// Subscribe registers a listener for sync events.
	Subscribe(fn func(status.Event)) (unsubscribe func())

	// Conflicts returns records awaiting resolution.
	Conflicts() []*models.SyncRecord

	// ResolveConflict settles a conflict and returns the payload that will be sent.
	ResolveConflict(ctx context.Context, recordID string, strategy conflict.Strategy, merged models.Payload) (models.Payload, error)

	// Retry moves an error record back to pending.
	Retry(ctx context.Context, recordID string) (*models.SyncRecord, error)

	// Discard drops a record.
	Discard(ctx context.Context, recordID string) error

	// Purge removes every synced record.
	Purge(ctx context.Context) (int, error)

	// SetOnline and SetVisible feed platform signals to the network monitor.
	SetOnline(online bool)
	SetVisible(visible bool)
}

var (
	_ SyncEngineInterface = (*SyncEngine)(nil)
	_ status.QueueView    = (*queue.Store)(nil)
)
