package db

import (
	"context"

	"github.com/stevedores/dashboard-sync/internal/models"
)

// SyncRecordRepository defines durable storage for the local operation queue.
type SyncRecordRepository interface {
	// LoadSyncRecords returns every stored record in enqueue order.
	LoadSyncRecords(ctx context.Context) ([]*models.SyncRecord, error)

	// LoadKnownHashes returns the last server hash seen per target.
	LoadKnownHashes(ctx context.Context) ([]*models.KnownHash, error)

	// SaveSyncRecord inserts or replaces a record. Saving a synced record
	// also updates the known hash for its target.
	SaveSyncRecord(ctx context.Context, rec *models.SyncRecord) error

	// DeleteSyncRecords removes records by ID.
	DeleteSyncRecords(ctx context.Context, ids []string) error
}

// ConflictLogRepository defines operations for conflict log persistence.
type ConflictLogRepository interface {
	CreateConflictLog(ctx context.Context, log *models.ConflictLog) error
	ListConflictLogs(ctx context.Context, recordID string, limit int) ([]*models.ConflictLog, error)
}

// EntityRepository defines the reconciler's authoritative store.
type EntityRepository interface {
	GetEntity(ctx context.Context, entityType models.EntityType, id string) (*models.Entity, error)
	PutEntity(ctx context.Context, e *models.Entity) error
	GetAppliedOperation(ctx context.Context, recordID, clientHash, baseHash string, forced bool) (*models.AppliedOperation, error)
	CreateAppliedOperation(ctx context.Context, op *models.AppliedOperation) error
}

// Ensure *Repository implements the interfaces at compile time.
var (
	_ SyncRecordRepository  = (*Repository)(nil)
	_ ConflictLogRepository = (*Repository)(nil)
	_ EntityRepository      = (*Repository)(nil)
)
