// Package db provides CRUD repository operations for the sync store.
package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"

	apperrors "github.com/stevedores/dashboard-sync/internal/errors"
	"github.com/stevedores/dashboard-sync/internal/models"
)

// Repository provides CRUD operations for all models.
// Statements are prepared on first use and cached; a transaction-scoped
// Repository rebinds cached statements to its transaction.
type Repository struct {
	db *sql.DB
	tx *sql.Tx

	stmtCache *sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, stmtCache: &sync.Map{}}
}

// PrepareStmt gets or creates a prepared statement from cache.
func (r *Repository) PrepareStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	if r.tx != nil {
		// The pool may have a single connection, held by this transaction,
		// so uncached statements are prepared on the transaction itself.
		if stmt, ok := r.stmtCache.Load(query); ok {
			return r.tx.StmtContext(ctx, stmt.(*sql.Stmt)), nil
		}
		stmt, err := r.tx.PrepareContext(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare statement: %w", err)
		}
		return stmt, nil
	}
	return r.cached(ctx, query)
}

func (r *Repository) cached(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	// If another goroutine already prepared this, close our duplicate
	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	if r.tx != nil {
		return nil
	}
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		if err := value.(*sql.Stmt).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.stmtCache.Delete(key)
		return true
	})
	return firstErr
}

// WithTx runs fn against a Repository bound to a single transaction.
// The transaction commits when fn returns nil and rolls back otherwise.
func (r *Repository) WithTx(ctx context.Context, fn func(tx *Repository) error) error {
	if r.tx != nil {
		return fn(r)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(&Repository{db: r.db, tx: tx, stmtCache: r.stmtCache}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to commit transaction", err)
	}
	return nil
}

// =====================================================
// SyncRecord Operations
// =====================================================

const syncRecordColumns = `id, seq, entity_type, target_id, operation, payload, created_at, updated_at,
	retry_count, next_retry_at, status, client_hash, base_hash, server_hash, conflict_data,
	resolution, last_error, revision`

// LoadSyncRecords returns every stored sync record in enqueue order.
func (r *Repository) LoadSyncRecords(ctx context.Context) ([]*models.SyncRecord, error) {
	stmt, err := r.PrepareStmt(ctx, `SELECT `+syncRecordColumns+` FROM sync_records ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to load sync records", err)
	}
	defer rows.Close()

	var records []*models.SyncRecord
	for rows.Next() {
		rec, err := scanSyncRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to load sync records", err)
	}
	return records, nil
}

// GetSyncRecord retrieves a sync record by ID.
func (r *Repository) GetSyncRecord(ctx context.Context, id string) (*models.SyncRecord, error) {
	stmt, err := r.PrepareStmt(ctx, `SELECT `+syncRecordColumns+` FROM sync_records WHERE id = ?`)
	if err != nil {
		return nil, err
	}
	rec, err := scanSyncRecord(stmt.QueryRowContext(ctx, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "sync record %s not found", id)
	}
	return rec, err
}

// SaveSyncRecord inserts or replaces a sync record.
func (r *Repository) SaveSyncRecord(ctx context.Context, rec *models.SyncRecord) error {
	query := `
	INSERT INTO sync_records (` + syncRecordColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		seq = excluded.seq,
		entity_type = excluded.entity_type,
		target_id = excluded.target_id,
		operation = excluded.operation,
		payload = excluded.payload,
		updated_at = excluded.updated_at,
		retry_count = excluded.retry_count,
		next_retry_at = excluded.next_retry_at,
		status = excluded.status,
		client_hash = excluded.client_hash,
		base_hash = excluded.base_hash,
		server_hash = excluded.server_hash,
		conflict_data = excluded.conflict_data,
		resolution = excluded.resolution,
		last_error = excluded.last_error,
		revision = excluded.revision
	`
	return r.WithTx(ctx, func(tx *Repository) error {
		stmt, err := tx.PrepareStmt(ctx, query)
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx,
			rec.ID, rec.Seq, string(rec.EntityType), rec.TargetID, string(rec.Operation), rec.Payload,
			rec.CreatedAt, rec.UpdatedAt, rec.RetryCount, rec.NextRetryAt, string(rec.Status),
			rec.ClientHash, rec.BaseHash, rec.ServerHash, rec.ConflictData,
			rec.Resolution, rec.LastError, rec.Revision,
		)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "failed to save sync record", err)
		}
		if rec.Status != models.StatusSynced {
			return nil
		}
		return tx.putKnownHash(ctx, &models.KnownHash{
			EntityType: rec.EntityType,
			TargetID:   rec.TargetID,
			ServerHash: rec.ServerHash,
			UpdatedAt:  rec.UpdatedAt,
		})
	})
}

// putKnownHash records the server hash a synced record left behind.
func (r *Repository) putKnownHash(ctx context.Context, k *models.KnownHash) error {
	stmt, err := r.PrepareStmt(ctx, `
	INSERT INTO known_hashes (entity_type, target_id, server_hash, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(entity_type, target_id) DO UPDATE SET
		server_hash = excluded.server_hash,
		updated_at = excluded.updated_at
	`)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, string(k.EntityType), k.TargetID, k.ServerHash, k.UpdatedAt); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to save known hash", err)
	}
	return nil
}

// LoadKnownHashes returns the last server hash seen for every target.
func (r *Repository) LoadKnownHashes(ctx context.Context) ([]*models.KnownHash, error) {
	stmt, err := r.PrepareStmt(ctx, `SELECT entity_type, target_id, server_hash, updated_at FROM known_hashes`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to load known hashes", err)
	}
	defer rows.Close()

	var out []*models.KnownHash
	for rows.Next() {
		var k models.KnownHash
		var entityType string
		if err := rows.Scan(&entityType, &k.TargetID, &k.ServerHash, &k.UpdatedAt); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan known hash", err)
		}
		k.EntityType = models.EntityType(entityType)
		out = append(out, &k)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to load known hashes", err)
	}
	return out, nil
}

// DeleteSyncRecords removes the given records. Missing IDs are ignored.
func (r *Repository) DeleteSyncRecords(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	var err error
	query := `DELETE FROM sync_records WHERE id IN (` + placeholders + `)`
	if r.tx != nil {
		_, err = r.tx.ExecContext(ctx, query, args...)
	} else {
		_, err = r.db.ExecContext(ctx, query, args...)
	}
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to delete sync records", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSyncRecord(row rowScanner) (*models.SyncRecord, error) {
	var rec models.SyncRecord
	var entityType, operation, status string
	err := row.Scan(
		&rec.ID, &rec.Seq, &entityType, &rec.TargetID, &operation, &rec.Payload,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.RetryCount, &rec.NextRetryAt, &status,
		&rec.ClientHash, &rec.BaseHash, &rec.ServerHash, &rec.ConflictData,
		&rec.Resolution, &rec.LastError, &rec.Revision,
	)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan sync record", err)
	}
	rec.EntityType = models.EntityType(entityType)
	rec.Operation = models.Operation(operation)
	rec.Status = models.SyncStatus(status)
	return &rec, nil
}

// =====================================================
// ConflictLog Operations
// =====================================================

// CreateConflictLog creates a new conflict log entry.
func (r *Repository) CreateConflictLog(ctx context.Context, log *models.ConflictLog) error {
	query := `
	INSERT INTO conflict_log (id, record_id, entity_type, target_id, local_hash, server_hash,
		strategy, outcome, detail, detected_at, resolved_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	stmt, err := r.PrepareStmt(ctx, query)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, log.ID, log.RecordID, string(log.EntityType), log.TargetID,
		log.LocalHash, log.ServerHash, log.Strategy, log.Outcome, log.Detail,
		log.DetectedAt, log.ResolvedAt)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to create conflict log", err)
	}
	return nil
}

// ListConflictLogs returns the newest conflict log entries, optionally
// restricted to one record.
func (r *Repository) ListConflictLogs(ctx context.Context, recordID string, limit int) ([]*models.ConflictLog, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
	SELECT id, record_id, entity_type, target_id, local_hash, server_hash,
		strategy, outcome, detail, detected_at, resolved_at
	FROM conflict_log
	WHERE (? = '' OR record_id = ?)
	ORDER BY detected_at DESC, id DESC
	LIMIT ?
	`
	stmt, err := r.PrepareStmt(ctx, query)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, recordID, recordID, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list conflict logs", err)
	}
	defer rows.Close()

	var logs []*models.ConflictLog
	for rows.Next() {
		var l models.ConflictLog
		var entityType string
		if err := rows.Scan(&l.ID, &l.RecordID, &entityType, &l.TargetID, &l.LocalHash,
			&l.ServerHash, &l.Strategy, &l.Outcome, &l.Detail, &l.DetectedAt, &l.ResolvedAt); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan conflict log", err)
		}
		l.EntityType = models.EntityType(entityType)
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

// =====================================================
// Entity Operations
// =====================================================

// GetEntity retrieves the authoritative copy of a domain record.
// Deleted entities are returned with Deleted set.
func (r *Repository) GetEntity(ctx context.Context, entityType models.EntityType, id string) (*models.Entity, error) {
	query := `
	SELECT entity_type, id, data, hash, version, deleted, updated_at
	FROM entities WHERE entity_type = ? AND id = ?
	`
	stmt, err := r.PrepareStmt(ctx, query)
	if err != nil {
		return nil, err
	}

	var e models.Entity
	var et string
	err = stmt.QueryRowContext(ctx, string(entityType), id).Scan(
		&et, &e.ID, &e.Data, &e.Hash, &e.Version, &e.Deleted, &e.UpdatedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "%s %s not found", entityType, id)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to get entity", err)
	}
	e.EntityType = models.EntityType(et)
	return &e, nil
}

// PutEntity inserts or replaces an entity, bumping its version.
func (r *Repository) PutEntity(ctx context.Context, e *models.Entity) error {
	query := `
	INSERT INTO entities (entity_type, id, data, hash, version, deleted, updated_at)
	VALUES (?, ?, ?, ?, 1, ?, ?)
	ON CONFLICT(entity_type, id) DO UPDATE SET
		data = excluded.data,
		hash = excluded.hash,
		version = entities.version + 1,
		deleted = excluded.deleted,
		updated_at = excluded.updated_at
	RETURNING version
	`
	stmt, err := r.PrepareStmt(ctx, query)
	if err != nil {
		return err
	}
	err = stmt.QueryRowContext(ctx, string(e.EntityType), e.ID, e.Data, e.Hash, e.Deleted, e.UpdatedAt).
		Scan(&e.Version)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to put entity", err)
	}
	return nil
}

// =====================================================
// AppliedOperation Operations
// =====================================================

// GetAppliedOperation looks up an earlier apply of the same delivery.
func (r *Repository) GetAppliedOperation(ctx context.Context, recordID, clientHash, baseHash string, forced bool) (*models.AppliedOperation, error) {
	query := `
	SELECT record_id, client_hash, base_hash, forced, entity_type, target_id, server_hash, applied_at
	FROM applied_operations
	WHERE record_id = ? AND client_hash = ? AND base_hash = ? AND forced = ?
	`
	stmt, err := r.PrepareStmt(ctx, query)
	if err != nil {
		return nil, err
	}

	var op models.AppliedOperation
	var et string
	err = stmt.QueryRowContext(ctx, recordID, clientHash, baseHash, forced).Scan(
		&op.RecordID, &op.ClientHash, &op.BaseHash, &op.Forced, &et, &op.TargetID, &op.ServerHash, &op.AppliedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "operation %s not applied", recordID)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to get applied operation", err)
	}
	op.EntityType = models.EntityType(et)
	return &op, nil
}

// CreateAppliedOperation records a successful apply in the idempotency ledger.
func (r *Repository) CreateAppliedOperation(ctx context.Context, op *models.AppliedOperation) error {
	query := `
	INSERT OR IGNORE INTO applied_operations (record_id, client_hash, base_hash, forced,
		entity_type, target_id, server_hash, applied_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	stmt, err := r.PrepareStmt(ctx, query)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, op.RecordID, op.ClientHash, op.BaseHash, op.Forced,
		string(op.EntityType), op.TargetID, op.ServerHash, op.AppliedAt)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to record applied operation", err)
	}
	return nil
}
