package status

import (
	"time"

	"github.com/stevedores/dashboard-sync/internal/models"
)

// QueueView is the read side of the operation store.
type QueueView interface {
	Counts() map[models.SyncStatus]int
	ListByStatus(status models.SyncStatus) []*models.SyncRecord
}

// OnlineView reports connectivity.
type OnlineView interface {
	IsOnline() bool
}

// PassView reports scheduler state.
type PassView interface {
	InProgress() bool
	LastSyncAttempt() time.Time
}

// RecordSummary describes a record needing user attention. It carries no
// raw error text.
type RecordSummary struct {
	RecordID   string            `json:"record_id" yaml:"record_id"`
	EntityType models.EntityType `json:"entity_type" yaml:"entity_type"`
	TargetID   string            `json:"target_id" yaml:"target_id"`
	Status     models.SyncStatus `json:"status" yaml:"status"`
	RetryCount int               `json:"retry_count" yaml:"retry_count"`
	UpdatedAt  time.Time         `json:"updated_at" yaml:"updated_at"`
}

// Snapshot is the aggregate queue state.
type Snapshot struct {
	Total           int             `json:"total" yaml:"total"`
	Pending         int             `json:"pending" yaml:"pending"`
	Syncing         int             `json:"syncing" yaml:"syncing"`
	Synced          int             `json:"synced" yaml:"synced"`
	Conflict        int             `json:"conflict" yaml:"conflict"`
	Error           int             `json:"error" yaml:"error"`
	IsOnline        bool            `json:"is_online" yaml:"is_online"`
	SyncInProgress  bool            `json:"sync_in_progress" yaml:"sync_in_progress"`
	LastSyncAttempt *time.Time      `json:"last_sync_attempt,omitempty" yaml:"last_sync_attempt,omitempty"`
	Problems        []RecordSummary `json:"problems,omitempty" yaml:"problems,omitempty"`
}

// Reporter builds snapshots. It only reads; calling it has no side effects.
type Reporter struct {
	queue   QueueView
	network OnlineView
	passes  PassView
}

// NewReporter creates a Reporter. network and passes may be nil when the
// caller has no scheduler, as in the offline CLI.
func NewReporter(queue QueueView, network OnlineView, passes PassView) *Reporter {
	return &Reporter{queue: queue, network: network, passes: passes}
}

// Snapshot returns the current aggregate.
func (r *Reporter) Snapshot() Snapshot {
	counts := r.queue.Counts()
	s := Snapshot{
		Pending:  counts[models.StatusPending],
		Syncing:  counts[models.StatusSyncing],
		Synced:   counts[models.StatusSynced],
		Conflict: counts[models.StatusConflict],
		Error:    counts[models.StatusError],
	}
	s.Total = s.Pending + s.Syncing + s.Synced + s.Conflict + s.Error

	if r.network != nil {
		s.IsOnline = r.network.IsOnline()
	}
	if r.passes != nil {
		s.SyncInProgress = r.passes.InProgress()
		if last := r.passes.LastSyncAttempt(); !last.IsZero() {
			s.LastSyncAttempt = &last
		}
	}

	for _, st := range []models.SyncStatus{models.StatusConflict, models.StatusError} {
		for _, rec := range r.queue.ListByStatus(st) {
			s.Problems = append(s.Problems, Summarize(rec))
		}
	}
	return s
}

// Summarize builds the user-facing summary of a record.
func Summarize(rec *models.SyncRecord) RecordSummary {
	return RecordSummary{
		RecordID:   rec.ID,
		EntityType: rec.EntityType,
		TargetID:   rec.TargetID,
		Status:     rec.Status,
		RetryCount: rec.RetryCount,
		UpdatedAt:  rec.UpdatedAtTime(),
	}
}
