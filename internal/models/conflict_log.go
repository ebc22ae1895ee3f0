package models

import "time"

// Conflict outcomes recorded in the conflict log.
const (
	ConflictOutcomeResolved = "resolved"
	ConflictOutcomeFailed   = "failed"
	ConflictOutcomeManual   = "awaiting_manual"
)

// ConflictLog records a detected conflict and how it was settled.
type ConflictLog struct {
	ID         string     `db:"id" json:"id"`
	RecordID   string     `db:"record_id" json:"record_id"`
	EntityType EntityType `db:"entity_type" json:"entity_type"`
	TargetID   string     `db:"target_id" json:"target_id"`
	LocalHash  string     `db:"local_hash" json:"local_hash"`
	ServerHash string     `db:"server_hash" json:"server_hash"`
	Strategy   string     `db:"strategy" json:"strategy"` // client_wins, server_wins, merge, manual
	Outcome    string     `db:"outcome" json:"outcome"`
	Detail     string     `db:"detail" json:"detail,omitempty"`
	DetectedAt int64      `db:"detected_at" json:"detected_at"`
	ResolvedAt int64      `db:"resolved_at" json:"resolved_at,omitempty"`
}

// TableName returns the table name for ConflictLog.
func (ConflictLog) TableName() string {
	return "conflict_log"
}

// DetectedAtTime returns the DetectedAt as time.Time.
func (c *ConflictLog) DetectedAtTime() time.Time {
	return time.UnixMilli(c.DetectedAt)
}
