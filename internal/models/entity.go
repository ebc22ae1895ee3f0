package models

import "time"

// Entity is the authoritative server-side copy of a domain record.
type Entity struct {
	EntityType EntityType `db:"entity_type" json:"entity_type"`
	ID         string     `db:"id" json:"id"`
	Data       Payload    `db:"data" json:"data"`
	Hash       string     `db:"hash" json:"hash"`
	Version    int        `db:"version" json:"version"`
	Deleted    bool       `db:"deleted" json:"deleted"`
	UpdatedAt  int64      `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Entity.
func (Entity) TableName() string {
	return "entities"
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (e *Entity) UpdatedAtTime() time.Time {
	return time.UnixMilli(e.UpdatedAt)
}

// AppliedOperation is the server's idempotency ledger entry: a record
// delivered again with the same hashes gets the stored answer back.
type AppliedOperation struct {
	RecordID   string     `db:"record_id" json:"record_id"`
	ClientHash string     `db:"client_hash" json:"client_hash"`
	BaseHash   string     `db:"base_hash" json:"base_hash"`
	Forced     bool       `db:"forced" json:"forced"`
	EntityType EntityType `db:"entity_type" json:"entity_type"`
	TargetID   string     `db:"target_id" json:"target_id"`
	ServerHash string     `db:"server_hash" json:"server_hash"`
	AppliedAt  int64      `db:"applied_at" json:"applied_at"`
}

// TableName returns the table name for AppliedOperation.
func (AppliedOperation) TableName() string {
	return "applied_operations"
}
