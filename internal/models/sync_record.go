// Package models provides data model definitions for the sync engine.
package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/tiendc/go-deepcopy"
)

// EntityType identifies the domain collection a record targets.
type EntityType string

const (
	EntityVessel     EntityType = "vessel"
	EntityCargoTally EntityType = "cargo_tally"
	EntityPortCall   EntityType = "port_call"
)

// Operation is the kind of mutation carried by a SyncRecord.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	switch op {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// SyncStatus is the lifecycle state of a SyncRecord.
type SyncStatus string

const (
	StatusPending  SyncStatus = "pending"
	StatusSyncing  SyncStatus = "syncing"
	StatusSynced   SyncStatus = "synced"
	StatusConflict SyncStatus = "conflict"
	StatusError    SyncStatus = "error"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []SyncStatus{StatusPending, StatusSyncing, StatusSynced, StatusConflict, StatusError}

// Unsynced reports whether a record in this status still owns its target:
// at most one record per target may be pending, syncing or in conflict.
func (s SyncStatus) Unsynced() bool {
	return s == StatusPending || s == StatusSyncing || s == StatusConflict
}

// Resolution strategies, also used as the resolution marker on a record.
const (
	ResolutionClientWins = "client_wins"
	ResolutionServerWins = "server_wins"
	ResolutionMerge      = "merge"
	ResolutionManual     = "manual"
)

// Payload is the full proposed state of a domain record.
type Payload map[string]interface{}

// Clone returns a deep copy of the payload.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	var out Payload
	if err := deepcopy.Copy(&out, p); err == nil {
		return out
	}
	// deepcopy rejects some dynamic values; a JSON round trip covers what a
	// payload can legally hold.
	data, err := json.Marshal(p)
	if err != nil {
		return p
	}
	out = Payload{}
	if err := json.Unmarshal(data, &out); err != nil {
		return p
	}
	return out
}

// Value implements driver.Valuer for Payload.
func (p Payload) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner for Payload.
func (p *Payload) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*p = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Payload", value)
	}
	var out Payload
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	*p = out
	return nil
}

// SyncRecord represents one queued mutation awaiting reconciliation.
type SyncRecord struct {
	ID           string     `db:"id" json:"id"`
	Seq          int64      `db:"seq" json:"seq"`
	EntityType   EntityType `db:"entity_type" json:"entity_type"`
	TargetID     string     `db:"target_id" json:"target_id,omitempty"`
	Operation    Operation  `db:"operation" json:"operation"`
	Payload      Payload    `db:"payload" json:"payload"`
	CreatedAt    int64      `db:"created_at" json:"created_at"` // unix millis
	UpdatedAt    int64      `db:"updated_at" json:"updated_at"` // unix millis
	RetryCount   int        `db:"retry_count" json:"retry_count"`
	NextRetryAt  int64      `db:"next_retry_at" json:"next_retry_at"` // unix millis
	Status       SyncStatus `db:"status" json:"status"`
	ClientHash   string     `db:"client_hash" json:"client_hash"`
	BaseHash     string     `db:"base_hash" json:"base_hash,omitempty"`
	ServerHash   string     `db:"server_hash" json:"server_hash,omitempty"`
	ConflictData Payload    `db:"conflict_data" json:"conflict_data,omitempty"`
	Resolution   string     `db:"resolution" json:"resolution,omitempty"`
	LastError    string     `db:"last_error" json:"-"`
	Revision     int        `db:"revision" json:"revision"`
}

// TableName returns the table name for SyncRecord.
func (SyncRecord) TableName() string {
	return "sync_records"
}

// Clone returns a deep copy of the record.
func (r *SyncRecord) Clone() *SyncRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Payload = r.Payload.Clone()
	c.ConflictData = r.ConflictData.Clone()
	return &c
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (r *SyncRecord) CreatedAtTime() time.Time {
	return time.UnixMilli(r.CreatedAt)
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (r *SyncRecord) UpdatedAtTime() time.Time {
	return time.UnixMilli(r.UpdatedAt)
}

// Forced reports whether the server should overwrite unconditionally.
func (r *SyncRecord) Forced() bool {
	return r.Resolution == ResolutionClientWins
}

// KnownHash is the last server hash a terminal saw for a target. It
// outlives the synced records it came from, so edits made after a purge
// still carry a base hash.
type KnownHash struct {
	EntityType EntityType `db:"entity_type" json:"entity_type"`
	TargetID   string     `db:"target_id" json:"target_id"`
	ServerHash string     `db:"server_hash" json:"server_hash"`
	UpdatedAt  int64      `db:"updated_at" json:"updated_at"` // unix millis
}

// TableName returns the table name for KnownHash.
func (KnownHash) TableName() string {
	return "known_hashes"
}
