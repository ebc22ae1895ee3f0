// Package uuid provides identifier generation for sync records and targets.
package uuid

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UUID v4 format: xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx
// where y is one of [8, 9, a, b] (variant bits)
var uuidV4Regex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

// Record IDs are "<unix millis>-<12 hex chars>".
var recordIDRegex = regexp.MustCompile(`^[0-9]{13,}-[0-9a-f]{12}$`)

// New generates a new UUID v4.
func New() string {
	return uuid.New().String()
}

// NewRecordID generates a client-side operation identifier: a millisecond
// timestamp followed by a random suffix. IDs sort by creation time and stay
// stable across retries of the same record.
func NewRecordID(now time.Time) string {
	u := uuid.New()
	suffix := strings.ReplaceAll(u.String(), "-", "")[:12]
	return fmt.Sprintf("%013d-%s", now.UnixMilli(), suffix)
}

// RecordIDTime extracts the creation time encoded in a record ID.
func RecordIDTime(id string) (time.Time, error) {
	if !recordIDRegex.MatchString(id) {
		return time.Time{}, fmt.Errorf("invalid record ID: %q", id)
	}
	ms, err := strconv.ParseInt(id[:strings.IndexByte(id, '-')], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid record ID timestamp: %w", err)
	}
	return time.UnixMilli(ms), nil
}

// IsRecordID checks if a string has the record ID shape.
func IsRecordID(s string) bool {
	return recordIDRegex.MatchString(s)
}

// NewFromString creates a UUID from a string.
// Returns an error if the string is not a valid UUID v4.
func NewFromString(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid UUID: %w", err)
	}
	if id.Version() != 4 {
		return uuid.Nil, fmt.Errorf("expected UUID v4, got v%d", id.Version())
	}
	return id, nil
}

// IsValid checks if a string is a valid UUID v4.
func IsValid(s string) bool {
	return uuidV4Regex.MatchString(s)
}
