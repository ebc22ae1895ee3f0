// Package status aggregates queue state and carries sync lifecycle events.
package status

import (
	"sort"
	"sync"
	"time"

	"github.com/stevedores/dashboard-sync/internal/models"
)

// EventType names a sync lifecycle event.
type EventType string

const (
	EventSyncStarted   EventType = "sync-started"
	EventSyncCompleted EventType = "sync-completed"
	EventSyncFailed    EventType = "sync-failed"
	EventSyncConflict  EventType = "sync-conflict"
)

// Event is published on the Bus. Pass events carry the counters; record
// events carry the record fields.
type Event struct {
	Type      EventType `json:"type"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Pass summary
	Attempted int `json:"attempted,omitempty"`
	Synced    int `json:"synced,omitempty"`
	Conflicts int `json:"conflicts,omitempty"`
	Retried   int `json:"retried,omitempty"`
	Failed    int `json:"failed,omitempty"`

	// Record detail
	RecordID   string            `json:"record_id,omitempty"`
	EntityType models.EntityType `json:"entity_type,omitempty"`
	TargetID   string            `json:"target_id,omitempty"`
	RetryCount int               `json:"retry_count,omitempty"`
	Strategy   string            `json:"strategy,omitempty"`
	ErrorCode  string            `json:"error_code,omitempty"`
}

// Publisher accepts events.
type Publisher interface {
	Publish(e Event)
}

// Bus fans events out to subscribers in subscription order.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]func(Event)
	nextID int
	now    func() time.Time
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(Event)), now: time.Now}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers e to every subscriber synchronously. A zero timestamp
// is filled in.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = b.now()
	}

	b.mu.RLock()
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, b.subs[id])
	}
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(e)
	}
}

// Discard is a Publisher that drops events.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}
