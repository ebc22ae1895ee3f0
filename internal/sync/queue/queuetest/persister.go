// Package queuetest provides an in-memory persister for sync store tests.
package queuetest

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"

	"github.com/stevedores/dashboard-sync/internal/models"
)

// ErrInjected is returned by a Persister whose failure switch is on.
var ErrInjected = stderrors.New("injected persistence failure")

// Persister keeps records in memory and can be told to fail.
type Persister struct {
	mu      sync.Mutex
	records map[string]*models.SyncRecord
	known   map[string]*models.KnownHash
	fail    bool
	saves   int
}

// NewPersister returns an empty Persister seeded with records.
func NewPersister(seed ...*models.SyncRecord) *Persister {
	p := &Persister{
		records: make(map[string]*models.SyncRecord),
		known:   make(map[string]*models.KnownHash),
	}
	for _, rec := range seed {
		p.records[rec.ID] = rec.Clone()
	}
	return p
}

// SetFail toggles injected failures for every operation.
func (p *Persister) SetFail(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = fail
}

// Saves returns how many successful saves happened.
func (p *Persister) Saves() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saves
}

// Record returns the persisted copy of a record, or nil.
func (p *Persister) Record(id string) *models.SyncRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.records[id].Clone()
}

// LoadSyncRecords implements queue.Persister.
func (p *Persister) LoadSyncRecords(ctx context.Context) ([]*models.SyncRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return nil, ErrInjected
	}
	out := make([]*models.SyncRecord, 0, len(p.records))
	for _, rec := range p.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// LoadKnownHashes implements queue.Persister.
func (p *Persister) LoadKnownHashes(ctx context.Context) ([]*models.KnownHash, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return nil, ErrInjected
	}
	out := make([]*models.KnownHash, 0, len(p.known))
	for _, k := range p.known {
		c := *k
		out = append(out, &c)
	}
	return out, nil
}

// SaveSyncRecord implements queue.Persister.
func (p *Persister) SaveSyncRecord(ctx context.Context, rec *models.SyncRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return ErrInjected
	}
	p.records[rec.ID] = rec.Clone()
	if rec.Status == models.StatusSynced {
		p.known[string(rec.EntityType)+"/"+rec.TargetID] = &models.KnownHash{
			EntityType: rec.EntityType,
			TargetID:   rec.TargetID,
			ServerHash: rec.ServerHash,
			UpdatedAt:  rec.UpdatedAt,
		}
	}
	p.saves++
	return nil
}

// DeleteSyncRecords implements queue.Persister.
func (p *Persister) DeleteSyncRecords(ctx context.Context, ids []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return ErrInjected
	}
	for _, id := range ids {
		delete(p.records, id)
	}
	return nil
}
