package sync

import (
	"context"

	"github.com/stevedores/dashboard-sync/internal/logging"
	"github.com/stevedores/dashboard-sync/internal/models"
	"github.com/stevedores/dashboard-sync/internal/sync/conflict"
	"github.com/stevedores/dashboard-sync/internal/sync/network"
	"github.com/stevedores/dashboard-sync/internal/sync/queue"
	"github.com/stevedores/dashboard-sync/internal/sync/scheduler"
	"github.com/stevedores/dashboard-sync/internal/sync/status"
	"github.com/stevedores/dashboard-sync/internal/sync/submitter"
	"github.com/stevedores/dashboard-sync/internal/sync/transport"
)

// Config groups the component settings.
type Config struct {
	Scheduler scheduler.SchedulerConfig
	Submitter submitter.Config
	Conflict  conflict.Config
}

// SyncEngine owns the sync components of one terminal.
type SyncEngine struct {
	store     *queue.Store
	monitor   *network.Monitor
	bus       *status.Bus
	submitter *submitter.Submitter
	resolver  *conflict.Resolver
	scheduler *scheduler.Scheduler
	reporter  *status.Reporter

	unsubscribe func()
}

// NewSyncEngine creates a SyncEngine. The store and monitor are owned by
// the caller; logs may be nil.
func NewSyncEngine(store *queue.Store, tr transport.Transport, monitor *network.Monitor, logs conflict.LogWriter, cfg Config) *SyncEngine {
	bus := status.NewBus()
	sub := submitter.New(store, tr, cfg.Submitter, submitter.WithEvents(bus))
	resolver := conflict.NewResolver(store, logs, cfg.Conflict)
	sub.SetConflictHandler(resolver)
	sched := scheduler.NewScheduler(store, sub, monitor, &cfg.Scheduler, scheduler.WithEvents(bus))

	e := &SyncEngine{
		store:     store,
		monitor:   monitor,
		bus:       bus,
		submitter: sub,
		resolver:  resolver,
		scheduler: sched,
		reporter:  status.NewReporter(store, monitor, sched),
	}

	store.OnEnqueue(func(rec *models.SyncRecord) {
		if monitor.IsOnline() {
			sched.Trigger(scheduler.ReasonEnqueue)
		}
	})
	resolver.OnResolved(func(rec *models.SyncRecord) {
		sched.Trigger(scheduler.ReasonResolved)
	})
	e.unsubscribe = monitor.Subscribe(func(ev network.Event) {
		switch ev {
		case network.EventOnline:
			sched.Trigger(scheduler.ReasonReconnect)
		case network.EventVisible:
			if monitor.IsOnline() {
				sched.Trigger(scheduler.ReasonVisible)
			}
		}
	})
	return e
}

// Start starts the periodic jobs and, when online, an initial pass.
func (e *SyncEngine) Start(ctx context.Context) error {
	if err := e.scheduler.Start(ctx); err != nil {
		return err
	}
	if e.monitor.IsOnline() {
		e.scheduler.Trigger(scheduler.ReasonReconnect)
	}
	logging.Info("sync engine started", map[string]interface{}{
		"online":  e.monitor.IsOnline(),
		"records": e.store.Len(),
	})
	return nil
}

// Stop stops scheduling, cancels pending automatic resolutions and waits
// for running work.
func (e *SyncEngine) Stop() {
	e.unsubscribe()
	e.scheduler.Stop()
	e.resolver.Close()
	logging.Info("sync engine stopped")
}

// Enqueue records a local mutation.
func (e *SyncEngine) Enqueue(ctx context.Context, entityType models.EntityType, op models.Operation, payload models.Payload, targetID string) (string, error) {
	return e.store.Enqueue(ctx, entityType, op, payload, targetID)
}

// ForceSync runs a pass now.
func (e *SyncEngine) ForceSync(ctx context.Context) scheduler.PassResult {
	return e.scheduler.SyncNow(ctx, scheduler.ReasonForce)
}

// Snapshot returns the aggregate queue state.
func (e *SyncEngine) Snapshot() status.Snapshot {
	return e.reporter.Snapshot()
}

// Subscribe registers a listener for sync events.
func (e *SyncEngine) Subscribe(fn func(status.Event)) func() {
	return e.bus.Subscribe(fn)
}

// Conflicts returns records awaiting resolution.
func (e *SyncEngine) Conflicts() []*models.SyncRecord {
	return e.store.ListByStatus(models.StatusConflict)
}

// ResolveConflict settles a conflict by hand.
func (e *SyncEngine) ResolveConflict(ctx context.Context, recordID string, strategy conflict.Strategy, merged models.Payload) (models.Payload, error) {
	return e.resolver.ResolveManual(ctx, recordID, strategy, merged)
}

// Retry moves an error record back to pending and starts a pass.
func (e *SyncEngine) Retry(ctx context.Context, recordID string) (*models.SyncRecord, error) {
	rec, err := e.store.Requeue(ctx, recordID)
	if err != nil {
		return nil, err
	}
	e.scheduler.Trigger(scheduler.ReasonEnqueue)
	return rec, nil
}

// Discard drops a record.
func (e *SyncEngine) Discard(ctx context.Context, recordID string) error {
	return e.store.Discard(ctx, recordID)
}

// Purge removes every synced record.
func (e *SyncEngine) Purge(ctx context.Context) (int, error) {
	return e.store.PurgeSynced(ctx, 0)
}

// SetOnline reports platform connectivity.
func (e *SyncEngine) SetOnline(online bool) {
	e.monitor.SetOnline(online)
}

// SetVisible reports application visibility.
func (e *SyncEngine) SetVisible(visible bool) {
	e.monitor.SetVisible(visible)
}

// Store returns the operation store.
func (e *SyncEngine) Store() *queue.Store { return e.store }

// Monitor returns the network monitor.
func (e *SyncEngine) Monitor() *network.Monitor { return e.monitor }

// Scheduler returns the scheduler.
func (e *SyncEngine) Scheduler() *scheduler.Scheduler { return e.scheduler }
