// Package lifecycle defines the legal status transitions of a sync record.
package lifecycle

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"

	apperrors "github.com/stevedores/dashboard-sync/internal/errors"
	"github.com/stevedores/dashboard-sync/internal/models"
)

// Event names a lifecycle transition.
type Event string

const (
	EventSend     Event = "send"     // pending -> syncing
	EventSucceed  Event = "succeed"  // syncing -> synced
	EventConflict Event = "conflict" // syncing -> conflict
	EventRetry    Event = "retry"    // syncing -> pending
	EventFail     Event = "fail"     // syncing|pending -> error
	EventResolve  Event = "resolve"  // conflict -> pending
	EventRequeue  Event = "requeue"  // error -> pending
	EventReset    Event = "reset"    // syncing -> pending, after a crash mid-pass
)

var transitions = fsm.Events{
	{Name: string(EventSend), Src: []string{string(models.StatusPending)}, Dst: string(models.StatusSyncing)},
	{Name: string(EventSucceed), Src: []string{string(models.StatusSyncing)}, Dst: string(models.StatusSynced)},
	{Name: string(EventConflict), Src: []string{string(models.StatusSyncing)}, Dst: string(models.StatusConflict)},
	{Name: string(EventRetry), Src: []string{string(models.StatusSyncing)}, Dst: string(models.StatusPending)},
	{Name: string(EventFail), Src: []string{string(models.StatusSyncing), string(models.StatusPending)}, Dst: string(models.StatusError)},
	{Name: string(EventResolve), Src: []string{string(models.StatusConflict)}, Dst: string(models.StatusPending)},
	{Name: string(EventRequeue), Src: []string{string(models.StatusError)}, Dst: string(models.StatusPending)},
	{Name: string(EventReset), Src: []string{string(models.StatusSyncing)}, Dst: string(models.StatusPending)},
}

// Transition applies event to a record currently in from and returns the
// resulting status.
func Transition(ctx context.Context, from models.SyncStatus, event Event) (models.SyncStatus, error) {
	f := fsm.NewFSM(string(from), transitions, fsm.Callbacks{})
	if err := f.Event(ctx, string(event)); err != nil {
		return from, apperrors.Wrap(apperrors.ErrInvalid,
			fmt.Sprintf("illegal transition %q from %s", event, from), err)
	}
	return models.SyncStatus(f.Current()), nil
}

// Allowed reports whether some event moves a record from one status to another.
func Allowed(from, to models.SyncStatus) bool {
	return EventFor(from, to) != ""
}

// EventFor returns the event that moves from into to, or "" if none does.
func EventFor(from, to models.SyncStatus) Event {
	for _, t := range transitions {
		if t.Dst != string(to) {
			continue
		}
		for _, src := range t.Src {
			if src == string(from) {
				return Event(t.Name)
			}
		}
	}
	return ""
}

// Events lists the events available from status.
func Events(from models.SyncStatus) []Event {
	f := fsm.NewFSM(string(from), transitions, fsm.Callbacks{})
	var out []Event
	for _, name := range f.AvailableTransitions() {
		out = append(out, Event(name))
	}
	return out
}
