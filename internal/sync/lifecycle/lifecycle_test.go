package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/stevedores/dashboard-sync/internal/errors"
	"github.com/stevedores/dashboard-sync/internal/models"
)

func TestTransition_legal(t *testing.T) {
	tests := []struct {
		from  models.SyncStatus
		event Event
		want  models.SyncStatus
	}{
		{models.StatusPending, EventSend, models.StatusSyncing},
		{models.StatusSyncing, EventSucceed, models.StatusSynced},
		{models.StatusSyncing, EventConflict, models.StatusConflict},
		{models.StatusSyncing, EventRetry, models.StatusPending},
		{models.StatusSyncing, EventFail, models.StatusError},
		{models.StatusPending, EventFail, models.StatusError},
		{models.StatusConflict, EventResolve, models.StatusPending},
		{models.StatusError, EventRequeue, models.StatusPending},
		{models.StatusSyncing, EventReset, models.StatusPending},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_"+string(tt.event), func(t *testing.T) {
			got, err := Transition(context.Background(), tt.from, tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransition_illegal(t *testing.T) {
	tests := []struct {
		from  models.SyncStatus
		event Event
	}{
		{models.StatusConflict, EventSucceed},
		{models.StatusSynced, EventSend},
		{models.StatusPending, EventSucceed},
		{models.StatusError, EventSend},
		{models.StatusSynced, EventRequeue},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_"+string(tt.event), func(t *testing.T) {
			got, err := Transition(context.Background(), tt.from, tt.event)
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))
			assert.Equal(t, tt.from, got)
		})
	}
}

func TestAllowed(t *testing.T) {
	assert.True(t, Allowed(models.StatusPending, models.StatusSyncing))
	assert.True(t, Allowed(models.StatusConflict, models.StatusPending))
	assert.False(t, Allowed(models.StatusConflict, models.StatusSynced))
	assert.False(t, Allowed(models.StatusSynced, models.StatusPending))
	assert.False(t, Allowed(models.StatusPending, models.StatusPending))
}

func TestEventFor(t *testing.T) {
	assert.Equal(t, EventSend, EventFor(models.StatusPending, models.StatusSyncing))
	assert.Equal(t, EventRequeue, EventFor(models.StatusError, models.StatusPending))
	assert.Equal(t, Event(""), EventFor(models.StatusSynced, models.StatusError))
}

func TestEvents(t *testing.T) {
	assert.ElementsMatch(t, []Event{EventSend, EventFail}, Events(models.StatusPending))
	assert.Empty(t, Events(models.StatusSynced))
}
