package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevedores/dashboard-sync/internal/sync/status"
)

func TestObserve(t *testing.T) {
	m := New(nil)

	m.Observe(status.Event{Type: status.EventSyncStarted})
	m.Observe(status.Event{Type: status.EventSyncConflict})
	m.Observe(status.Event{Type: status.EventSyncCompleted})
	m.Observe(status.Event{Type: status.EventSyncStarted})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.passes))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("sync-started")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("sync-conflict")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.events.WithLabelValues("sync-failed")))
}

func TestRefresh(t *testing.T) {
	snap := status.Snapshot{Total: 6, Pending: 3, Conflict: 1, Error: 2, IsOnline: true}
	m := New(func() status.Snapshot { return snap })

	m.Refresh()
	assert.Equal(t, 3.0, testutil.ToFloat64(m.records.WithLabelValues("pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.records.WithLabelValues("conflict")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.records.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.online))

	snap.IsOnline = false
	snap.Pending = 0
	m.Refresh()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.records.WithLabelValues("pending")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.online))
}

func TestHandler(t *testing.T) {
	m := New(func() status.Snapshot { return status.Snapshot{Pending: 4, IsOnline: true} })
	m.Observe(status.Event{Type: status.EventSyncStarted})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `harbor_sync_records{status="pending"} 4`)
	assert.Contains(t, string(body), "harbor_sync_online 1")
	assert.Contains(t, string(body), "harbor_sync_passes_total 1")
	assert.Contains(t, string(body), `harbor_sync_events_total{event="sync-started"} 1`)
}

func TestRegistryIsolated(t *testing.T) {
	a := New(nil)
	b := New(nil)
	a.Observe(status.Event{Type: status.EventSyncStarted})

	assert.Equal(t, 1.0, testutil.ToFloat64(a.passes))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.passes))
	assert.NotSame(t, a.Registry(), b.Registry())
}
