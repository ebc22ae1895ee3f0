package network

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) get() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// =====================================================
// Monitor
// =====================================================

func TestMonitor_initialState(t *testing.T) {
	m := NewMonitor(false)
	assert.False(t, m.IsOnline())
	assert.True(t, m.IsVisible())

	assert.True(t, NewMonitor(true).IsOnline())
}

func TestMonitor_emitsOnTransitionOnly(t *testing.T) {
	m := NewMonitor(false)
	r := &recorder{}
	m.Subscribe(r.listen)

	m.SetOnline(false) // no change
	m.SetOnline(true)
	m.SetOnline(true) // no change
	m.SetVisible(false)
	m.SetVisible(true)
	m.SetOnline(false)

	assert.Equal(t, []Event{EventOnline, EventHidden, EventVisible, EventOffline}, r.get())
}

func TestMonitor_unsubscribe(t *testing.T) {
	m := NewMonitor(false)
	a, b := &recorder{}, &recorder{}
	unsubA := m.Subscribe(a.listen)
	m.Subscribe(b.listen)

	m.SetOnline(true)
	unsubA()
	unsubA() // idempotent
	m.SetOnline(false)

	assert.Equal(t, []Event{EventOnline}, a.get())
	assert.Equal(t, []Event{EventOnline, EventOffline}, b.get())
}

func TestMonitor_listenerOrder(t *testing.T) {
	m := NewMonitor(false)
	var order []int
	for i := 0; i < 5; i++ {
		n := i
		m.Subscribe(func(Event) { order = append(order, n) })
	}
	m.SetOnline(true)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestMonitor_listenerMayReadState(t *testing.T) {
	m := NewMonitor(false)
	var seen bool
	m.Subscribe(func(Event) { seen = m.IsOnline() })

	m.SetOnline(true)
	assert.True(t, seen)
}

func TestMonitor_platformAndReachability(t *testing.T) {
	m := NewProbedMonitor(true)
	r := &recorder{}
	m.Subscribe(r.listen)
	require.True(t, m.IsOnline())

	// The UI going offline holds even while the server answers probes.
	m.SetOnline(false)
	m.SetReachable(true)
	assert.False(t, m.IsOnline())

	m.SetReachable(false)
	m.SetOnline(true)
	assert.False(t, m.IsOnline(), "unreachable server keeps the terminal offline")

	m.SetReachable(true)
	assert.True(t, m.IsOnline())
	assert.Equal(t, []Event{EventOffline, EventOnline}, r.get())
}

// =====================================================
// Prober
// =====================================================

func TestProber_probe(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := NewProbedMonitor(false)
	p := NewProber(ProberConfig{URL: srv.URL + "/healthz", Timeout: time.Second}, m)

	assert.True(t, p.Probe(context.Background()))
	assert.True(t, m.IsOnline())

	healthy.Store(false)
	assert.False(t, p.Probe(context.Background()))
	assert.False(t, m.IsOnline())
}

func TestProber_doesNotOverridePlatformOffline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	m := NewProbedMonitor(true)
	m.SetOnline(false)
	p := NewProber(ProberConfig{URL: srv.URL, Timeout: time.Second}, m)

	assert.True(t, p.Probe(context.Background()))
	assert.True(t, m.IsReachable())
	assert.False(t, m.IsOnline())
}

func TestProber_unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	m := NewMonitor(true)
	p := NewProber(ProberConfig{URL: url, Timeout: 200 * time.Millisecond}, m)

	assert.False(t, p.Probe(context.Background()))
	assert.False(t, m.IsOnline())
}

func TestProber_run(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	m := NewProbedMonitor(false)
	p := NewProber(ProberConfig{URL: srv.URL, Interval: 20 * time.Millisecond, Timeout: time.Second}, m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return hits.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, m.IsOnline())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestNewProber_defaults(t *testing.T) {
	p := NewProber(ProberConfig{URL: "http://localhost"}, NewMonitor(false))
	assert.Equal(t, 15*time.Second, p.cfg.Interval)
	assert.Equal(t, 3*time.Second, p.cfg.Timeout)
}
