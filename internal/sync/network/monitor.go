// Package network tracks connectivity and visibility for the sync engine.
package network

import (
	"sort"
	"sync"
)

// Event is a connectivity or visibility transition.
type Event string

const (
	EventOnline  Event = "online"
	EventOffline Event = "offline"
	EventVisible Event = "visible"
	EventHidden  Event = "hidden"
)

// Listener receives transition events. Listeners run synchronously on the
// goroutine that reported the change and must not block.
type Listener func(Event)

// Monitor holds the current online and visibility state.
//
// Connectivity has two inputs: the platform signal reported by the UI shell
// through SetOnline, and server reachability reported by a Prober through
// SetReachable. The terminal is online only when both agree. Reachability
// starts true, so without a Prober the platform signal alone decides.
type Monitor struct {
	mu        sync.RWMutex
	platform  bool
	reachable bool
	visible   bool
	listeners map[int]Listener
	nextID    int
}

// NewMonitor creates a Monitor. Terminals start visible.
func NewMonitor(online bool) *Monitor {
	return &Monitor{
		platform:  online,
		reachable: true,
		visible:   true,
		listeners: make(map[int]Listener),
	}
}

// NewProbedMonitor creates a Monitor for a terminal whose connectivity is
// probed. The platform signal starts online and reachable is the initial
// assumption until the first probe.
func NewProbedMonitor(reachable bool) *Monitor {
	m := NewMonitor(true)
	m.reachable = reachable
	return m
}

// IsOnline reports the last known connectivity.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.platform && m.reachable
}

// IsReachable reports the last probe result.
func (m *Monitor) IsReachable() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reachable
}

// IsVisible reports whether the application is in the foreground.
func (m *Monitor) IsVisible() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.visible
}

// SetOnline records the platform connectivity signal and notifies
// listeners when the combined state changes.
func (m *Monitor) SetOnline(online bool) {
	m.set(func() { m.platform = online })
}

// SetReachable records whether the server answered its health probe and
// notifies listeners when the combined state changes.
func (m *Monitor) SetReachable(reachable bool) {
	m.set(func() { m.reachable = reachable })
}

func (m *Monitor) set(apply func()) {
	m.mu.Lock()
	before := m.platform && m.reachable
	apply()
	after := m.platform && m.reachable
	if before == after {
		m.mu.Unlock()
		return
	}
	listeners := m.snapshot()
	m.mu.Unlock()

	event := EventOffline
	if after {
		event = EventOnline
	}
	for _, l := range listeners {
		l(event)
	}
}

// SetVisible records visibility and notifies listeners on a change.
func (m *Monitor) SetVisible(visible bool) {
	m.mu.Lock()
	if m.visible == visible {
		m.mu.Unlock()
		return
	}
	m.visible = visible
	listeners := m.snapshot()
	m.mu.Unlock()

	event := EventHidden
	if visible {
		event = EventVisible
	}
	for _, l := range listeners {
		l(event)
	}
}

// Subscribe registers l and returns a function that removes it.
func (m *Monitor) Subscribe(l Listener) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.listeners[id] = l

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// snapshot returns listeners in subscription order. Caller holds mu.
func (m *Monitor) snapshot() []Listener {
	ids := make([]int, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]Listener, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.listeners[id])
	}
	return out
}
