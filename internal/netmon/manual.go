package netmon

import "sync"

// Manual is a Monitor whose status is set programmatically. Used in tests
// and anywhere the platform supplies its own reachability signal.
type Manual struct {
	subs *subscriberSet

	mu      sync.Mutex
	current Status
}

// NewManual creates a Manual monitor starting from the given status.
func NewManual(initial Status) *Manual {
	return &Manual{subs: newSubscriberSet(), current: initial}
}

// Status returns the last set status.
func (m *Manual) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Subscribe registers a transition callback.
func (m *Manual) Subscribe(fn func(Status)) func() {
	return m.subs.add(fn)
}

// SetStatus records a new status and, when it differs from the previous
// one, notifies subscribers synchronously.
func (m *Manual) SetStatus(s Status) {
	m.mu.Lock()
	changed := s != m.current
	m.current = s
	m.mu.Unlock()
	if changed {
		m.subs.notify(s)
	}
}

// SetOnline is shorthand for toggling reachability with an unknown type.
func (m *Manual) SetOnline(online bool) {
	t := TypeUnknown
	if !online {
		t = TypeNone
	}
	m.SetStatus(Status{Online: online, ConnectionType: t})
}
