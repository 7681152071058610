package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// SentEvent records one outbound event observed by the Mock.
type SentEvent struct {
	Name    string
	Payload any
}

// Mock implements Channel for testing. It records sent events, allows
// injecting inbound events via SimulateInbound, and can be switched between
// connected and disconnected states under test control.
type Mock struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	sent      []SentEvent
	sendErr   error
	failAfter int // fail sends once len(sent) reaches this; <0 disables
	inbound   chan Event
	stateFns  map[int]func(bool)
	nextSub   int
}

// NewMock creates a Mock with a buffered inbound channel.
func NewMock() *Mock {
	return &Mock{
		inbound:   make(chan Event, 100),
		stateFns:  make(map[int]func(bool)),
		failAfter: -1,
	}
}

// Connect marks the mock as connected.
func (m *Mock) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	already := m.connected
	m.connected = true
	m.mu.Unlock()
	if !already {
		m.notifyState(true)
	}
	return nil
}

// Listen returns the inbound channel. Must be called after Connect.
func (m *Mock) Listen(ctx context.Context) (<-chan Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, ErrNotConnected
	}
	return m.inbound, nil
}

// Send records the outbound event, honoring any injected failure.
func (m *Mock) Send(ctx context.Context, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if !m.connected {
		return ErrNotConnected
	}
	if m.sendErr != nil {
		return m.sendErr
	}
	if m.failAfter >= 0 && len(m.sent) >= m.failAfter {
		return fmt.Errorf("channel: injected send failure")
	}
	m.sent = append(m.sent, SentEvent{Name: event, Payload: payload})
	return nil
}

// Connected reports the mock's current state.
func (m *Mock) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// OnStateChange registers a connect/disconnect callback.
func (m *Mock) OnStateChange(fn func(bool)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.stateFns[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.stateFns, id)
		m.mu.Unlock()
	}
}

// Disconnect drops the connection without closing the mock.
func (m *Mock) Disconnect() {
	m.SetConnected(false)
}

// ForceReconnect simulates a drop-and-redial: disconnect then reconnect.
func (m *Mock) ForceReconnect() {
	m.SetConnected(false)
	m.SetConnected(true)
}

// Close marks the mock closed and closes the inbound channel.
func (m *Mock) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	wasConnected := m.connected
	m.connected = false
	close(m.inbound)
	m.mu.Unlock()
	if wasConnected {
		m.notifyState(false)
	}
	return nil
}

// SetConnected flips the connection state, notifying on transitions.
func (m *Mock) SetConnected(connected bool) {
	m.mu.Lock()
	if m.closed || m.connected == connected {
		m.mu.Unlock()
		return
	}
	m.connected = connected
	m.mu.Unlock()
	m.notifyState(connected)
}

// SetSendError injects a persistent send failure (nil clears it).
func (m *Mock) SetSendError(err error) {
	m.mu.Lock()
	m.sendErr = err
	m.mu.Unlock()
}

// FailSendsAfter makes sends fail once n have succeeded. Negative disables.
func (m *Mock) FailSendsAfter(n int) {
	m.mu.Lock()
	m.failAfter = n
	m.mu.Unlock()
}

// Sent returns a copy of all recorded outbound events.
func (m *Mock) Sent() []SentEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentEvent, len(m.sent))
	copy(out, m.sent)
	return out
}

// SimulateInbound delivers an event as if the remote peer had sent it.
func (m *Mock) SimulateInbound(name string, payload any) error {
	var data json.RawMessage
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("channel: encode inbound %s: %w", name, err)
		}
	}
	m.inbound <- Event{Name: name, Data: data}
	return nil
}

func (m *Mock) notifyState(connected bool) {
	m.mu.Lock()
	fns := make([]func(bool), 0, len(m.stateFns))
	for _, fn := range m.stateFns {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(connected)
	}
}
