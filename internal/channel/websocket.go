package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// baseBackoff is the initial backoff duration for reconnection.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff for reconnection.
	maxBackoff = 2 * time.Minute
	// maxReconnectAttempts limits consecutive reconnection retries.
	maxReconnectAttempts = 10
	// writeTimeout bounds a single frame write.
	writeTimeout = 10 * time.Second
)

// wsConn abstracts the websocket connection methods we use, enabling test
// doubles without a live server.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// DialFunc opens a websocket connection to url.
type DialFunc func(ctx context.Context, url string) (wsConn, error)

func defaultDial(ctx context.Context, url string) (wsConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// frame is the wire format: one JSON object per websocket text message.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// WebSocket implements Channel over a single auto-reconnecting websocket.
type WebSocket struct {
	url  string
	dial DialFunc

	mu        sync.Mutex
	conn      wsConn
	connected bool
	closed    bool
	listening bool
	inbound   chan Event
	cancel    context.CancelFunc

	stateMu  sync.Mutex
	stateFns map[int]func(bool)
	nextSub  int

	// resume wakes a parked read pump when Connect installs a fresh
	// connection after the pump's own reconnect budget ran out.
	resume chan struct{}

	baseBackoff  time.Duration
	maxBackoff   time.Duration
	maxReconnect int
}

// WebSocketOpts holds parameters for creating a WebSocket channel.
type WebSocketOpts struct {
	URL string
	// For testing: inject a dialer instead of the real websocket dialer.
	Dial DialFunc
}

// NewWebSocket creates a websocket-backed Channel. Call Connect, then Listen.
func NewWebSocket(opts WebSocketOpts) (*WebSocket, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("channel: url is required")
	}
	dial := opts.Dial
	if dial == nil {
		dial = defaultDial
	}
	return &WebSocket{
		url:          opts.URL,
		dial:         dial,
		inbound:      make(chan Event, 100),
		stateFns:     make(map[int]func(bool)),
		resume:       make(chan struct{}, 1),
		baseBackoff:  baseBackoff,
		maxBackoff:   maxBackoff,
		maxReconnect: maxReconnectAttempts,
	}, nil
}

// Connect dials the remote peer. Idempotent: a second call while connected
// is a no-op.
func (w *WebSocket) Connect(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if w.connected {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	conn, err := w.dial(ctx, w.url)
	if err != nil {
		return fmt.Errorf("channel: dial %s: %w", w.url, err)
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	if w.connected {
		// A concurrent dial won; keep its connection, drop ours.
		w.mu.Unlock()
		conn.Close()
		return nil
	}
	w.conn = conn
	w.connected = true
	w.mu.Unlock()

	// Wake the read pump if it parked after exhausting its own redials.
	select {
	case w.resume <- struct{}{}:
	default:
	}

	w.notifyState(true)
	return nil
}

// Listen starts the read pump with reconnection and returns the inbound
// event channel. Must be called after Connect.
func (w *WebSocket) Listen(ctx context.Context) (<-chan Event, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrClosed
	}
	if !w.connected {
		w.mu.Unlock()
		return nil, ErrNotConnected
	}
	if w.listening {
		w.mu.Unlock()
		return w.inbound, nil
	}
	listenCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.listening = true
	w.mu.Unlock()

	go w.runWithReconnect(listenCtx)
	return w.inbound, nil
}

// Send transmits one event as a JSON frame. Fails immediately when there is
// no live connection; queueing offline actions is the orchestrator's job.
func (w *WebSocket) Send(ctx context.Context, event string, payload any) error {
	data, err := marshalPayload(payload)
	if err != nil {
		return fmt.Errorf("channel: encode %s payload: %w", event, err)
	}
	body, err := json.Marshal(frame{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("channel: encode %s frame: %w", event, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if !w.connected || w.conn == nil {
		return ErrNotConnected
	}
	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	w.conn.SetWriteDeadline(deadline)
	if err := w.conn.WriteMessage(websocket.TextMessage, body); err != nil {
		return fmt.Errorf("channel: send %s: %w", event, err)
	}
	return nil
}

func marshalPayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	return json.Marshal(payload)
}

// Connected reports whether a live connection exists.
func (w *WebSocket) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

// OnStateChange registers a connect/disconnect callback.
func (w *WebSocket) OnStateChange(fn func(bool)) func() {
	w.stateMu.Lock()
	id := w.nextSub
	w.nextSub++
	w.stateFns[id] = fn
	w.stateMu.Unlock()
	return func() {
		w.stateMu.Lock()
		delete(w.stateFns, id)
		w.stateMu.Unlock()
	}
}

// ForceReconnect closes the underlying connection so the read pump dials
// fresh. No-op when not connected.
func (w *WebSocket) ForceReconnect() {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Close shuts the channel down permanently and closes the inbound stream.
// Safe to call when already closed or never connected.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	wasConnected := w.connected
	w.connected = false
	conn := w.conn
	w.conn = nil
	cancel := w.cancel
	listening := w.listening
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if !listening {
		close(w.inbound)
	}
	if wasConnected {
		w.notifyState(false)
	}
	return nil
}

// Disconnect drops the connection without closing the channel for good.
// The orchestrator calls this when the OS reports the network gone.
func (w *WebSocket) Disconnect() {
	w.mu.Lock()
	if !w.connected {
		w.mu.Unlock()
		return
	}
	w.connected = false
	conn := w.conn
	w.conn = nil
	w.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	w.notifyState(false)
}

func (w *WebSocket) notifyState(connected bool) {
	w.stateMu.Lock()
	fns := make([]func(bool), 0, len(w.stateFns))
	for _, fn := range w.stateFns {
		fns = append(fns, fn)
	}
	w.stateMu.Unlock()
	for _, fn := range fns {
		fn(connected)
	}
}

// runWithReconnect pumps inbound frames and redials with exponential
// backoff when the connection drops. Exhausting the redial budget parks
// the pump; a later Connect resumes it. The pump exits, closing the
// inbound stream, only when the context ends or the channel is closed.
func (w *WebSocket) runWithReconnect(ctx context.Context) {
	defer close(w.inbound)

	for {
		w.readLoop(ctx)

		select {
		case <-ctx.Done():
			return
		default:
		}
		w.mu.Lock()
		closed := w.closed
		w.mu.Unlock()
		if closed {
			return
		}

		if !w.reconnect(ctx) {
			select {
			case <-ctx.Done():
				return
			case <-w.resume:
			}
			w.mu.Lock()
			closed := w.closed
			w.mu.Unlock()
			if closed {
				return
			}
		}
	}
}

// readLoop decodes frames from the current connection until it fails.
func (w *WebSocket) readLoop(ctx context.Context) {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			wasConnected := w.connected && w.conn == conn
			if wasConnected {
				w.connected = false
				w.conn = nil
			}
			w.mu.Unlock()
			if wasConnected {
				w.notifyState(false)
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Printf("channel: dropping malformed frame: %v", err)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case w.inbound <- Event{Name: f.Event, Data: f.Data}:
		}
	}
}

// reconnect redials with exponential backoff. Returns false when the budget
// is exhausted or the context ends.
func (w *WebSocket) reconnect(ctx context.Context) bool {
	for attempt := 0; attempt < w.maxReconnect; attempt++ {
		wait := time.Duration(math.Pow(2, float64(attempt))) * w.baseBackoff
		if wait > w.maxBackoff {
			wait = w.maxBackoff
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}

		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return false
		}
		// Another caller may have reconnected via Connect already.
		if w.connected {
			w.mu.Unlock()
			return true
		}
		w.mu.Unlock()

		conn, err := w.dial(ctx, w.url)
		if err != nil {
			log.Printf("channel: reconnect attempt %d/%d failed: %v", attempt+1, w.maxReconnect, err)
			continue
		}

		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			conn.Close()
			return false
		}
		if w.connected {
			// Connect raced us and already installed a connection.
			w.mu.Unlock()
			conn.Close()
			return true
		}
		w.conn = conn
		w.connected = true
		w.mu.Unlock()

		w.notifyState(true)
		return true
	}
	log.Printf("channel: exhausted %d reconnection attempts, waiting for connect", w.maxReconnect)
	return false
}
