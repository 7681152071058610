// Package syncer coordinates connectivity, the messaging channel, and the
// offline action queue. It owns the sync state machine: actions submitted
// while connected go straight out on the channel, actions submitted in any
// offline-adjacent state are queued, and the queue is drained in order when
// the connection comes back.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/digitalopd/opd/internal/channel"
	"github.com/digitalopd/opd/internal/config"
	"github.com/digitalopd/opd/internal/netmon"
	"github.com/digitalopd/opd/internal/store"
)

// State is the orchestrator's position in the sync state machine.
type State string

const (
	// StateOffline means the connectivity monitor reports no network.
	StateOffline State = "OFFLINE"
	// StateDisconnected means the network is up but the channel is not
	// yet connected.
	StateDisconnected State = "ONLINE_DISCONNECTED"
	// StateIdle means the channel is live and the queue is empty or
	// at rest.
	StateIdle State = "ONLINE_CONNECTED_IDLE"
	// StateSyncing means a queue drain is in flight.
	StateSyncing State = "ONLINE_SYNCING"
	// StateFailed means the drain retry budget was exhausted. The queue
	// is preserved; RetrySync or a reconnect re-attempts the same drain.
	StateFailed State = "SYNC_FAILED"
)

// ErrSyncExhausted is returned when a drain fails more times than the
// configured retry budget allows.
var ErrSyncExhausted = errors.New("syncer: drain retries exhausted")

// replayedAction is the wire envelope for one queued item during a drain.
type replayedAction struct {
	EventType string          `json:"eventType"`
	EventData json.RawMessage `json:"eventData,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Snapshot is a point-in-time view of the orchestrator for UI consumers.
type Snapshot struct {
	NetworkOnline    bool   `json:"is_network_connected"`
	ConnectionType   string `json:"connection_type"`
	ChannelConnected bool   `json:"is_channel_connected"`
	Status           State  `json:"sync_status"`
	QueuedCount      int64  `json:"queued_count"`
}

// Opts holds parameters for creating an Orchestrator.
type Opts struct {
	Store   *store.Store
	Monitor netmon.Monitor
	Channel channel.Channel
	Sync    config.SyncConfig
}

// Orchestrator is the sync state machine. Create with New, then call Run
// once; it is a process-wide singleton like the channel and the store.
type Orchestrator struct {
	store   *store.Store
	monitor netmon.Monitor
	ch      channel.Channel
	cfg     config.SyncConfig

	mu      sync.Mutex
	online  bool
	netType string
	syncing bool
	failed  bool
	subs    map[int]func(Snapshot)
	nextSub int
	handler func(channel.Event)

	kickCh     chan struct{}
	listenOnce sync.Once
}

// New creates an Orchestrator. Run must be called before it does anything.
func New(opts Opts) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("syncer: store is required")
	}
	if opts.Monitor == nil {
		return nil, fmt.Errorf("syncer: monitor is required")
	}
	if opts.Channel == nil {
		return nil, fmt.Errorf("syncer: channel is required")
	}
	return &Orchestrator{
		store:   opts.Store,
		monitor: opts.Monitor,
		ch:      opts.Channel,
		cfg:     opts.Sync,
		subs:    make(map[int]func(Snapshot)),
		kickCh:  make(chan struct{}, 1),
	}, nil
}

// OnEvent registers the handler invoked for every inbound channel event.
// Call before Run.
func (o *Orchestrator) OnEvent(fn func(channel.Event)) {
	o.mu.Lock()
	o.handler = fn
	o.mu.Unlock()
}

// Subscribe registers a callback invoked with a fresh Snapshot on every
// state transition. Returns an unsubscribe function.
func (o *Orchestrator) Subscribe(fn func(Snapshot)) func() {
	o.mu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = fn
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		delete(o.subs, id)
		o.mu.Unlock()
	}
}

// State returns the current sync state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stateLocked()
}

// stateLocked derives the state from the tracked facts. Caller holds mu.
func (o *Orchestrator) stateLocked() State {
	switch {
	case !o.online:
		return StateOffline
	case !o.ch.Connected():
		return StateDisconnected
	case o.syncing:
		return StateSyncing
	case o.failed:
		return StateFailed
	default:
		return StateIdle
	}
}

// Snapshot returns the current orchestrator view, including the pending
// queue depth.
func (o *Orchestrator) Snapshot() Snapshot {
	count, err := o.store.PendingCount()
	if err != nil {
		log.Printf("syncer: pending count: %v", err)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return Snapshot{
		NetworkOnline:    o.online,
		ConnectionType:   o.netType,
		ChannelConnected: o.ch.Connected(),
		Status:           o.stateLocked(),
		QueuedCount:      count,
	}
}

// notify fans the current snapshot out to all subscribers.
func (o *Orchestrator) notify() {
	snap := o.Snapshot()
	o.mu.Lock()
	fns := make([]func(Snapshot), 0, len(o.subs))
	for _, fn := range o.subs {
		fns = append(fns, fn)
	}
	o.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

// Run wires the monitor and channel subscriptions and processes drain
// triggers until the context ends. Call exactly once.
func (o *Orchestrator) Run(ctx context.Context) error {
	status := o.monitor.Status()
	o.mu.Lock()
	o.online = status.Online
	o.netType = status.ConnectionType
	o.mu.Unlock()

	unsubNet := o.monitor.Subscribe(func(s netmon.Status) {
		o.handleNetwork(ctx, s)
	})
	defer unsubNet()

	unsubCh := o.ch.OnStateChange(func(connected bool) {
		o.handleChannelState(connected)
	})
	defer unsubCh()

	if status.Online {
		go o.connectChannel(ctx)
	}
	o.notify()

	var syncTimer *time.Timer
	if o.cfg.Schedule != "" {
		if d := nextCronDuration(o.cfg.Schedule); d > 0 {
			syncTimer = time.NewTimer(d)
			defer syncTimer.Stop()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-o.kickCh:
			if err := o.drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("syncer: drain: %v", err)
			}
		case <-timerChan(syncTimer):
			o.requestDrain()
			if d := nextCronDuration(o.cfg.Schedule); d > 0 {
				syncTimer.Reset(d)
			}
		}
	}
}

// Do transmits one user action: send-now when the channel is live, enqueue
// otherwise. Returns whether the action was queued. An enqueue failure is
// reported alongside queued=true so the caller can surface a persistent
// queue defect without discarding its local state update.
func (o *Orchestrator) Do(ctx context.Context, eventType string, payload any) (queued bool, err error) {
	o.mu.Lock()
	live := o.online && o.ch.Connected()
	o.mu.Unlock()

	if live {
		if err := o.ch.Send(ctx, eventType, payload); err == nil {
			return false, nil
		} else if !errors.Is(err, channel.ErrNotConnected) {
			log.Printf("syncer: send %s failed, queueing: %v", eventType, err)
		}
	}

	if _, err := o.store.Enqueue(eventType, payload); err != nil {
		return true, fmt.Errorf("syncer: enqueue %s: %w", eventType, err)
	}
	o.notify()
	return true, nil
}

// RetrySync re-arms a drain with a fresh retry budget. Safe to call in any
// state; a no-op when nothing is pending.
func (o *Orchestrator) RetrySync() {
	o.mu.Lock()
	o.failed = false
	o.mu.Unlock()
	o.requestDrain()
}

// requestDrain schedules a drain on the run loop. Coalesces repeated kicks.
func (o *Orchestrator) requestDrain() {
	select {
	case o.kickCh <- struct{}{}:
	default:
	}
}

// handleNetwork reacts to a debounced connectivity transition.
func (o *Orchestrator) handleNetwork(ctx context.Context, s netmon.Status) {
	o.mu.Lock()
	wasOnline := o.online
	prevType := o.netType
	o.online = s.Online
	o.netType = s.ConnectionType
	o.mu.Unlock()

	switch {
	case !s.Online:
		// No point holding a connection the OS reports unreachable.
		o.ch.Disconnect()
	case !wasOnline:
		go o.connectChannel(ctx)
	case s.ConnectionType != prevType && o.ch.Connected():
		// Network-type change can leave the connection up but stale.
		log.Printf("syncer: connection type changed %s -> %s, forcing reconnect", prevType, s.ConnectionType)
		o.ch.ForceReconnect()
	}
	o.notify()
}

// handleChannelState reacts to the channel connecting or dropping.
func (o *Orchestrator) handleChannelState(connected bool) {
	if connected {
		o.startListening()
		if count, err := o.store.PendingCount(); err == nil && count > 0 {
			o.requestDrain()
		}
	}
	o.notify()
}

// connectChannel dials the channel, retrying with capped backoff for as
// long as the network stays up.
func (o *Orchestrator) connectChannel(ctx context.Context) {
	base := o.cfg.BaseBackoff.Std()
	max := o.cfg.MaxBackoff.Std()
	for attempt := 0; ; attempt++ {
		o.mu.Lock()
		online := o.online
		o.mu.Unlock()
		if !online || ctx.Err() != nil {
			return
		}
		if o.ch.Connected() {
			return
		}

		err := o.ch.Connect(ctx)
		if err == nil {
			o.startListening()
			return
		}
		log.Printf("syncer: channel connect attempt %d: %v", attempt+1, err)

		wait := backoffDelay(base, max, attempt)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// startListening begins forwarding inbound events to the registered
// handler. Idempotent; the forward goroutine lives until the channel's
// inbound stream closes.
func (o *Orchestrator) startListening() {
	o.listenOnce.Do(func() {
		events, err := o.ch.Listen(context.Background())
		if err != nil {
			log.Printf("syncer: listen: %v", err)
			return
		}
		go func() {
			for ev := range events {
				o.mu.Lock()
				handler := o.handler
				o.mu.Unlock()
				if handler != nil {
					handler(ev)
				}
			}
		}()
	})
}

// drain processes the pending queue oldest-first. Item failures abort the
// remainder of the pass and the whole queue is retried with exponential
// backoff, up to the configured budget. Runs on the Run loop only, so at
// most one drain is in flight.
func (o *Orchestrator) drain(ctx context.Context) error {
	o.mu.Lock()
	if o.syncing || !o.online || !o.ch.Connected() {
		o.mu.Unlock()
		return nil
	}
	o.syncing = true
	o.failed = false
	o.mu.Unlock()
	o.notify()

	err := o.drainWithRetries(ctx)

	o.mu.Lock()
	o.syncing = false
	o.failed = errors.Is(err, ErrSyncExhausted)
	o.mu.Unlock()
	o.notify()
	return err
}

func (o *Orchestrator) drainWithRetries(ctx context.Context) error {
	base := o.cfg.BaseBackoff.Std()
	max := o.cfg.MaxBackoff.Std()

	for attempt := 0; ; attempt++ {
		err := o.drainOnce(ctx)
		if err == nil {
			if err := o.store.ClearSynced(); err != nil {
				log.Printf("syncer: clear synced rows: %v", err)
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		o.mu.Lock()
		online := o.online
		o.mu.Unlock()
		if !online {
			// The queue survives; the reconnect path re-arms the drain.
			log.Printf("syncer: drain aborted by connectivity loss: %v", err)
			return nil
		}

		if err := o.store.IncrementRetries(); err != nil {
			log.Printf("syncer: record retry: %v", err)
		}
		if attempt+1 >= o.cfg.MaxDrainRetries {
			return fmt.Errorf("%w after %d attempts: %v", ErrSyncExhausted, attempt+1, err)
		}

		wait := backoffDelay(base, max, attempt)
		log.Printf("syncer: drain attempt %d/%d failed, retrying in %s: %v", attempt+1, o.cfg.MaxDrainRetries, wait, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// drainOnce sends every pending item in order, stopping at the first
// failure so causal order is preserved across attempts.
func (o *Orchestrator) drainOnce(ctx context.Context) error {
	pending, err := o.store.PendingActions()
	if err != nil {
		return fmt.Errorf("syncer: read pending queue: %w", err)
	}

	for _, action := range pending {
		if st := o.monitor.Status(); !st.Online {
			return fmt.Errorf("syncer: network lost mid-drain")
		}
		if !o.ch.Connected() {
			return fmt.Errorf("syncer: channel dropped mid-drain: %w", channel.ErrNotConnected)
		}

		payload := replayedAction{
			EventType: action.EventType,
			EventData: json.RawMessage(action.EventData),
			Timestamp: action.Timestamp,
		}
		itemCtx, cancel := context.WithTimeout(ctx, o.cfg.ItemTimeout.Std())
		err := o.ch.Send(itemCtx, channel.EventSyncActions, payload)
		cancel()
		if err != nil {
			return fmt.Errorf("syncer: replay action %d (%s): %w", action.ID, action.EventType, err)
		}

		if err := o.store.MarkSynced(action.ID); err != nil {
			return fmt.Errorf("syncer: confirm action %d: %w", action.ID, err)
		}
	}
	return nil
}

// backoffDelay computes base * 2^attempt, capped.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt))) * base
	if d > max || d <= 0 {
		d = max
	}
	return d
}
