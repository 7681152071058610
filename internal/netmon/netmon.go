// Package netmon observes device network reachability and reports
// debounced online/offline transitions to subscribers.
package netmon

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"
)

// Connection type values reported in Status.
const (
	TypeWifi     = "wifi"
	TypeEthernet = "ethernet"
	TypeCellular = "cellular"
	TypeNone     = "none"
	TypeUnknown  = "unknown"
)

// Status is a snapshot of network reachability.
type Status struct {
	Online         bool   `json:"online"`
	ConnectionType string `json:"connection_type"`
}

// Monitor is the connectivity signal the sync orchestrator consumes.
// Implementations must never block in Status and must only invoke
// subscriber callbacks on transitions, not on every poll.
type Monitor interface {
	// Status returns the current snapshot. Callable at any time.
	Status() Status

	// Subscribe registers a callback invoked on every debounced
	// transition. The returned function removes the subscription.
	Subscribe(fn func(Status)) (unsubscribe func())
}

// subscriberSet is the shared subscription bookkeeping for monitors.
type subscriberSet struct {
	mu   sync.Mutex
	subs map[int]func(Status)
	next int
}

func newSubscriberSet() *subscriberSet {
	return &subscriberSet{subs: make(map[int]func(Status))}
}

func (s *subscriberSet) add(fn func(Status)) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *subscriberSet) notify(status Status) {
	s.mu.Lock()
	fns := make([]func(Status), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(status)
	}
}

// ProberOpts configures a Prober.
type ProberOpts struct {
	// Addr is the host:port dialed to verify reachability.
	Addr string
	// Interval between probes.
	Interval time.Duration
	// Debounce is how long an observed change must persist before it is
	// reported. Rounds up to the next probe tick.
	Debounce time.Duration
	// DialTimeout bounds each probe. Defaults to 2s.
	DialTimeout time.Duration

	// For testing: replace the dialer and interface lister.
	Dial       func(network, addr string, timeout time.Duration) (net.Conn, error)
	Interfaces func() ([]net.Interface, error)
}

// Prober verifies reachability by periodically dialing a known endpoint and
// classifying the active network interface. It runs as a process-lifetime
// background observer, independent of any UI component.
type Prober struct {
	opts ProberOpts
	subs *subscriberSet

	mu             sync.Mutex
	current        Status
	candidate      Status
	candidateSince time.Time
	hasCandidate   bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewProber creates a Prober. Call Start to begin probing.
func NewProber(opts ProberOpts) *Prober {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 300 * time.Millisecond
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 2 * time.Second
	}
	if opts.Dial == nil {
		opts.Dial = net.DialTimeout
	}
	if opts.Interfaces == nil {
		opts.Interfaces = net.Interfaces
	}
	return &Prober{
		opts:    opts,
		subs:    newSubscriberSet(),
		current: Status{Online: false, ConnectionType: TypeUnknown},
	}
}

// Start performs an initial synchronous probe and launches the poll loop.
// The initial probe sets the starting status without debouncing so callers
// see a truthful snapshot immediately.
func (p *Prober) Start(ctx context.Context) {
	initial := p.probe()
	p.mu.Lock()
	p.current = initial
	p.mu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(loopCtx)
}

// Close stops the poll loop. Safe to call more than once.
func (p *Prober) Close() {
	if p.cancel != nil {
		p.cancel()
		<-p.done
		p.cancel = nil
	}
}

// Status returns the current debounced snapshot.
func (p *Prober) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Subscribe registers a transition callback.
func (p *Prober) Subscribe(fn func(Status)) func() {
	return p.subs.add(fn)
}

func (p *Prober) loop(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.observe(p.probe(), time.Now())
		}
	}
}

// observe applies debouncing: a change only becomes the reported status
// once it has persisted for the debounce window.
func (p *Prober) observe(observed Status, now time.Time) {
	p.mu.Lock()
	if observed == p.current {
		p.hasCandidate = false
		p.mu.Unlock()
		return
	}
	if !p.hasCandidate || observed != p.candidate {
		p.candidate = observed
		p.candidateSince = now
		p.hasCandidate = true
		p.mu.Unlock()
		return
	}
	if now.Sub(p.candidateSince) < p.opts.Debounce {
		p.mu.Unlock()
		return
	}
	p.current = observed
	p.hasCandidate = false
	p.mu.Unlock()

	p.subs.notify(observed)
}

// probe dials the configured endpoint and classifies the result.
func (p *Prober) probe() Status {
	conn, err := p.opts.Dial("tcp", p.opts.Addr, p.opts.DialTimeout)
	if err != nil {
		return Status{Online: false, ConnectionType: p.offlineType()}
	}
	conn.Close()
	return Status{Online: true, ConnectionType: p.connectionType()}
}

// connectionType guesses the transport from the active interface names.
func (p *Prober) connectionType() string {
	ifaces, err := p.opts.Interfaces()
	if err != nil {
		return TypeUnknown
	}
	best := TypeUnknown
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		switch classifyInterface(iface.Name) {
		case TypeWifi:
			return TypeWifi
		case TypeEthernet:
			best = TypeEthernet
		case TypeCellular:
			if best == TypeUnknown {
				best = TypeCellular
			}
		}
	}
	return best
}

// offlineType distinguishes "no interface at all" from "interface up but
// endpoint unreachable".
func (p *Prober) offlineType() string {
	ifaces, err := p.opts.Interfaces()
	if err != nil {
		return TypeUnknown
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagLoopback == 0 {
			return TypeUnknown
		}
	}
	return TypeNone
}

func classifyInterface(name string) string {
	name = strings.ToLower(name)
	switch {
	case strings.HasPrefix(name, "wl"):
		return TypeWifi
	case strings.HasPrefix(name, "en"), strings.HasPrefix(name, "eth"):
		return TypeEthernet
	case strings.HasPrefix(name, "ww"), strings.HasPrefix(name, "rmnet"), strings.HasPrefix(name, "pdp"):
		return TypeCellular
	default:
		return TypeUnknown
	}
}
