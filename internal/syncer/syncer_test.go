package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/digitalopd/opd/internal/channel"
	"github.com/digitalopd/opd/internal/config"
	"github.com/digitalopd/opd/internal/netmon"
	"github.com/digitalopd/opd/internal/store"
)

type fixture struct {
	store *store.Store
	mon   *netmon.Manual
	ch    *channel.Mock
	orc   *Orchestrator
}

// newFixture builds an orchestrator over a real sqlite store, a manual
// monitor, and a mock channel, and starts its run loop.
func newFixture(t *testing.T, online bool) *fixture {
	t.Helper()

	st, err := store.Open(config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "opd.db"),
	})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	connType := netmon.TypeNone
	if online {
		connType = netmon.TypeWifi
	}
	mon := netmon.NewManual(netmon.Status{Online: online, ConnectionType: connType})
	ch := channel.NewMock()

	orc, err := New(Opts{
		Store:   st,
		Monitor: mon,
		Channel: ch,
		Sync: config.SyncConfig{
			ItemTimeout:     config.Duration(time.Second),
			BaseBackoff:     config.Duration(time.Millisecond),
			MaxBackoff:      config.Duration(5 * time.Millisecond),
			MaxDrainRetries: 3,
		},
	})
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go orc.Run(ctx)

	return &fixture{store: st, mon: mon, ch: ch, orc: orc}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Opts{}); err == nil {
		t.Error("expected error for missing store")
	}
}

func TestOrchestrator_SendNowWhenConnected(t *testing.T) {
	f := newFixture(t, true)
	waitFor(t, "channel connect", f.ch.Connected)

	queued, err := f.orc.Do(context.Background(), channel.EventSubmitTest, map[string]string{"answer": "biopsy"})
	if err != nil {
		t.Fatalf("do failed: %v", err)
	}
	if queued {
		t.Error("expected send-now, got queued")
	}

	sent := f.ch.Sent()
	if len(sent) != 1 || sent[0].Name != channel.EventSubmitTest {
		t.Fatalf("expected one %s event, got %v", channel.EventSubmitTest, sent)
	}
	count, err := f.store.PendingCount()
	if err != nil {
		t.Fatalf("pending count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected empty queue, got %d pending", count)
	}
	if got := f.orc.State(); got != StateIdle {
		t.Errorf("expected state %s, got %s", StateIdle, got)
	}
}

func TestOrchestrator_QueuesWhenOffline(t *testing.T) {
	f := newFixture(t, false)

	for _, event := range []string{channel.EventSubmitTest, channel.EventSubmitDiagnosis} {
		queued, err := f.orc.Do(context.Background(), event, map[string]string{"answer": "x"})
		if err != nil {
			t.Fatalf("do failed: %v", err)
		}
		if !queued {
			t.Errorf("expected %s to be queued while offline", event)
		}
	}

	count, err := f.store.PendingCount()
	if err != nil {
		t.Fatalf("pending count failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 pending actions, got %d", count)
	}
	if got := len(f.ch.Sent()); got != 0 {
		t.Errorf("expected no sends while offline, got %d", got)
	}
	if got := f.orc.State(); got != StateOffline {
		t.Errorf("expected state %s, got %s", StateOffline, got)
	}
}

func TestOrchestrator_DrainsOnReconnect(t *testing.T) {
	f := newFixture(t, false)

	events := []string{channel.EventSubmitTest, channel.EventSubmitDiagnosis, channel.EventNextPatient}
	for _, event := range events {
		if _, err := f.orc.Do(context.Background(), event, map[string]string{"answer": "x"}); err != nil {
			t.Fatalf("do failed: %v", err)
		}
	}

	f.mon.SetStatus(netmon.Status{Online: true, ConnectionType: netmon.TypeWifi})

	waitFor(t, "drain to complete", func() bool {
		count, err := f.store.PendingCount()
		return err == nil && count == 0 && f.orc.State() == StateIdle
	})

	sent := f.ch.Sent()
	if len(sent) != len(events) {
		t.Fatalf("expected %d replayed actions, got %d", len(events), len(sent))
	}
	for i, rec := range sent {
		if rec.Name != channel.EventSyncActions {
			t.Errorf("replay %d: expected %s envelope, got %s", i, channel.EventSyncActions, rec.Name)
		}
		ra, ok := rec.Payload.(replayedAction)
		if !ok {
			t.Fatalf("replay %d: unexpected payload type %T", i, rec.Payload)
		}
		if ra.EventType != events[i] {
			t.Errorf("replay %d: expected %s, got %s (order not preserved)", i, events[i], ra.EventType)
		}
	}
}

func TestOrchestrator_PartialFailurePreservesOrder(t *testing.T) {
	f := newFixture(t, false)

	events := []string{channel.EventSubmitTest, channel.EventSubmitDiagnosis, channel.EventNextPatient}
	for _, event := range events {
		if _, err := f.orc.Do(context.Background(), event, nil); err != nil {
			t.Fatalf("do failed: %v", err)
		}
	}

	// First item goes through, everything after fails.
	f.ch.FailSendsAfter(1)
	f.mon.SetStatus(netmon.Status{Online: true, ConnectionType: netmon.TypeWifi})

	waitFor(t, "sync to exhaust retries", func() bool {
		return f.orc.State() == StateFailed
	})

	// The failed item and its successors are still pending; nothing lost,
	// nothing skipped ahead.
	pending, err := f.store.PendingActions()
	if err != nil {
		t.Fatalf("pending actions failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending actions after failure, got %d", len(pending))
	}
	if pending[0].EventType != events[1] || pending[1].EventType != events[2] {
		t.Errorf("expected pending [%s %s], got [%s %s]",
			events[1], events[2], pending[0].EventType, pending[1].EventType)
	}
	if pending[0].RetryCount == 0 {
		t.Error("expected retry count to be recorded on pending actions")
	}

	// Manual retry with a healthy channel drains the rest in order.
	f.ch.FailSendsAfter(-1)
	f.orc.RetrySync()

	waitFor(t, "retried drain to complete", func() bool {
		count, err := f.store.PendingCount()
		return err == nil && count == 0 && f.orc.State() == StateIdle
	})

	sent := f.ch.Sent()
	if len(sent) != 3 {
		t.Fatalf("expected 3 successful replays, got %d", len(sent))
	}
	for i, rec := range sent {
		ra := rec.Payload.(replayedAction)
		if ra.EventType != events[i] {
			t.Errorf("replay %d: expected %s, got %s", i, events[i], ra.EventType)
		}
	}
}

func TestOrchestrator_OfflineDropsChannel(t *testing.T) {
	f := newFixture(t, true)
	waitFor(t, "channel connect", f.ch.Connected)

	f.mon.SetOnline(false)

	waitFor(t, "channel disconnect", func() bool {
		return !f.ch.Connected() && f.orc.State() == StateOffline
	})
}

func TestOrchestrator_TypeChangeForcesReconnect(t *testing.T) {
	f := newFixture(t, true)
	waitFor(t, "channel connect", f.ch.Connected)

	var mu sync.Mutex
	var transitions []bool
	f.ch.OnStateChange(func(connected bool) {
		mu.Lock()
		transitions = append(transitions, connected)
		mu.Unlock()
	})

	f.mon.SetStatus(netmon.Status{Online: true, ConnectionType: netmon.TypeCellular})

	waitFor(t, "forced reconnect", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(transitions) >= 2 && !transitions[0] && transitions[1]
	})
	if !f.ch.Connected() {
		t.Error("expected channel to be connected after forced reconnect")
	}
}

func TestOrchestrator_ForwardsInboundEvents(t *testing.T) {
	f := newFixture(t, false)

	received := make(chan channel.Event, 1)
	f.orc.OnEvent(func(ev channel.Event) {
		received <- ev
	})

	f.mon.SetOnline(true)
	waitFor(t, "channel connect", f.ch.Connected)

	if err := f.ch.SimulateInbound(channel.EventGameReady, nil); err != nil {
		t.Fatalf("simulate inbound failed: %v", err)
	}

	select {
	case ev := <-received:
		if ev.Name != channel.EventGameReady {
			t.Errorf("expected %s, got %s", channel.EventGameReady, ev.Name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded event")
	}
}

func TestOrchestrator_SendFailureFallsBackToQueue(t *testing.T) {
	f := newFixture(t, true)
	waitFor(t, "channel connect", f.ch.Connected)

	f.ch.SetSendError(errors.New("write: broken pipe"))

	queued, err := f.orc.Do(context.Background(), channel.EventSubmitTest, nil)
	if err != nil {
		t.Fatalf("do failed: %v", err)
	}
	if !queued {
		t.Error("expected fallback to queue on send failure")
	}
	count, err := f.store.PendingCount()
	if err != nil {
		t.Fatalf("pending count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 pending action, got %d", count)
	}
}

func TestOrchestrator_SnapshotReflectsQueue(t *testing.T) {
	f := newFixture(t, false)

	if _, err := f.orc.Do(context.Background(), channel.EventSubmitTest, nil); err != nil {
		t.Fatalf("do failed: %v", err)
	}

	snap := f.orc.Snapshot()
	if snap.NetworkOnline {
		t.Error("expected offline snapshot")
	}
	if snap.Status != StateOffline {
		t.Errorf("expected status %s, got %s", StateOffline, snap.Status)
	}
	if snap.QueuedCount != 1 {
		t.Errorf("expected queued count 1, got %d", snap.QueuedCount)
	}
}

func TestOrchestrator_SubscribeNotifiesOnTransitions(t *testing.T) {
	f := newFixture(t, false)

	var mu sync.Mutex
	var seen []State
	unsub := f.orc.Subscribe(func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s.Status)
		mu.Unlock()
	})
	defer unsub()

	f.mon.SetOnline(true)
	waitFor(t, "idle state to be observed", func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, s := range seen {
			if s == StateIdle {
				return true
			}
		}
		return false
	})
}

func TestBackoffDelay(t *testing.T) {
	base := 2 * time.Second
	max := 2 * time.Minute
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 4 * time.Second},
		{2, 8 * time.Second},
		{5, 64 * time.Second},
		{6, 2 * time.Minute},
		{20, 2 * time.Minute},
	}
	for _, tt := range tests {
		if got := backoffDelay(base, max, tt.attempt); got != tt.want {
			t.Errorf("backoffDelay(attempt=%d): expected %s, got %s", tt.attempt, tt.want, got)
		}
	}
}

func TestNextCronDuration(t *testing.T) {
	if d := nextCronDuration("not a cron expr"); d != 0 {
		t.Errorf("expected 0 for invalid expression, got %s", d)
	}
	if d := nextCronDuration("*/5 * * * *"); d <= 0 || d > 5*time.Minute {
		t.Errorf("expected duration within 5 minutes, got %s", d)
	}
}
