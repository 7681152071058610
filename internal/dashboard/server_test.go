package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/digitalopd/opd/internal/channel"
	"github.com/digitalopd/opd/internal/config"
	"github.com/digitalopd/opd/internal/game"
	"github.com/digitalopd/opd/internal/models"
	"github.com/digitalopd/opd/internal/netmon"
	"github.com/digitalopd/opd/internal/store"
	"github.com/digitalopd/opd/internal/syncer"
)

func newTestRouter(t *testing.T) (*gin.Engine, *store.Store) {
	t.Helper()

	st, err := store.Open(config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "opd.db"),
	})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if err := st.SeedCases(game.DefaultCases()); err != nil {
		t.Fatalf("failed to seed cases: %v", err)
	}

	orc, err := syncer.New(syncer.Opts{
		Store:   st,
		Monitor: netmon.NewManual(netmon.Status{Online: false, ConnectionType: netmon.TypeNone}),
		Channel: channel.NewMock(),
		Sync:    config.SyncConfig{ItemTimeout: config.Duration(time.Second), MaxDrainRetries: 1},
	})
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}

	return newRouter(st, orc), st
}

func doRequest(t *testing.T, router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestStateEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doRequest(t, router, http.MethodGet, "/api/state")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var snap syncer.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if snap.Status != syncer.StateOffline {
		t.Errorf("expected status %s, got %s", syncer.StateOffline, snap.Status)
	}
}

func TestCasesEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doRequest(t, router, http.MethodGet, "/api/cases")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var views []caseView
	if err := json.Unmarshal(w.Body.Bytes(), &views); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(views) != 3 {
		t.Fatalf("expected 3 cases, got %d", len(views))
	}
	for _, v := range views {
		if v.Patient.Age == 0 || v.CorrectDiagnosis == "" {
			t.Errorf("case %s: incomplete view %+v", v.ID, v)
		}
	}
}

func TestSessionEndpoint(t *testing.T) {
	router, st := newTestRouter(t)

	w := doRequest(t, router, http.MethodGet, "/api/sessions/3")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 before session exists, got %d", w.Code)
	}

	session := &models.GameSession{
		ID:        "session_" + uuid.NewString(),
		PatientID: "3",
		UserID:    "user_1",
		StartedAt: time.Now(),
	}
	if err := st.SaveSession(session); err != nil {
		t.Fatalf("failed to save session: %v", err)
	}

	w = doRequest(t, router, http.MethodGet, "/api/sessions/3")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 after save, got %d", w.Code)
	}
	var got models.GameSession
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got.ID != session.ID {
		t.Errorf("expected session %s, got %s", session.ID, got.ID)
	}
}

func TestMessagesEndpoint(t *testing.T) {
	router, st := newTestRouter(t)

	msg := &models.Message{
		ID:        uuid.NewString(),
		PatientID: "3",
		Sender:    models.SenderDoctor,
		Content:   "What test should we run?",
		Timestamp: time.Now(),
	}
	if err := st.SaveMessage(msg); err != nil {
		t.Fatalf("failed to save message: %v", err)
	}

	w := doRequest(t, router, http.MethodGet, "/api/messages/3")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var msgs []models.Message
	if err := json.Unmarshal(w.Body.Bytes(), &msgs); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != msg.ID {
		t.Errorf("expected the saved message, got %v", msgs)
	}
}

func TestQueueEndpoint(t *testing.T) {
	router, st := newTestRouter(t)

	if _, err := st.Enqueue(channel.EventSubmitTest, map[string]string{"answer": "biopsy"}); err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}

	w := doRequest(t, router, http.MethodGet, "/api/queue")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Count   int                   `json:"count"`
		Pending []models.QueuedAction `json:"pending"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.Count != 1 || len(body.Pending) != 1 {
		t.Errorf("expected 1 pending action, got %+v", body)
	}
	if body.Pending[0].EventType != channel.EventSubmitTest {
		t.Errorf("expected event type %s, got %s", channel.EventSubmitTest, body.Pending[0].EventType)
	}
}

func TestRetryEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doRequest(t, router, http.MethodPost, "/api/sync/retry")
	if w.Code != http.StatusAccepted {
		t.Errorf("expected 202, got %d", w.Code)
	}
}

func TestSSEEndpoint_SendsConnectedEvent(t *testing.T) {
	router, _ := newTestRouter(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	router.ServeHTTP(w, req)

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected event-stream content type, got %q", ct)
	}
	body := w.Body.String()
	if !strings.Contains(body, "event: connected") {
		t.Errorf("expected connected event in stream, got %q", body)
	}
	if !strings.Contains(body, string(syncer.StateOffline)) {
		t.Errorf("expected initial state in connected payload, got %q", body)
	}
}
