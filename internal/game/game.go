// Package game implements the per-patient diagnostic workflow: the
// test-request phase, the diagnosis phase, transcript composition, and
// completion. Scoring decisions are always made from local state; scores
// pushed by the remote peer are advisory confirmation only.
package game

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/digitalopd/opd/internal/channel"
	"github.com/digitalopd/opd/internal/models"
	"github.com/digitalopd/opd/internal/scoring"
)

// Transmitter sends an outbound action now or queues it for later delivery.
type Transmitter interface {
	Do(ctx context.Context, eventType string, payload any) (queued bool, err error)
}

// Store is the persistence surface the controller needs, satisfied by
// *store.Store.
type Store interface {
	Messages(patientID string) ([]models.Message, error)
	SaveMessage(msg *models.Message) error
	SaveSession(session *models.GameSession) error
	SessionByPatient(patientID string) (*models.GameSession, error)
	PatientCase(id string) (*models.PatientCase, error)
	PatientCases() ([]models.PatientCase, error)
	ClearPatientData(patientID string) error
}

// Opts holds parameters for creating a Controller.
type Opts struct {
	Store    Store
	Transmit Transmitter
	UserID   string
}

// Controller owns the active patient cases. Mutating operations on the same
// patient are serialized; different patients proceed independently.
type Controller struct {
	store    Store
	transmit Transmitter
	userID   string

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	current string
	ready   bool
}

// Result reports the outcome of one submitted action.
type Result struct {
	Session *models.GameSession
	// Messages appended to the transcript by this action, in order.
	Messages []models.Message
	Correct  bool
	// Points awarded by this submission; zero for wrong answers and for
	// re-submissions after the phase already passed.
	Points int
	// Queued is true when the action could not be sent immediately and
	// now sits in the offline queue.
	Queued bool
}

// New creates a Controller.
func New(opts Opts) (*Controller, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("game: store is required")
	}
	if opts.Transmit == nil {
		return nil, fmt.Errorf("game: transmitter is required")
	}
	if opts.UserID == "" {
		return nil, fmt.Errorf("game: user id is required")
	}
	return &Controller{
		store:    opts.Store,
		transmit: opts.Transmit,
		userID:   opts.UserID,
		locks:    make(map[string]*sync.Mutex),
	}, nil
}

// patientLock returns the mutex serializing mutations for one patient.
func (c *Controller) patientLock(patientID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[patientID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[patientID] = l
	}
	return l
}

// Open loads (or lazily creates) the session for a patient case and returns
// it with the transcript so far. Creating a session also posts the senior
// doctor's opening message.
func (c *Controller) Open(ctx context.Context, patientID string) (*models.GameSession, []models.Message, error) {
	lock := c.patientLock(patientID)
	lock.Lock()
	defer lock.Unlock()

	pc, err := c.loadCase(patientID)
	if err != nil {
		return nil, nil, err
	}
	session, err := c.ensureSession(pc)
	if err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	c.current = patientID
	c.mu.Unlock()

	msgs, err := c.store.Messages(patientID)
	if err != nil {
		return nil, nil, fmt.Errorf("game: load transcript for %s: %w", patientID, err)
	}
	if _, err := c.transmit.Do(ctx, channel.EventJoin, joinPayload{UserID: c.userID, PatientID: patientID}); err != nil {
		log.Printf("game: join for %s: %v", patientID, err)
	}
	return session, msgs, nil
}

// SubmitTestRequest handles one lab-test guess. The answer is matched
// against the case's correct test with a case-insensitive substring match
// in both directions, to tolerate free-text phrasing.
func (c *Controller) SubmitTestRequest(ctx context.Context, patientID, testName string) (*Result, error) {
	lock := c.patientLock(patientID)
	lock.Lock()
	defer lock.Unlock()

	pc, err := c.loadCase(patientID)
	if err != nil {
		return nil, err
	}
	session, err := c.ensureSession(pc)
	if err != nil {
		return nil, err
	}
	patient, err := pc.Patient()
	if err != nil {
		return nil, err
	}

	attempts := session.TestAttempts + 1
	correct := Match(testName, pc.CorrectTest)
	passed := session.TestPassed()
	now := time.Now()

	res := &Result{Session: session, Correct: correct}
	c.appendMessage(res, models.SenderUser, patientID, "Please run a "+testName, now)

	switch {
	case correct && !passed:
		res.Points = scoring.Score(attempts)
		session.LabTestPoints = res.Points
		report := labReport(pc, testName)
		m := c.appendMessage(res, models.SenderDoctor, patientID, testResultText(testName, report), now.Add(time.Millisecond))
		m.TestResult = report
		m.Points = &res.Points
		c.appendMessage(res, models.SenderDoctor, patientID, followUpPrompt, now.Add(2*time.Millisecond))
	case correct && passed:
		c.appendMessage(res, models.SenderDoctor, patientID, testReackText(testName, labReport(pc, testName)), now.Add(time.Millisecond))
		c.appendMessage(res, models.SenderDoctor, patientID, diagnosisPrompt, now.Add(2*time.Millisecond))
	default:
		c.appendMessage(res, models.SenderDoctor, patientID, testHint(patient, testName, attempts), now.Add(time.Millisecond))
	}

	session.TestAttempts = attempts
	session.TotalPoints = session.LabTestPoints + session.DiagnosisPoints

	// The action reaches the transmitter even when the session write
	// fails; a storage outage must never drop an attempt from the sync
	// timeline.
	persistErr := c.persist(res)
	res.Queued = c.send(ctx, channel.EventSubmitTest, testRequestPayload{
		PatientID: patientID,
		TestName:  testName,
		Attempt:   attempts,
		Timestamp: now,
	})
	return res, persistErr
}

// SubmitDiagnosis handles one diagnosis guess, completing the session on
// the first correct answer.
func (c *Controller) SubmitDiagnosis(ctx context.Context, patientID, diagnosis string) (*Result, error) {
	lock := c.patientLock(patientID)
	lock.Lock()
	defer lock.Unlock()

	pc, err := c.loadCase(patientID)
	if err != nil {
		return nil, err
	}
	session, err := c.ensureSession(pc)
	if err != nil {
		return nil, err
	}

	attempts := session.DiagnosisAttempts + 1
	correct := Match(diagnosis, pc.CorrectDiagnosis)
	passed := session.DiagnosisPassed()
	now := time.Now()

	res := &Result{Session: session, Correct: correct}
	c.appendMessage(res, models.SenderUser, patientID, diagnosis, now)

	switch {
	case correct && !passed:
		res.Points = scoring.Score(attempts)
		session.DiagnosisPoints = res.Points
		session.IsCompleted = true
		completedAt := now
		session.CompletedAt = &completedAt
		m := c.appendMessage(res, models.SenderDoctor, patientID, diagnosisCorrectText(pc.CorrectDiagnosis), now.Add(time.Millisecond))
		m.Points = &res.Points
	case correct && passed:
		c.appendMessage(res, models.SenderDoctor, patientID, diagnosisReackText, now.Add(time.Millisecond))
	default:
		c.appendMessage(res, models.SenderDoctor, patientID, diagnosisHint(pc.CorrectDiagnosis, attempts), now.Add(time.Millisecond))
	}

	session.DiagnosisAttempts = attempts
	session.TotalPoints = session.LabTestPoints + session.DiagnosisPoints

	persistErr := c.persist(res)
	res.Queued = c.send(ctx, channel.EventSubmitDiagnosis, diagnosisPayload{
		PatientID: patientID,
		Diagnosis: diagnosis,
		Attempt:   attempts,
		Timestamp: now,
	})
	return res, persistErr
}

// RequestNextPatient asks the remote peer for the next case and returns the
// id of the next locally seeded case in rotation.
func (c *Controller) RequestNextPatient(ctx context.Context, currentPatientID string) (string, error) {
	cases, err := c.store.PatientCases()
	if err != nil {
		return "", fmt.Errorf("game: list cases: %w", err)
	}
	if len(cases) == 0 {
		return "", fmt.Errorf("game: no patient cases seeded")
	}

	next := cases[0].ID
	for i, pc := range cases {
		if pc.ID == currentPatientID {
			next = cases[(i+1)%len(cases)].ID
			break
		}
	}

	c.send(ctx, channel.EventNextPatient, nextPatientPayload{
		PatientID: currentPatientID,
		Timestamp: time.Now(),
	})
	return next, nil
}

// Breakdown returns the score summary for a patient's session.
func (c *Controller) Breakdown(patientID string) (*scoring.Breakdown, error) {
	session, err := c.store.SessionByPatient(patientID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("game: no session for patient %s", patientID)
	}
	// Built from stored points, not attempt counts: a wrong answer raises
	// the attempt count without earning anything.
	return &scoring.Breakdown{
		LabTest:   session.LabTestPoints,
		Diagnosis: session.DiagnosisPoints,
		Total:     session.TotalPoints,
		MaxPhase:  scoring.MaxPoints,
		MaxTotal:  scoring.MaxTotal,
	}, nil
}

// Ready reports whether the remote peer has acknowledged the session.
func (c *Controller) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// HandleEvent processes one inbound channel event. Register with the sync
// orchestrator's OnEvent.
func (c *Controller) HandleEvent(ev channel.Event) {
	switch ev.Name {
	case channel.EventGameReady:
		c.mu.Lock()
		c.ready = true
		c.mu.Unlock()
	case channel.EventCaseStarted:
		cs, err := channel.DecodeCaseStarted(ev)
		if err != nil {
			log.Printf("game: %v", err)
			return
		}
		c.mu.Lock()
		c.ready = true
		patientID := c.current
		c.mu.Unlock()
		if patientID == "" {
			return
		}
		lock := c.patientLock(patientID)
		lock.Lock()
		defer lock.Unlock()
		// A completed case restarting means a fresh run: clear the old
		// transcript and counters. An in-progress session is kept; local
		// state wins over a late server signal.
		if session, err := c.store.SessionByPatient(patientID); err == nil && session != nil && session.IsCompleted {
			if err := c.store.ClearPatientData(patientID); err != nil {
				log.Printf("game: reset case for %s: %v", patientID, err)
			}
		}
		if cs.PatientQuery != "" {
			c.appendRemoteMessage(patientID, cs.PatientQuery, nil)
		}
	case channel.EventSeniorDoctorMessage:
		msg, err := channel.DecodeSeniorDoctorMessage(ev)
		if err != nil {
			log.Printf("game: %v", err)
			return
		}
		c.mu.Lock()
		patientID := c.current
		c.mu.Unlock()
		if patientID == "" {
			log.Printf("game: dropping doctor message with no active patient")
			return
		}
		// Server scores are advisory: they confirm, they never overwrite
		// locally computed points.
		var points *int
		if msg.TestScore != nil {
			points = msg.TestScore
		} else if msg.DiagnosisScore != nil {
			points = msg.DiagnosisScore
		}
		c.appendRemoteMessage(patientID, msg.Message, points)
		c.reconcile(patientID, msg)
	}
}

// reconcile compares an advisory server score against the local session and
// logs divergence. Local computation stays authoritative.
func (c *Controller) reconcile(patientID string, msg channel.SeniorDoctorMessage) {
	session, err := c.store.SessionByPatient(patientID)
	if err != nil || session == nil {
		return
	}
	if msg.TestScore != nil && session.TestPassed() && *msg.TestScore != session.LabTestPoints {
		log.Printf("game: server test score %d diverges from local %d for %s (keeping local)",
			*msg.TestScore, session.LabTestPoints, patientID)
	}
	if msg.DiagnosisScore != nil && session.DiagnosisPassed() && *msg.DiagnosisScore != session.DiagnosisPoints {
		log.Printf("game: server diagnosis score %d diverges from local %d for %s (keeping local)",
			*msg.DiagnosisScore, session.DiagnosisPoints, patientID)
	}
	if msg.NextEvent != "" {
		expected := channel.EventSubmitTest
		if session.TestPassed() {
			expected = channel.EventSubmitDiagnosis
		}
		if session.IsCompleted {
			expected = channel.EventNextPatient
		}
		if msg.NextEvent != expected {
			log.Printf("game: server expects %q next but local phase expects %q for %s",
				msg.NextEvent, expected, patientID)
		}
	}
}

// appendRemoteMessage stores an inbound doctor message on the transcript.
func (c *Controller) appendRemoteMessage(patientID, content string, points *int) {
	msg := &models.Message{
		ID:        uuid.NewString(),
		PatientID: patientID,
		Sender:    models.SenderDoctor,
		Content:   content,
		Points:    points,
		Timestamp: time.Now(),
	}
	if err := c.store.SaveMessage(msg); err != nil {
		log.Printf("game: save doctor message: %v", err)
	}
}

// loadCase fetches the immutable case data, rejecting unknown patients.
func (c *Controller) loadCase(patientID string) (*models.PatientCase, error) {
	pc, err := c.store.PatientCase(patientID)
	if err != nil {
		return nil, err
	}
	if pc == nil {
		return nil, fmt.Errorf("game: unknown patient %s", patientID)
	}
	return pc, nil
}

// ensureSession returns the existing session for a case or creates one,
// posting the opening message. Caller holds the patient lock.
func (c *Controller) ensureSession(pc *models.PatientCase) (*models.GameSession, error) {
	session, err := c.store.SessionByPatient(pc.ID)
	if err != nil {
		return nil, err
	}
	if session != nil {
		return session, nil
	}

	patient, err := pc.Patient()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	session = &models.GameSession{
		ID:        "session_" + uuid.NewString(),
		PatientID: pc.ID,
		UserID:    c.userID,
		StartedAt: now,
	}
	if err := c.store.SaveSession(session); err != nil {
		return nil, err
	}

	welcome := &models.Message{
		ID:        uuid.NewString(),
		PatientID: pc.ID,
		Sender:    models.SenderDoctor,
		Content:   welcomeText(patient),
		Timestamp: now,
	}
	if err := c.store.SaveMessage(welcome); err != nil {
		log.Printf("game: save welcome message: %v", err)
	}
	return session, nil
}

// appendMessage builds a transcript message, adds it to the result, and
// returns a pointer so the caller can attach points or a test result.
func (c *Controller) appendMessage(res *Result, sender, patientID, content string, ts time.Time) *models.Message {
	res.Messages = append(res.Messages, models.Message{
		ID:        uuid.NewString(),
		PatientID: patientID,
		Sender:    sender,
		Content:   content,
		Timestamp: ts,
	})
	return &res.Messages[len(res.Messages)-1]
}

// persist writes the result's messages and session. Message failures are
// logged but do not fail the operation; losing the session update is
// reported because the score lives there.
func (c *Controller) persist(res *Result) error {
	for i := range res.Messages {
		if err := c.store.SaveMessage(&res.Messages[i]); err != nil {
			log.Printf("game: save message: %v", err)
		}
	}
	if err := c.store.SaveSession(res.Session); err != nil {
		return fmt.Errorf("game: persist session %s: %w", res.Session.ID, err)
	}
	return nil
}

// send transmits or queues an outbound action, reporting whether it was
// queued. Transmission failures never fail the local operation.
func (c *Controller) send(ctx context.Context, eventType string, payload any) bool {
	queued, err := c.transmit.Do(ctx, eventType, payload)
	if err != nil {
		log.Printf("game: transmit %s: %v", eventType, err)
	}
	return queued
}

// Match reports whether a free-text answer matches the expected one. The
// comparison is case-insensitive and accepts either string containing the
// other, tolerating partial phrasing like "biopsy" for "Skin biopsy".
func Match(answer, expected string) bool {
	a := strings.ToLower(strings.TrimSpace(answer))
	e := strings.ToLower(strings.TrimSpace(expected))
	if a == "" || e == "" {
		return false
	}
	return strings.Contains(a, e) || strings.Contains(e, a)
}

type joinPayload struct {
	UserID    string `json:"user_id"`
	PatientID string `json:"patient_id"`
}

type testRequestPayload struct {
	PatientID string    `json:"patient_id"`
	TestName  string    `json:"test_name"`
	Attempt   int       `json:"attempt"`
	Timestamp time.Time `json:"timestamp"`
}

type diagnosisPayload struct {
	PatientID string    `json:"patient_id"`
	Diagnosis string    `json:"diagnosis"`
	Attempt   int       `json:"attempt"`
	Timestamp time.Time `json:"timestamp"`
}

type nextPatientPayload struct {
	PatientID string    `json:"patient_id"`
	Timestamp time.Time `json:"timestamp"`
}
