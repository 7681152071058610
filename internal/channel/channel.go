// Package channel provides the bidirectional connection to the remote
// senior-doctor service. The channel itself never queues: a send while
// disconnected fails immediately and the sync orchestrator decides what to
// do with the action.
package channel

import (
	"context"
	"encoding/json"
	"errors"
)

// Outbound event names (core -> remote peer).
const (
	EventJoin            = "join"
	EventSubmitTest      = "submit-test"
	EventSubmitDiagnosis = "submit-diagnosis"
	EventNextPatient     = "next-patient"
	EventSyncActions     = "sync_actions"
)

// Inbound event names (remote peer -> core).
const (
	EventGameReady           = "game_ready"
	EventCaseStarted         = "case_started"
	EventSeniorDoctorMessage = "senior_doctor_message"
)

// ErrNotConnected is returned by Send when no live connection exists.
var ErrNotConnected = errors.New("channel: not connected")

// ErrClosed is returned once the channel has been shut down for good.
var ErrClosed = errors.New("channel: closed")

// Event is one inbound message from the remote peer. Data holds the raw
// JSON payload; decode it with the typed payload structs below.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// CaseStarted is the payload of a case_started event.
type CaseStarted struct {
	PatientInfo  string `json:"patient_info"`
	PatientQuery string `json:"patient_query"`
}

// SeniorDoctorMessage is the payload of a senior_doctor_message event.
// Score fields are advisory: local computation stays authoritative.
type SeniorDoctorMessage struct {
	Message        string `json:"message"`
	TestScore      *int   `json:"test_score,omitempty"`
	DiagnosisScore *int   `json:"diagnosis_score,omitempty"`
	NextEvent      string `json:"next_event,omitempty"`
}

// DecodeCaseStarted decodes a case_started payload.
func DecodeCaseStarted(e Event) (CaseStarted, error) {
	var p CaseStarted
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return CaseStarted{}, errors.New("channel: malformed case_started payload")
	}
	return p, nil
}

// DecodeSeniorDoctorMessage decodes a senior_doctor_message payload.
func DecodeSeniorDoctorMessage(e Event) (SeniorDoctorMessage, error) {
	var p SeniorDoctorMessage
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return SeniorDoctorMessage{}, errors.New("channel: malformed senior_doctor_message payload")
	}
	return p, nil
}

// Channel is the interface the sync orchestrator and game controller
// consume. One logical connection exists per process; lifecycle follows the
// app, not any single screen.
type Channel interface {
	// Connect establishes the connection. Idempotent.
	Connect(ctx context.Context) error

	// Listen returns the inbound event stream and starts the background
	// read/reconnect machinery. Delivery is FIFO per connection. Must be
	// called after Connect; the channel is closed on Close.
	Listen(ctx context.Context) (<-chan Event, error)

	// Send transmits one event. Fails with ErrNotConnected when no live
	// connection exists; it never queues.
	Send(ctx context.Context, event string, payload any) error

	// Connected reports whether a live connection exists right now.
	Connected() bool

	// OnStateChange registers a callback invoked with true on connect and
	// false on disconnect. Returns an unsubscribe function.
	OnStateChange(fn func(connected bool)) (unsubscribe func())

	// Disconnect drops the connection without closing the channel for
	// good. Safe to call when already disconnected.
	Disconnect()

	// ForceReconnect tears down the current connection so the reconnect
	// loop dials fresh. Used after a network-type change leaves the
	// connection "up" but stale.
	ForceReconnect()

	// Close shuts the channel down permanently. Idempotent.
	Close() error
}
