package models

import (
	"reflect"
	"strings"
	"testing"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

// assertFieldType checks that a struct field has the expected Go type.
func assertFieldType(t *testing.T, typ reflect.Type, fieldName, expectedType string) {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	got := f.Type.String()
	if got != expectedType {
		t.Errorf("%s.%s type = %q, want %q", typ.Name(), fieldName, got, expectedType)
	}
}

func TestPatientCase_Fields(t *testing.T) {
	typ := reflect.TypeOf(PatientCase{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "PatientData", "not null")
	assertGormTag(t, typ, "CorrectTest", "not null")
	assertGormTag(t, typ, "CorrectDiagnosis", "not null")
	assertFieldType(t, typ, "PatientData", "datatypes.JSON")
}

func TestPatientCase_PatientRoundTrip(t *testing.T) {
	c := PatientCase{ID: "3", CorrectTest: "Skin biopsy", CorrectDiagnosis: "Glomus tumor"}
	p := Patient{
		Age:            48,
		Gender:         "Male",
		Symptoms:       "Painful raised red lesion on hand",
		AdditionalInfo: "Nests of round cells + branching vascular spaces",
	}
	if err := c.SetPatient(p); err != nil {
		t.Fatalf("SetPatient: %v", err)
	}
	got, err := c.Patient()
	if err != nil {
		t.Fatalf("Patient: %v", err)
	}
	if got != p {
		t.Errorf("Patient() = %+v, want %+v", got, p)
	}
}

func TestPatientCase_PatientInvalidJSON(t *testing.T) {
	c := PatientCase{ID: "x", PatientData: []byte("{not json")}
	if _, err := c.Patient(); err == nil {
		t.Fatal("expected decode error for invalid patient data")
	}
}

func TestMessage_Fields(t *testing.T) {
	typ := reflect.TypeOf(Message{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "ID", "size:64")
	assertGormTag(t, typ, "PatientID", "index:idx_patient_timestamp")
	assertGormTag(t, typ, "Sender", "size:16")
	assertGormTag(t, typ, "Content", "type:text")
	assertGormTag(t, typ, "Timestamp", "index:idx_patient_timestamp")
	assertFieldType(t, typ, "Points", "*int")
	assertFieldType(t, typ, "Timestamp", "time.Time")
}

func TestGameSession_Fields(t *testing.T) {
	typ := reflect.TypeOf(GameSession{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "PatientID", "uniqueIndex")
	assertGormTag(t, typ, "TestAttempts", "default:0")
	assertGormTag(t, typ, "DiagnosisAttempts", "default:0")
	assertGormTag(t, typ, "IsCompleted", "default:false")
	assertFieldType(t, typ, "CompletedAt", "*time.Time")
	assertFieldType(t, typ, "StartedAt", "time.Time")
}

func TestGameSession_PhaseHelpers(t *testing.T) {
	tests := []struct {
		name          string
		session       GameSession
		wantTest      bool
		wantDiagnosis bool
	}{
		{name: "fresh session", session: GameSession{}, wantTest: false, wantDiagnosis: false},
		{name: "test passed", session: GameSession{LabTestPoints: 5}, wantTest: true, wantDiagnosis: false},
		{name: "both passed", session: GameSession{LabTestPoints: 3, DiagnosisPoints: 5}, wantTest: true, wantDiagnosis: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.session.TestPassed(); got != tt.wantTest {
				t.Errorf("TestPassed() = %v, want %v", got, tt.wantTest)
			}
			if got := tt.session.DiagnosisPassed(); got != tt.wantDiagnosis {
				t.Errorf("DiagnosisPassed() = %v, want %v", got, tt.wantDiagnosis)
			}
		})
	}
}

func TestQueuedAction_Fields(t *testing.T) {
	typ := reflect.TypeOf(QueuedAction{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "ID", "autoIncrement")
	assertGormTag(t, typ, "EventType", "not null")
	assertGormTag(t, typ, "Synced", "default:false")
	assertGormTag(t, typ, "Synced", "index")
	assertGormTag(t, typ, "RetryCount", "default:0")
	assertFieldType(t, typ, "EventData", "datatypes.JSON")
	assertFieldType(t, typ, "Timestamp", "time.Time")
}

func TestSenderConstants(t *testing.T) {
	if SenderUser == SenderDoctor || SenderDoctor == SenderSystem || SenderUser == SenderSystem {
		t.Fatal("sender constants must be distinct")
	}
}
