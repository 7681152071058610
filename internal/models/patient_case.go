package models

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
)

// Patient holds the demographic and clinical presentation of a case.
type Patient struct {
	Name           string `json:"name,omitempty"`
	Age            int    `json:"age"`
	Gender         string `json:"gender"`
	History        string `json:"history"`
	Symptoms       string `json:"symptoms"`
	AdditionalInfo string `json:"additional_info,omitempty"`
}

// PatientCase is immutable reference data for one diagnostic exercise.
// Loaded once at startup and never mutated afterwards.
type PatientCase struct {
	ID               string         `gorm:"primaryKey;size:32"`
	PatientData      datatypes.JSON `gorm:"not null"`
	CorrectTest      string         `gorm:"not null"`
	CorrectDiagnosis string         `gorm:"not null"`
}

// Patient decodes the stored patient document.
func (c *PatientCase) Patient() (Patient, error) {
	var p Patient
	if err := json.Unmarshal(c.PatientData, &p); err != nil {
		return Patient{}, fmt.Errorf("models: decode patient %s: %w", c.ID, err)
	}
	return p, nil
}

// SetPatient encodes the patient document into the JSON column.
func (c *PatientCase) SetPatient(p Patient) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("models: encode patient %s: %w", c.ID, err)
	}
	c.PatientData = datatypes.JSON(data)
	return nil
}
