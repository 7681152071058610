package game

import (
	"github.com/digitalopd/opd/internal/models"
)

// DefaultCases returns the seeded patient cases. Seeding is additive: an
// existing case with the same id is never overwritten.
func DefaultCases() []models.PatientCase {
	specs := []struct {
		id        string
		patient   models.Patient
		test      string
		diagnosis string
	}{
		{
			id: "1",
			patient: models.Patient{
				Age:            32,
				Gender:         "Female",
				History:        "Pregnant",
				Symptoms:       "Mild bleeding and pain",
				AdditionalInfo: "Uterus tender, fetal heart sounds absent",
			},
			test:      "Physical examination and ultrasound",
			diagnosis: "Abruptio placenta",
		},
		{
			id: "2",
			patient: models.Patient{
				Age:            5,
				Gender:         "Male",
				History:        "Recurrent ear discharge",
				Symptoms:       "Hearing loss and foul-smelling discharge",
				AdditionalInfo: "Posterior superior retraction pocket present",
			},
			test:      "Otoscopy and audiometry",
			diagnosis: "Chronic suppurative otitis media (unsafe type)",
		},
		{
			id: "3",
			patient: models.Patient{
				Age:            48,
				Gender:         "Male",
				History:        "No significant past history",
				Symptoms:       "Painful raised red lesion on hand",
				AdditionalInfo: "Nests of round cells + branching vascular spaces",
			},
			test:      "Skin biopsy",
			diagnosis: "Glomus tumor",
		},
	}

	cases := make([]models.PatientCase, 0, len(specs))
	for _, s := range specs {
		pc := models.PatientCase{
			ID:               s.id,
			CorrectTest:      s.test,
			CorrectDiagnosis: s.diagnosis,
		}
		// Marshaling a plain struct cannot fail.
		_ = pc.SetPatient(s.patient)
		cases = append(cases, pc)
	}
	return cases
}
