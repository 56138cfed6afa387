package cohort

import (
	"time"

	"github.com/rs/zerolog"
)

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

// at returns t0 shifted by h hours.
func at(h float64) time.Time {
	return t0.Add(time.Duration(h * float64(time.Hour)))
}

func atPtr(h float64) *time.Time {
	t := at(h)
	return &t
}

func f64Ptr(f float64) *float64 { return &f }

func obsAt(hosp string, h float64, category string) Observation {
	return Observation{HospitalizationID: hosp, RecordedDttm: at(h), DeviceCategory: category}
}

func trachAt(hosp string, h float64) Observation {
	return Observation{HospitalizationID: hosp, RecordedDttm: at(h), Tracheostomy: true}
}

func adult(patient, hosp string, admitH, dischH float64, disposition string) Hospitalization {
	return Hospitalization{
		PatientID:         patient,
		HospitalizationID: hosp,
		AdmissionDttm:     atPtr(admitH),
		DischargeDttm:     atPtr(dischH),
		AgeAtAdmission:    f64Ptr(64),
		DischargeCategory: disposition,
	}
}

func categories(obs []Observation) []string {
	out := make([]string, len(obs))
	for i, o := range obs {
		out[i] = o.DeviceCategory
	}
	return out
}

func quietOptions() Options {
	return Options{Logger: zerolog.Nop()}
}
