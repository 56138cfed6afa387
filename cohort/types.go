package cohort

import (
	"strings"
	"time"
)

// Vocabulary values from the respiratory support device_category column.
const (
	DeviceIMV         = "IMV"
	DeviceTrachCollar = "Trach Collar"
)

// Thresholds used by the segmentation and exclusion rules.
const (
	GapThreshold       = 24 * time.Hour      // runs closer than this merge
	MinEpisodeDuration = 24 * time.Hour      // index episode must last at least this long
	TrachLookback      = 60 * 24 * time.Hour // prior-admission trach imputation window
	TransferWindow     = 24 * time.Hour      // discharge → next admission for a transfer
	DischargeProximity = 2 * time.Hour       // still ventilated this close to discharge

	DefaultMinAge = 18
)

// Observation is one row of the respiratory support table.
// DeviceCategory is "" when the source value was blank.
type Observation struct {
	HospitalizationID string
	RecordedDttm      time.Time
	DeviceCategory    string
	Tracheostomy      bool
}

// Hospitalization is one admission. Nil timestamps and ages are missing in
// the source data.
type Hospitalization struct {
	PatientID         string
	HospitalizationID string
	AdmissionDttm     *time.Time
	DischargeDttm     *time.Time
	AgeAtAdmission    *float64
	DischargeCategory string
}

// Patient carries the patient-level columns the cohort needs.
type Patient struct {
	PatientID string
	DeathDttm *time.Time
}

// Inputs is the full snapshot the pipeline runs over. Observation order is
// ingestion order and is used to break timestamp ties.
type Inputs struct {
	Observations     []Observation
	Hospitalizations []Hospitalization
	Patients         []Patient
}

// TrachEpisode is the resolved tracheostomy time for one hospitalization.
// Imputed is set when the time was carried over from the preceding admission.
type TrachEpisode struct {
	HospitalizationID string
	FirstTrachDttm    time.Time
	Imputed           bool
}

// IMVRun is a maximal block of consecutive IMV observations.
type IMVRun struct {
	HospitalizationID string
	RunID             int
	BeginIMV          time.Time
	EndIMV            time.Time
}

// MergedRun is one or more IMV runs joined across short gaps.
type MergedRun struct {
	HospitalizationID string
	MergeID           int
	BeginIMV          time.Time
	EndIMV            time.Time
	Runs              int
}

// Hours returns the run duration in fractional hours.
func (m MergedRun) Hours() float64 {
	return m.EndIMV.Sub(m.BeginIMV).Hours()
}

// TransferStatus tags hospitalizations linked by an inter-facility transfer.
type TransferStatus string

const (
	TransferNone      TransferStatus = ""
	TransferOut       TransferStatus = "Transfer Out"
	TransferIn        TransferStatus = "Transfer In"
	TransferInThenOut TransferStatus = "Transfer In then Out"
)

// FinalEpisode is one retained index ventilation episode.
type FinalEpisode struct {
	PatientID         string
	HospitalizationID string
	AdmissionDttm     *time.Time
	DischargeDttm     *time.Time
	BeginIMV          time.Time
	EndIMV            time.Time
	TotalIMVHours     float64
	FirstTrachDttm    *time.Time
	TrachImputed      bool
	DischargeCategory string
	TransferStatus    TransferStatus
	DeathDttm         *time.Time
}

// IsIMV reports whether a device category is invasive mechanical ventilation.
func IsIMV(category string) bool {
	return strings.EqualFold(strings.TrimSpace(category), DeviceIMV)
}

// IsTrachCollar reports whether a device category is a trach collar.
func IsTrachCollar(category string) bool {
	return strings.EqualFold(strings.TrimSpace(category), DeviceTrachCollar)
}

func hospKey(o Observation) string { return o.HospitalizationID }

func byRecorded(a, b Observation) int { return a.RecordedDttm.Compare(b.RecordedDttm) }

func patientKey(h Hospitalization) string { return h.PatientID }

// byAdmission orders by admission time; missing admissions sort last.
func byAdmission(a, b Hospitalization) int {
	switch {
	case a.AdmissionDttm == nil && b.AdmissionDttm == nil:
		return 0
	case a.AdmissionDttm == nil:
		return 1
	case b.AdmissionDttm == nil:
		return -1
	}
	return a.AdmissionDttm.Compare(*b.AdmissionDttm)
}
