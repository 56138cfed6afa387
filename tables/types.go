package tables

import (
	"time"

	"imvcohort/cohort"
)

// Input tables, named as in the CLIF data release. Files are
// <data_dir>/clif_<table>.<ext>.
const (
	TableRespiratory     = "respiratory_support"
	TableHospitalization = "hospitalization"
	TablePatient         = "patient"
)

// requiredColumns is the column contract for each input table. Extra columns
// are ignored.
var requiredColumns = map[string][]string{
	TableRespiratory:     {"hospitalization_id", "recorded_dttm", "device_category", "tracheostomy"},
	TableHospitalization: {"patient_id", "hospitalization_id", "admission_dttm", "discharge_dttm", "age_at_admission", "discharge_category"},
	TablePatient:         {"patient_id", "death_dttm"},
}

// RequiredColumns returns the columns a table must carry.
func RequiredColumns(table string) []string {
	return append([]string(nil), requiredColumns[table]...)
}

// RespiratoryRow is one respiratory support observation as stored on disk.
// Optional (*type) fields map to Parquet nulls and blank CSV cells.
type RespiratoryRow struct {
	HospitalizationID string     `parquet:"hospitalization_id"`
	RecordedDttm      *time.Time `parquet:"recorded_dttm,optional,timestamp(microsecond)"`
	DeviceCategory    *string    `parquet:"device_category,optional"`
	Tracheostomy      *int64     `parquet:"tracheostomy,optional"`
}

// HospitalizationRow is one admission as stored on disk.
type HospitalizationRow struct {
	PatientID         string     `parquet:"patient_id"`
	HospitalizationID string     `parquet:"hospitalization_id"`
	AdmissionDttm     *time.Time `parquet:"admission_dttm,optional,timestamp(microsecond)"`
	DischargeDttm     *time.Time `parquet:"discharge_dttm,optional,timestamp(microsecond)"`
	AgeAtAdmission    *float64   `parquet:"age_at_admission,optional"`
	DischargeCategory *string    `parquet:"discharge_category,optional"`
}

// PatientRow is one patient as stored on disk.
type PatientRow struct {
	PatientID string     `parquet:"patient_id"`
	DeathDttm *time.Time `parquet:"death_dttm,optional,timestamp(microsecond)"`
}

// EpisodeRow is one output episode. Column order matches the CSV output;
// the Parquet file carries the audit columns after it.
type EpisodeRow struct {
	PatientID         string     `parquet:"patient_id"`
	HospitalizationID string     `parquet:"hospitalization_id"`
	AdmissionDttm     *time.Time `parquet:"admission_dttm,optional,timestamp(microsecond)"`
	DischargeDttm     *time.Time `parquet:"discharge_dttm,optional,timestamp(microsecond)"`
	BeginIMV          time.Time  `parquet:"begin_imv,timestamp(microsecond)"`
	EndIMV            time.Time  `parquet:"end_imv,timestamp(microsecond)"`
	TotalIMVTime      float64    `parquet:"total_imv_time"`
	FirstTrachDttm    *time.Time `parquet:"first_trach_dttm,optional,timestamp(microsecond)"`
	DischargeCategory *string    `parquet:"discharge_category,optional"`
	TransferStatus    *string    `parquet:"transfer_status,optional"`

	TrachImputed bool       `parquet:"trach_imputed"`
	DeathDttm    *time.Time `parquet:"death_dttm,optional,timestamp(microsecond)"`
}

// EpisodeColumns is the header of the CSV output.
var EpisodeColumns = []string{
	"patient_id", "hospitalization_id", "admission_dttm", "discharge_dttm",
	"begin_imv", "end_imv", "total_imv_time", "first_trach_dttm",
	"discharge_category", "transfer_status",
}

func (r RespiratoryRow) observation() cohort.Observation {
	o := cohort.Observation{
		HospitalizationID: r.HospitalizationID,
		DeviceCategory:    deref(r.DeviceCategory),
		Tracheostomy:      r.Tracheostomy != nil && *r.Tracheostomy == 1,
	}
	if r.RecordedDttm != nil {
		o.RecordedDttm = *r.RecordedDttm
	}
	return o
}

func (r HospitalizationRow) hospitalization() cohort.Hospitalization {
	return cohort.Hospitalization{
		PatientID:         r.PatientID,
		HospitalizationID: r.HospitalizationID,
		AdmissionDttm:     r.AdmissionDttm,
		DischargeDttm:     r.DischargeDttm,
		AgeAtAdmission:    r.AgeAtAdmission,
		DischargeCategory: deref(r.DischargeCategory),
	}
}

func (r PatientRow) patient() cohort.Patient {
	return cohort.Patient{PatientID: r.PatientID, DeathDttm: r.DeathDttm}
}

// NewEpisodeRow converts a cohort episode to its stored form.
func NewEpisodeRow(ep cohort.FinalEpisode) EpisodeRow {
	return EpisodeRow{
		PatientID:         ep.PatientID,
		HospitalizationID: ep.HospitalizationID,
		AdmissionDttm:     ep.AdmissionDttm,
		DischargeDttm:     ep.DischargeDttm,
		BeginIMV:          ep.BeginIMV,
		EndIMV:            ep.EndIMV,
		TotalIMVTime:      ep.TotalIMVHours,
		FirstTrachDttm:    ep.FirstTrachDttm,
		DischargeCategory: optString(ep.DischargeCategory),
		TransferStatus:    optString(string(ep.TransferStatus)),
		TrachImputed:      ep.TrachImputed,
		DeathDttm:         ep.DeathDttm,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
