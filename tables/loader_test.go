package tables

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imvcohort/cohort"
)

const (
	respCSV = `hospitalization_id,recorded_dttm,device_category,tracheostomy
H1,2024-01-01 00:00:00,IMV,0
H1,2024-01-02 12:00:00,Nasal Cannula,0
H2,2024-02-01 00:00:00,IMV,
`
	hospCSV = `patient_id,hospitalization_id,admission_dttm,discharge_dttm,age_at_admission,discharge_category
P1,H1,2023-12-31 20:00:00,2024-01-09 00:00:00,70,Home
P2,H2,2024-01-31 00:00:00,2024-02-05 00:00:00,45,Expired
`
	patientCSV = `patient_id,death_dttm
P1,
P2,2024-02-05 00:00:00
`
)

func ts(s string) *time.Time {
	t, err := ParseTime(s)
	if err != nil {
		panic(err)
	}
	return &t
}

func strPtr(s string) *string { return &s }

func f64Ptr(f float64) *float64 { return &f }

func i64Ptr(i int64) *int64 { return &i }

func writeCSVDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "clif_respiratory_support.csv", respCSV)
	writeFile(t, dir, "clif_hospitalization.csv", hospCSV)
	writeGzip(t, dir, "clif_patient.csv.gz", patientCSV)
	return dir
}

func TestLoaderCSV(t *testing.T) {
	dir := writeCSVDataDir(t)
	l := Loader{DataDir: dir, FileType: FileTypeCSV, Log: zerolog.Nop()}

	assert.Equal(t, filepath.Join(dir, "clif_patient.csv.gz"), l.Path(TablePatient))
	assert.Equal(t, filepath.Join(dir, "clif_hospitalization.csv"), l.Path(TableHospitalization))

	in, stats, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, map[string]int{
		TableRespiratory:     3,
		TableHospitalization: 2,
		TablePatient:         2,
	}, stats.Rows)

	require.Len(t, in.Observations, 3)
	assert.Equal(t, "Nasal Cannula", in.Observations[1].DeviceCategory)
	assert.False(t, in.Observations[2].Tracheostomy)

	require.Len(t, in.Hospitalizations, 2)
	assert.Equal(t, "Expired", in.Hospitalizations[1].DischargeCategory)

	require.Len(t, in.Patients, 2)
	assert.Nil(t, in.Patients[0].DeathDttm)
	require.NotNil(t, in.Patients[1].DeathDttm)
}

func TestLoaderCSVFeedsPipeline(t *testing.T) {
	l := Loader{DataDir: writeCSVDataDir(t), FileType: FileTypeCSV, Log: zerolog.Nop()}
	in, _, err := l.Load()
	require.NoError(t, err)

	res, err := cohort.Build(in, cohort.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)

	// H1 ventilated 36h. H2 has a single IMV row, which ends at itself.
	require.Len(t, res.Episodes, 1)
	ep := res.Episodes[0]
	assert.Equal(t, "H1", ep.HospitalizationID)
	assert.InDelta(t, 36.0, ep.TotalIMVHours, 1e-9)
}

func TestLoaderParquet(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, parquet.WriteFile(filepath.Join(dir, "clif_respiratory_support.parquet"), []RespiratoryRow{
		{HospitalizationID: "H1", RecordedDttm: ts("2024-01-01 00:00:00"), DeviceCategory: strPtr("IMV"), Tracheostomy: i64Ptr(0)},
		{HospitalizationID: "H1", RecordedDttm: ts("2024-01-02 12:00:00"), DeviceCategory: strPtr("Nasal Cannula"), Tracheostomy: i64Ptr(1)},
		{HospitalizationID: "H1", RecordedDttm: nil, DeviceCategory: nil, Tracheostomy: nil},
	}))
	require.NoError(t, parquet.WriteFile(filepath.Join(dir, "clif_hospitalization.parquet"), []HospitalizationRow{
		{PatientID: "P1", HospitalizationID: "H1", AdmissionDttm: ts("2023-12-31 20:00:00"), DischargeDttm: ts("2024-01-09 00:00:00"), AgeAtAdmission: f64Ptr(70), DischargeCategory: strPtr("Home")},
	}))
	require.NoError(t, parquet.WriteFile(filepath.Join(dir, "clif_patient.parquet"), []PatientRow{
		{PatientID: "P1"},
	}))

	l := Loader{DataDir: dir, FileType: FileTypeParquet, Log: zerolog.Nop()}
	in, stats, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Rows[TableRespiratory])

	require.Len(t, in.Observations, 3)
	assert.True(t, in.Observations[0].RecordedDttm.Equal(*ts("2024-01-01 00:00:00")))
	assert.True(t, in.Observations[1].Tracheostomy)
	assert.True(t, in.Observations[2].RecordedDttm.IsZero())
	assert.Equal(t, "", in.Observations[2].DeviceCategory)

	require.Len(t, in.Hospitalizations, 1)
	h := in.Hospitalizations[0]
	require.NotNil(t, h.AgeAtAdmission)
	assert.InDelta(t, 70.0, *h.AgeAtAdmission, 1e-9)
	require.NotNil(t, h.DischargeDttm)
	assert.True(t, h.DischargeDttm.Equal(*ts("2024-01-09 00:00:00")))

	require.Len(t, in.Patients, 1)
	assert.Nil(t, in.Patients[0].DeathDttm)
}

func TestLoaderParquetMissingColumn(t *testing.T) {
	type shortPatient struct {
		PatientID string `parquet:"patient_id"`
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "clif_patient.parquet")
	require.NoError(t, parquet.WriteFile(path, []shortPatient{{PatientID: "P1"}}))

	_, err := readParquet[PatientRow](path, TablePatient)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestLoaderMissingTable(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "clif_respiratory_support.csv", respCSV)

	l := Loader{DataDir: dir, FileType: FileTypeCSV, Log: zerolog.Nop()}
	_, _, err := l.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clif_hospitalization.csv")
}

func TestParseFileType(t *testing.T) {
	ft, err := ParseFileType(" Parquet ")
	require.NoError(t, err)
	assert.Equal(t, FileTypeParquet, ft)

	ft, err = ParseFileType("csv")
	require.NoError(t, err)
	assert.Equal(t, FileTypeCSV, ft)

	_, err = ParseFileType("fst")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	l := Loader{DataDir: t.TempDir(), FileType: "feather", Log: zerolog.Nop()}
	_, _, err = l.Load()
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
