package tables

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"imvcohort/cohort"
)

// FileType selects the on-disk format of the input tables.
type FileType string

const (
	FileTypeCSV     FileType = "csv"
	FileTypeParquet FileType = "parquet"
)

// ParseFileType validates a configured file type.
func ParseFileType(s string) (FileType, error) {
	switch ft := FileType(strings.ToLower(strings.TrimSpace(s))); ft {
	case FileTypeCSV, FileTypeParquet:
		return ft, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// LoadStats counts rows read per table.
type LoadStats struct {
	Rows map[string]int
}

// Loader reads the three CLIF input tables from a data directory.
type Loader struct {
	DataDir  string
	FileType FileType
	Log      zerolog.Logger
}

// Path returns the file a table is read from. For CSV a gzip-compressed
// file is used when the plain one does not exist.
func (l Loader) Path(table string) string {
	p := filepath.Join(l.DataDir, "clif_"+table+"."+string(l.FileType))
	if l.FileType == FileTypeCSV {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			if _, err := os.Stat(p + ".gz"); err == nil {
				return p + ".gz"
			}
		}
	}
	return p
}

// Load reads every input table. Any missing file, missing column or
// malformed cell aborts the load.
func (l Loader) Load() (cohort.Inputs, LoadStats, error) {
	if _, err := ParseFileType(string(l.FileType)); err != nil {
		return cohort.Inputs{}, LoadStats{}, err
	}
	stats := LoadStats{Rows: make(map[string]int)}
	var in cohort.Inputs

	resp, err := l.respiratory()
	if err != nil {
		return cohort.Inputs{}, stats, err
	}
	in.Observations = make([]cohort.Observation, len(resp))
	for i, r := range resp {
		in.Observations[i] = r.observation()
	}
	stats.Rows[TableRespiratory] = len(resp)

	hosps, err := l.hospitalizations()
	if err != nil {
		return cohort.Inputs{}, stats, err
	}
	in.Hospitalizations = make([]cohort.Hospitalization, len(hosps))
	for i, r := range hosps {
		in.Hospitalizations[i] = r.hospitalization()
	}
	stats.Rows[TableHospitalization] = len(hosps)

	pats, err := l.patients()
	if err != nil {
		return cohort.Inputs{}, stats, err
	}
	in.Patients = make([]cohort.Patient, len(pats))
	for i, r := range pats {
		in.Patients[i] = r.patient()
	}
	stats.Rows[TablePatient] = len(pats)

	return in, stats, nil
}

func (l Loader) respiratory() ([]RespiratoryRow, error) {
	if l.FileType == FileTypeParquet {
		return timedParquet(l, TableRespiratory, readParquet[RespiratoryRow])
	}
	return readCSV(l, TableRespiratory, (*CSVReader).NextRespiratory)
}

func (l Loader) hospitalizations() ([]HospitalizationRow, error) {
	if l.FileType == FileTypeParquet {
		return timedParquet(l, TableHospitalization, readParquet[HospitalizationRow])
	}
	return readCSV(l, TableHospitalization, (*CSVReader).NextHospitalization)
}

func (l Loader) patients() ([]PatientRow, error) {
	if l.FileType == FileTypeParquet {
		return timedParquet(l, TablePatient, readParquet[PatientRow])
	}
	return readCSV(l, TablePatient, (*CSVReader).NextPatient)
}

func timedParquet[T any](l Loader, table string, read func(path, table string) ([]T, error)) ([]T, error) {
	start := time.Now()
	path := l.Path(table)
	rows, err := read(path, table)
	if err != nil {
		return nil, err
	}
	l.Log.Info().Str("table", table).Str("path", path).Int("rows", len(rows)).
		Dur("elapsed", time.Since(start)).Msg("loaded table")
	return rows, nil
}

func readCSV[T any](l Loader, table string, next func(*CSVReader) (T, error)) ([]T, error) {
	start := time.Now()
	path := l.Path(table)
	reader, err := NewCSVReader(path, table)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var rows []T
	lastLog := time.Now()
	for {
		row, err := next(reader)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		rows = append(rows, row)

		if time.Since(lastLog) >= 5*time.Second {
			l.Log.Info().Str("table", table).Int64("row", reader.RowNum()).Msg("progress")
			lastLog = time.Now()
		}
	}
	l.Log.Info().Str("table", table).Str("path", path).Int("rows", len(rows)).
		Dur("elapsed", time.Since(start)).Msg("loaded table")
	return rows, nil
}
