package tables

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// CSVReader streams one CLIF table from a delimited text file, optionally
// gzip-compressed (.gz suffix). Columns are looked up by lowercase header
// name, so order and extra columns do not matter.
type CSVReader struct {
	table  string
	file   *os.File
	gz     *gzip.Reader
	csv    *csv.Reader
	rowNum int64
	colIdx map[string]int
}

// NewCSVReader opens path and reads its header. It fails with a
// MissingColumnError when a required column of table is absent.
func NewCSVReader(path, table string) (*CSVReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	r := &CSVReader{table: table, file: file, colIdx: make(map[string]int)}

	var src io.Reader = bufio.NewReaderSize(file, 256*1024)
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		r.gz, err = gzip.NewReader(src)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("gzip %s: %w", path, err)
		}
		src = r.gz
	}

	bufReader := bufio.NewReader(src)
	// Skip UTF-8 BOM if present
	bom, err := bufReader.Peek(3)
	if err == nil && len(bom) >= 3 && bom[0] == 0xEF && bom[1] == 0xBB && bom[2] == 0xBF {
		bufReader.Discard(3)
	}

	reader := csv.NewReader(bufReader)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	r.csv = reader

	if err := r.readHeader(); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *CSVReader) readHeader() error {
	header, err := r.csv.Read()
	if err != nil {
		return fmt.Errorf("read %s header: %w", r.table, err)
	}
	r.rowNum++
	for i, h := range header {
		r.colIdx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range requiredColumns[r.table] {
		if _, ok := r.colIdx[col]; !ok {
			return &MissingColumnError{Table: r.table, Column: col}
		}
	}
	return nil
}

// next returns the next non-empty data row, or io.EOF.
func (r *CSVReader) next() ([]string, error) {
	for {
		row, err := r.csv.Read()
		if err != nil {
			return nil, err
		}
		r.rowNum++
		if len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "") {
			continue
		}
		return row, nil
	}
}

// NextRespiratory decodes the next row of a respiratory support file.
func (r *CSVReader) NextRespiratory() (RespiratoryRow, error) {
	row, err := r.next()
	if err != nil {
		return RespiratoryRow{}, err
	}
	rec, err := optTime(row, r.colIdx, "recorded_dttm")
	if err != nil {
		return RespiratoryRow{}, r.rowErr(err)
	}
	trach, err := optFlag(row, r.colIdx, "tracheostomy")
	if err != nil {
		return RespiratoryRow{}, r.rowErr(err)
	}
	return RespiratoryRow{
		HospitalizationID: valAt(row, r.colIdx, "hospitalization_id"),
		RecordedDttm:      rec,
		DeviceCategory:    optStr(row, r.colIdx, "device_category"),
		Tracheostomy:      trach,
	}, nil
}

// NextHospitalization decodes the next row of a hospitalization file.
func (r *CSVReader) NextHospitalization() (HospitalizationRow, error) {
	row, err := r.next()
	if err != nil {
		return HospitalizationRow{}, err
	}
	admit, err := optTime(row, r.colIdx, "admission_dttm")
	if err != nil {
		return HospitalizationRow{}, r.rowErr(err)
	}
	disch, err := optTime(row, r.colIdx, "discharge_dttm")
	if err != nil {
		return HospitalizationRow{}, r.rowErr(err)
	}
	age, err := optFloat(row, r.colIdx, "age_at_admission")
	if err != nil {
		return HospitalizationRow{}, r.rowErr(err)
	}
	return HospitalizationRow{
		PatientID:         valAt(row, r.colIdx, "patient_id"),
		HospitalizationID: valAt(row, r.colIdx, "hospitalization_id"),
		AdmissionDttm:     admit,
		DischargeDttm:     disch,
		AgeAtAdmission:    age,
		DischargeCategory: optStr(row, r.colIdx, "discharge_category"),
	}, nil
}

// NextPatient decodes the next row of a patient file.
func (r *CSVReader) NextPatient() (PatientRow, error) {
	row, err := r.next()
	if err != nil {
		return PatientRow{}, err
	}
	death, err := optTime(row, r.colIdx, "death_dttm")
	if err != nil {
		return PatientRow{}, r.rowErr(err)
	}
	return PatientRow{
		PatientID: valAt(row, r.colIdx, "patient_id"),
		DeathDttm: death,
	}, nil
}

func (r *CSVReader) rowErr(err error) error {
	return fmt.Errorf("%s row %d: %w", r.table, r.rowNum, err)
}

// RowNum returns the current CSV row number (1-based, header included).
func (r *CSVReader) RowNum() int64 {
	return r.rowNum
}

func (r *CSVReader) Close() error {
	if r.gz != nil {
		r.gz.Close()
	}
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// Column access helpers. Blank and NA-style cells are treated as missing.

func isNull(s string) bool {
	switch strings.ToLower(s) {
	case "", "na", "nan", "nat", "null", "none":
		return true
	}
	return false
}

func valAt(row []string, idx map[string]int, col string) string {
	if i, ok := idx[col]; ok && i < len(row) {
		return strings.ToValidUTF8(strings.TrimSpace(row[i]), "\uFFFD")
	}
	return ""
}

func optStr(row []string, idx map[string]int, col string) *string {
	s := valAt(row, idx, col)
	if isNull(s) {
		return nil
	}
	return &s
}

func optFloat(row []string, idx map[string]int, col string) (*float64, error) {
	s := valAt(row, idx, col)
	if isNull(s) {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", col, err)
	}
	return &f, nil
}

func optFlag(row []string, idx map[string]int, col string) (*int64, error) {
	s := valAt(row, idx, col)
	if isNull(s) {
		return nil, nil
	}
	var v int64
	switch strings.ToLower(s) {
	case "1", "1.0", "true", "t", "yes", "y":
		v = 1
	case "0", "0.0", "false", "f", "no", "n":
		v = 0
	default:
		return nil, fmt.Errorf("%s: invalid flag %q", col, s)
	}
	return &v, nil
}

func optTime(row []string, idx map[string]int, col string) (*time.Time, error) {
	s := valAt(row, idx, col)
	if isNull(s) {
		return nil, nil
	}
	t, err := ParseTime(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", col, err)
	}
	return &t, nil
}
