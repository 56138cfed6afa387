package tables

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/klauspost/compress/gzip"

	"imvcohort/cohort"
)

// EpisodeCSVWriter writes episodes as gzip-compressed CSV. Output goes to a
// temporary file that is renamed into place by Close, so a failed run never
// leaves a partial cohort behind.
type EpisodeCSVWriter struct {
	path  string
	tmp   string
	file  *os.File
	gz    *gzip.Writer
	csv   *csv.Writer
	count int
}

// NewEpisodeCSVWriter creates the writer and emits the header row.
func NewEpisodeCSVWriter(path string) (*EpisodeCSVWriter, error) {
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}
	gz, err := gzip.NewWriterLevel(file, gzip.DefaultCompression)
	if err != nil {
		file.Close()
		os.Remove(tmp)
		return nil, fmt.Errorf("gzip writer: %w", err)
	}
	w := &EpisodeCSVWriter{path: path, tmp: tmp, file: file, gz: gz, csv: csv.NewWriter(gz)}
	if err := w.csv.Write(EpisodeColumns); err != nil {
		w.Abort()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return w, nil
}

// Write appends a batch of episodes.
func (w *EpisodeCSVWriter) Write(eps []cohort.FinalEpisode) error {
	for _, ep := range eps {
		if err := w.csv.Write(episodeRecord(ep)); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
		w.count++
	}
	return nil
}

// Close flushes all layers and moves the file into place.
func (w *EpisodeCSVWriter) Close() error {
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		w.Abort()
		return fmt.Errorf("flush csv: %w", err)
	}
	if err := w.gz.Close(); err != nil {
		w.Abort()
		return fmt.Errorf("close gzip: %w", err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(w.tmp)
		return fmt.Errorf("close csv file: %w", err)
	}
	if err := os.Rename(w.tmp, w.path); err != nil {
		os.Remove(w.tmp)
		return fmt.Errorf("rename csv file: %w", err)
	}
	return nil
}

// Abort discards the output.
func (w *EpisodeCSVWriter) Abort() {
	w.gz.Close()
	w.file.Close()
	os.Remove(w.tmp)
}

// Count returns the number of episodes written.
func (w *EpisodeCSVWriter) Count() int {
	return w.count
}

func episodeRecord(ep cohort.FinalEpisode) []string {
	return []string{
		ep.PatientID,
		ep.HospitalizationID,
		FormatTime(ep.AdmissionDttm),
		FormatTime(ep.DischargeDttm),
		FormatTime(&ep.BeginIMV),
		FormatTime(&ep.EndIMV),
		strconv.FormatFloat(ep.TotalIMVHours, 'f', -1, 64),
		FormatTime(ep.FirstTrachDttm),
		ep.DischargeCategory,
		string(ep.TransferStatus),
	}
}
