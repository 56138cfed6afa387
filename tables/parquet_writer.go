package tables

import (
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"

	"imvcohort/cohort"
)

// EpisodeParquetWriter writes episodes, audit columns included, to a
// Parquet file. Like the CSV writer it renames a temporary file into place
// on Close.
//
// Zstd keeps the file small; one episode per hospitalization means a single
// row group for any realistic site, so no row-group tuning is applied.
type EpisodeParquetWriter struct {
	path   string
	tmp    string
	file   *os.File
	writer *parquet.GenericWriter[EpisodeRow]
	count  int
}

// NewEpisodeParquetWriter creates the writer.
func NewEpisodeParquetWriter(path string) (*EpisodeParquetWriter, error) {
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("create parquet file: %w", err)
	}

	writer := parquet.NewGenericWriter[EpisodeRow](file,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedDefault}),
		parquet.DataPageStatistics(true),
		parquet.CreatedBy("imvcohort", "1.0", ""),
	)

	return &EpisodeParquetWriter{path: path, tmp: tmp, file: file, writer: writer}, nil
}

// Write writes a batch of episodes.
func (w *EpisodeParquetWriter) Write(eps []cohort.FinalEpisode) (int, error) {
	rows := make([]EpisodeRow, len(eps))
	for i, ep := range eps {
		rows[i] = NewEpisodeRow(ep)
	}
	n, err := w.writer.Write(rows)
	w.count += n
	if err != nil {
		return n, fmt.Errorf("write parquet rows: %w", err)
	}
	return n, nil
}

// Close flushes the final row group and moves the file into place.
func (w *EpisodeParquetWriter) Close() error {
	if err := w.writer.Close(); err != nil {
		w.file.Close()
		os.Remove(w.tmp)
		return fmt.Errorf("close parquet writer: %w", err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(w.tmp)
		return fmt.Errorf("close parquet file: %w", err)
	}
	if err := os.Rename(w.tmp, w.path); err != nil {
		os.Remove(w.tmp)
		return fmt.Errorf("rename parquet file: %w", err)
	}
	return nil
}

// Abort discards the output.
func (w *EpisodeParquetWriter) Abort() {
	w.file.Close()
	os.Remove(w.tmp)
}

// Count returns the total number of rows written.
func (w *EpisodeParquetWriter) Count() int {
	return w.count
}
