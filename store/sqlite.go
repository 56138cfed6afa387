package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"imvcohort/cohort"
)

// SQLiteSink writes runs to a single-file SQLite database.
type SQLiteSink struct {
	db   *sql.DB
	path string
	log  zerolog.Logger
}

// NewSQLiteSink opens (creating if needed) the database at path.
func NewSQLiteSink(path string, log zerolog.Logger) (*SQLiteSink, error) {
	if path == "" {
		return nil, errors.New("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; also keeps PRAGMAs applied to the only connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return &SQLiteSink{db: db, path: path, log: log}, nil
}

// DB exposes the underlying handle.
func (s *SQLiteSink) DB() *sql.DB { return s.db }

// Path returns the database file.
func (s *SQLiteSink) Path() string { return s.path }

func (s *SQLiteSink) InitSchema(ctx context.Context) error {
	for _, stmt := range SplitStatements(sqliteDDL) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteSink) WriteRun(ctx context.Context, run Run) (retErr error) {
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	runID := run.ID.String()
	args := append([]any{runID, run.Site, sqliteTime(run.StartedAt)}, flowArgs(run.Flow)...)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(insertRunSQL, placeholders(len(args), func(int) string { return "?" })), args...); err != nil {
		return fmt.Errorf("insert cohort_run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO imv_episodes (%s) VALUES (%s)",
		strings.Join(episodeColumns, ", "),
		placeholders(len(episodeColumns), func(int) string { return "?" })))
	if err != nil {
		return fmt.Errorf("prepare imv_episodes: %w", err)
	}
	defer stmt.Close()

	for _, ep := range run.Episodes {
		if _, err := stmt.ExecContext(ctx, sqliteEpisodeRow(runID, ep)...); err != nil {
			return fmt.Errorf("insert episode %s: %w", ep.HospitalizationID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.log.Info().Str("run_id", runID).Int("episodes", len(run.Episodes)).
		Dur("elapsed", time.Since(start)).Msg("run written to sqlite")
	return nil
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

func sqliteEpisodeRow(runID string, ep cohort.FinalEpisode) []any {
	imputed := 0
	if ep.TrachImputed {
		imputed = 1
	}
	return []any{
		runID,
		ep.PatientID,
		ep.HospitalizationID,
		sqliteOptTime(ep.AdmissionDttm),
		sqliteOptTime(ep.DischargeDttm),
		sqliteTime(ep.BeginIMV),
		sqliteTime(ep.EndIMV),
		ep.TotalIMVHours,
		sqliteOptTime(ep.FirstTrachDttm),
		imputed,
		sqliteOptText(ep.DischargeCategory),
		sqliteOptText(string(ep.TransferStatus)),
		sqliteOptTime(ep.DeathDttm),
	}
}

func sqliteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func sqliteOptTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return sqliteTime(*t)
}

func sqliteOptText(s string) any {
	if s == "" {
		return nil
	}
	return s
}
