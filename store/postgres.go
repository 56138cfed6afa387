package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"imvcohort/cohort"
)

// PGSink writes runs to PostgreSQL. Episodes are bulk-loaded with COPY in
// the same transaction as their cohort_runs row.
type PGSink struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewPGSink connects and pings the server.
func NewPGSink(ctx context.Context, connStr string, log zerolog.Logger) (*PGSink, error) {
	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection: %w", err)
	}
	poolConfig.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	log.Info().Str("host", poolConfig.ConnConfig.Host).Msg("connected to postgres")
	return &PGSink{pool: pool, log: log}, nil
}

// Pool exposes the underlying pool.
func (s *PGSink) Pool() *pgxpool.Pool { return s.pool }

func (s *PGSink) InitSchema(ctx context.Context) error {
	for _, stmt := range SplitStatements(postgresDDL) {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *PGSink) WriteRun(ctx context.Context, run Run) error {
	start := time.Now()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	runID := pgtype.UUID{Bytes: run.ID, Valid: true}
	args := append([]any{runID, run.Site, run.StartedAt}, flowArgs(run.Flow)...)
	sql := fmt.Sprintf(insertRunSQL, placeholders(len(args), func(i int) string { return fmt.Sprintf("$%d", i) }))
	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert cohort_run: %w", err)
	}

	rows := make([][]any, len(run.Episodes))
	for i, ep := range run.Episodes {
		rows[i] = pgEpisodeRow(runID, ep)
	}
	copied, err := tx.CopyFrom(ctx, pgx.Identifier{"imv_episodes"}, episodeColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy imv_episodes: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.log.Info().Str("run_id", run.ID.String()).Int64("episodes", copied).
		Dur("elapsed", time.Since(start)).Msg("run written to postgres")
	return nil
}

func (s *PGSink) Close() error {
	s.pool.Close()
	return nil
}

func pgEpisodeRow(runID pgtype.UUID, ep cohort.FinalEpisode) []any {
	return []any{
		runID,
		sanitizeUTF8(ep.PatientID),
		sanitizeUTF8(ep.HospitalizationID),
		optToPgTimestamptz(ep.AdmissionDttm),
		optToPgTimestamptz(ep.DischargeDttm),
		ep.BeginIMV,
		ep.EndIMV,
		ep.TotalIMVHours,
		optToPgTimestamptz(ep.FirstTrachDttm),
		ep.TrachImputed,
		optToPgText(ep.DischargeCategory),
		optToPgText(string(ep.TransferStatus)),
		optToPgTimestamptz(ep.DeathDttm),
	}
}

// pgtype helpers

func sanitizeUTF8(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

func optToPgText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: sanitizeUTF8(s), Valid: true}
}

func optToPgTimestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil || t.IsZero() {
		return pgtype.Timestamptz{Valid: false}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}
