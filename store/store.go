// Package store exports cohort runs to relational databases. Each run is
// recorded in cohort_runs with its attrition counts, and its episodes in
// imv_episodes keyed by run id.
package store

import (
	"bufio"
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"imvcohort/cohort"
)

//go:embed sql/postgres.sql
var postgresDDL string

//go:embed sql/sqlite.sql
var sqliteDDL string

// Dialects accepted by Schema.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// Run is one execution of the cohort pipeline.
type Run struct {
	ID        uuid.UUID
	Site      string
	StartedAt time.Time
	Flow      cohort.Flow
	Episodes  []cohort.FinalEpisode
}

// NewRun stamps a fresh run id.
func NewRun(site string, startedAt time.Time, res *cohort.Result) Run {
	return Run{
		ID:        uuid.New(),
		Site:      site,
		StartedAt: startedAt,
		Flow:      res.Flow,
		Episodes:  res.Episodes,
	}
}

// Sink receives completed runs. WriteRun is all-or-nothing.
type Sink interface {
	InitSchema(ctx context.Context) error
	WriteRun(ctx context.Context, run Run) error
	Close() error
}

// Schema returns the DDL script for a dialect.
func Schema(dialect string) (string, error) {
	switch strings.ToLower(dialect) {
	case DialectPostgres:
		return postgresDDL, nil
	case DialectSQLite:
		return sqliteDDL, nil
	}
	return "", fmt.Errorf("unknown dialect %q", dialect)
}

// SplitStatements splits a semicolon-terminated DDL script into executable
// statements, dropping blank lines and "--" comment lines.
func SplitStatements(ddl string) []string {
	scanner := bufio.NewScanner(strings.NewReader(ddl))
	var stmts []string
	var current strings.Builder

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			stmts = append(stmts, stmt)
		}
		current.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}
	flush()
	return stmts
}

// episodeColumns is the column order of imv_episodes inserts.
var episodeColumns = []string{
	"run_id", "patient_id", "hospitalization_id", "admission_dttm", "discharge_dttm",
	"begin_imv", "end_imv", "total_imv_time", "first_trach_dttm", "trach_imputed",
	"discharge_category", "transfer_status", "death_dttm",
}

const insertRunSQL = `INSERT INTO cohort_runs (
	run_id, site_name, started_at, hospitalizations, adult, with_imv, pre_trach_imv,
	with_run, run_24h, internal_transfer, missed_trach, final_episodes, dropped_observations
) VALUES (%s)`

func flowArgs(f cohort.Flow) []any {
	return []any{
		f.Hospitalizations, f.Adult, f.WithIMV, f.PreTrachIMV,
		f.WithRun, f.Run24h, f.InternalTransfer, f.MissedTrach, f.Final, f.DroppedObservations,
	}
}

func placeholders(n int, format func(i int) string) string {
	p := make([]string, n)
	for i := range p {
		p[i] = format(i + 1)
	}
	return strings.Join(p, ", ")
}
