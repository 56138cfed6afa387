package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"imvcohort/cohort"
)

// writeSite writes a small CLIF extract:
//   - P1/H1: 48h of IMV, discharged home a week later (kept)
//   - P2/H2: 36h of IMV, transferred out to an acute care hospital (kept)
//   - P2/H3: admitted 2h after H2, 48h of IMV (internal transfer, excluded)
//   - P3/H4: age 10 (excluded)
//   - one observation for an unknown hospitalization (dropped)
func writeSite(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"clif_respiratory_support.csv": `hospitalization_id,recorded_dttm,device_category,tracheostomy
H1,2024-01-01 01:00:00,IMV,0
H1,2024-01-03 01:00:00,Room Air,0
H2,2024-01-01 02:00:00,IMV,0
H2,2024-01-02 14:00:00,Nasal Cannula,0
H3,2024-01-04 03:00:00,IMV,0
H3,2024-01-06 03:00:00,Room Air,0
H4,2024-01-01 00:00:00,IMV,0
H4,2024-01-04 00:00:00,Room Air,0
H99,2024-01-01 00:00:00,IMV,0
`,
		"clif_hospitalization.csv": `patient_id,hospitalization_id,admission_dttm,discharge_dttm,age_at_admission,discharge_category
P1,H1,2024-01-01 00:00:00,2024-01-10 00:00:00,70,Home
P2,H2,2024-01-01 00:00:00,2024-01-04 00:00:00,55,Acute Care Hospital
P2,H3,2024-01-04 02:00:00,2024-01-12 00:00:00,55,Home
P3,H4,2024-01-01 00:00:00,2024-01-08 00:00:00,10,Home
`,
		"clif_patient.csv": `patient_id,death_dttm
P1,
P2,
P3,
`,
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestRunCommand(t *testing.T) {
	dataDir := writeSite(t)
	outDir := filepath.Join(t.TempDir(), "out")
	dbPath := filepath.Join(outDir, "cohort.db")
	promPath := filepath.Join(outDir, "imvcohort.prom")

	stdout, stderr, err := execute(t, "run",
		"--data-dir", dataDir,
		"--file-type", "csv",
		"--site-name", "test",
		"--output-dir", outDir,
		"--write-parquet",
		"--sqlite-path", dbPath,
		"--metrics-file", promPath,
	)
	require.NoError(t, err, stderr)
	assert.Contains(t, stdout, "final:")
	assert.Contains(t, stderr, `"message":"run complete"`)

	t.Run("csv output", func(t *testing.T) {
		f, err := os.Open(filepath.Join(outDir, "imv_episodes_test.csv.gz"))
		require.NoError(t, err)
		defer f.Close()
		gz, err := gzip.NewReader(f)
		require.NoError(t, err)
		var buf bytes.Buffer
		_, err = buf.ReadFrom(gz)
		require.NoError(t, err)

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 3)
		assert.Equal(t, "patient_id,hospitalization_id,admission_dttm,discharge_dttm,begin_imv,end_imv,total_imv_time,first_trach_dttm,discharge_category,transfer_status", lines[0])
		assert.Equal(t, "P1,H1,2024-01-01T00:00:00Z,2024-01-10T00:00:00Z,2024-01-01T01:00:00Z,2024-01-03T01:00:00Z,48,,Home,", lines[1])
		assert.Equal(t, "P2,H2,2024-01-01T00:00:00Z,2024-01-04T00:00:00Z,2024-01-01T02:00:00Z,2024-01-02T14:00:00Z,36,,Acute Care Hospital,Transfer Out", lines[2])
	})

	t.Run("parquet output", func(t *testing.T) {
		fi, err := os.Stat(filepath.Join(outDir, "imv_episodes_test.parquet"))
		require.NoError(t, err)
		assert.Positive(t, fi.Size())
	})

	t.Run("flow json", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(outDir, "cohort_flow_test.json"))
		require.NoError(t, err)
		var ff struct {
			Site string      `json:"site_name"`
			Flow cohort.Flow `json:"flow"`
		}
		require.NoError(t, json.Unmarshal(data, &ff))
		assert.Equal(t, "test", ff.Site)
		assert.Equal(t, cohort.Flow{
			Hospitalizations:    4,
			Adult:               3,
			WithIMV:             3,
			PreTrachIMV:         3,
			WithRun:             3,
			Run24h:              3,
			InternalTransfer:    1,
			MissedTrach:         0,
			Final:               2,
			DroppedObservations: 1,
		}, ff.Flow)
	})

	t.Run("sqlite export", func(t *testing.T) {
		db, err := sql.Open("sqlite", dbPath)
		require.NoError(t, err)
		defer db.Close()

		var runs, episodes int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM cohort_runs WHERE site_name = 'test'`).Scan(&runs))
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM imv_episodes`).Scan(&episodes))
		assert.Equal(t, 1, runs)
		assert.Equal(t, 2, episodes)
	})

	t.Run("metrics textfile", func(t *testing.T) {
		data, err := os.ReadFile(promPath)
		require.NoError(t, err)
		assert.Contains(t, string(data), `imvcohort_episodes{site="test"} 2`)
		assert.Contains(t, string(data), `imvcohort_input_rows{site="test",table="respiratory_support"} 9`)
	})
}

func TestRunCommandTwiceAppendsRuns(t *testing.T) {
	dataDir := writeSite(t)
	outDir := t.TempDir()
	dbPath := filepath.Join(outDir, "cohort.db")
	args := []string{"run", "--data-dir", dataDir, "--file-type", "csv", "--site-name", "s",
		"--output-dir", outDir, "--sqlite-path", dbPath, "--log-level", "error"}

	_, stderr, err := execute(t, args...)
	require.NoError(t, err, stderr)
	_, stderr, err = execute(t, args...)
	require.NoError(t, err, stderr)

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer db.Close()
	var runs int
	require.NoError(t, db.QueryRow(`SELECT COUNT(DISTINCT run_id) FROM imv_episodes`).Scan(&runs))
	assert.Equal(t, 2, runs)
}

func TestRunCommandConfigFile(t *testing.T) {
	dataDir := writeSite(t)
	outDir := t.TempDir()
	cfgPath := filepath.Join(t.TempDir(), "imv.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(
		"data_dir: "+dataDir+"\nfile_type: csv\nsite_name: cfg\noutput_dir: "+outDir+"\nlog_format: console\n"), 0644))

	_, stderr, err := execute(t, "run", "--config", cfgPath)
	require.NoError(t, err, stderr)
	assert.FileExists(t, filepath.Join(outDir, "imv_episodes_cfg.csv.gz"))
	assert.NoFileExists(t, filepath.Join(outDir, "imv_episodes_cfg.parquet"))
}

func TestRunCommandMinAgeZero(t *testing.T) {
	dataDir := writeSite(t)
	outDir := t.TempDir()
	_, stderr, err := execute(t, "run", "--data-dir", dataDir, "--file-type", "csv",
		"--site-name", "kids", "--output-dir", outDir, "--min-age", "0", "--log-level", "error")
	require.NoError(t, err, stderr)

	data, err := os.ReadFile(filepath.Join(outDir, "cohort_flow_kids.json"))
	require.NoError(t, err)
	var ff struct {
		Flow cohort.Flow `json:"flow"`
	}
	require.NoError(t, json.Unmarshal(data, &ff))
	assert.Equal(t, 4, ff.Flow.Adult, "P3/H4 (age 10) is kept")
	assert.Equal(t, 3, ff.Flow.Final)
}

func TestRunCommandMissingInput(t *testing.T) {
	outDir := t.TempDir()
	_, _, err := execute(t, "run", "--data-dir", t.TempDir(), "--file-type", "csv",
		"--site-name", "s", "--output-dir", outDir, "--log-level", "error")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clif_respiratory_support.csv")
	assert.NoFileExists(t, filepath.Join(outDir, "imv_episodes_s.csv.gz"))
}

func TestRunCommandInvalidConfig(t *testing.T) {
	_, _, err := execute(t, "run", "--data-dir", t.TempDir(), "--file-type", "fst", "--site-name", "s")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file_type must be one of")
}

func TestCheckCommand(t *testing.T) {
	dataDir := writeSite(t)
	stdout, stderr, err := execute(t, "check", "--data-dir", dataDir, "--file-type", "csv",
		"--site-name", "s", "--log-level", "error")
	require.NoError(t, err, stderr)
	assert.Contains(t, stdout, "respiratory_support:")
	assert.Contains(t, stdout, "9 rows")
	assert.Contains(t, stdout, "4 rows")
	assert.Contains(t, stdout, "hospitalization_id, recorded_dttm, device_category, tracheostomy")
	assert.Contains(t, stdout, "patient_id, death_dttm")
}

func TestSchemaCommand(t *testing.T) {
	stdout, _, err := execute(t, "schema", "--dialect", "sqlite")
	require.NoError(t, err)
	assert.Contains(t, stdout, "CREATE TABLE IF NOT EXISTS imv_episodes")
	assert.Contains(t, stdout, "trach_imputed      INTEGER")

	_, _, err = execute(t, "schema", "--dialect", "mysql")
	assert.Error(t, err)
}
