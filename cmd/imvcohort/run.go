package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"imvcohort/cohort"
	"imvcohort/config"
	"imvcohort/metrics"
	"imvcohort/store"
	"imvcohort/tables"
)

// runSummary is what a completed run reports.
type runSummary struct {
	Run     store.Run
	Inputs  tables.LoadStats
	Outputs []string
	Elapsed time.Duration
}

// runPipeline loads the inputs, builds the cohort, and writes every
// configured output. Files are written before any database export, so a
// failed export still leaves the cohort on disk.
func runPipeline(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*runSummary, error) {
	start := time.Now()

	ft, err := tables.ParseFileType(cfg.FileType)
	if err != nil {
		return nil, err
	}
	loader := tables.Loader{DataDir: cfg.DataDir, FileType: ft, Log: log}
	in, stats, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load inputs: %w", err)
	}

	res, err := cohort.Build(in, cohort.Options{MinAge: &cfg.MinAge, Logger: log})
	if err != nil {
		return nil, fmt.Errorf("build cohort: %w", err)
	}
	run := store.NewRun(cfg.SiteName, start.UTC(), res)
	log = log.With().Str("run_id", run.ID.String()).Logger()

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	outputs, err := writeFiles(cfg, run)
	if err != nil {
		return nil, err
	}
	for _, p := range outputs {
		log.Info().Str("path", p).Msg("wrote output")
	}

	sinks, err := openSinks(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	for _, s := range sinks {
		err := exportRun(ctx, s, run)
		if cerr := s.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close sink: %w", cerr)
		}
		if err != nil {
			return nil, err
		}
	}

	elapsed := time.Since(start)
	if cfg.MetricsFile != "" {
		rec := metrics.NewRecorder(cfg.SiteName)
		rec.ObserveInputs(stats.Rows)
		rec.ObserveFlow(res.Flow)
		rec.ObserveDuration(elapsed, time.Now())
		if err := rec.WriteTextfile(cfg.MetricsFile); err != nil {
			return nil, fmt.Errorf("write metrics: %w", err)
		}
		outputs = append(outputs, cfg.MetricsFile)
	}

	log.Info().Int("episodes", len(run.Episodes)).Dur("elapsed", elapsed).Msg("run complete")
	return &runSummary{Run: run, Inputs: stats, Outputs: outputs, Elapsed: elapsed}, nil
}

// writeFiles writes the episode CSV, the optional Parquet copy and the
// attrition flow JSON under the output directory.
func writeFiles(cfg *config.Config, run store.Run) ([]string, error) {
	var outputs []string

	csvPath := filepath.Join(cfg.OutputDir, fmt.Sprintf("imv_episodes_%s.csv.gz", cfg.SiteName))
	cw, err := tables.NewEpisodeCSVWriter(csvPath)
	if err != nil {
		return nil, err
	}
	if err := cw.Write(run.Episodes); err != nil {
		cw.Abort()
		return nil, err
	}
	if err := cw.Close(); err != nil {
		return nil, err
	}
	outputs = append(outputs, csvPath)

	if cfg.WriteParquet {
		pqPath := filepath.Join(cfg.OutputDir, fmt.Sprintf("imv_episodes_%s.parquet", cfg.SiteName))
		pw, err := tables.NewEpisodeParquetWriter(pqPath)
		if err != nil {
			return nil, err
		}
		if _, err := pw.Write(run.Episodes); err != nil {
			pw.Abort()
			return nil, err
		}
		if err := pw.Close(); err != nil {
			return nil, err
		}
		outputs = append(outputs, pqPath)
	}

	flowPath := filepath.Join(cfg.OutputDir, fmt.Sprintf("cohort_flow_%s.json", cfg.SiteName))
	if err := writeFlow(flowPath, run); err != nil {
		return nil, err
	}
	outputs = append(outputs, flowPath)
	return outputs, nil
}

type flowFile struct {
	RunID     string              `json:"run_id"`
	Site      string              `json:"site_name"`
	StartedAt time.Time           `json:"started_at"`
	Flow      cohort.Flow         `json:"flow"`
	Stages    []cohort.StageCount `json:"stages"`
}

func writeFlow(path string, run store.Run) error {
	data, err := json.MarshalIndent(flowFile{
		RunID:     run.ID.String(),
		Site:      run.Site,
		StartedAt: run.StartedAt,
		Flow:      run.Flow,
		Stages:    run.Flow.Stages(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal flow: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write flow: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename flow: %w", err)
	}
	return nil
}

func openSinks(ctx context.Context, cfg *config.Config, log zerolog.Logger) ([]store.Sink, error) {
	var sinks []store.Sink
	if cfg.SQLitePath != "" {
		s, err := store.NewSQLiteSink(cfg.SQLitePath, log)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("path", s.Path()).Msg("sqlite export enabled")
		sinks = append(sinks, s)
	}
	if cfg.PGURL != "" {
		s, err := store.NewPGSink(ctx, cfg.PGURL, log)
		if err != nil {
			for _, open := range sinks {
				open.Close()
			}
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

func exportRun(ctx context.Context, s store.Sink, run store.Run) error {
	if err := s.InitSchema(ctx); err != nil {
		return err
	}
	return s.WriteRun(ctx, run)
}

func printSummary(w io.Writer, s *runSummary) {
	fmt.Fprintf(w, "Run %s done in %s\n", s.Run.ID, s.Elapsed.Round(time.Millisecond))
	for _, table := range []string{tables.TableRespiratory, tables.TableHospitalization, tables.TablePatient} {
		fmt.Fprintf(w, "  %-22s %8d rows\n", table+":", s.Inputs.Rows[table])
	}
	fmt.Fprintln(w)
	for _, st := range s.Run.Flow.Stages() {
		fmt.Fprintf(w, "  %-22s %8d\n", st.Stage+":", st.Count)
	}
	fmt.Fprintf(w, "  %-22s %8d\n", "missed_trach:", s.Run.Flow.MissedTrach)
	fmt.Fprintf(w, "  %-22s %8d\n", "dropped_observations:", s.Run.Flow.DroppedObservations)
	fmt.Fprintln(w)
	for _, p := range s.Outputs {
		fmt.Fprintf(w, "  -> %s\n", p)
	}
}
