package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"imvcohort/config"
	"imvcohort/store"
	"imvcohort/tables"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "imvcohort",
		Short:         "Build the invasive mechanical ventilation cohort from CLIF tables",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().String("config", "", "Config file (yaml, json or toml)")
	root.PersistentFlags().String("data-dir", "", "Directory holding the clif_* tables")
	root.PersistentFlags().String("file-type", "", "Input format: csv or parquet")
	root.PersistentFlags().String("site-name", "", "Site identifier recorded with each run")
	root.PersistentFlags().String("log-level", "", "trace, debug, info, warn or error")
	root.PersistentFlags().String("log-format", "", "json or console")

	root.AddCommand(runCmd(stderr), checkCmd(stderr), schemaCmd())
	return root
}

func runCmd(stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the cohort pipeline and write its outputs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd, stderr)
			if err != nil {
				return err
			}
			summary, err := runPipeline(cmd.Context(), cfg, log)
			if err != nil {
				log.Error().Err(err).Msg("run failed")
				return err
			}
			printSummary(cmd.OutOrStdout(), summary)
			return nil
		},
	}
	cmd.Flags().String("output-dir", "", "Output directory")
	cmd.Flags().Bool("write-parquet", false, "Also write the episodes as Parquet")
	cmd.Flags().String("pg-url", "", "Export the run to this PostgreSQL database")
	cmd.Flags().String("sqlite-path", "", "Export the run to this SQLite file")
	cmd.Flags().String("metrics-file", "", "Write run metrics to this node-exporter textfile")
	cmd.Flags().Float64("min-age", 0, "Minimum age at admission (default 18)")
	return cmd
}

func checkCmd(stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the input tables and report row counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd, stderr)
			if err != nil {
				return err
			}
			ft, err := tables.ParseFileType(cfg.FileType)
			if err != nil {
				return err
			}
			loader := tables.Loader{DataDir: cfg.DataDir, FileType: ft, Log: log}
			_, stats, err := loader.Load()
			if err != nil {
				log.Error().Err(err).Msg("check failed")
				return err
			}
			out := cmd.OutOrStdout()
			for _, table := range []string{tables.TableRespiratory, tables.TableHospitalization, tables.TablePatient} {
				fmt.Fprintf(out, "  %-22s %8d rows  %s\n", table+":", stats.Rows[table], loader.Path(table))
				fmt.Fprintf(out, "  %-22s %s\n", "", strings.Join(tables.RequiredColumns(table), ", "))
			}
			return nil
		},
	}
}

func schemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the export database DDL",
		RunE: func(cmd *cobra.Command, args []string) error {
			dialect, _ := cmd.Flags().GetString("dialect")
			ddl, err := store.Schema(dialect)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), ddl)
			return nil
		},
	}
	cmd.Flags().String("dialect", store.DialectPostgres, "postgres or sqlite")
	return cmd
}

// setup loads the configuration, with this command's flags bound over the
// file and environment, and builds the logger.
func setup(cmd *cobra.Command, stderr io.Writer) (*config.Config, zerolog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	log, err := newLogger(cfg, stderr)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, log, nil
}

func newLogger(cfg *config.Config, w io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level: %w", err)
	}
	if cfg.LogFormat == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("site", cfg.SiteName).Logger(), nil
}
