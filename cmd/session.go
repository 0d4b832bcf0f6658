package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Rana718/crashetl/internal/config"
	"github.com/Rana718/crashetl/internal/database"
	"github.com/Rana718/crashetl/internal/pipeline"
)

// session bundles what every command needs: validated config, a connected
// store and a reporter.
type session struct {
	cfg      *config.Config
	db       database.DatabaseAdapter
	reporter *pipeline.Reporter
}

func (s *session) close() {
	if s.db != nil {
		s.db.Close()
	}
	if s.reporter != nil {
		s.reporter.Close()
	}
}

func (s *session) pipeline(opts ...pipeline.Option) *pipeline.Pipeline {
	opts = append([]pipeline.Option{pipeline.WithReporter(s.reporter)}, opts...)
	return pipeline.New(s.cfg, s.db, opts...)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(cmd, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	return cfg, nil
}

// applyFlags lets command line flags override the config file. Only flags
// the command defines and the user actually set are applied.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("start") {
		cfg.Window.Start, _ = flags.GetString("start")
	}
	if flags.Changed("end") {
		cfg.Window.End, _ = flags.GetString("end")
	}
	if flags.Changed("sequential") {
		sequential, _ := flags.GetBool("sequential")
		cfg.Pipeline.Parallel = !sequential
	}
	if flags.Changed("strict") {
		if strict, _ := flags.GetBool("strict"); strict {
			cfg.Pipeline.Reconcile = config.ReconcileStrict
		}
	}
	if flags.Changed("script") {
		cfg.Transform.Script, _ = flags.GetString("script")
	}
	if flags.Changed("out") {
		cfg.Export.Path, _ = flags.GetString("out")
	}
	if flags.Changed("snapshot-dir") {
		cfg.SnapshotDir, _ = flags.GetString("snapshot-dir")
	}
	if csv, _ := flags.GetBool("csv"); csv {
		cfg.Export.Format = "csv"
	} else if sqlite, _ := flags.GetBool("sqlite"); sqlite {
		cfg.Export.Format = "sqlite"
	} else if jsonFlag, _ := flags.GetBool("json"); jsonFlag {
		cfg.Export.Format = "json"
	}
}

func openSession(ctx context.Context, cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	reporter, err := pipeline.NewReporter(os.Stdout, cfg.LogFile)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, reporter: reporter}

	dbURL, err := cfg.GetDatabaseURL()
	if err != nil {
		s.close()
		return nil, err
	}

	adapter, err := database.NewAdapter(cfg.Database.Provider)
	if err != nil {
		s.close()
		return nil, err
	}
	if err := adapter.Connect(ctx, dbURL); err != nil {
		s.close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	s.db = adapter

	if err := adapter.Ping(ctx); err != nil {
		s.close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return s, nil
}

func addWindowFlags(cmd *cobra.Command) {
	cmd.Flags().String("start", "", "window start, inclusive (e.g. 2024-10-01T00:00:00)")
	cmd.Flags().String("end", "", "window end, exclusive (defaults to today 00:00 UTC)")
}

func addExportFlags(cmd *cobra.Command) {
	cmd.Flags().String("out", "", "export destination path")
	cmd.Flags().Bool("csv", false, "export as CSV")
	cmd.Flags().Bool("json", false, "export as JSON")
	cmd.Flags().Bool("sqlite", false, "export as a SQLite database file")
}
