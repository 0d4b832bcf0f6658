package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Rana718/crashetl/internal/snapshot"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download the window and write raw snapshots",
	Long: `
Fetch crashes, vehicles and persons for the window, write one raw
snapshot per entity plus a manifest to the snapshot directory, and
report orphaned rows. Nothing is written to the database.

Examples:
  crashetl fetch --start 2024-10-01T00:00:00 --end 2024-10-02T00:00:00`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := openSession(ctx, cmd)
		if err != nil {
			return err
		}
		defer s.close()

		result, err := s.pipeline().Fetch(ctx, snapshot.NewRunID())
		if err != nil {
			return err
		}
		color.Green("Manifest %s written for run %s\n", s.cfg.ManifestPath(), result.Manifest.RunID)
		return nil
	},
}

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load the latest raw snapshots into the database",
	Long: `
Read the manifest in the snapshot directory, verify every snapshot
checksum and replace the raw tables with the snapshot contents.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := openSession(ctx, cmd)
		if err != nil {
			return err
		}
		defer s.close()

		sum, err := s.pipeline().LoadSnapshots(ctx)
		if err != nil {
			return err
		}
		color.Green("Loaded %d collisions, %d vehicles, %d persons\n", sum.Collisions, sum.Vehicles, sum.Persons)
		return nil
	},
}

var transformCmd = &cobra.Command{
	Use:   "transform",
	Short: "Rebuild the collision summary table",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := openSession(ctx, cmd)
		if err != nil {
			return err
		}
		defer s.close()

		if dry, _ := cmd.Flags().GetBool("print"); dry {
			script, err := s.pipeline().Script()
			if err != nil {
				return err
			}
			fmt.Println(script)
			return nil
		}
		return s.pipeline().Transform(ctx)
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the collision summary table",
	Long: `
Export the summary table to a file.
Supported formats: csv (default), json, sqlite

Examples:
  crashetl export
  crashetl export --json --out out/summary.json
  crashetl export --sqlite --out out/summary.db`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer s.close()

		_, err = s.pipeline().Export(cmd.Context())
		return err
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the raw and summary tables in the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer s.close()

		statuses, err := s.pipeline().Status(cmd.Context())
		if err != nil {
			return err
		}

		color.New(color.Bold).Printf("%-28s %10s\n", "TABLE", "ROWS")
		for _, st := range statuses {
			if !st.Exists {
				color.Yellow("%-28s %10s\n", st.Name, "missing")
				continue
			}
			color.Green("%-28s %10d\n", st.Name, st.Rows)
		}

		if m, err := snapshot.ReadManifest(s.cfg.ManifestPath()); err == nil {
			color.Cyan("\nLast snapshot: run %s at %s\n", m.RunID, m.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	addWindowFlags(fetchCmd)
	fetchCmd.Flags().Bool("sequential", false, "fetch entities one at a time")
	fetchCmd.Flags().Bool("strict", false, "fail on orphaned rows or truncated fetches")
	fetchCmd.Flags().String("snapshot-dir", "", "directory for raw snapshots and the manifest")

	loadCmd.Flags().Bool("sequential", false, "load entities one at a time")
	loadCmd.Flags().String("snapshot-dir", "", "directory holding the raw snapshots and manifest")

	transformCmd.Flags().String("script", "", "transform SQL script (defaults to the built-in summary)")
	transformCmd.Flags().Bool("print", false, "print the script instead of running it")

	addExportFlags(exportCmd)

	rootCmd.AddCommand(fetchCmd, loadCmd, transformCmd, exportCmd, statusCmd)
}
