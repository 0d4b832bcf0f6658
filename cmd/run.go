package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Rana718/crashetl/internal/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: fetch, load, transform and export",
	Long: `
Run every stage in order for the configured window:

  FETCHING      download crashes, vehicles and persons, write raw snapshots
  LOADING       replace the raw tables with the snapshot contents
  TRANSFORMING  rebuild the collision summary table
  EXPORTING     write the summary to the export path

The run stops at the first failing stage.

Examples:
  crashetl run
  crashetl run --start 2024-10-01T00:00:00 --end 2024-10-08T00:00:00
  crashetl run --sequential --strict --json --out out/summary.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := openSession(ctx, cmd)
		if err != nil {
			return err
		}
		defer s.close()

		report, err := s.pipeline().Run(ctx)
		if err != nil {
			return err
		}
		printReport(report)
		return nil
	},
}

func printReport(report *types.RunReport) {
	bold := color.New(color.Bold)
	bold.Printf("\nRun %s\n", report.RunID)
	color.Cyan("Window: %s\n", report.Window)

	for _, c := range report.Entities {
		line := color.New(color.FgWhite)
		if c.Truncated {
			line = color.New(color.FgYellow)
		}
		line.Printf("  %-10s %8d rows  %4d pages  %4d discarded", c.Entity, c.Rows, c.Pages, c.Discarded)
		if c.Truncated {
			line.Print("  (row cap reached)")
		}
		line.Println()
	}
	for table, n := range report.Orphans {
		if n > 0 {
			color.Yellow("  %d orphaned rows in %s\n", n, table)
		}
	}

	sum := report.Summary
	color.Green("Loaded %d collisions, %d vehicles, %d persons (%.2f vehicles and %.2f persons per crash)\n",
		sum.Collisions, sum.Vehicles, sum.Persons, sum.VehiclesPerCrash, sum.PersonsPerCrash)
	color.Green("Summary exported to %s\n", report.ExportPath)
}

func init() {
	addWindowFlags(runCmd)
	addExportFlags(runCmd)
	runCmd.Flags().Bool("sequential", false, "fetch and load entities one at a time")
	runCmd.Flags().Bool("strict", false, "fail the run on orphaned rows or truncated fetches")
	runCmd.Flags().String("script", "", "transform SQL script (defaults to the built-in summary)")
	runCmd.Flags().String("snapshot-dir", "", "directory for raw snapshots and the manifest")

	rootCmd.AddCommand(runCmd)
}
