package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"sigetidwh/pkg/errors"
	"sigetidwh/pkg/models"
)

var (
	refreshMode  string
	refreshOnly  string
	refreshTable bool
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Rebuild dimensions, facts and marts from the operational database",
	Long: `Run a refresh: dimensions, then facts, then marts. Tiers run in order;
components within a tier run in parallel. The per-component report is written
to stdout as JSON (or as a table with --table); the command exits 1 when any
component fails.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		policy := models.RefreshPolicy(refreshMode)
		if policy != models.PolicyFull && policy != models.PolicyIncremental {
			return errors.ConfigError(
				fmt.Sprintf("invalid mode %q, want full or incremental", refreshMode), "mode")
		}

		ctx := cmd.Context()
		rt, err := newRuntime(ctx, cfg)
		if err != nil {
			return err
		}
		defer rt.close()

		if err := rt.adapter.Verify(ctx); err != nil {
			return err
		}

		report, err := rt.orchestrator(cfg).Run(ctx, policy, refreshOnly)
		if err != nil {
			return err
		}

		if refreshTable {
			printReportTable(report)
		} else {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(report); err != nil {
				return err
			}
		}

		// Exiting here would skip the deferred close and the logger flush;
		// Execute applies the code after cobra unwinds.
		exitCode = reportExitCode(report)
		return nil
	},
}

// reportExitCode maps a refresh report to the process exit code.
func reportExitCode(report *models.RefreshReport) int {
	if report.Success {
		return 0
	}
	return 1
}

func printReportTable(report *models.RefreshReport) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Component", "Tier", "State", "Rows", "Rejected", "Duration"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, c := range report.Components {
		state := string(c.State)
		switch c.State {
		case models.StateSuccess:
			state = color.GreenString(state)
		case models.StateFailed:
			state = color.RedString(state)
		case models.StateSkipped:
			state = color.YellowString(state)
		}
		table.Append([]string{
			c.Name,
			c.Tier,
			state,
			fmt.Sprintf("%d", c.RowsWritten),
			fmt.Sprintf("%d", c.RowsRejected),
			c.Duration.Round(time.Millisecond).String(),
		})
	}
	table.Render()

	if report.Success {
		color.Green("refresh succeeded in %s",
			report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	} else {
		color.Red("refresh failed: %v", report.Failed())
	}
}

func init() {
	refreshCmd.Flags().StringVar(&refreshMode, "mode", string(models.PolicyFull),
		"refresh policy: full or incremental (facts only; marts always rebuild)")
	refreshCmd.Flags().StringVar(&refreshOnly, "only", "",
		"rebuild a single component by name")
	refreshCmd.Flags().BoolVar(&refreshTable, "table", false,
		"print the report as a table instead of JSON")
	rootCmd.AddCommand(refreshCmd)
}
