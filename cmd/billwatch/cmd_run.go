package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JaimeStill/billwatch/internal/pipeline"
)

var (
	runForce bool
	runJSON  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one regeneration and audit pass",
	Long: `Fetch the billing rows, regenerate every work unit whose content or
artifact changed, and audit billed rows for modifications.

--force regenerates every work unit regardless of stored fingerprints.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runForce, "force", false, "regenerate every work unit")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the run summary as JSON")
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runForce {
		cfg.Run.Force = true
	}

	app, err := NewApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer app.Shutdown()

	runner, err := app.Runner()
	if err != nil {
		return err
	}

	sum, runErr := runner.Run(app.Context())

	out := cmd.OutOrStdout()
	if runJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sum); err != nil {
			return err
		}
	} else {
		printSummary(out, sum)
	}

	if runErr != nil {
		return runErr
	}
	if !sum.Complete {
		return errors.New("run incomplete")
	}
	return nil
}

func printSummary(w io.Writer, sum *pipeline.Summary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintf(tw, "run\t%s\n", sum.RunID)
	fmt.Fprintf(tw, "complete\t%v\n", sum.Complete)
	fmt.Fprintf(tw, "rows\t%d (valid %d, rejected %d, warnings %d)\n", sum.Rows, sum.Valid, len(sum.Rejected), sum.Warnings)
	fmt.Fprintf(tw, "work units\t%d (regenerated %d, skipped %d, failed %d)\n", sum.Units, sum.Regenerated(), sum.Skipped(), sum.Failed())
	fmt.Fprintf(tw, "audit events\t%d\n", sum.AuditEvents)
	fmt.Fprintf(tw, "anomalies\t%d\n", len(sum.Anomalies))
	fmt.Fprintf(tw, "risk\t%s (%d issues)\n", sum.Audit.RiskLevel, sum.Audit.TotalIssues)
	fmt.Fprintf(tw, "trend\t%s (level %+d, issues %+d)\n", sum.Trend.Direction, sum.Trend.LevelDelta, sum.Trend.IssueCountDelta)

	for _, d := range sum.Degraded {
		fmt.Fprintf(tw, "degraded\t%s\n", d)
	}
	for _, e := range sum.Errors {
		fmt.Fprintf(tw, "error\t%s\n", e)
	}
}
