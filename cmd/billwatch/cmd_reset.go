package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JaimeStill/billwatch/internal/hashstore"
)

var (
	resetWorkRequest string
	resetAll         bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget stored fingerprints so the next run regenerates",
	Long: `Remove hash records for one work request (--work-request) or for every
work unit (--all). The next run treats the affected work units as new.`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().StringVar(&resetWorkRequest, "work-request", "", "work request id to reset")
	resetCmd.Flags().BoolVar(&resetAll, "all", false, "reset every work unit")
	resetCmd.MarkFlagsMutuallyExclusive("work-request", "all")
	resetCmd.MarkFlagsOneRequired("work-request", "all")
}

func runReset(cmd *cobra.Command, _ []string) error {
	if !resetAll && resetWorkRequest == "" {
		return errors.New("--work-request must not be empty")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	app, err := NewApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer app.Shutdown()

	ctx := app.Context()
	hashes := hashstore.Open(ctx, app.infra.State, app.infra.Logger)
	if err := hashes.Degraded(); err != nil {
		return fmt.Errorf("refusing to rewrite unreadable hash history: %w", err)
	}

	removed := hashes.RemoveWorkRequest(resetWorkRequest)
	if err := hashes.Save(ctx); err != nil {
		return err
	}

	target := resetWorkRequest
	if resetAll {
		target = "all work requests"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "reset %s: %d record(s) removed, %d remaining\n", target, removed, hashes.Len())
	return nil
}
