package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JaimeStill/billwatch/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "billwatch",
	Short: "Regenerate changed billing reports and audit billed rows",
	Long: `billwatch groups billing rows into weekly work units, regenerates the
report of every unit whose content changed since the last run, and audits
already-billed rows for modifications.

Configuration is read from config.toml, config.<BILLWATCH_ENV>.toml and
BILLWATCH_* environment variables.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(runCmd, resetCmd, stateCmd, eventsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// loadConfig reads the configuration for a command.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}
	return cfg, nil
}
