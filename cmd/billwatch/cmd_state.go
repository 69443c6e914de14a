package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JaimeStill/billwatch/internal/audit"
	"github.com/JaimeStill/billwatch/internal/hashstore"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the persisted audit state and hash history size",
	RunE:  runState,
}

type stateView struct {
	Audit        audit.State `json:"audit"`
	AuditError   string      `json:"auditError,omitempty"`
	HashRecords  int         `json:"hashRecords"`
	HashDegraded string      `json:"hashDegraded,omitempty"`
}

func runState(cmd *cobra.Command, _ []string) error {
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
	var view stateView

	view.Audit, err = audit.LoadState(ctx, app.infra.State)
	if err != nil {
		view.AuditError = err.Error()
	}

	hashes := hashstore.Open(ctx, app.infra.State, app.infra.Logger)
	view.HashRecords = hashes.Len()
	if err := hashes.Degraded(); err != nil {
		view.HashDegraded = err.Error()
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(view); err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	return nil
}
