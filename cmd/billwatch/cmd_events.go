package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/JaimeStill/billwatch/internal/audit"
	"github.com/JaimeStill/billwatch/pkg/pagination"
	"github.com/JaimeStill/billwatch/pkg/query"
)

var (
	eventsPage     int
	eventsPageSize int
	eventsSort     string
	eventsSearch   string
	eventsRun      string
	eventsWR       string
	eventsField    string
	eventsSince    string
	eventsJSON     bool
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List recorded audit events",
	Long: `List audit events from the configured sink, newest first.

--sort takes a comma-separated list of fields; prefix a field with "-" to sort
descending (for example "workRequestId,-detectedAt").`,
	RunE: runEvents,
}

func init() {
	f := eventsCmd.Flags()
	f.IntVar(&eventsPage, "page", 1, "page number")
	f.IntVar(&eventsPageSize, "page-size", 0, "events per page (0 uses the configured default)")
	f.StringVar(&eventsSort, "sort", "", "sort fields")
	f.StringVar(&eventsSearch, "search", "", "match work request, sheet, or row ids")
	f.StringVar(&eventsRun, "run", "", "only events from this run id")
	f.StringVar(&eventsWR, "work-request", "", "only events for this work request id")
	f.StringVar(&eventsField, "field", "", "only changes to this field")
	f.StringVar(&eventsSince, "since", "", "only events detected on or after this date (YYYY-MM-DD or RFC 3339)")
	f.BoolVar(&eventsJSON, "json", false, "print the page as JSON")
}

func runEvents(cmd *cobra.Command, _ []string) error {
	filters, err := eventFilters()
	if err != nil {
		return err
	}

	page := pagination.PageRequest{
		Page:     eventsPage,
		PageSize: eventsPageSize,
		Sort:     query.ParseSortFields(eventsSort),
		Search:   optional(eventsSearch),
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

	result, err := app.EventLog().List(app.Context(), page, filters)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}

	out := cmd.OutOrStdout()
	if eventsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	printEvents(out, result)
	return nil
}

func eventFilters() (audit.Filters, error) {
	filters := audit.Filters{
		RunID:         optional(eventsRun),
		WorkRequestID: optional(eventsWR),
		Field:         optional(eventsField),
	}

	if eventsSince != "" {
		since, err := parseSince(eventsSince)
		if err != nil {
			return audit.Filters{}, err
		}
		filters.Since = &since
	}
	return filters, nil
}

func parseSince(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: want YYYY-MM-DD or RFC 3339", s)
	}
	return t, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func printEvents(w io.Writer, page *pagination.PageResult[audit.Event]) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "DETECTED\tRUN\tWORK REQUEST\tWEEK ENDING\tROW\tFIELD\tOLD\tNEW\tDELTA")
	for _, e := range page.Data {
		week := ""
		if !e.WeekEnding.IsZero() {
			week = e.WeekEnding.Format(time.DateOnly)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.DetectedAt.Format(time.DateTime), e.RunID, e.WorkRequestID, week,
			e.Source, e.Field, e.OldValue, e.NewValue, e.Delta)
	}
	fmt.Fprintf(tw, "\npage %d of %d (%d events)\n", page.Page, page.TotalPages, page.Total)
}
