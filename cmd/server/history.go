package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/t77yq/healthwatch/internal/config"
	"github.com/t77yq/healthwatch/internal/model"
	"github.com/t77yq/healthwatch/internal/storage"
)

var errHistoryDisabled = errors.New("alert history is disabled: history.path is empty")

type historyOptions struct {
	since  time.Duration
	limit  int
	asJSON bool
}

// alertLog is the read side of the alert history
type alertLog interface {
	ListAlerts(ctx context.Context, since time.Time, limit int) ([]model.Alert, error)
	CountSuppressions(ctx context.Context, key model.AlertKey) (int, error)
}

// historyEntry is one listed alert with the suppressions recorded for its key
type historyEntry struct {
	model.Alert
	Suppressions int `json:"suppressions"`
}

func newHistoryCmd(root *rootOptions) *cobra.Command {
	opts := historyOptions{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List escalated alerts from the alert history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHistory(cmd.Context(), root, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().DurationVar(&opts.since, "since", 24*time.Hour, "How far back to list alerts")
	cmd.Flags().IntVar(&opts.limit, "limit", 50, "Maximum number of alerts")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Output as JSON")
	return cmd
}

// runHistory only opens the history database, no monitor or notifier is wired
func runHistory(ctx context.Context, root *rootOptions, opts historyOptions, out io.Writer) error {
	if opts.limit < 1 {
		return fmt.Errorf("limit must be at least 1, got %d", opts.limit)
	}

	server, err := config.NewViperStore(root.configDir, zap.NewNop()).LoadServer()
	if err != nil {
		return fmt.Errorf("failed to load server config: %w", err)
	}
	if server.History.Path == "" {
		return errHistoryDisabled
	}

	history, err := storage.NewSQLiteAlertHistory(zap.NewNop(), server.History.Path, nil)
	if err != nil {
		return err
	}
	defer history.Close()

	entries, err := listHistory(ctx, history, time.Now().Add(-opts.since), opts.limit)
	if err != nil {
		return err
	}

	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	return writeHistoryTable(out, entries)
}

func listHistory(ctx context.Context, src alertLog, since time.Time, limit int) ([]historyEntry, error) {
	alerts, err := src.ListAlerts(ctx, since, limit)
	if err != nil {
		return nil, err
	}

	counts := make(map[model.AlertKey]int)
	entries := make([]historyEntry, 0, len(alerts))
	for _, alert := range alerts {
		count, ok := counts[alert.Key]
		if !ok {
			if count, err = src.CountSuppressions(ctx, alert.Key); err != nil {
				return nil, err
			}
			counts[alert.Key] = count
		}
		entries = append(entries, historyEntry{Alert: alert, Suppressions: count})
	}
	return entries, nil
}

func writeHistoryTable(out io.Writer, entries []historyEntry) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKEY\tSEVERITY\tVALUE\tTHRESHOLD\tCHANNELS\tSUPPRESSED")
	fmt.Fprintln(w, "----\t---\t--------\t-----\t---------\t--------\t----------")

	for _, e := range entries {
		channels := strings.Join(e.Channels, ",")
		if channels == "" {
			channels = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			e.CreatedAt.Format(time.RFC3339), e.Key, e.Severity,
			strconv.FormatFloat(e.Value, 'f', 2, 64),
			strconv.FormatFloat(e.Threshold, 'f', 2, 64),
			channels, e.Suppressions)
	}
	return w.Flush()
}
