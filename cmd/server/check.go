package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/t77yq/healthwatch/internal/monitor"
)

func newCheckCmd(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one health cycle and print the signal status",
		Long: "Sample every configured signal once, dispatch any escalation and print the " +
			"resulting status. A single run only escalates when consecutive_failure_threshold is 1.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheck(cmd.Context(), root, asJSON, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func runCheck(ctx context.Context, root *rootOptions, asJSON bool, out io.Writer) (err error) {
	a, err := buildApp(ctx, root.configDir)
	if err != nil {
		return err
	}
	defer func() {
		if shutdownErr := a.shutdown(context.Background()); err == nil {
			err = shutdownErr
		}
	}()

	result, err := a.coordinator.Tick(ctx)
	if err != nil {
		return err
	}

	status, err := a.coordinator.Status()
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	fmt.Fprintf(out, "Cycle: %s\n\n", result)
	return writeStatusTable(out, status)
}

func writeStatusTable(out io.Writer, status monitor.Status) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SIGNAL\tKIND\tVALUE\tTHRESHOLD\tSTATE\tFAILURES\tERROR")
	fmt.Fprintln(w, "------\t----\t-----\t---------\t-----\t--------\t-----")

	for _, s := range status.Signals {
		state := "ok"
		switch {
		case s.LastError != "":
			state = "unknown"
		case s.Transient:
			state = "transient"
		case s.Failing:
			state = string(s.LastOutcome)
		case s.Recovering:
			state = "recovering"
		}
		errText := s.LastError
		if errText == "" {
			errText = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			s.Key, s.Kind,
			strconv.FormatFloat(s.Value, 'f', 2, 64),
			strconv.FormatFloat(s.Threshold, 'f', 2, 64),
			state, s.ConsecutiveFailures, errText)
	}
	return w.Flush()
}
