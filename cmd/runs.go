package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/model"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List pipeline executions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		execs, err := st.ListExecutions(ctx, store.ExecutionFilter{
			Status: model.ExecutionStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs")
		}

		if len(execs) == 0 {
			fmt.Fprintln(os.Stderr, "No executions found.")
			return nil
		}
		formatExecutions(os.Stdout, execs)
		return nil
	},
}

func formatExecutions(out io.Writer, execs []model.Execution) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTRIGGER\tSTATUS\tPHASES\tERRORS\tSTARTED\tDURATION")

	for _, e := range execs {
		dur := ""
		if e.EndedAt != nil {
			dur = e.EndedAt.Sub(e.StartedAt).Round(time.Second).String()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			truncateID(e.ID),
			e.TriggerMode,
			e.Status,
			len(e.Phases),
			e.ErrorsTotal,
			e.StartedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	runsCmd.Flags().String("status", "", "filter by execution status (pending, running, completed, failed, partially_completed, cancelled)")
	runsCmd.Flags().Int("limit", 50, "max number of executions to display")
	rootCmd.AddCommand(runsCmd)
}
