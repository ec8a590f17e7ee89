package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/engine"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/runner"
)

var statusCmd = &cobra.Command{
	Use:   "status <execution-id>",
	Short: "Show the full status of an execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		eng, st, err := initEngine(ctx, runner.NewRegistry())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		report, err := eng.Status(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "status")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}

		formatReport(os.Stdout, report)
		return nil
	},
}

func formatReport(out io.Writer, r *engine.Report) {
	exec := r.Execution
	fmt.Fprintf(out, "Execution:  %s\n", exec.ID)
	fmt.Fprintf(out, "Status:     %s\n", exec.Status)
	fmt.Fprintf(out, "Trigger:    %s\n", exec.TriggerMode)
	fmt.Fprintf(out, "Started:    %s\n", exec.StartedAt.Format(time.RFC3339))
	if exec.EndedAt != nil {
		fmt.Fprintf(out, "Ended:      %s (%s)\n",
			exec.EndedAt.Format(time.RFC3339),
			exec.EndedAt.Sub(exec.StartedAt).Round(time.Second),
		)
	}
	if exec.ErrorsTotal > 0 {
		fmt.Fprintf(out, "Errors:     %d total, %d kept\n", exec.ErrorsTotal, len(exec.Errors))
	}
	if exec.Recoveries > 0 {
		fmt.Fprintf(out, "Recoveries: %d\n", exec.Recoveries)
	}
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PHASE\tSTATUS\tDONE\tOK\tFAIL\tSKIP\tDETAIL")
	for _, ph := range r.Phases {
		prog := r.Progress[ph.Name]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d/%d\t%d\t%d\t%d\t%s\n",
			ph.Name, ph.Status,
			prog.TerminalCount(), prog.Total,
			prog.Completed, prog.Failed, prog.Skipped,
			ph.LastError,
		)
	}
	_ = w.Flush()

	if len(r.Breakers) > 0 {
		fmt.Fprintln(out)
		bw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(bw, "SERVICE\tBREAKER\tFAILURES\tUPDATED")
		for _, b := range r.Breakers {
			_, _ = fmt.Fprintf(bw, "%s\t%s\t%d\t%s\n",
				b.Service, b.State, b.ConsecutiveFailures, b.UpdatedAt.Format(time.RFC3339))
		}
		_ = bw.Flush()
	}
}

func init() {
	statusCmd.Flags().Bool("json", false, "emit the full report as JSON")
	rootCmd.AddCommand(statusCmd)
}
