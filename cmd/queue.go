package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/model"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/queue"
)

var queueCmd = &cobra.Command{
	Use:   "queue <execution-id>",
	Short: "Inspect queue lanes for an execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		execID := args[0]

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if _, err := st.GetExecution(ctx, execID); err != nil {
			return eris.Wrapf(err, "queue: execution %s", execID)
		}

		phaseFlag, _ := cmd.Flags().GetString("phase")
		showDead, _ := cmd.Flags().GetBool("dead-letters")
		limit, _ := cmd.Flags().GetInt("limit")

		phases := model.AllPhases()
		if phaseFlag != "" {
			p := model.PhaseName(phaseFlag)
			if !model.ValidPhase(p) {
				return eris.Errorf("queue: unknown phase %q", phaseFlag)
			}
			phases = []model.PhaseName{p}
		}

		q := queue.New(st, queue.Options{
			LeaseDuration: cfg.Queue.LeaseDuration(),
			MaxAttempts:   cfg.Queue.MaxAttempts,
			RetryDelay:    cfg.Queue.RetryDelay(),
		})

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "PHASE\tPENDING\tPROCESSING\tCOMPLETED\tFAILED\tDEAD")
		for _, p := range phases {
			stats, err := q.Stats(ctx, queue.Lane(execID, p))
			if err != nil {
				return eris.Wrapf(err, "queue: stats for %s", p)
			}
			_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\n", p,
				stats[model.JobPending], stats[model.JobProcessing],
				stats[model.JobCompleted], stats[model.JobFailed],
				stats[model.JobDeadLetter],
			)
		}
		_ = w.Flush()

		if !showDead {
			return nil
		}
		for _, p := range phases {
			dead, err := q.DeadLetters(ctx, queue.Lane(execID, p), limit)
			if err != nil {
				return eris.Wrapf(err, "queue: dead letters for %s", p)
			}
			if len(dead) > 0 {
				fmt.Println()
				formatDeadLetters(os.Stdout, p, dead)
			}
		}
		return nil
	},
}

func formatDeadLetters(out io.Writer, phase model.PhaseName, jobs []model.Job) {
	_, _ = fmt.Fprintf(out, "Dead letters for %s:\n", phase)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "JOB\tATTEMPTS\tLAST ERROR")
	for _, j := range jobs {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", j.ID, j.Attempts, truncateError(j.LastError))
	}
	_ = w.Flush()
}

// truncateError keeps the dead-letter table readable for long wrapped errors.
func truncateError(msg string) string {
	const max = 80
	if len(msg) > max {
		return msg[:max] + "..."
	}
	return msg
}

func init() {
	queueCmd.Flags().String("phase", "", "restrict to one phase lane")
	queueCmd.Flags().Bool("dead-letters", false, "list dead-lettered entries")
	queueCmd.Flags().Int("limit", 20, "max dead-lettered entries per phase")
	rootCmd.AddCommand(queueCmd)
}
