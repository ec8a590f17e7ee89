package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/model"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <execution-id>",
	Short: "Resume an interrupted execution",
	Long:  "Reconstructs the execution from the store, returns in-flight items to pending, and continues from the first unfinished phase. Completed items are never reprocessed.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		items, _ := cmd.Flags().GetInt("simulate-items")

		eng, st, err := initEngine(ctx, simulationRunners(items))
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		exec, err := eng.Resume(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "resume")
		}

		fmt.Fprintf(os.Stdout, "execution %s finished: %s\n", exec.ID, exec.Status)
		if exec.Status != model.ExecutionCompleted {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	resumeCmd.Flags().Int("simulate-items", 5, "synthetic items per phase for the built-in runners")
	rootCmd.AddCommand(resumeCmd)
}
