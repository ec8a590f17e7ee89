package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/runner"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <execution-id>",
	Short: "Cancel a non-terminal execution",
	Long:  "Marks the execution cancelled and skips its unfinished phases. An execution running under serve is interrupted through the API instead.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		eng, st, err := initEngine(ctx, runner.NewRegistry())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := eng.Cancel(ctx, args[0]); err != nil {
			return eris.Wrap(err, "cancel")
		}
		fmt.Fprintf(os.Stdout, "execution %s cancelled\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}
