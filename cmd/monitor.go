package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/monitor"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/notify"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the pipeline watchdog",
	Long:  "Watches running executions for stalls and applies the bounded recovery policy. Meant to run alongside serve or as its own process.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		m := monitor.New(cfg, st, notify.ForConfig(cfg.Notify.WebhookURL))
		m.Run(ctx)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}
