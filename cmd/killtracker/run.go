package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the killtracker service",
		Long: `Run the scheduled killtracker cycle, the task workers and the status
server until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, log, err := newApp()
			if err != nil {
				return err
			}
			defer log.Sync()
			defer app.Stop()

			ctx, cancel := signalContext()
			defer cancel()

			if err := app.Start(ctx); err != nil {
				log.Error("service error", zap.Error(err))
				return err
			}
			log.Info("killtracker stopped")
			return nil
		},
	}
}

// defaultWait bounds how long one-off commands wait for dispatched tasks.
const defaultWait = time.Minute

func cycleCmd() *cobra.Command {
	var wait = defaultWait

	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run one killtracker cycle and exit",
		Long: `Run a single cycle and wait for the dispatched tasks, including
message delivery, before exiting.

Examples:
  # Run once and allow two minutes for delivery
  killtracker cycle --wait 2m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, log, err := newApp()
			if err != nil {
				return err
			}
			defer log.Sync()
			defer app.Stop()

			ctx, cancel := signalContext()
			defer cancel()
			app.StartWorkers(ctx)

			stats, err := app.Killtracker.RunCycle(ctx)
			if err != nil {
				return err
			}
			app.WaitIdle(ctx, wait)

			cmd.Printf("fetched=%d duplicates=%d dispatched=%d requeued=%d skipped=%t\n",
				stats.Fetched, stats.Duplicates, stats.Dispatched, stats.Requeued, stats.Skipped)
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", defaultWait, "Maximum time to wait for dispatched tasks")
	return cmd
}
