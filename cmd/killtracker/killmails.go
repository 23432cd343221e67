package main

import (
	"killtracker/internal/repository"

	"github.com/spf13/cobra"
)

func purgeKillmailsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge-killmails",
		Short: "Delete stored killmails past their retention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, log, err := newApp()
			if err != nil {
				return err
			}
			defer log.Sync()
			defer app.Stop()

			ctx, cancel := signalContext()
			defer cancel()

			n, err := app.Killtracker.DeleteStaleKillmails(ctx)
			if err != nil {
				return err
			}
			cmd.Printf("%d killmails deleted\n", n)
			return nil
		},
	}
}

func processKillmailCmd() *cobra.Command {
	var wait = defaultWait

	cmd := &cobra.Command{
		Use:   "process-killmail KILLMAIL_ID",
		Short: "Run one killmail through all enabled trackers",
		Long: `Load a killmail by id from zKillboard and ESI and run it through every
enabled tracker, even when it was processed before.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			app, log, err := newApp()
			if err != nil {
				return err
			}
			defer log.Sync()
			defer app.Stop()

			ctx, cancel := signalContext()
			defer cancel()
			app.StartWorkers(ctx)

			n, err := app.Killtracker.ProcessKillmail(ctx, id)
			if err != nil {
				return err
			}
			app.WaitIdle(ctx, wait)
			cmd.Printf("killmail %d dispatched to %d tasks\n", id, n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", defaultWait, "Maximum time to wait for dispatched tasks")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, log, err := newApp()
			if err != nil {
				return err
			}
			defer log.Sync()
			defer app.Stop()

			ctx, cancel := signalContext()
			defer cancel()

			if err := repository.EnsureSchema(ctx, app.DB()); err != nil {
				return err
			}
			cmd.Println("schema is up to date")
			return nil
		},
	}
}
