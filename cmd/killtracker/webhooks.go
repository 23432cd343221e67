package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"killtracker/internal/models"
	"killtracker/internal/repository"
	"killtracker/internal/webhook"

	"github.com/spf13/cobra"
)

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}

func sendTestMessageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send-test-message WEBHOOK_ID",
		Short: "Send a test message to a webhook",
		Args:  cobra.ExactArgs(1),
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
			if err := app.Drainer.SendTestMessage(ctx, id); err != nil {
				return err
			}
			cmd.Printf("test message sent to webhook %d\n", id)
			return nil
		},
	}
}

func resetFailedCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "reset-failed [WEBHOOK_ID...]",
		Short: "Move failed messages back into the send queue",
		Long: `Move the failed messages of the given webhooks back into their main
queue. The messages are sent on the next cycle.

Examples:
  killtracker reset-failed 3 4
  killtracker reset-failed --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("give webhook ids or --all")
			}
			app, log, err := newApp()
			if err != nil {
				return err
			}
			defer log.Sync()
			defer app.Stop()

			ctx, cancel := signalContext()
			defer cancel()

			webhooks, err := selectWebhooks(ctx, app.Webhooks, args, all)
			if err != nil {
				return err
			}
			for _, w := range webhooks {
				n, err := app.Drainer.ResetFailedMessages(ctx, w.ID)
				if err != nil {
					return err
				}
				cmd.Printf("%s: %d messages requeued\n", w, n)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Reset every enabled webhook")
	return cmd
}

func exportErrorsCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export-errors [WEBHOOK_ID...]",
		Short: "Export failed messages to an XLSX workbook",
		Long: `Write the failed messages of the given webhooks, or of every enabled
webhook when none are given, to an XLSX workbook.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, log, err := newApp()
			if err != nil {
				return err
			}
			defer log.Sync()
			defer app.Stop()

			ctx, cancel := signalContext()
			defer cancel()

			webhooks, err := selectWebhooks(ctx, app.Webhooks, args, len(args) == 0)
			if err != nil {
				return err
			}
			reports := make([]webhook.FailedReport, 0, len(webhooks))
			for _, w := range webhooks {
				messages, err := app.Drainer.FailedMessages(ctx, w.ID)
				if err != nil {
					return err
				}
				reports = append(reports, webhook.FailedReport{Webhook: w, Messages: messages})
			}

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", output, err)
			}
			if err := webhook.WriteFailedReport(f, reports); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			cmd.Printf("wrote %d webhooks to %s\n", len(reports), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "file", "f", "failed_messages.xlsx", "Output file")
	return cmd
}

// selectWebhooks returns the webhooks named by ids, or every enabled one.
func selectWebhooks(ctx context.Context, repo *repository.WebhookRepository, args []string, all bool) ([]*models.Webhook, error) {
	if all {
		return repo.ListEnabled(ctx)
	}
	webhooks := make([]*models.Webhook, 0, len(args))
	for _, arg := range args {
		id, err := parseID(arg)
		if err != nil {
			return nil, err
		}
		w, err := repo.GetWebhook(ctx, id)
		if err != nil {
			return nil, err
		}
		webhooks = append(webhooks, w)
	}
	return webhooks, nil
}
