// killtracker forwards matching EVE Online killmails to Discord webhooks.
//
// Usage:
//
//	killtracker run
//	killtracker cycle
//	killtracker send-test-message 3
//	killtracker reset-failed --all
//	killtracker export-errors -f failed.xlsx
//	killtracker purge-killmails
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"killtracker/common/logger"
	"killtracker/internal/config"
	"killtracker/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "killtracker",
		Short: "Forward matching killmails to Discord webhooks",
		Long: `killtracker pulls killmails from the zKillboard RedisQ feed, checks them
against the configured trackers and posts matches to Discord webhooks.

Configuration is read from the environment and an optional .env file.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(cycleCmd())
	rootCmd.AddCommand(processKillmailCmd())
	rootCmd.AddCommand(sendTestMessageCmd())
	rootCmd.AddCommand(resetFailedCmd())
	rootCmd.AddCommand(exportErrorsCmd())
	rootCmd.AddCommand(purgeKillmailsCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newApp loads the configuration and connects the application.
func newApp() (*service.App, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logger.NewLogger(logger.Options{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Service: "killtracker",
		Version: version,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init logger: %w", err)
	}
	app, err := service.NewApp(cfg, log)
	if err != nil {
		log.Sync()
		return nil, nil, fmt.Errorf("failed to create app: %w", err)
	}
	return app, log, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
