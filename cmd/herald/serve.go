package main

import (
	"github.com/rohankatakam/herald/internal/config"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Receive GitHub webhooks and publish announcements",
	Long: `Seed the contributor ledger, then accept GitHub push and release webhook
deliveries on the configured address. Deliveries are classified exactly like
polled activity and share the same ledger.

With --poll the event feed is polled alongside the webhook endpoint.`,
	RunE: runServe,
}

var (
	servePoll bool
	serveAddr string
)

func init() {
	serveCmd.Flags().BoolVar(&servePoll, "poll", false, "also poll the event feed")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from webhook.addr)")
	serveCmd.Flags().Bool("dry-run", false, "render announcements without posting them")
	serveCmd.Flags().Bool("exit-on-error", false, "stop polling on the first poll error")
}

func runServe(cmd *cobra.Command, args []string) error {
	applyRunFlags(cmd)
	if serveAddr != "" {
		cfg.Webhook.Addr = serveAddr
	}
	if err := resolveSecrets(config.ValidationContextServe, true); err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	logger.WithField("repo", a.github.Repository()).
		WithField("addr", cfg.Webhook.Addr).
		WithField("path", cfg.Webhook.Path).
		WithField("poll", servePoll).
		Info("Starting herald webhook server")

	return a.bot.Serve(ctx, servePoll)
}
