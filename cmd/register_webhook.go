package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/akylbek/payment-system/pix-charges/internal/config"
	"github.com/akylbek/payment-system/pix-charges/internal/telemetry"
)

func registerWebhookCmd() *cobra.Command {
	var webhookURL string

	cmd := &cobra.Command{
		Use:   "register-webhook",
		Short: "Point the gateway's notifications for PIX_KEY at this service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if webhookURL == "" {
				webhookURL = cfg.Webhook.PublicURL
			}
			if webhookURL == "" {
				return errors.New("no webhook URL: pass --url or set WEBHOOK_URL")
			}
			if err := cfg.ValidateGateway(); err != nil {
				return err
			}

			logger, err := telemetry.NewLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			gw, err := newGatewayClient(cfg.Gateway, logger)
			if err != nil {
				return fmt.Errorf("build gateway client: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Gateway.Timeout*2)
			defer cancel()
			if err := gw.RegisterWebhook(ctx, cfg.Charge.PayeeKey, webhookURL); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "webhook for %s registered at %s\n", cfg.Charge.PayeeKey, webhookURL)
			return nil
		},
	}

	cmd.Flags().StringVar(&webhookURL, "url", "", "public URL the gateway should call (defaults to WEBHOOK_URL)")
	return cmd
}
