package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"chainwatch/internal/app"
	"chainwatch/internal/webhooks"
)

var webhooksCmd = &cobra.Command{
	Use:   "webhooks",
	Short: "Inspect webhook deliveries",
	Long: `Inspect the webhooks chains and announcements are published to.

Webhooks are configured in the [[webhooks]] sections of the configuration
and can post to Telegram, Slack, Discord or any endpoint accepting JSON.`,
}

var webhooksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured webhooks",
	RunE:  runWebhooksList,
}

var webhooksTestCmd = &cobra.Command{
	Use:   "test <webhook-id>",
	Short: "Send a test message to a webhook",
	Args:  cobra.ExactArgs(1),
	RunE:  runWebhooksTest,
}

var webhooksDeliveriesCmd = &cobra.Command{
	Use:   "deliveries [webhook-id]",
	Short: "Show delivery history",
	Long: `Show recent delivery attempts, successes, and failures.

Examples:
  chainwatch webhooks deliveries
  chainwatch webhooks deliveries ops --status=pending
  chainwatch webhooks deliveries --limit=50`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWebhooksDeliveries,
}

var webhooksDeadLettersCmd = &cobra.Command{
	Use:   "dead-letters [webhook-id]",
	Short: "Show deliveries that ran out of retries",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWebhooksDeadLetters,
}

var webhooksRetryCmd = &cobra.Command{
	Use:   "retry <dead-letter-id>",
	Short: "Requeue a dead letter",
	Args:  cobra.ExactArgs(1),
	RunE:  runWebhooksRetry,
}

// Webhook flags
var (
	webhooksDeliveryStatus []string
	webhooksDeliveryLimit  int
)

func init() {
	rootCmd.AddCommand(webhooksCmd)

	webhooksCmd.AddCommand(webhooksListCmd)
	webhooksCmd.AddCommand(webhooksTestCmd)
	webhooksCmd.AddCommand(webhooksDeliveriesCmd)
	webhooksCmd.AddCommand(webhooksDeadLettersCmd)
	webhooksCmd.AddCommand(webhooksRetryCmd)

	webhooksDeliveriesCmd.Flags().StringSliceVar(&webhooksDeliveryStatus, "status", nil, "Filter by status (queued, pending, delivered, dead)")
	webhooksDeliveriesCmd.Flags().IntVar(&webhooksDeliveryLimit, "limit", 20, "Maximum deliveries to return")
	webhooksDeadLettersCmd.Flags().IntVar(&webhooksDeliveryLimit, "limit", 20, "Maximum dead letters to return")
}

func optionalArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

func runWebhooksList(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		return printResponse(&WebhooksResponseCLI{Webhooks: a.Webhooks.Webhooks()})
	})
}

func runWebhooksTest(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		delivery, err := a.Webhooks.Test(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to test webhook: %w", err)
		}
		if delivery.Status != webhooks.DeliveryDelivered {
			return fmt.Errorf("test delivery %s is %s: %s", delivery.ID, delivery.Status, delivery.LastError)
		}
		return printResponse(&MessageCLI{
			Message: fmt.Sprintf("Test message delivered to %s (HTTP %d)", args[0], delivery.ResponseCode),
			Data:    delivery,
		})
	})
}

func runWebhooksDeliveries(cmd *cobra.Command, args []string) error {
	opts := webhooks.ListDeliveriesOptions{
		WebhookID: optionalArg(args),
		Limit:     webhooksDeliveryLimit,
	}
	for _, s := range webhooksDeliveryStatus {
		opts.Status = append(opts.Status, webhooks.DeliveryStatus(s))
	}

	return withApp(func(ctx context.Context, a *app.App) error {
		result, err := a.Webhooks.ListDeliveries(ctx, opts)
		if err != nil {
			return fmt.Errorf("failed to list deliveries: %w", err)
		}
		return printResponse(&DeliveriesResponseCLI{Deliveries: result.Deliveries, TotalCount: result.TotalCount})
	})
}

func runWebhooksDeadLetters(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		dead, err := a.Webhooks.DeadLetters(ctx, optionalArg(args), webhooksDeliveryLimit)
		if err != nil {
			return fmt.Errorf("failed to list dead letters: %w", err)
		}
		return printResponse(&DeliveriesResponseCLI{DeadLetters: dead, TotalCount: len(dead)})
	})
}

func runWebhooksRetry(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		delivery, err := a.Webhooks.RetryDeadLetter(ctx, args[0])
		if err != nil {
			return err
		}
		return printResponse(&MessageCLI{
			Message: fmt.Sprintf("Requeued as delivery %s; it is sent on the next retry pass", delivery.ID),
			Data:    delivery,
		})
	})
}
