package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crmkit/pacer/internal/channel"
	"github.com/crmkit/pacer/internal/planner"
)

var (
	planChannel    string
	planRecipients int
	planAccounts   int
	planPriority   string
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Compute a send-rate plan offline",
	Long:  `Compute a send-rate recommendation for a campaign without starting the server.`,
	RunE:  runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planChannel, "channel", "", "channel type (whatsapp, whatsapp_web, telegram, tiktok, sms)")
	planCmd.Flags().IntVar(&planRecipients, "recipients", 0, "number of recipients")
	planCmd.Flags().IntVar(&planAccounts, "accounts", 1, "number of sender accounts")
	planCmd.Flags().StringVar(&planPriority, "priority", "medium", "campaign priority (low, medium, high)")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	if planChannel == "" {
		return fmt.Errorf("--channel is required")
	}
	if planRecipients <= 0 {
		return fmt.Errorf("--recipients must be positive")
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	registry := channel.NewRegistry(cfg.Channels.Version, cfg.Channels.Overrides)
	p := planner.New(registry, cfg.SafetyFactors())

	req := planner.Request{
		ChannelType:    channel.Type(planChannel),
		RecipientCount: planRecipients,
		AccountCount:   planAccounts,
		Priority:       planner.Priority(planPriority),
	}
	calc := p.Plan(req)

	fmt.Printf("Plan for %d recipients on %s (%d accounts, %s priority)\n\n",
		planRecipients, planChannel, planAccounts, planPriority)
	fmt.Printf("  Rate:       %d messages/minute\n", calc.RecommendedMessagesPerMinute)
	fmt.Printf("  Delay:      %d ms between messages\n", calc.RecommendedDelayMs)
	fmt.Printf("  Duration:   %.1f minutes\n", calc.EstimatedCompletionMinutes)
	fmt.Printf("  Safety:     %.2f of channel ceiling\n", calc.SafetyFactor)
	fmt.Printf("  Ban risk:   %s\n", calc.ChannelLimits.BanRisk)

	if len(calc.Warnings) > 0 {
		fmt.Println("\nWarnings:")
		for _, warn := range calc.Warnings {
			fmt.Printf("  - %s\n", warn)
		}
	}

	return nil
}
