package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/crmkit/pacer/internal/channel"
)

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "Show channel profiles",
	Long:  `Show the per-channel sending limits in effect, including any config overrides.`,
	RunE:  runChannelsShow,
}

func init() {
	rootCmd.AddCommand(channelsCmd)
}

func runChannelsShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	registry := channel.NewRegistry(cfg.Channels.Version, cfg.Channels.Overrides)

	fmt.Printf("Channel Profiles (version %s)\n\n", registry.Version())

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHANNEL\tMSG/MIN\tMSG/HOUR\tMSG/DAY\tDELAY MS\tMAX LEN\tBAN RISK")
	fmt.Fprintln(w, "-------\t-------\t--------\t-------\t--------\t-------\t--------")

	for _, p := range registry.List() {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			p.Type,
			p.MaxMessagesPerMinute,
			p.MaxMessagesPerHour,
			p.MaxMessagesPerDay,
			p.DefaultDelayMs,
			p.MaxMessageLength,
			p.BanRisk,
		)
	}

	return w.Flush()
}
