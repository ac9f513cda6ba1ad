package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/crmkit/pacer/internal/app"
	"github.com/crmkit/pacer/internal/config"
)

var (
	cfgFile   string
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pacer",
	Short: "Pacer - campaign send-rate governor",
	Long:  `Pacer plans, paces and dispatches bulk messaging campaigns across WhatsApp, Telegram, TikTok and SMS channels.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pacer server",
	Long:  `Start the pacer HTTP API and campaign dispatcher.`,
	RunE:  runServe,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pacer version %s\n", version)
		if commit != "unknown" {
			fmt.Printf("  commit: %s\n", commit)
		}
		if buildTime != "unknown" {
			fmt.Printf("  built:  %s\n", buildTime)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")

	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(serveCmd, configCmd, versionCmd)
}

// loadConfig loads the file given with -c, or the built-in defaults
// when the flag is absent.
func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.Default(), nil
	}
	return config.Load(cfgFile)
}

func runServe(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(context.Background())
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Hostname: %s\n", cfg.Server.Hostname)
	fmt.Printf("  API: %s\n", cfg.API.ListenAddr)
	fmt.Printf("  Storage: %s\n", cfg.Storage.Path)
	fmt.Printf("  Dispatch: enabled=%v dry_run=%v\n", cfg.Dispatch.Enabled, cfg.Dispatch.DryRun)
	fmt.Printf("  Window: %02d:00-%02d:00\n", cfg.Schedule.WindowStartHour, cfg.Schedule.WindowEndHour)

	return nil
}
