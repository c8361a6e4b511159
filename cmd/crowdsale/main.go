package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/foxzi/crowdsale/internal/api"
	"github.com/foxzi/crowdsale/internal/app"
	"github.com/foxzi/crowdsale/internal/config"
	"github.com/foxzi/crowdsale/internal/crowdfunding"
	"github.com/foxzi/crowdsale/internal/storage"
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
	Use:   "crowdsale",
	Short: "Crowdsale - token sale lifecycle ledger",
	Long: `Crowdsale runs token sale campaigns: shares are locked in a derived
escrow account, investors pay in a raise asset, and campaigns are settled
pro-rata or refunded once their window closes.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ledger server",
	Long:  `Start the ledger with the HTTP API, the lifecycle scheduler and metrics.`,
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
		fmt.Printf("crowdsale version %s\n", version)
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

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return nil, fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// openLedger opens the ledger file for offline commands. The server must not
// be running: bbolt holds an exclusive lock on the file.
func openLedger() (*storage.DB, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	db, err := app.OpenStorage(cfg)
	if err != nil {
		return nil, nil, err
	}
	return db, cfg, nil
}

// newEngine builds an engine over an offline ledger, logging to stderr
func newEngine(db *storage.DB, cfg *config.Config) *crowdfunding.Engine {
	logger := app.SetupLogger(cfg.Logging, os.Stderr)
	return crowdfunding.NewEngine(db, crowdfunding.SystemClock,
		crowdfunding.Config{MaxShares: cfg.Ledger.MaxShares}, logger)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	api.Version = version

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(context.Background())
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Native asset: %s (existential deposit %d)\n", cfg.Ledger.NativeAsset, cfg.Ledger.ExistentialDeposit)
	fmt.Printf("  Max shares:   %d\n", cfg.Ledger.MaxShares)
	fmt.Printf("  Storage:      %s\n", cfg.Storage.Path)
	fmt.Printf("  API:          %s (tls: %v, rate limit: %v)\n", cfg.API.ListenAddr, cfg.API.TLS.Enabled(), cfg.API.RateLimit.Enabled)
	if cfg.Scheduler.IsEnabled() {
		fmt.Printf("  Scheduler:    every %s\n", cfg.Scheduler.Interval)
	} else {
		fmt.Printf("  Scheduler:    disabled\n")
	}
	if cfg.Metrics.Enabled {
		fmt.Printf("  Metrics:      %s%s\n", cfg.Metrics.ListenAddr, cfg.Metrics.Path)
	}
	if cfg.Alerts.SMTP.Enabled {
		fmt.Printf("  Alerts:       %s -> %v\n", cfg.Alerts.SMTP.Addr, cfg.Alerts.SMTP.To)
	}
	if n := len(cfg.Genesis.Balances); n > 0 {
		fmt.Printf("  Genesis:      %d balances\n", n)
	}

	return nil
}
