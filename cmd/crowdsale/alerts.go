package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/foxzi/crowdsale/internal/alert"
	"github.com/foxzi/crowdsale/internal/app"
	"github.com/foxzi/crowdsale/internal/crowdfunding"
	"github.com/foxzi/crowdsale/internal/dkim"
)

var (
	dkimDomain    string
	dkimSelector  string
	dkimAlgorithm string
	dkimKeyFile   string
	dkimOutDir    string
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Operator alert commands",
}

var alertsTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Send a test alert through the configured relay",
	RunE:  runAlertsTest,
}

var alertsDKIMCmd = &cobra.Command{
	Use:   "dkim",
	Short: "DKIM key management for alert mails",
}

var alertsDKIMGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new DKIM key pair",
	Long:  `Generate a DKIM key pair (RSA 2048-bit or Ed25519) and output the DNS record.`,
	RunE:  runDKIMGenerate,
}

var alertsDKIMShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show DKIM DNS record from existing key",
	RunE:  runDKIMShow,
}

func init() {
	alertsDKIMGenerateCmd.Flags().StringVar(&dkimDomain, "domain", "", "Domain name (required)")
	alertsDKIMGenerateCmd.Flags().StringVar(&dkimSelector, "selector", "crowdsale", "DKIM selector")
	alertsDKIMGenerateCmd.Flags().StringVar(&dkimAlgorithm, "algorithm", dkim.AlgorithmRSA, "Key algorithm (rsa, ed25519)")
	alertsDKIMGenerateCmd.Flags().StringVar(&dkimOutDir, "out", ".", "Output directory for key file")
	alertsDKIMGenerateCmd.MarkFlagRequired("domain")

	alertsDKIMShowCmd.Flags().StringVar(&dkimKeyFile, "key", "", "Path to private key file (required)")
	alertsDKIMShowCmd.Flags().StringVar(&dkimDomain, "domain", "", "Domain name (required)")
	alertsDKIMShowCmd.Flags().StringVar(&dkimSelector, "selector", "crowdsale", "DKIM selector")
	alertsDKIMShowCmd.MarkFlagRequired("key")
	alertsDKIMShowCmd.MarkFlagRequired("domain")

	alertsDKIMCmd.AddCommand(alertsDKIMGenerateCmd, alertsDKIMShowCmd)
	alertsCmd.AddCommand(alertsTestCmd, alertsDKIMCmd)
	rootCmd.AddCommand(alertsCmd)
}

func runAlertsTest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Alerts.SMTP.Enabled {
		return fmt.Errorf("alerts.smtp is not enabled in %s", cfgFile)
	}

	mailer, err := alert.New(cfg.Alerts.SMTP, app.SetupLogger(cfg.Logging, os.Stderr))
	if err != nil {
		return err
	}

	cause := fmt.Errorf("%w: test alert, no campaign was affected", crowdfunding.ErrInvariantViolation)
	if err := mailer.Alert(context.Background(), crowdfunding.CampaignID{}, cause); err != nil {
		return err
	}

	fmt.Printf("Test alert sent to %v\n", cfg.Alerts.SMTP.To)
	return nil
}

func runDKIMGenerate(cmd *cobra.Command, args []string) error {
	kp, err := dkim.GenerateKey(dkimAlgorithm, dkimDomain, dkimSelector)
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}

	keyPath := filepath.Join(dkimOutDir, fmt.Sprintf("%s.%s.pem", dkimSelector, dkimDomain))
	if err := kp.SavePrivateKey(keyPath); err != nil {
		return fmt.Errorf("failed to save private key: %w", err)
	}

	fmt.Printf("DKIM key generated successfully\n\n")
	fmt.Printf("Private key saved to: %s\n\n", keyPath)
	printDNSRecord(kp)

	return nil
}

func runDKIMShow(cmd *cobra.Command, args []string) error {
	key, err := dkim.LoadPrivateKey(dkimKeyFile)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	printDNSRecord(&dkim.KeyPair{PrivateKey: key, Domain: dkimDomain, Selector: dkimSelector})
	return nil
}

func printDNSRecord(kp *dkim.KeyPair) {
	fmt.Printf("DNS Record:\n")
	fmt.Printf("  Name: %s\n", kp.DNSName())
	fmt.Printf("  Type: TXT\n")
	fmt.Printf("  Value: %s\n", kp.DNSRecord())
}
