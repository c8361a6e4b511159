package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foxzi/crowdsale/internal/dkim"
)

var (
	initOutput     string
	initDataDir    string
	initAPIKey     string
	initNative     string
	initAlertTo    string
	initAlertRelay string
	initAlertFrom  string
	initDKIM       bool
	initForce      bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize crowdsale configuration",
	Long: `Interactive wizard to create a crowdsale configuration file.

This command helps you set up the ledger by:
  1. Creating a configuration file with a random API key
  2. Optionally configuring operator alert mails
  3. Optionally generating a DKIM key for those mails

Examples:
  # Interactive mode - prompts for missing values
  crowdsale init

  # Non-interactive with alerts and DKIM
  crowdsale init --alert-to ops@example.com --alert-relay smtp.example.com:587 --dkim

  # Quick local setup
  crowdsale init --data-dir ./data -o local.yaml`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "config.yaml", "Output configuration file path")
	initCmd.Flags().StringVar(&initDataDir, "data-dir", "/var/lib/crowdsale", "Data directory for the ledger and keys")
	initCmd.Flags().StringVar(&initAPIKey, "api-key", "", "API key (auto-generated if not provided)")
	initCmd.Flags().StringVar(&initNative, "native-asset", "native", "Native asset identifier")
	initCmd.Flags().StringVar(&initAlertTo, "alert-to", "", "Operator address for invariant alerts")
	initCmd.Flags().StringVar(&initAlertRelay, "alert-relay", "", "SMTP relay host:port for alerts")
	initCmd.Flags().StringVar(&initAlertFrom, "alert-from", "", "Sender address for alerts (default: crowdsale@<alert-to domain>)")
	initCmd.Flags().BoolVar(&initDKIM, "dkim", false, "Generate a DKIM key for alert mails")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config file")

	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("Crowdsale Configuration Wizard")
	fmt.Println("==============================")
	fmt.Println()

	initDataDir = prompt(reader, "Data directory", initDataDir)

	if initAlertTo == "" {
		initAlertTo = prompt(reader, "Operator alert address (empty to skip)", "")
	}
	if initAlertTo != "" {
		if initAlertRelay == "" {
			initAlertRelay = prompt(reader, "SMTP relay", "localhost:587")
		}
		if initAlertFrom == "" {
			initAlertFrom = "crowdsale@" + domainOf(initAlertTo)
		}
		if !initDKIM {
			answer := prompt(reader, "Generate DKIM key for alerts? [y/N]", "n")
			initDKIM = strings.ToLower(answer) == "y" || strings.ToLower(answer) == "yes"
		}
	} else {
		initDKIM = false
	}

	if initAPIKey == "" {
		initAPIKey = generateRandomString(32)
		fmt.Printf("  Generated API key: %s\n", initAPIKey)
	}

	if !initForce {
		if _, err := os.Stat(initOutput); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", initOutput)
		}
	}

	fmt.Println()
	fmt.Println("Creating configuration...")

	if err := os.MkdirAll(initDataDir, 0755); err != nil {
		fmt.Printf("  Warning: Could not create data directory: %v\n", err)
	}

	var dkimKeyPath string
	var kp *dkim.KeyPair
	if initDKIM {
		var err error
		kp, err = dkim.GenerateKey(dkim.AlgorithmRSA, domainOf(initAlertFrom), "crowdsale")
		if err != nil {
			return fmt.Errorf("failed to generate DKIM key: %w", err)
		}

		dkimKeyPath = filepath.Join(initDataDir, "dkim", kp.Domain+".key")
		if err := kp.SavePrivateKey(dkimKeyPath); err != nil {
			return fmt.Errorf("failed to save DKIM key: %w", err)
		}
		fmt.Printf("  DKIM key saved to: %s\n", dkimKeyPath)
	}

	if err := os.WriteFile(initOutput, []byte(generateConfig(dkimKeyPath)), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("  Configuration saved to: %s\n", initOutput)
	fmt.Println()

	if kp != nil {
		printDNSRecord(kp)
		fmt.Println()
	}

	fmt.Println("Next steps:")
	fmt.Printf("  crowdsale config validate -c %s\n", initOutput)
	fmt.Printf("  crowdsale serve -c %s\n", initOutput)

	return nil
}

func prompt(reader *bufio.Reader, question, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [%s]: ", question, defaultValue)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultValue
	}
	return input
}

func generateRandomString(length int) string {
	bytes := make([]byte, length/2)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

func domainOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		return addr[i+1:]
	}
	return "localhost"
}

func generateConfig(dkimKeyPath string) string {
	alertsSection := `alerts:
  smtp:
    enabled: false
    # addr: "localhost:587"
    # from: "crowdsale@example.com"
    # to:
    #   - "ops@example.com"`

	if initAlertTo != "" {
		dkimSection := `    dkim:
      enabled: false`
		if dkimKeyPath != "" {
			dkimSection = fmt.Sprintf(`    dkim:
      enabled: true
      selector: "crowdsale"
      domain: "%s"
      key_file: "%s"`, domainOf(initAlertFrom), dkimKeyPath)
		}

		alertsSection = fmt.Sprintf(`alerts:
  smtp:
    enabled: true
    addr: "%s"
    # username: ""
    # password: ""
    from: "%s"
    to:
      - "%s"
    subject_prefix: "[crowdsale]"
%s`, initAlertRelay, initAlertFrom, initAlertTo, dkimSection)
	}

	return fmt.Sprintf(`# Crowdsale configuration
# Generated by: crowdsale init

ledger:
  native_asset: "%s"
  existential_deposit: 1
  max_shares: 10

storage:
  path: "%s/ledger.db"

scheduler:
  enabled: true
  interval: 6s

api:
  listen_addr: ":8080"
  api_key: "%s"
  max_header_bytes: 1048576  # 1 MB
  read_timeout: 30s
  write_timeout: 30s
  idle_timeout: 60s
  # allowed_ips:
  #   - "10.0.0.0/8"
  rate_limit:
    enabled: true
    per_client:
      requests_per_hour: 600
    per_investor:
      requests_per_hour: 60
      requests_per_day: 500
  # tls:
  #   cert_file: "/etc/crowdsale/cert.pem"
  #   key_file: "/etc/crowdsale/key.pem"
  #   acme:
  #     enabled: true
  #     email: "ops@example.com"
  #     domains:
  #       - "api.example.com"

metrics:
  enabled: true
  listen_addr: ":9090"
  path: "/metrics"
  flush_interval: 10s
  allowed_ips:
    - "127.0.0.1"

logging:
  level: "info"
  format: "json"

%s

# Balances credited the first time the ledger is opened
genesis:
  balances: []
`,
		initNative,
		initDataDir,
		initAPIKey,
		alertsSection,
	)
}
