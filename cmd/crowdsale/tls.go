package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/crowdsale/internal/tls"
)

var tlsCmd = &cobra.Command{
	Use:   "tls",
	Short: "API TLS certificate management",
}

var tlsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show API TLS certificate status",
	RunE:  runTLSStatus,
}

func init() {
	tlsCmd.AddCommand(tlsStatusCmd)
	rootCmd.AddCommand(tlsCmd)
}

func runTLSStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	t := cfg.API.TLS
	switch {
	case t.ACME.Enabled:
		fmt.Println("TLS Mode: ACME (Let's Encrypt)")
		fmt.Printf("Domains: %s\n", strings.Join(t.ACME.Domains, ", "))
		fmt.Printf("Cache:   %s\n\n", t.ACME.CacheDir)

		certs, err := tls.NewACME(t.ACME).CachedCertificates(context.Background())
		if err != nil {
			return fmt.Errorf("failed to read certificate cache: %w", err)
		}
		if len(certs) == 0 {
			fmt.Println("No certificates cached yet; they are obtained on the first TLS handshake.")
			return nil
		}
		for _, info := range certs {
			printCertificate(info)
		}

	case t.CertFile != "":
		fmt.Println("TLS Mode: Manual certificate")
		fmt.Printf("Certificate: %s\n\n", t.CertFile)

		info, err := tls.GetCertificateInfo(t.CertFile)
		if err != nil {
			return err
		}
		printCertificate(info)

	default:
		fmt.Println("TLS is not configured; the API serves plain HTTP.")
	}

	return nil
}

func printCertificate(info *tls.CertificateInfo) {
	fmt.Printf("  %s\n", info.Subject)
	fmt.Printf("    Issuer:  %s\n", info.Issuer)
	fmt.Printf("    Names:   %s\n", strings.Join(info.DNSNames, ", "))
	fmt.Printf("    Expires: %s (%d days, %s)\n", info.NotAfter.Format("2006-01-02"), info.DaysLeft, info.Status(time.Now()))
}
