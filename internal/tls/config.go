// Package tls builds the TLS configuration of the HTTP API, either from a
// certificate pair on disk or from certificates obtained over ACME.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/foxzi/crowdsale/internal/config"
)

// RenewalWindow is how long before expiry a certificate counts as due
const RenewalWindow = 30 * 24 * time.Hour

// ServerConfig builds the API listener configuration from api.tls. It
// returns nil when TLS is off.
func ServerConfig(cfg config.TLSConfig) (*tls.Config, error) {
	switch {
	case cfg.ACME.Enabled:
		return NewACME(cfg.ACME).TLSConfig(), nil
	case cfg.CertFile != "":
		return LoadCertificate(cfg.CertFile, cfg.KeyFile)
	default:
		return nil, nil
	}
}

// LoadCertificate serves a PEM pair from disk. A pair replaced on disk is
// picked up by the next handshake without a restart.
func LoadCertificate(certFile, keyFile string) (*tls.Config, error) {
	r := &keyPairReloader{certFile: certFile, keyFile: keyFile}
	mod, err := r.modTime()
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}
	if err := r.load(mod); err != nil {
		return nil, err
	}

	return &tls.Config{
		GetCertificate: r.getCertificate,
		MinVersion:     tls.VersionTLS12,
	}, nil
}

type keyPairReloader struct {
	certFile string
	keyFile  string

	mu     sync.Mutex
	cert   *tls.Certificate
	loaded time.Time
}

// modTime returns the newer modification time of the two files
func (r *keyPairReloader) modTime() (time.Time, error) {
	var latest time.Time
	for _, path := range []string{r.certFile, r.keyFile} {
		info, err := os.Stat(path)
		if err != nil {
			return time.Time{}, err
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
	}
	return latest, nil
}

func (r *keyPairReloader) load(mod time.Time) error {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return fmt.Errorf("failed to load TLS certificate: %w", err)
	}
	r.cert = &cert
	r.loaded = mod
	return nil
}

// getCertificate keeps serving the previous pair while a replacement is
// half written
func (r *keyPairReloader) getCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if mod, err := r.modTime(); err == nil && mod.After(r.loaded) {
		_ = r.load(mod)
	}
	return r.cert, nil
}

// CertificateInfo describes a certificate served by the API
type CertificateInfo struct {
	Subject   string
	Issuer    string
	NotBefore time.Time
	NotAfter  time.Time
	DaysLeft  int
	DNSNames  []string
}

// Status is "expired", "renewal due" inside RenewalWindow, or "ok"
func (c *CertificateInfo) Status(now time.Time) string {
	switch left := c.NotAfter.Sub(now); {
	case left <= 0:
		return "expired"
	case left < RenewalWindow:
		return "renewal due"
	default:
		return "ok"
	}
}

// GetCertificateInfo reads the first certificate of a PEM file
func GetCertificateInfo(certFile string) (*CertificateInfo, error) {
	data, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("%s: no CERTIFICATE block", certFile)
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return infoOf(cert), nil
}

func infoOf(cert *x509.Certificate) *CertificateInfo {
	return &CertificateInfo{
		Subject:   cert.Subject.CommonName,
		Issuer:    cert.Issuer.CommonName,
		NotBefore: cert.NotBefore,
		NotAfter:  cert.NotAfter,
		DaysLeft:  int(time.Until(cert.NotAfter).Hours() / 24),
		DNSNames:  cert.DNSNames,
	}
}
