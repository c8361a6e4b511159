package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"

	"golang.org/x/crypto/acme/autocert"

	"github.com/foxzi/crowdsale/internal/config"
)

// ACME obtains API certificates from Let's Encrypt for the configured
// domains and keeps them in a directory cache
type ACME struct {
	manager *autocert.Manager
	cache   autocert.DirCache
	domains []string
}

func NewACME(cfg config.ACMEConfig) *ACME {
	cache := autocert.DirCache(cfg.CacheDir)
	return &ACME{
		manager: &autocert.Manager{
			Prompt:      autocert.AcceptTOS,
			Email:       cfg.Email,
			HostPolicy:  autocert.HostWhitelist(cfg.Domains...),
			Cache:       cache,
			RenewBefore: RenewalWindow,
		},
		cache:   cache,
		domains: cfg.Domains,
	}
}

func (a *ACME) Domains() []string {
	return a.domains
}

// TLSConfig answers tls-alpn-01 challenges on the API listener itself, so
// no port 80 listener is needed
func (a *ACME) TLSConfig() *tls.Config {
	cfg := a.manager.TLSConfig()
	cfg.MinVersion = tls.VersionTLS12
	return cfg
}

// CachedCertificates reads the cache without contacting the CA. Domains
// with no usable cached certificate are skipped.
func (a *ACME) CachedCertificates(ctx context.Context) ([]*CertificateInfo, error) {
	var found []*CertificateInfo

	for _, domain := range a.domains {
		// autocert stores the key and the chain in one PEM blob
		data, err := a.cache.Get(ctx, domain)
		if errors.Is(err, autocert.ErrCacheMiss) {
			continue
		}
		if err != nil {
			return found, err
		}

		pair, err := tls.X509KeyPair(data, data)
		if err != nil || len(pair.Certificate) == 0 {
			continue
		}
		leaf, err := x509.ParseCertificate(pair.Certificate[0])
		if err != nil {
			continue
		}
		found = append(found, infoOf(leaf))
	}

	return found, nil
}
