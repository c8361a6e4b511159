package config

import (
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/foxzi/crowdsale/internal/account"
	"github.com/foxzi/crowdsale/internal/asset"
)

// Config is the main configuration structure
type Config struct {
	Ledger    LedgerConfig    `yaml:"ledger"`
	Storage   StorageConfig   `yaml:"storage"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	API       APIConfig       `yaml:"api"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Genesis   GenesisConfig   `yaml:"genesis"`
}

// LedgerConfig contains asset and campaign limits
type LedgerConfig struct {
	NativeAsset        string `yaml:"native_asset"`        // Default: native
	ExistentialDeposit uint64 `yaml:"existential_deposit"` // Native amount an account needs to exist (default: 1)
	MaxShares          int    `yaml:"max_shares"`          // Share assets per campaign (default: 10)
}

// StorageConfig contains storage settings
type StorageConfig struct {
	Path string `yaml:"path"`
}

// SchedulerConfig contains time-based transition settings
type SchedulerConfig struct {
	Enabled  *bool         `yaml:"enabled"`  // Default: true
	Interval time.Duration `yaml:"interval"` // Default: 6s
}

// IsEnabled reports whether the scheduler should run
func (s SchedulerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr     string          `yaml:"listen_addr"`
	APIKey         string          `yaml:"api_key"`
	MaxHeaderBytes int             `yaml:"max_header_bytes"` // Max HTTP header size (default: 1MB)
	ReadTimeout    time.Duration   `yaml:"read_timeout"`     // HTTP read timeout (default: 30s)
	WriteTimeout   time.Duration   `yaml:"write_timeout"`    // HTTP write timeout (default: 30s)
	IdleTimeout    time.Duration   `yaml:"idle_timeout"`     // HTTP idle timeout (default: 60s)
	AllowedIPs     []string        `yaml:"allowed_ips"`      // IP addresses/CIDRs allowed to access API (empty = allow all)
	TLS            TLSConfig       `yaml:"tls"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// TLSConfig contains API TLS settings. Either a certificate pair or ACME.
type TLSConfig struct {
	CertFile string     `yaml:"cert_file"`
	KeyFile  string     `yaml:"key_file"`
	ACME     ACMEConfig `yaml:"acme"`
}

// Enabled reports whether the API serves TLS
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" || t.ACME.Enabled
}

// ACMEConfig contains Let's Encrypt settings
type ACMEConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Email    string   `yaml:"email"`
	Domains  []string `yaml:"domains"`
	CacheDir string   `yaml:"cache_dir"`
}

// RateLimitConfig contains API write limits
type RateLimitConfig struct {
	Enabled     bool         `yaml:"enabled"`
	Global      *LimitConfig `yaml:"global,omitempty"`
	PerClient   *LimitConfig `yaml:"per_client,omitempty"`   // Keyed by client IP
	PerInvestor *LimitConfig `yaml:"per_investor,omitempty"` // Keyed by investing account
}

// LimitConfig contains rate limit values
type LimitConfig struct {
	RequestsPerHour int `yaml:"requests_per_hour"`
	RequestsPerDay  int `yaml:"requests_per_day"`
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ListenAddr    string        `yaml:"listen_addr"`    // Default: :9090
	Path          string        `yaml:"path"`           // Default: /metrics
	FlushInterval time.Duration `yaml:"flush_interval"` // Default: 10s
	AllowedIPs    []string      `yaml:"allowed_ips"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// AlertsConfig contains operator notification settings
type AlertsConfig struct {
	SMTP SMTPAlertConfig `yaml:"smtp"`
}

// SMTPAlertConfig describes the relay used for alert mails
type SMTPAlertConfig struct {
	Enabled       bool       `yaml:"enabled"`
	Addr          string     `yaml:"addr"` // host:port of the relay
	Username      string     `yaml:"username"`
	Password      string     `yaml:"password"`
	From          string     `yaml:"from"`
	To            []string   `yaml:"to"`
	SubjectPrefix string     `yaml:"subject_prefix"` // Default: [crowdsale]
	DKIM          DKIMConfig `yaml:"dkim"`
}

// DKIMConfig contains DKIM signing settings for alert mails
type DKIMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Selector string `yaml:"selector"`
	KeyFile  string `yaml:"key_file"`
	Domain   string `yaml:"domain"`
}

// GenesisConfig lists balances credited on first start
type GenesisConfig struct {
	Balances []GenesisBalance `yaml:"balances"`
}

// GenesisBalance is one initial credit
type GenesisBalance struct {
	Account string `yaml:"account"`
	Asset   string `yaml:"asset"`
	Amount  uint64 `yaml:"amount"`
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Ledger.NativeAsset == "" {
		c.Ledger.NativeAsset = "native"
	}
	if c.Ledger.ExistentialDeposit == 0 {
		c.Ledger.ExistentialDeposit = 1
	}
	if c.Ledger.MaxShares == 0 {
		c.Ledger.MaxShares = 10
	}

	if c.Storage.Path == "" {
		c.Storage.Path = "/var/lib/crowdsale/ledger.db"
	}

	if c.Scheduler.Interval == 0 {
		c.Scheduler.Interval = 6 * time.Second
	}

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.MaxHeaderBytes == 0 {
		c.API.MaxHeaderBytes = 1 << 20 // 1 MB
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 30 * time.Second
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}
	if c.API.TLS.ACME.Enabled && c.API.TLS.ACME.CacheDir == "" {
		c.API.TLS.ACME.CacheDir = "/var/lib/crowdsale/certs"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.FlushInterval == 0 {
		c.Metrics.FlushInterval = 10 * time.Second
	}

	if c.Alerts.SMTP.SubjectPrefix == "" {
		c.Alerts.SMTP.SubjectPrefix = "[crowdsale]"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if _, err := asset.ParseID(c.Ledger.NativeAsset); err != nil {
		return fmt.Errorf("invalid ledger.native_asset: %w", err)
	}
	if c.Ledger.MaxShares < 1 {
		return fmt.Errorf("ledger.max_shares must be positive")
	}
	if c.Scheduler.Interval < 0 {
		return fmt.Errorf("scheduler.interval must not be negative")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	if err := validateAllowedIPs("api.allowed_ips", c.API.AllowedIPs); err != nil {
		return err
	}
	if err := validateAllowedIPs("metrics.allowed_ips", c.Metrics.AllowedIPs); err != nil {
		return err
	}

	if err := c.validateTLS(); err != nil {
		return err
	}

	if err := c.validateRateLimit(); err != nil {
		return err
	}

	if err := c.validateAlerts(); err != nil {
		return err
	}

	for i, g := range c.Genesis.Balances {
		if _, err := account.Parse(g.Account); err != nil {
			return fmt.Errorf("genesis.balances[%d].account: %w", i, err)
		}
		if _, err := asset.ParseID(g.Asset); err != nil {
			return fmt.Errorf("genesis.balances[%d].asset: %w", i, err)
		}
	}

	return nil
}

func validateAllowedIPs(field string, entries []string) error {
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			if _, err := netip.ParsePrefix(entry); err != nil {
				return fmt.Errorf("invalid CIDR in %s: %s", field, entry)
			}
			continue
		}
		if _, err := netip.ParseAddr(entry); err != nil {
			return fmt.Errorf("invalid IP in %s: %s", field, entry)
		}
	}
	return nil
}

// validateTLS validates the API TLS configuration
func (c *Config) validateTLS() error {
	t := c.API.TLS
	if (t.CertFile == "") != (t.KeyFile == "") {
		return fmt.Errorf("api.tls.cert_file and api.tls.key_file must be set together")
	}
	if t.ACME.Enabled {
		if t.CertFile != "" {
			return fmt.Errorf("api.tls.acme cannot be combined with api.tls.cert_file")
		}
		if len(t.ACME.Domains) == 0 {
			return fmt.Errorf("api.tls.acme.domains must not be empty when ACME is enabled")
		}
	}
	return nil
}

// validateRateLimit validates the API write limits
func (c *Config) validateRateLimit() error {
	limits := map[string]*LimitConfig{
		"global":       c.API.RateLimit.Global,
		"per_client":   c.API.RateLimit.PerClient,
		"per_investor": c.API.RateLimit.PerInvestor,
	}
	for name, l := range limits {
		if l == nil {
			continue
		}
		if l.RequestsPerHour < 0 || l.RequestsPerDay < 0 {
			return fmt.Errorf("api.rate_limit.%s limits must not be negative", name)
		}
	}
	return nil
}

// validateAlerts validates the alert relay configuration
func (c *Config) validateAlerts() error {
	a := c.Alerts.SMTP
	if !a.Enabled {
		return nil
	}

	if a.Addr == "" {
		return fmt.Errorf("alerts.smtp.addr is required when alerts are enabled")
	}
	if a.From == "" {
		return fmt.Errorf("alerts.smtp.from is required when alerts are enabled")
	}
	if len(a.To) == 0 {
		return fmt.Errorf("alerts.smtp.to must not be empty when alerts are enabled")
	}
	if (a.Username == "") != (a.Password == "") {
		return fmt.Errorf("alerts.smtp.username and alerts.smtp.password must be set together")
	}

	if a.DKIM.Enabled {
		if a.DKIM.Selector == "" {
			return fmt.Errorf("alerts.smtp.dkim.selector is required when DKIM is enabled")
		}
		if a.DKIM.KeyFile == "" {
			return fmt.Errorf("alerts.smtp.dkim.key_file is required when DKIM is enabled")
		}
		if a.DKIM.Domain == "" {
			return fmt.Errorf("alerts.smtp.dkim.domain is required when DKIM is enabled")
		}
	}

	return nil
}
