package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/foxzi/crowdsale/internal/account"
	"github.com/foxzi/crowdsale/internal/asset"
	"github.com/foxzi/crowdsale/internal/config"
	"github.com/foxzi/crowdsale/internal/crowdfunding"
)

func TestParseAssetArg(t *testing.T) {
	tests := []struct {
		in      string
		want    asset.Asset
		wantErr bool
	}{
		{"SHARE:100", asset.New("SHARE", 100), false},
		{"native:1", asset.New("native", 1), false},
		{"SHARE", asset.Asset{}, true},
		{"SHARE:-1", asset.Asset{}, true},
		{":5", asset.Asset{}, true},
		{"SHARE:abc", asset.Asset{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseAssetArg(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseAssetArg(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseAssetArg(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseTimeArg(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"+1h", now.Add(time.Hour), false},
		{"+90s", now.Add(90 * time.Second), false},
		{"2024-06-01T00:00:00Z", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), false},
		{"+soon", time.Time{}, true},
		{"tomorrow", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseTimeArg(tt.in, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseTimeArg(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !got.Equal(tt.want) {
				t.Errorf("parseTimeArg(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestTruncateID(t *testing.T) {
	if got := truncateID("short"); got != "short" {
		t.Errorf("truncateID(short) = %q", got)
	}

	long := "0x" + strings.Repeat("ab", 32)
	got := truncateID(long)
	if !strings.HasPrefix(got, "0xabababab") || !strings.HasSuffix(got, "abab") {
		t.Errorf("truncateID() = %q", got)
	}
	if len(got) >= len(long) {
		t.Errorf("truncateID() did not shorten: %q", got)
	}
}

func TestEventDetail(t *testing.T) {
	who := account.MustParse("0x" + strings.Repeat("01", 32))
	value := asset.New("USDT", 80)

	tests := []struct {
		name string
		ev   *crowdfunding.Event
		want string
	}{
		{"none", &crowdfunding.Event{}, "-"},
		{"asset", &crowdfunding.Event{Asset: &value}, "80 USDT"},
		{"account", &crowdfunding.Event{Account: &who}, truncateID(who.String())},
		{"both", &crowdfunding.Event{Account: &who, Asset: &value}, "80 USDT by " + truncateID(who.String())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := eventDetail(tt.ev); got != tt.want {
				t.Errorf("eventDetail() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGenerateRandomString(t *testing.T) {
	for _, length := range []int{8, 16, 32} {
		if got := generateRandomString(length); len(got) != length {
			t.Errorf("generateRandomString(%d) returned length %d", length, len(got))
		}
	}

	if generateRandomString(32) == generateRandomString(32) {
		t.Error("generateRandomString should generate unique strings")
	}
}

func TestDomainOf(t *testing.T) {
	if got := domainOf("ops@example.com"); got != "example.com" {
		t.Errorf("domainOf() = %q, want example.com", got)
	}
	if got := domainOf("ops"); got != "localhost" {
		t.Errorf("domainOf() = %q, want localhost", got)
	}
}

// loadGenerated writes a generated config to disk and loads it back
func loadGenerated(t *testing.T, dkimKeyPath string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(generateConfig(dkimKeyPath)), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
	return cfg
}

func TestGenerateConfig(t *testing.T) {
	initDataDir = "/srv/crowdsale"
	initAPIKey = "testapikey"
	initNative = "DOT"
	initAlertTo = ""

	cfg := loadGenerated(t, "")

	if cfg.API.APIKey != "testapikey" {
		t.Errorf("api_key = %q", cfg.API.APIKey)
	}
	if cfg.Ledger.NativeAsset != "DOT" {
		t.Errorf("native_asset = %q", cfg.Ledger.NativeAsset)
	}
	if cfg.Storage.Path != "/srv/crowdsale/ledger.db" {
		t.Errorf("storage.path = %q", cfg.Storage.Path)
	}
	if cfg.Alerts.SMTP.Enabled {
		t.Error("alerts enabled without an operator address")
	}
	if !cfg.Metrics.Enabled {
		t.Error("metrics disabled in generated config")
	}
	if rl := cfg.API.RateLimit; !rl.Enabled || rl.PerInvestor == nil || rl.PerInvestor.RequestsPerHour != 60 {
		t.Errorf("rate_limit = %+v", rl)
	}
	if cfg.API.TLS.Enabled() {
		t.Error("TLS enabled in generated config")
	}
}

func TestGenerateConfigWithAlerts(t *testing.T) {
	initDataDir = "/srv/crowdsale"
	initAPIKey = "testapikey"
	initNative = "native"
	initAlertTo = "ops@example.com"
	initAlertRelay = "smtp.example.com:587"
	initAlertFrom = "crowdsale@example.com"
	defer func() { initAlertTo = "" }()

	cfg := loadGenerated(t, "/srv/crowdsale/dkim/example.com.key")

	a := cfg.Alerts.SMTP
	if !a.Enabled || a.Addr != "smtp.example.com:587" || a.From != "crowdsale@example.com" {
		t.Errorf("alerts = %+v", a)
	}
	if len(a.To) != 1 || a.To[0] != "ops@example.com" {
		t.Errorf("alerts.to = %v", a.To)
	}
	if !a.DKIM.Enabled || a.DKIM.Domain != "example.com" || a.DKIM.Selector != "crowdsale" {
		t.Errorf("alerts.dkim = %+v", a.DKIM)
	}
}
