package dkim

import (
	"bytes"
	"crypto/ed25519"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/emersion/go-msgauth/dkim"
)

const testMessage = "From: alerts@example.com\r\n" +
	"To: ops@example.org\r\n" +
	"Subject: [crowdsale] invariant violation\r\n" +
	"Date: Mon, 1 Jan 2026 12:00:00 +0000\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Settlement aborted.\r\n"

func TestGenerateKey(t *testing.T) {
	tests := []struct {
		algorithm string
		wantAlg   string
		wantErr   bool
	}{
		{"", AlgorithmRSA, false},
		{AlgorithmRSA, AlgorithmRSA, false},
		{AlgorithmEd25519, AlgorithmEd25519, false},
		{"dsa", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.algorithm, func(t *testing.T) {
			kp, err := GenerateKey(tt.algorithm, "example.com", "alerts")
			if (err != nil) != tt.wantErr {
				t.Fatalf("GenerateKey() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got := kp.Algorithm(); got != tt.wantAlg {
				t.Errorf("Algorithm() = %q, want %q", got, tt.wantAlg)
			}
			if !strings.HasPrefix(kp.DNSRecord(), "v=DKIM1; k="+tt.wantAlg+"; p=") {
				t.Errorf("DNSRecord() = %q", kp.DNSRecord())
			}
		})
	}
}

func TestDNSName(t *testing.T) {
	kp := &KeyPair{Domain: "example.com", Selector: "alerts"}
	if got, want := kp.DNSName(), "alerts._domainkey.example.com"; got != want {
		t.Errorf("DNSName() = %q, want %q", got, want)
	}
}

func TestSaveAndLoadPrivateKey(t *testing.T) {
	for _, alg := range []string{AlgorithmRSA, AlgorithmEd25519} {
		t.Run(alg, func(t *testing.T) {
			kp, err := GenerateKey(alg, "example.com", "alerts")
			if err != nil {
				t.Fatal(err)
			}

			path := filepath.Join(t.TempDir(), "keys", "alerts.pem")
			if err := kp.SavePrivateKey(path); err != nil {
				t.Fatalf("SavePrivateKey() error = %v", err)
			}

			info, err := os.Stat(path)
			if err != nil {
				t.Fatal(err)
			}
			if perm := info.Mode().Perm(); perm != 0600 {
				t.Errorf("key file mode = %o, want 0600", perm)
			}

			loaded, err := LoadPrivateKey(path)
			if err != nil {
				t.Fatalf("LoadPrivateKey() error = %v", err)
			}
			if alg == AlgorithmEd25519 {
				if _, ok := loaded.(ed25519.PrivateKey); !ok {
					t.Errorf("loaded key type = %T, want ed25519", loaded)
				}
			}
		})
	}
}

func TestLoadPrivateKeyErrors(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.pem")
	if err := os.WriteFile(garbage, []byte("not a pem"), 0600); err != nil {
		t.Fatal(err)
	}
	wrongType := filepath.Join(dir, "cert.pem")
	if err := os.WriteFile(wrongType, []byte("-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n"), 0600); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{filepath.Join(dir, "missing.pem"), garbage, wrongType} {
		if _, err := LoadPrivateKey(path); err == nil {
			t.Errorf("LoadPrivateKey(%s) expected error", filepath.Base(path))
		}
	}
}

func TestSign(t *testing.T) {
	kp, err := GenerateKey(AlgorithmRSA, "example.com", "alerts")
	if err != nil {
		t.Fatal(err)
	}
	signer := NewSigner(kp.PrivateKey, "example.com", "alerts")

	signed, err := signer.Sign([]byte(testMessage))
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	if !bytes.HasPrefix(signed, []byte("DKIM-Signature:")) {
		t.Error("signed message should start with DKIM-Signature header")
	}
	if !bytes.Contains(signed, []byte("Settlement aborted.")) {
		t.Error("signed message should contain original body")
	}
	s := string(signed)
	if !strings.Contains(s, "d=example.com") || !strings.Contains(s, "s=alerts") {
		t.Error("signature should carry domain and selector")
	}
	if !strings.Contains(s, " x=") {
		t.Error("signature should carry an expiration")
	}
	if got, want := signer.Identity(), kp.DNSName(); got != want {
		t.Errorf("Identity() = %q, want %q", got, want)
	}
}

func TestSignVerifies(t *testing.T) {
	for _, alg := range []string{AlgorithmRSA, AlgorithmEd25519} {
		t.Run(alg, func(t *testing.T) {
			kp, err := GenerateKey(alg, "example.com", "alerts")
			if err != nil {
				t.Fatal(err)
			}

			path := filepath.Join(t.TempDir(), "alerts.pem")
			if err := kp.SavePrivateKey(path); err != nil {
				t.Fatal(err)
			}
			signer, err := NewSignerFromFile(path, "example.com", "alerts")
			if err != nil {
				t.Fatalf("NewSignerFromFile() error = %v", err)
			}

			signed, err := signer.Sign([]byte(testMessage))
			if err != nil {
				t.Fatalf("Sign() error = %v", err)
			}

			lookup := func(domain string) ([]string, error) {
				if domain != kp.DNSName() {
					t.Errorf("lookup domain = %q, want %q", domain, kp.DNSName())
				}
				return []string{kp.DNSRecord()}, nil
			}
			verifications, err := dkim.VerifyWithOptions(bytes.NewReader(signed), &dkim.VerifyOptions{LookupTXT: lookup})
			if err != nil {
				t.Fatalf("VerifyWithOptions() error = %v", err)
			}
			if len(verifications) != 1 {
				t.Fatalf("verifications = %d, want 1", len(verifications))
			}
			if verifications[0].Err != nil {
				t.Errorf("verification error = %v", verifications[0].Err)
			}
		})
	}
}

func TestNewSignerFromFileMissing(t *testing.T) {
	if _, err := NewSignerFromFile("/nonexistent/key.pem", "example.com", "alerts"); err == nil {
		t.Error("expected error for non-existent file")
	}
}
