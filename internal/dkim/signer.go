// Package dkim signs outgoing operator alert mails so relays that enforce
// DMARC accept them.
package dkim

import (
	"bytes"
	"crypto"
	"fmt"
	"time"

	"github.com/emersion/go-msgauth/dkim"
)

// alertHeaders are covered by the signature. Message-ID binds the
// signature to a single alert.
var alertHeaders = []string{"From", "To", "Subject", "Date", "Message-ID", "MIME-Version", "Content-Type"}

// DefaultValidity bounds how long a signed alert verifies. An alert about
// an aborted settlement is stale well before then.
const DefaultValidity = 7 * 24 * time.Hour

// Signer signs alert mails as selector._domainkey.domain
type Signer struct {
	key      crypto.Signer
	domain   string
	selector string
	validity time.Duration
	now      func() time.Time
}

func NewSigner(key crypto.Signer, domain, selector string) *Signer {
	return &Signer{
		key:      key,
		domain:   domain,
		selector: selector,
		validity: DefaultValidity,
		now:      time.Now,
	}
}

// NewSignerFromFile loads the PEM key written by "alerts dkim generate"
func NewSignerFromFile(keyFile, domain, selector string) (*Signer, error) {
	key, err := LoadPrivateKey(keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load DKIM key for %s: %w", domain, err)
	}
	return NewSigner(key, domain, selector), nil
}

// Sign prepends a DKIM-Signature header carrying a signing time and an
// expiration
func (s *Signer) Sign(message []byte) ([]byte, error) {
	signedAt := s.now()
	var signed bytes.Buffer
	err := dkim.Sign(&signed, bytes.NewReader(message), &dkim.SignOptions{
		Domain:                 s.domain,
		Selector:               s.selector,
		Signer:                 s.key,
		Hash:                   crypto.SHA256,
		HeaderKeys:             alertHeaders,
		HeaderCanonicalization: dkim.CanonicalizationRelaxed,
		BodyCanonicalization:   dkim.CanonicalizationRelaxed,
		Expiration:             signedAt.Add(s.validity),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign alert as %s: %w", s.Identity(), err)
	}
	return signed.Bytes(), nil
}

// Identity returns the DNS name the signature points verifiers at
func (s *Signer) Identity() string {
	return s.selector + "._domainkey." + s.domain
}
