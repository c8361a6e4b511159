// Package alert notifies operators when a settlement is aborted by an escrow
// invariant violation.
package alert

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.com/foxzi/crowdsale/internal/config"
	"github.com/foxzi/crowdsale/internal/crowdfunding"
	"github.com/foxzi/crowdsale/internal/dkim"
)

// sendFunc matches smtp.SendMail
type sendFunc func(addr string, a sasl.Client, from string, to []string, r io.Reader) error

// Mailer sends plain-text alert mails through an SMTP relay
type Mailer struct {
	cfg    config.SMTPAlertConfig
	signer *dkim.Signer
	logger *slog.Logger
	now    func() time.Time
	send   sendFunc
}

var _ crowdfunding.Alerter = (*Mailer)(nil)

// New creates a mailer. It returns nil when alerts are disabled; a nil
// Mailer drops every alert.
func New(cfg config.SMTPAlertConfig, logger *slog.Logger) (*Mailer, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	m := &Mailer{
		cfg:    cfg,
		logger: logger.With("component", "alert"),
		now:    time.Now,
		send:   smtp.SendMail,
	}

	if cfg.DKIM.Enabled {
		signer, err := dkim.NewSignerFromFile(cfg.DKIM.KeyFile, cfg.DKIM.Domain, cfg.DKIM.Selector)
		if err != nil {
			return nil, err
		}
		m.signer = signer
		m.logger.Info("DKIM signing enabled for alerts",
			"identity", signer.Identity(),
		)
	}

	return m, nil
}

// Alert reports a failed settlement to every configured operator
func (m *Mailer) Alert(ctx context.Context, id crowdfunding.CampaignID, cause error) error {
	if m == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data := m.compose(id, cause)
	if m.signer != nil {
		signed, err := m.signer.Sign(data)
		if err != nil {
			m.logger.Warn("DKIM signing failed, sending unsigned",
				"identity", m.signer.Identity(),
				"error", err,
			)
		} else {
			data = signed
		}
	}

	var auth sasl.Client
	if m.cfg.Username != "" {
		auth = sasl.NewPlainClient("", m.cfg.Username, m.cfg.Password)
	}

	if err := m.send(m.cfg.Addr, auth, address(m.cfg.From), m.cfg.To, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to send alert via %s: %w", m.cfg.Addr, err)
	}

	m.logger.Info("alert sent",
		"campaign_id", id,
		"to", m.cfg.To,
	)
	return nil
}

// compose builds the RFC 5322 alert message
func (m *Mailer) compose(id crowdfunding.CampaignID, cause error) []byte {
	now := m.now().UTC()
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(m.cfg.To, ", "))
	fmt.Fprintf(&buf, "Subject: %s settlement aborted for campaign %s\r\n", m.cfg.SubjectPrefix, id)
	fmt.Fprintf(&buf, "Date: %s\r\n", now.Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "Message-ID: <%s@%s>\r\n", uuid.New().String(), senderDomain(m.cfg.From))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("\r\n")

	fmt.Fprintf(&buf, "Campaign:  %s\r\n", id)
	fmt.Fprintf(&buf, "Escrow:    %s\r\n", id.Escrow())
	fmt.Fprintf(&buf, "Time:      %s\r\n", now.Format(time.RFC3339))
	fmt.Fprintf(&buf, "Error:     %v\r\n", cause)
	buf.WriteString("\r\n")
	buf.WriteString("The settlement transaction was rolled back and the campaign is unchanged.\r\n")
	buf.WriteString("The escrow balances no longer match the recorded contributions.\r\n")

	return buf.Bytes()
}

// address strips a display name from a mailbox
func address(mailbox string) string {
	if parsed, err := mail.ParseAddress(mailbox); err == nil {
		return parsed.Address
	}
	return mailbox
}

// senderDomain extracts the domain part of the From address
func senderDomain(from string) string {
	addr := address(from)
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}
