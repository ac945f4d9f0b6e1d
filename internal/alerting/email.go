// AgentWatch - Real-Time Security Monitoring for Multi-Agent Platforms
// Copyright 2026 AgentWatch Authors
// SPDX-License-Identifier: Apache-2.0

package alerting

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/agentwatch/agentwatch/internal/models"
)

// EmailConfig configures the email notification channel.
type EmailConfig struct {
	SMTPAddr string   `koanf:"smtp_addr" validate:"required"` // host:port
	From     string   `koanf:"from" validate:"required,email"`
	To       []string `koanf:"to" validate:"min=1,dive,email"`
	Username string   `koanf:"username"`
	Password string   `koanf:"password"`
}

// sendMailFunc matches smtp.SendMail; injectable for tests.
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailChannel sends alert summaries over SMTP.
type EmailChannel struct {
	cfg      EmailConfig
	sendMail sendMailFunc
}

// NewEmailChannel creates the email channel.
func NewEmailChannel(cfg EmailConfig) *EmailChannel {
	return &EmailChannel{cfg: cfg, sendMail: smtp.SendMail}
}

// Name returns "email".
func (c *EmailChannel) Name() string { return "email" }

// Send delivers the alert summary. SMTP has no context support; the bounded
// connection behavior comes from the server-side timeout on the MTA.
func (c *EmailChannel) Send(ctx context.Context, alert *models.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if c.cfg.Username != "" {
		host := c.cfg.SMTPAddr
		if i := strings.IndexByte(host, ':'); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, host)
	}

	msg := c.format(alert)
	if err := c.sendMail(c.cfg.SMTPAddr, auth, c.cfg.From, c.cfg.To, msg); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

func (c *EmailChannel) format(alert *models.Alert) []byte {
	event := alert.Event
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", c.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(c.cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: [%s] security alert: %s\r\n", event.Severity, alert.RuleName)
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "Rule: %s\r\n", alert.RuleName)
	fmt.Fprintf(&b, "Agent: %s\r\n", event.AgentID)
	fmt.Fprintf(&b, "Event: %s\r\n", event.Type)
	fmt.Fprintf(&b, "Severity: %s\r\n", event.Severity)
	fmt.Fprintf(&b, "Resource: %s\r\n", event.Resource)
	fmt.Fprintf(&b, "Action: %s\r\n", event.Action)
	fmt.Fprintf(&b, "Risk score: %.1f\r\n", event.RiskScore)
	fmt.Fprintf(&b, "Time: %s\r\n", event.Timestamp.Format("2006-01-02 15:04:05 MST"))
	return []byte(b.String())
}
