package email

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/Dan9191/finance-ledger/internal/config"
	"github.com/Dan9191/finance-ledger/internal/ledger"
	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
)

// Sender handles sending emails via SMTP
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
	send   func(e *email.Email, addr string, auth smtp.Auth) error
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	return &Sender{
		cfg:    cfg,
		logger: logger,
		send: func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		},
	}
}

// ReconcileAlert builds the message describing a reconciliation run that
// found drifted balances or failed accounts
func (s *Sender) ReconcileAlert(report ledger.Report) *email.Email {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{s.cfg.AlertEmail}
	e.Subject = fmt.Sprintf("Ledger reconciliation: %d drifted, %d failed", len(report.Drifts), len(report.Failures))

	var body strings.Builder
	fmt.Fprintf(&body, "Reconciliation started %s checked %d accounts.\n",
		report.Started.Format("2006-01-02 15:04:05"), report.Accounts)
	if len(report.Drifts) > 0 {
		body.WriteString("\nRepaired balances:\n")
		for _, d := range report.Drifts {
			fmt.Fprintf(&body, "  user %s account %s: stored %s, actual %s (%d operations fixed)\n",
				d.UserID, d.AccountID, d.Stored, d.Actual, d.Operations)
		}
	}
	if len(report.Failures) > 0 {
		body.WriteString("\nFailed accounts:\n")
		for _, f := range report.Failures {
			fmt.Fprintf(&body, "  user %s account %s: %s\n", f.UserID, f.AccountID, f.Error)
		}
	}
	e.Text = []byte(body.String())
	return e
}

// SendReconcileAlert mails the report to the configured alert address
func (s *Sender) SendReconcileAlert(report ledger.Report) error {
	e := s.ReconcileAlert(report)

	// Send email
	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	var auth smtp.Auth
	if s.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	}
	if err := s.send(e, addr, auth); err != nil {
		s.logger.Errorf("Failed to send reconcile alert to %s: %v", s.cfg.AlertEmail, err)
		return fmt.Errorf("failed to send reconcile alert: %w", err)
	}

	s.logger.Infof("Email sent to %s: %s", s.cfg.AlertEmail, e.Subject)
	return nil
}
