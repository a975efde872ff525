package email

import (
	"fmt"
	"net/smtp"

	"github.com/Dan9191/bank-cards/internal/config"
	"github.com/Dan9191/bank-cards/internal/models"
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

// NotifyTransfer sends a confirmation of a completed transfer to its initiator
func (s *Sender) NotifyTransfer(user *models.User, transfer models.TransferView) error {
	if user.Email == "" {
		return nil
	}

	e := transferEmail(s.cfg.SenderEmail, user, transfer)

	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	var auth smtp.Auth
	if s.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	}
	if err := s.send(e, addr, auth); err != nil {
		s.logger.Errorf("Failed to send transfer notification to %s: %v", user.Email, err)
		return fmt.Errorf("failed to send transfer notification: %w", err)
	}

	s.logger.Infof("Email sent to %s: %s", user.Email, e.Subject)
	return nil
}

func transferEmail(from string, user *models.User, t models.TransferView) *email.Email {
	e := email.NewEmail()
	e.From = from
	e.To = []string{user.Email}
	e.Subject = "Transfer Notification"

	name := user.FirstName
	if name == "" {
		name = user.Username
	}
	body := fmt.Sprintf("Dear %s,\n\n", name)
	body += fmt.Sprintf(
		"A transfer of %s RUB from card %s to card %s was completed.\n"+
			"Transfer time: %s\n",
		t.Amount.StringFixed(2), t.FromCardMasked, t.ToCardMasked, t.TransferDate.Format("2006-01-02 15:04:05"),
	)
	if t.Description != "" {
		body += fmt.Sprintf("Description: %s\n", t.Description)
	}
	body += "\nBest regards,\nBank Service"
	e.Text = []byte(body)
	return e
}
