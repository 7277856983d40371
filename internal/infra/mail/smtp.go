package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/tranzio/tranzio-api/internal/core/port"
	"github.com/tranzio/tranzio-api/internal/infra/config"
	"github.com/tranzio/tranzio-api/internal/infra/logger"
)

const defaultSendTimeout = 10 * time.Second

// SMTPNotifier delivers signup emails through an SMTP relay.
type SMTPNotifier struct {
	cfg     config.SMTPSettings
	from    mail.Address
	logger  *zap.Logger
	now     func() time.Time
	dialer  *net.Dialer
	tlsConf *tls.Config
}

// NewSMTPNotifier validates the relay settings.
func NewSMTPNotifier(cfg config.SMTPSettings, log *zap.Logger) (*SMTPNotifier, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	from, err := mail.ParseAddress(cfg.From)
	if err != nil {
		return nil, fmt.Errorf("parse smtp from address: %w", err)
	}
	if cfg.FromName != "" {
		from.Name = cfg.FromName
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSendTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &SMTPNotifier{
		cfg:     cfg,
		from:    *from,
		logger:  log,
		now:     time.Now,
		dialer:  &net.Dialer{},
		tlsConf: &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12},
	}, nil
}

// SendOTPEmail sends the verification code.
func (n *SMTPNotifier) SendOTPEmail(ctx context.Context, email, code string, expiresAt time.Time) error {
	body, err := renderOTP(code, expiresAt, n.now())
	if err != nil {
		return err
	}
	return n.send(ctx, Message{From: n.from, To: email, Subject: "Your TrnZio verification code", HTML: body})
}

// SendWelcomeEmail confirms account creation.
func (n *SMTPNotifier) SendWelcomeEmail(ctx context.Context, email, accountCode string) error {
	body, err := renderWelcome(accountCode)
	if err != nil {
		return err
	}
	return n.send(ctx, Message{From: n.from, To: email, Subject: "Welcome to TrnZio", HTML: body})
}

func (n *SMTPNotifier) send(ctx context.Context, msg Message) error {
	if _, err := mail.ParseAddress(msg.To); err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	conn, err := n.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(n.tlsConf); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if n.cfg.Username != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}

	if err := client.Mail(n.from.Address); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg.Bytes(n.now())); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp finish body: %w", err)
	}

	if err := client.Quit(); err != nil {
		n.logger.Debug("smtp quit failed", zap.Error(err))
	}

	n.logger.Info("email dispatched",
		zap.String("to", logger.MaskEmail(msg.To)),
		zap.String("subject", msg.Subject),
	)
	return nil
}

var _ port.Notifier = (*SMTPNotifier)(nil)
