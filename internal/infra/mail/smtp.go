package mail

import (
	"context"
	"fmt"
	"time"

	"competition-service/internal/domain"
	"github.com/sirupsen/logrus"
	gomail "github.com/wneessen/go-mail"
)

// SMTPConfig addresses the relay used for outbound mail.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Timeout  time.Duration
}

// SMTPTransport delivers outbox entries through an SMTP relay. A message that
// cannot be built is domain.ErrUndeliverable; relay failures are
// domain.ErrDeliveryFailed and get retried.
type SMTPTransport struct {
	cfg SMTPConfig
}

func NewSMTPTransport(cfg SMTPConfig) *SMTPTransport {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &SMTPTransport{cfg: cfg}
}

func (t *SMTPTransport) Send(ctx context.Context, msg domain.EmailMessage) error {
	m, err := buildMessage(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUndeliverable, err)
	}
	client, err := gomail.NewClient(t.cfg.Host, t.options()...)
	if err != nil {
		return fmt.Errorf("%w: smtp client: %v", domain.ErrDeliveryFailed, err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDeliveryFailed, err)
	}
	return nil
}

func (t *SMTPTransport) options() []gomail.Option {
	opts := []gomail.Option{
		gomail.WithPort(t.cfg.Port),
		gomail.WithTimeout(t.cfg.Timeout),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if t.cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(t.cfg.Username),
			gomail.WithPassword(t.cfg.Password),
		)
	}
	return opts
}

// buildMessage renders a plain text body with an HTML alternative.
func buildMessage(msg domain.EmailMessage) (*gomail.Msg, error) {
	m := gomail.NewMsg()
	if err := m.From(msg.Sender); err != nil {
		return nil, fmt.Errorf("sender %q: %w", msg.Sender, err)
	}
	if err := m.To(msg.Recipient); err != nil {
		return nil, fmt.Errorf("recipient %q: %w", msg.Recipient, err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(gomail.TypeTextPlain, msg.Text)
	if msg.HTML != "" {
		m.AddAlternativeString(gomail.TypeTextHTML, msg.HTML)
	}
	return m, nil
}

// LogTransport writes emails to the log instead of sending them. It is used
// when no SMTP host is configured.
type LogTransport struct {
	log logrus.FieldLogger
}

func NewLogTransport(log logrus.FieldLogger) *LogTransport {
	return &LogTransport{log: log}
}

func (t *LogTransport) Send(_ context.Context, msg domain.EmailMessage) error {
	t.log.WithFields(logrus.Fields{
		"recipient": msg.Recipient,
		"sender":    msg.Sender,
		"subject":   msg.Subject,
	}).Info("email delivered to log")
	return nil
}
