package mailer

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	mail "gopkg.in/mail.v2"

	"github.com/noah-isme/paper-repository-api/pkg/config"
)

// Attachment is an in-memory file attached to a message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is a single outbound e-mail.
type Message struct {
	To          string
	Subject     string
	HTMLBody    string
	TextBody    string
	Attachments []Attachment
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type dialer interface {
	DialAndSend(m ...*mail.Message) error
}

// SMTPMailer sends messages over SMTP and retries transient failures with
// exponential backoff inside a single Send call.
type SMTPMailer struct {
	from       string
	dialer     dialer
	maxRetries int
	newBackOff func() backoff.BackOff
	logger     *zap.Logger
}

// NewSMTPMailer builds a mailer for the configured relay.
func NewSMTPMailer(cfg config.SMTPConfig, logger *zap.Logger) *SMTPMailer {
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.Timeout = 15 * time.Second
	return newSMTPMailer(cfg.From, d, cfg.MaxRetries, logger)
}

func newSMTPMailer(from string, d dialer, maxRetries int, logger *zap.Logger) *SMTPMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &SMTPMailer{
		from:       from,
		dialer:     d,
		maxRetries: maxRetries,
		newBackOff: func() backoff.BackOff {
			exp := backoff.NewExponentialBackOff()
			exp.InitialInterval = 500 * time.Millisecond
			exp.MaxInterval = 5 * time.Second
			exp.MaxElapsedTime = 30 * time.Second
			return exp
		},
		logger: logger,
	}
}

// Send builds the MIME message and delivers it, retrying up to maxRetries times.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("mail recipient required")
	}
	built := m.build(msg)

	policy := backoff.WithContext(backoff.WithMaxRetries(m.newBackOff(), uint64(m.maxRetries)), ctx)
	err := backoff.RetryNotify(func() error {
		return m.dialer.DialAndSend(built)
	}, policy, func(err error, wait time.Duration) {
		m.logger.Warn("smtp send failed, retrying",
			zap.String("to", msg.To),
			zap.String("subject", msg.Subject),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
	if err != nil {
		return fmt.Errorf("send mail to %s: %w", msg.To, err)
	}
	return nil
}

func (m *SMTPMailer) build(msg Message) *mail.Message {
	out := mail.NewMessage()
	out.SetHeader("From", m.from)
	out.SetHeader("To", msg.To)
	out.SetHeader("Subject", msg.Subject)
	switch {
	case msg.HTMLBody != "" && msg.TextBody != "":
		out.SetBody("text/plain", msg.TextBody)
		out.AddAlternative("text/html", msg.HTMLBody)
	case msg.HTMLBody != "":
		out.SetBody("text/html", msg.HTMLBody)
	default:
		out.SetBody("text/plain", msg.TextBody)
	}
	for _, att := range msg.Attachments {
		data := att.Data
		settings := []mail.FileSetting{
			mail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(data)
				return err
			}),
		}
		if att.ContentType != "" {
			settings = append(settings, mail.SetHeader(map[string][]string{"Content-Type": {att.ContentType}}))
		}
		out.Attach(att.Filename, settings...)
	}
	return out
}
