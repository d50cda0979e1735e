package service

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/paper-repository-api/internal/models"
	appErrors "github.com/noah-isme/paper-repository-api/pkg/errors"
	"github.com/noah-isme/paper-repository-api/pkg/mailer"
)

type mailRenderer interface {
	Render(name string, data interface{}) (string, error)
}

// NotificationService turns domain events into e-mail. Every method sends
// exactly one message; delivery retries happen inside the mail sender and a
// final failure is reported as NOTIFICATION_FAILED.
type NotificationService struct {
	sender    mailer.Sender
	templates mailRenderer
	logger    *zap.Logger
}

// NewNotificationService constructs the dispatcher.
func NewNotificationService(sender mailer.Sender, templates mailRenderer, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{sender: sender, templates: templates, logger: logger}
}

// SendDecision tells the requester whether their paper request was approved or rejected.
func (s *NotificationService) SendDecision(ctx context.Context, to, paperTitle string, decision models.RequestStatus, message *string) error {
	body, err := s.templates.Render(mailer.TemplateDecision, map[string]interface{}{
		"PaperTitle": paperTitle,
		"Decision":   string(decision),
		"Message":    deref(message),
	})
	if err != nil {
		return s.failed(err, "render decision notification")
	}
	return s.send(ctx, mailer.Message{
		To:       to,
		Subject:  fmt.Sprintf("Your request for \"%s\" was %s", paperTitle, decision),
		HTMLBody: body,
	})
}

// SendApprovedAttachment mails the paper binary with its descriptive metadata.
func (s *NotificationService) SendApprovedAttachment(ctx context.Context, to string, meta models.PaperMeta, content []byte, message *string) error {
	var year interface{}
	if meta.Year != nil {
		year = *meta.Year
	}
	body, err := s.templates.Render(mailer.TemplateAttachment, map[string]interface{}{
		"ID":      meta.ID,
		"Title":   meta.Title,
		"Authors": meta.Authors,
		"Journal": meta.Journal,
		"Year":    year,
		"Message": deref(message),
	})
	if err != nil {
		return s.failed(err, "render attachment notification")
	}
	contentType := meta.MimeType
	if contentType == "" {
		contentType = "application/pdf"
	}
	return s.send(ctx, mailer.Message{
		To:       to,
		Subject:  fmt.Sprintf("Paper: %s", meta.Title),
		HTMLBody: body,
		Attachments: []mailer.Attachment{{
			Filename:    attachmentName(meta),
			ContentType: contentType,
			Data:        content,
		}},
	})
}

// SendOTP mails an e-mail verification code.
func (s *NotificationService) SendOTP(ctx context.Context, to, name, code string, ttl time.Duration) error {
	body, err := s.templates.Render(mailer.TemplateOTP, map[string]interface{}{
		"Name":      name,
		"Code":      code,
		"ExpiresIn": ttl.String(),
	})
	if err != nil {
		return s.failed(err, "render otp notification")
	}
	return s.send(ctx, mailer.Message{
		To:       to,
		Subject:  "Your verification code",
		HTMLBody: body,
		TextBody: fmt.Sprintf("Your verification code is %s. It expires in %s.", code, ttl),
	})
}

// SendAccountStatus informs a user about an approval decision on their account.
func (s *NotificationService) SendAccountStatus(ctx context.Context, to, name string, status models.UserStatus) error {
	body, err := s.templates.Render(mailer.TemplateAccountStatus, map[string]interface{}{
		"Name":   name,
		"Status": string(status),
	})
	if err != nil {
		return s.failed(err, "render account status notification")
	}
	return s.send(ctx, mailer.Message{
		To:       to,
		Subject:  fmt.Sprintf("Your account was %s", status),
		HTMLBody: body,
	})
}

func (s *NotificationService) send(ctx context.Context, msg mailer.Message) error {
	if s.sender == nil {
		return appErrors.Clone(appErrors.ErrNotificationFailed, "mail transport not configured")
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		s.logger.Warn("notification delivery failed", zap.String("to", msg.To), zap.String("subject", msg.Subject), zap.Error(err))
		return appErrors.Wrap(err, appErrors.ErrNotificationFailed.Code, appErrors.ErrNotificationFailed.Status, appErrors.ErrNotificationFailed.Message)
	}
	return nil
}

func (s *NotificationService) failed(err error, msg string) error {
	s.logger.Error(msg, zap.Error(err))
	return appErrors.Wrap(err, appErrors.ErrNotificationFailed.Code, appErrors.ErrNotificationFailed.Status, msg)
}

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func attachmentName(meta models.PaperMeta) string {
	if meta.FileName != "" {
		return filepath.Base(meta.FileName)
	}
	name := strings.Trim(unsafeFilename.ReplaceAllString(meta.Title, "_"), "_")
	if name == "" {
		name = "paper"
	}
	return name + ".pdf"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
