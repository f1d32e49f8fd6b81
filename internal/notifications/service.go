package notifications

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Dispatcher delivers alerts fire-and-forget. Implementations report errors
// so callers can log them, but callers must never fail on a dispatch error.
type Dispatcher interface {
	Notify(ctx context.Context, n Notification) error
}

type messageTemplate struct {
	subject string
	body    string
}

// Templates are deliberately plain text; presentation belongs to the client.
var templates = map[Template]messageTemplate{
	TemplateCertificateCreated: {
		subject: "Your certificate \"{{.title}}\" has been created",
		body:    "Hello {{.recipient_name}},\n\nA certificate titled \"{{.title}}\" has been created for you by {{.issuer_name}}. You will be notified when it is issued.\n",
	},
	TemplateApprovalRequested: {
		subject: "Approval requested: {{.title}}",
		body:    "Hello {{.approver_name}},\n\nThe certificate \"{{.title}}\" is waiting for your review ({{.step_name}}).\n",
	},
	TemplateCertificateApproved: {
		subject: "Certificate \"{{.title}}\" approved",
		body:    "Hello {{.recipient_name}},\n\nAll reviewers have approved your certificate \"{{.title}}\". It will be issued shortly.\n",
	},
	TemplateCertificateRejected: {
		subject: "Certificate \"{{.title}}\" rejected",
		body:    "Hello {{.recipient_name}},\n\nYour certificate \"{{.title}}\" was rejected during review.{{if .comments}} Reviewer comments: {{.comments}}{{end}}\n",
	},
	TemplateCertificateIssued: {
		subject: "Your certificate \"{{.title}}\" has been issued",
		body:    "Hello {{.recipient_name}},\n\nYour certificate \"{{.title}}\" has been issued. Verification code: {{.verification_code}}.\n",
	},
	TemplateCertificateRevoked: {
		subject: "Certificate \"{{.title}}\" revoked",
		body:    "Hello {{.recipient_name}},\n\nYour certificate \"{{.title}}\" has been revoked. Reason: {{.reason}}\n",
	},
}

// Service dispatches notifications over email and keeps a delivery log.
type Service struct {
	db     *gorm.DB
	email  EmailSender
	logger *zap.Logger
}

// NewService creates the notification service and migrates its log table.
// The service is constructed with its dependencies; it keeps no process-wide
// state.
func NewService(db *gorm.DB, email EmailSender, logger *zap.Logger) (*Service, error) {
	if err := db.AutoMigrate(&SentNotification{}); err != nil {
		return nil, fmt.Errorf("failed to migrate notification log: %w", err)
	}
	return &Service{db: db, email: email, logger: logger}, nil
}

// Notify renders the template and sends it, recording the attempt either way.
func (s *Service) Notify(ctx context.Context, n Notification) error {
	subject, body, err := renderTemplate(n.Template, n.Payload)
	if err == nil {
		err = s.email.Send(ctx, n.RecipientEmail, subject, body, "")
	}

	record := &SentNotification{
		ID:             uuid.New(),
		RecipientID:    n.RecipientID,
		RecipientEmail: n.RecipientEmail,
		Template:       string(n.Template),
		Status:         StatusSent,
		CreatedAt:      time.Now().UTC(),
	}
	if err != nil {
		record.Status = StatusFailed
		record.ErrorMessage = err.Error()
	}
	if dbErr := s.db.WithContext(ctx).Create(record).Error; dbErr != nil {
		s.logger.Warn("failed to record notification",
			zap.String("template", string(n.Template)),
			zap.Error(dbErr))
	}
	return err
}

func renderTemplate(name Template, payload map[string]string) (string, string, error) {
	tpl, ok := templates[name]
	if !ok {
		return "", "", fmt.Errorf("unknown notification template %q", name)
	}
	subject, err := execute(string(name)+"_subject", tpl.subject, payload)
	if err != nil {
		return "", "", err
	}
	body, err := execute(string(name)+"_body", tpl.body, payload)
	if err != nil {
		return "", "", err
	}
	return subject, body, nil
}

func execute(name, text string, payload map[string]string) (string, error) {
	t, err := template.New(name).Parse(text)
	if err != nil {
		return "", fmt.Errorf("parsing template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, payload); err != nil {
		return "", fmt.Errorf("rendering template %s: %w", name, err)
	}
	return buf.String(), nil
}
