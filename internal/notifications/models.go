// Package notifications delivers best-effort user-facing alerts. Failures
// are recorded and logged; they never propagate to the operation that
// triggered the notification.
package notifications

import (
	"time"

	"github.com/google/uuid"
)

// Template identifies a notification template.
type Template string

const (
	TemplateCertificateCreated  Template = "certificate_created"
	TemplateApprovalRequested   Template = "approval_requested"
	TemplateCertificateApproved Template = "certificate_approved"
	TemplateCertificateRejected Template = "certificate_rejected"
	TemplateCertificateIssued   Template = "certificate_issued"
	TemplateCertificateRevoked  Template = "certificate_revoked"
)

// Delivery statuses recorded per sent notification.
const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Notification is one alert to deliver.
type Notification struct {
	RecipientID    string
	RecipientEmail string
	Template       Template
	Payload        map[string]string
}

// SentNotification is the persisted delivery-log row.
type SentNotification struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	RecipientID    string    `gorm:"index"`
	RecipientEmail string
	Template       string
	Status         string
	ErrorMessage   string
	CreatedAt      time.Time
}
