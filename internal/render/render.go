// Package render produces the printable certificate artifact.
package render

import (
	"context"
	"time"
)

// CertificateData carries the fields printed on an artifact.
type CertificateData struct {
	Title            string
	Description      string
	RecipientName    string
	IssuerName       string
	OrganizationName string
	CourseName       string
	Grade            string
	VerificationCode string
	VerificationID   string
	VerifyURL        string
	IssuedAt         time.Time
}

// Renderer produces artifact bytes for a certificate.
type Renderer interface {
	Render(ctx context.Context, data CertificateData) ([]byte, error)
}
