package certificates

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CertificateStatus is the certificate lifecycle state.
type CertificateStatus string

const (
	StatusDraft    CertificateStatus = "draft"
	StatusPending  CertificateStatus = "pending"
	StatusApproved CertificateStatus = "approved"
	StatusRejected CertificateStatus = "rejected"
	StatusIssued   CertificateStatus = "issued"
	StatusRevoked  CertificateStatus = "revoked"
)

// ParseStatus maps a persisted status string onto the closed status set.
func ParseStatus(s string) (CertificateStatus, error) {
	switch CertificateStatus(s) {
	case StatusDraft, StatusPending, StatusApproved, StatusRejected, StatusIssued, StatusRevoked:
		return CertificateStatus(s), nil
	}
	return "", fmt.Errorf("unknown certificate status %q", s)
}

// CertificateType classifies the credential being issued.
type CertificateType string

const (
	TypeAcademic      CertificateType = "academic"
	TypeProfessional  CertificateType = "professional"
	TypeCompletion    CertificateType = "completion"
	TypeAchievement   CertificateType = "achievement"
	TypeParticipation CertificateType = "participation"
)

// ParseCertificateType maps a persisted type string onto the closed type set.
func ParseCertificateType(s string) (CertificateType, error) {
	switch CertificateType(s) {
	case TypeAcademic, TypeProfessional, TypeCompletion, TypeAchievement, TypeParticipation:
		return CertificateType(s), nil
	}
	return "", fmt.Errorf("unknown certificate type %q", s)
}

// StepStatus is the state of a single approval step.
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepApproved StepStatus = "approved"
	StepRejected StepStatus = "rejected"
)

// TransactionAction identifies an audit-log entry kind.
type TransactionAction string

const (
	ActionCreated         TransactionAction = "created"
	ActionStepApproved    TransactionAction = "step_approved"
	ActionStepRejected    TransactionAction = "step_rejected"
	ActionIssued          TransactionAction = "issued"
	ActionRevoked         TransactionAction = "revoked"
	ActionShared          TransactionAction = "shared"
	ActionTokenRevoked    TransactionAction = "token_revoked"
	ActionAccessed        TransactionAction = "accessed"
	ActionAccessedByToken TransactionAction = "accessed_via_token"
)

// AnonymousActor is recorded on unauthenticated verification accesses.
const AnonymousActor = "anonymous"

// Metadata is the open extension bag carried by certificates and audit
// records. Keys and values are plain strings so the persisted form stays
// queryable; anything structured belongs in a typed column instead.
type Metadata map[string]string

// Value implements driver.Valuer, persisting the map as JSON.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(src interface{}) error {
	if src == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Metadata", src)
	}
	if len(data) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(data, m)
}

// Certificate is the central entity of the engine.
type Certificate struct {
	ID               uuid.UUID `db:"id" json:"id"`
	VerificationID   string    `db:"verification_id" json:"verification_id"`
	VerificationCode string    `db:"verification_code" json:"verification_code"`

	IssuerID       string `db:"issuer_id" json:"issuer_id"`
	IssuerName     string `db:"issuer_name" json:"issuer_name"`
	RecipientID    string `db:"recipient_id" json:"recipient_id"`
	RecipientEmail string `db:"recipient_email" json:"recipient_email"`
	RecipientName  string `db:"recipient_name" json:"recipient_name"`
	OrganizationID string `db:"organization_id" json:"organization_id"`

	Title       string          `db:"title" json:"title"`
	Description string          `db:"description" json:"description"`
	Type        CertificateType `db:"certificate_type" json:"type"`
	CourseName  *string         `db:"course_name" json:"course_name,omitempty"`
	Grade       *string         `db:"grade" json:"grade,omitempty"`
	Metadata    Metadata        `db:"metadata" json:"metadata,omitempty"`

	IssuedAt    *time.Time `db:"issued_at" json:"issued_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	ExpiresAt   *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`

	Hash   string `db:"hash" json:"hash"`
	QRCode string `db:"qr_code" json:"qr_code"`

	Status           CertificateStatus `db:"status" json:"status"`
	RequiresApproval bool              `db:"requires_approval" json:"requires_approval"`
	CurrentStepID    *uuid.UUID        `db:"current_step_id" json:"current_approval_step,omitempty"`

	ShareCount        int        `db:"share_count" json:"share_count"`
	VerificationCount int        `db:"verification_count" json:"verification_count"`
	AccessCount       int        `db:"access_count" json:"access_count"`
	LastAccessedAt    *time.Time `db:"last_accessed_at" json:"last_accessed_at,omitempty"`
	IsVerified        bool       `db:"is_verified" json:"is_verified"`
	IsRevoked         bool       `db:"is_revoked" json:"is_revoked"`
	RevocationReason  *string    `db:"revocation_reason" json:"revocation_reason,omitempty"`

	// Rendered artifact bytes, nil until issuance renders one.
	Artifact []byte `db:"artifact" json:"-"`

	ApprovalSteps []ApprovalStep `db:"-" json:"approval_steps,omitempty"`
	ShareTokens   []ShareToken   `db:"-" json:"share_tokens,omitempty"`
}

// Shareable reports whether share tokens may be minted for the certificate.
func (c *Certificate) Shareable() bool {
	return c.Status == StatusIssued || c.Status == StatusApproved
}

// StepByID returns the approval step with the given id, or nil.
func (c *Certificate) StepByID(id uuid.UUID) *ApprovalStep {
	for i := range c.ApprovalSteps {
		if c.ApprovalSteps[i].ID == id {
			return &c.ApprovalSteps[i]
		}
	}
	return nil
}

// ApprovalStep is one reviewer slot in the ordered approval chain. Steps are
// created with the certificate and never deleted; the chain stays auditable.
type ApprovalStep struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	CertificateID uuid.UUID  `db:"certificate_id" json:"certificate_id"`
	StepName      string     `db:"step_name" json:"step_name"`
	StepOrder     int        `db:"step_order" json:"order"`
	Position      int        `db:"position" json:"-"`
	ApproverID    string     `db:"approver_id" json:"approver_id"`
	ApproverName  string     `db:"approver_name" json:"approver_name"`
	ApproverEmail string     `db:"approver_email" json:"approver_email"`
	Status        StepStatus `db:"status" json:"status"`
	ApprovedAt    *time.Time `db:"approved_at" json:"approved_at,omitempty"`
	Comments      *string    `db:"comments" json:"comments,omitempty"`
}

// nextPendingStep selects the next step awaiting action: lowest step order
// wins, insertion position breaks ties. Returns nil once every step has been
// approved, never an arbitrary fallback.
func nextPendingStep(steps []ApprovalStep) *ApprovalStep {
	var next *ApprovalStep
	for i := range steps {
		s := &steps[i]
		if s.Status != StepPending {
			continue
		}
		if next == nil ||
			s.StepOrder < next.StepOrder ||
			(s.StepOrder == next.StepOrder && s.Position < next.Position) {
			next = s
		}
	}
	return next
}

// ShareToken is a bearer capability granting bounded access to a certificate.
// Tokens are append-only; revocation and expiry make them permanently inert,
// they are never physically deleted.
type ShareToken struct {
	ID            uuid.UUID `db:"id" json:"id"`
	CertificateID uuid.UUID `db:"certificate_id" json:"certificate_id"`
	Token         string    `db:"token" json:"token"`
	SharedBy      string    `db:"shared_by" json:"shared_by"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	ExpiresAt     time.Time `db:"expires_at" json:"expires_at"`
	PasswordHash  *string   `db:"password_hash" json:"-"`
	MaxAccess     int       `db:"max_access" json:"max_access"`
	CurrentAccess int       `db:"current_access" json:"current_access"`
	IsActive      bool      `db:"is_active" json:"is_active"`
}

// Transaction is one immutable audit-log entry.
type Transaction struct {
	ID            uuid.UUID         `db:"id" json:"id"`
	CertificateID uuid.UUID         `db:"certificate_id" json:"certificate_id"`
	Action        TransactionAction `db:"action" json:"action"`
	PerformedBy   string            `db:"performed_by" json:"performed_by"`
	Timestamp     time.Time         `db:"timestamp" json:"timestamp"`
	Details       Metadata          `db:"details" json:"details,omitempty"`
}

// ApprovalStepSpec describes one reviewer slot at creation time.
type ApprovalStepSpec struct {
	StepName      string `json:"step_name" validate:"required"`
	Order         int    `json:"order" validate:"gte=0"`
	ApproverID    string `json:"approver_id" validate:"required"`
	ApproverName  string `json:"approver_name"`
	ApproverEmail string `json:"approver_email" validate:"omitempty,email"`
}

// CreateCertificateRequest is the input to certificate creation.
type CreateCertificateRequest struct {
	IssuerID       string `json:"issuer_id" validate:"required"`
	IssuerName     string `json:"issuer_name"`
	RecipientID    string `json:"recipient_id" validate:"required"`
	RecipientEmail string `json:"recipient_email" validate:"required,email"`
	RecipientName  string `json:"recipient_name"`
	OrganizationID string `json:"organization_id"`

	Title       string          `json:"title" validate:"required"`
	Description string          `json:"description"`
	Type        CertificateType `json:"type" validate:"required"`
	CourseName  *string         `json:"course_name,omitempty"`
	Grade       *string         `json:"grade,omitempty"`
	Metadata    Metadata        `json:"metadata,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`

	RequiresApproval bool               `json:"requires_approval"`
	ApprovalSteps    []ApprovalStepSpec `json:"approval_steps,omitempty" validate:"dive"`
}

// ShareTokenOptions carries the optional knobs of token creation; nil fields
// fall back to the configured policy defaults.
type ShareTokenOptions struct {
	Validity  *time.Duration `json:"-"`
	Password  *string        `json:"password,omitempty"`
	MaxAccess *int           `json:"max_access,omitempty"`
}

// StatisticsFilter narrows statistics to one issuer or organization.
type StatisticsFilter struct {
	IssuerID       *string
	OrganizationID *string
}

// Statistics aggregates certificate counts and usage counters.
type Statistics struct {
	Total    int64 `db:"total" json:"total"`
	Draft    int64 `db:"draft" json:"draft"`
	Pending  int64 `db:"pending" json:"pending"`
	Approved int64 `db:"approved" json:"approved"`
	Rejected int64 `db:"rejected" json:"rejected"`
	Issued   int64 `db:"issued" json:"issued"`
	Revoked  int64 `db:"revoked" json:"revoked"`

	TotalVerifications int64 `db:"total_verifications" json:"total_verifications"`
	TotalShares        int64 `db:"total_shares" json:"total_shares"`
	TotalAccesses      int64 `db:"total_accesses" json:"total_accesses"`
}
