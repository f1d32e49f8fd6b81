package certificates

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hafiyazfar/certrepo/internal/auth"
	"github.com/hafiyazfar/certrepo/internal/notifications"
	"github.com/hafiyazfar/certrepo/internal/render"
)

// LifecycleService owns the certificate status state machine: creation,
// issuance and revocation.
type LifecycleService struct {
	repo     Repository
	ids      *IdentifierService
	hasher   IntegrityHasher
	sm       *StateMachine
	renderer render.Renderer
	notifier notifications.Dispatcher
	clock    Clock
	logger   *zap.Logger
	validate *validator.Validate

	verifyBaseURL string
}

// NewLifecycleService creates the lifecycle service.
func NewLifecycleService(
	repo Repository,
	ids *IdentifierService,
	renderer render.Renderer,
	notifier notifications.Dispatcher,
	clock Clock,
	logger *zap.Logger,
	verifyBaseURL string,
) *LifecycleService {
	return &LifecycleService{
		repo:          repo,
		ids:           ids,
		sm:            NewStateMachine(),
		renderer:      renderer,
		notifier:      notifier,
		clock:         clock,
		logger:        logger,
		validate:      validator.New(),
		verifyBaseURL: verifyBaseURL,
	}
}

// CreateCertificate validates the request, generates identifiers and the
// tamper-seal, and writes the record plus its audit entry in one
// transaction. Initial status is pending when approval is required and
// steps were supplied, draft otherwise.
func (s *LifecycleService) CreateCertificate(ctx context.Context, actor auth.Actor, req *CreateCertificateRequest) (*Certificate, error) {
	if !actor.CanIssue() {
		return nil, &PermissionError{Actor: actor.ID, Capability: "create certificates"}
	}
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	id := uuid.New()

	code, err := s.ids.VerificationCode()
	if err != nil {
		return nil, fmt.Errorf("generating verification code: %w", err)
	}
	verificationID, err := s.ids.VerificationID()
	if err != nil {
		return nil, fmt.Errorf("generating verification id: %w", err)
	}
	qrCode, err := EncodeQRPayload(s.verifyBaseURL, id.String(), verificationID)
	if err != nil {
		return nil, err
	}

	cert := &Certificate{
		ID:               id,
		VerificationID:   verificationID,
		VerificationCode: code,
		IssuerID:         req.IssuerID,
		IssuerName:       req.IssuerName,
		RecipientID:      req.RecipientID,
		RecipientEmail:   req.RecipientEmail,
		RecipientName:    req.RecipientName,
		OrganizationID:   req.OrganizationID,
		Title:            req.Title,
		Description:      req.Description,
		Type:             req.Type,
		CourseName:       req.CourseName,
		Grade:            req.Grade,
		Metadata:         req.Metadata,
		CompletedAt:      req.CompletedAt,
		ExpiresAt:        req.ExpiresAt,
		CreatedAt:        now,
		UpdatedAt:        now,
		Hash:             s.hasher.Seal(id.String(), verificationID, req.Title, now),
		QRCode:           qrCode,
		Status:           StatusDraft,
		RequiresApproval: req.RequiresApproval,
	}

	if req.RequiresApproval && len(req.ApprovalSteps) > 0 {
		cert.Status = StatusPending
		cert.ApprovalSteps = make([]ApprovalStep, len(req.ApprovalSteps))
		for i, spec := range req.ApprovalSteps {
			cert.ApprovalSteps[i] = ApprovalStep{
				ID:            uuid.New(),
				CertificateID: id,
				StepName:      spec.StepName,
				StepOrder:     spec.Order,
				Position:      i,
				ApproverID:    spec.ApproverID,
				ApproverName:  spec.ApproverName,
				ApproverEmail: spec.ApproverEmail,
				Status:        StepPending,
			}
		}
		if next := nextPendingStep(cert.ApprovalSteps); next != nil {
			cert.CurrentStepID = &next.ID
		}
	}

	rec := &Transaction{
		CertificateID: id,
		Action:        ActionCreated,
		PerformedBy:   actor.ID,
		Timestamp:     now,
		Details:       Metadata{"title": req.Title, "status": string(cert.Status)},
	}
	if err := s.repo.CreateCertificate(ctx, cert, rec); err != nil {
		return nil, err
	}

	s.logger.Info("certificate created",
		zap.String("certificate_id", id.String()),
		zap.String("status", string(cert.Status)),
		zap.String("issuer_id", req.IssuerID))

	dispatch(ctx, s.notifier, s.logger, notifications.Notification{
		RecipientID:    cert.RecipientID,
		RecipientEmail: cert.RecipientEmail,
		Template:       notifications.TemplateCertificateCreated,
		Payload: map[string]string{
			"title":          cert.Title,
			"recipient_name": cert.RecipientName,
			"issuer_name":    cert.IssuerName,
		},
	})
	if cert.CurrentStepID != nil {
		step := cert.StepByID(*cert.CurrentStepID)
		dispatch(ctx, s.notifier, s.logger, notifications.Notification{
			RecipientID:    step.ApproverID,
			RecipientEmail: step.ApproverEmail,
			Template:       notifications.TemplateApprovalRequested,
			Payload: map[string]string{
				"title":         cert.Title,
				"approver_name": step.ApproverName,
				"step_name":     step.StepName,
			},
		})
	}

	return cert, nil
}

// IssueCertificate issues a draft or approved certificate, rendering the
// artifact first when none exists. Rendering failure aborts issuance;
// notification failure never does.
func (s *LifecycleService) IssueCertificate(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Certificate, error) {
	if !actor.CanIssue() {
		return nil, &PermissionError{Actor: actor.ID, Capability: "issue certificates"}
	}
	cert, err := s.repo.GetCertificate(ctx, id)
	if err != nil {
		return nil, err
	}
	if cert.IsRevoked || !s.sm.CanTransition(cert.Status, StatusIssued) {
		return nil, &InvalidStateError{Operation: "issue", Current: cert.Status}
	}

	now := s.clock.Now()
	if cert.ExpiresAt != nil && !cert.ExpiresAt.After(now) {
		return nil, &ValidationError{Field: "expires_at", Reason: "must be after issuance time"}
	}
	prev := cert.Status

	if cert.Artifact == nil {
		artifact, err := s.renderer.Render(ctx, renderData(cert, now))
		if err != nil {
			return nil, &RenderingError{Err: err}
		}
		cert.Artifact = artifact
	}

	cert.Status = StatusIssued
	cert.IssuedAt = &now
	cert.IsVerified = true
	cert.UpdatedAt = now

	rec := &Transaction{
		CertificateID: id,
		Action:        ActionIssued,
		PerformedBy:   actor.ID,
		Timestamp:     now,
	}
	if err := s.repo.UpdateCertificate(ctx, cert, prev, rec); err != nil {
		return nil, err
	}

	s.logger.Info("certificate issued",
		zap.String("certificate_id", id.String()),
		zap.String("issued_by", actor.ID))

	dispatch(ctx, s.notifier, s.logger, notifications.Notification{
		RecipientID:    cert.RecipientID,
		RecipientEmail: cert.RecipientEmail,
		Template:       notifications.TemplateCertificateIssued,
		Payload: map[string]string{
			"title":             cert.Title,
			"recipient_name":    cert.RecipientName,
			"verification_code": cert.VerificationCode,
		},
	})

	return cert, nil
}

// RevokeCertificate is allowed from any non-revoked status and is terminal.
// Like creation and issuance it requires the issuing capability.
func (s *LifecycleService) RevokeCertificate(ctx context.Context, actor auth.Actor, id uuid.UUID, reason string) (*Certificate, error) {
	if !actor.CanIssue() {
		return nil, &PermissionError{Actor: actor.ID, Capability: "revoke certificates"}
	}
	cert, err := s.repo.GetCertificate(ctx, id)
	if err != nil {
		return nil, err
	}
	if cert.IsRevoked || cert.Status == StatusRevoked {
		return nil, &InvalidStateError{Operation: "revoke", Current: cert.Status}
	}

	now := s.clock.Now()
	prev := cert.Status
	cert.Status = StatusRevoked
	cert.IsRevoked = true
	cert.RevocationReason = &reason
	cert.UpdatedAt = now

	rec := &Transaction{
		CertificateID: id,
		Action:        ActionRevoked,
		PerformedBy:   actor.ID,
		Timestamp:     now,
		Details:       Metadata{"reason": reason},
	}
	if err := s.repo.UpdateCertificate(ctx, cert, prev, rec); err != nil {
		return nil, err
	}

	s.logger.Info("certificate revoked",
		zap.String("certificate_id", id.String()),
		zap.String("revoked_by", actor.ID),
		zap.String("reason", reason))

	dispatch(ctx, s.notifier, s.logger, notifications.Notification{
		RecipientID:    cert.RecipientID,
		RecipientEmail: cert.RecipientEmail,
		Template:       notifications.TemplateCertificateRevoked,
		Payload: map[string]string{
			"title":          cert.Title,
			"recipient_name": cert.RecipientName,
			"reason":         reason,
		},
	})

	return cert, nil
}

// GetCertificate returns a certificate without touching any counter.
func (s *LifecycleService) GetCertificate(ctx context.Context, id uuid.UUID) (*Certificate, error) {
	return s.repo.GetCertificate(ctx, id)
}

// GetTransactions returns the audit trail of a certificate.
func (s *LifecycleService) GetTransactions(ctx context.Context, id uuid.UUID) ([]Transaction, error) {
	return s.repo.ListTransactions(ctx, id)
}

// GetStatistics aggregates counts for one issuer or organization, or globally.
func (s *LifecycleService) GetStatistics(ctx context.Context, filter StatisticsFilter) (*Statistics, error) {
	return s.repo.Statistics(ctx, filter)
}

func (s *LifecycleService) validateRequest(req *CreateCertificateRequest) error {
	if err := s.validate.Struct(req); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			return &ValidationError{Field: errs[0].Field(), Reason: errs[0].Tag()}
		}
		return &ValidationError{Field: "request", Reason: err.Error()}
	}
	if _, err := ParseCertificateType(string(req.Type)); err != nil {
		return &ValidationError{Field: "type", Reason: err.Error()}
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(s.clock.Now()) {
		return &ValidationError{Field: "expires_at", Reason: "must be in the future"}
	}
	return nil
}

func renderData(cert *Certificate, issuedAt time.Time) render.CertificateData {
	data := render.CertificateData{
		Title:            cert.Title,
		Description:      cert.Description,
		RecipientName:    cert.RecipientName,
		IssuerName:       cert.IssuerName,
		VerificationCode: cert.VerificationCode,
		VerificationID:   cert.VerificationID,
		IssuedAt:         issuedAt,
	}
	if cert.CourseName != nil {
		data.CourseName = *cert.CourseName
	}
	if cert.Grade != nil {
		data.Grade = *cert.Grade
	}
	if payload, err := DecodeQRPayload(cert.QRCode); err == nil {
		data.VerifyURL = payload.VerifyURL
	}
	return data
}

// dispatch delivers a notification best-effort. Dispatch failures are logged
// and swallowed; they must never roll back the lifecycle operation that
// triggered them.
func dispatch(ctx context.Context, d notifications.Dispatcher, logger *zap.Logger, n notifications.Notification) {
	if d == nil {
		return
	}
	if err := d.Notify(ctx, n); err != nil {
		logger.Warn("notification dispatch failed",
			zap.String("template", string(n.Template)),
			zap.String("recipient", n.RecipientID),
			zap.Error(err))
	}
}
