package certificates

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hafiyazfar/certrepo/internal/notifications"
)

// ApprovalService evaluates the ordered chain of approval steps and advances
// or halts it. Steps are mutated only here and are never deleted.
type ApprovalService struct {
	repo     Repository
	notifier notifications.Dispatcher
	clock    Clock
	logger   *zap.Logger
}

// NewApprovalService creates the approval service.
func NewApprovalService(repo Repository, notifier notifications.Dispatcher, clock Clock, logger *zap.Logger) *ApprovalService {
	return &ApprovalService{repo: repo, notifier: notifier, clock: clock, logger: logger}
}

// ApproveStep marks one step approved and recomputes the chain: when every
// step is approved the certificate becomes approved and no step is current;
// otherwise the next pending step by ascending order (insertion index breaks
// ties) becomes current.
func (s *ApprovalService) ApproveStep(ctx context.Context, certificateID uuid.UUID, approverID string, stepID uuid.UUID, comments string) (*Certificate, error) {
	cert, step, err := s.locateStep(ctx, certificateID, stepID, "approve")
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	step.Status = StepApproved
	step.ApprovedAt = &now
	if comments != "" {
		step.Comments = &comments
	}

	if next := nextPendingStep(cert.ApprovalSteps); next != nil {
		cert.Status = StatusPending
		cert.CurrentStepID = &next.ID
	} else {
		cert.Status = StatusApproved
		cert.CurrentStepID = nil
	}
	cert.UpdatedAt = now

	rec := &Transaction{
		CertificateID: certificateID,
		Action:        ActionStepApproved,
		PerformedBy:   approverID,
		Timestamp:     now,
		Details:       Metadata{"step_id": stepID.String(), "step_name": step.StepName},
	}
	if err := s.repo.UpdateStep(ctx, cert, step, rec); err != nil {
		return nil, err
	}

	s.logger.Info("approval step approved",
		zap.String("certificate_id", certificateID.String()),
		zap.String("step_id", stepID.String()),
		zap.String("approver_id", approverID),
		zap.String("status", string(cert.Status)))

	if cert.Status == StatusApproved {
		dispatch(ctx, s.notifier, s.logger, notifications.Notification{
			RecipientID:    cert.RecipientID,
			RecipientEmail: cert.RecipientEmail,
			Template:       notifications.TemplateCertificateApproved,
			Payload: map[string]string{
				"title":          cert.Title,
				"recipient_name": cert.RecipientName,
			},
		})
	} else if cert.CurrentStepID != nil {
		nextStep := cert.StepByID(*cert.CurrentStepID)
		dispatch(ctx, s.notifier, s.logger, notifications.Notification{
			RecipientID:    nextStep.ApproverID,
			RecipientEmail: nextStep.ApproverEmail,
			Template:       notifications.TemplateApprovalRequested,
			Payload: map[string]string{
				"title":         cert.Title,
				"approver_name": nextStep.ApproverName,
				"step_name":     nextStep.StepName,
			},
		})
	}

	return cert, nil
}

// RejectStep marks one step rejected and halts the chain: the certificate
// becomes rejected, terminal for this submission.
func (s *ApprovalService) RejectStep(ctx context.Context, certificateID uuid.UUID, approverID string, stepID uuid.UUID, comments string) (*Certificate, error) {
	cert, step, err := s.locateStep(ctx, certificateID, stepID, "reject")
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	step.Status = StepRejected
	if comments != "" {
		step.Comments = &comments
	}

	cert.Status = StatusRejected
	cert.CurrentStepID = nil
	cert.UpdatedAt = now

	rec := &Transaction{
		CertificateID: certificateID,
		Action:        ActionStepRejected,
		PerformedBy:   approverID,
		Timestamp:     now,
		Details:       Metadata{"step_id": stepID.String(), "step_name": step.StepName},
	}
	if err := s.repo.UpdateStep(ctx, cert, step, rec); err != nil {
		return nil, err
	}

	s.logger.Info("approval step rejected",
		zap.String("certificate_id", certificateID.String()),
		zap.String("step_id", stepID.String()),
		zap.String("approver_id", approverID))

	payload := map[string]string{
		"title":          cert.Title,
		"recipient_name": cert.RecipientName,
	}
	if step.Comments != nil {
		payload["comments"] = *step.Comments
	}
	dispatch(ctx, s.notifier, s.logger, notifications.Notification{
		RecipientID:    cert.RecipientID,
		RecipientEmail: cert.RecipientEmail,
		Template:       notifications.TemplateCertificateRejected,
		Payload:        payload,
	})

	return cert, nil
}

func (s *ApprovalService) locateStep(ctx context.Context, certificateID, stepID uuid.UUID, op string) (*Certificate, *ApprovalStep, error) {
	cert, err := s.repo.GetCertificate(ctx, certificateID)
	if err != nil {
		return nil, nil, err
	}
	if cert.IsRevoked {
		return nil, nil, &InvalidStateError{Operation: op, Current: cert.Status}
	}
	if cert.Status != StatusPending {
		return nil, nil, &InvalidStateError{Operation: op, Current: cert.Status}
	}
	step := cert.StepByID(stepID)
	if step == nil {
		return nil, nil, &NotFoundError{Resource: "approval step", ID: stepID.String()}
	}
	if step.Status != StepPending {
		return nil, nil, &InvalidStateError{Operation: op + " already-decided step", Current: cert.Status}
	}
	return cert, step, nil
}
