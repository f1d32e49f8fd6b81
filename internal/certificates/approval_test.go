package certificates

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/hafiyazfar/certrepo/internal/notifications"
)

func newApprovalFixture(repo Repository) (*ApprovalService, *recordingDispatcher) {
	dispatcher := &recordingDispatcher{}
	svc := NewApprovalService(repo, dispatcher, fixedClock{t: testTime}, zap.NewNop())
	return svc, dispatcher
}

// pendingCertificate builds a pending certificate with two steps, s1 before
// s2, current step s1.
func pendingCertificate() *Certificate {
	certID := uuid.New()
	s1 := ApprovalStep{
		ID: uuid.New(), CertificateID: certID, StepName: "Registrar review",
		StepOrder: 0, Position: 0, ApproverID: "reg-1", ApproverEmail: "reg@x.edu",
		Status: StepPending,
	}
	s2 := ApprovalStep{
		ID: uuid.New(), CertificateID: certID, StepName: "Dean review",
		StepOrder: 1, Position: 1, ApproverID: "dean-1", ApproverEmail: "dean@x.edu",
		Status: StepPending,
	}
	return &Certificate{
		ID:               certID,
		Title:            "Cert B",
		RecipientEmail:   "b@x.edu",
		RecipientName:    "Bob",
		Status:           StatusPending,
		RequiresApproval: true,
		CurrentStepID:    &s1.ID,
		ApprovalSteps:    []ApprovalStep{s1, s2},
	}
}

func TestApproveStepAdvancesToNextPending(t *testing.T) {
	mockRepo := new(MockRepository)
	svc, dispatcher := newApprovalFixture(mockRepo)

	ctx := context.Background()
	cert := pendingCertificate()
	s1 := cert.ApprovalSteps[0]
	s2 := cert.ApprovalSteps[1]
	mockRepo.On("GetCertificate", ctx, cert.ID).Return(cert, nil)
	mockRepo.On("UpdateStep", ctx, cert, mock.AnythingOfType("*certificates.ApprovalStep"), mock.Anything).Return(nil)

	updated, err := svc.ApproveStep(ctx, cert.ID, "reg-1", s1.ID, "ok")

	assert.NoError(t, err)
	assert.Equal(t, StatusPending, updated.Status)
	if assert.NotNil(t, updated.CurrentStepID) {
		assert.Equal(t, s2.ID, *updated.CurrentStepID)
	}
	approved := updated.StepByID(s1.ID)
	assert.Equal(t, StepApproved, approved.Status)
	if assert.NotNil(t, approved.ApprovedAt) {
		assert.Equal(t, testTime, *approved.ApprovedAt)
	}
	if assert.NotNil(t, approved.Comments) {
		assert.Equal(t, "ok", *approved.Comments)
	}
	// The next reviewer gets pinged, the recipient does not yet.
	assert.Equal(t, []notifications.Template{notifications.TemplateApprovalRequested}, dispatcher.templates())
	mockRepo.AssertExpectations(t)
}

func TestApproveLastStepCompletesChain(t *testing.T) {
	mockRepo := new(MockRepository)
	svc, dispatcher := newApprovalFixture(mockRepo)

	ctx := context.Background()
	cert := pendingCertificate()
	cert.ApprovalSteps[0].Status = StepApproved
	cert.CurrentStepID = &cert.ApprovalSteps[1].ID
	mockRepo.On("GetCertificate", ctx, cert.ID).Return(cert, nil)
	mockRepo.On("UpdateStep", ctx, cert, mock.Anything, mock.Anything).Return(nil)

	updated, err := svc.ApproveStep(ctx, cert.ID, "dean-1", cert.ApprovalSteps[1].ID, "ok")

	assert.NoError(t, err)
	assert.Equal(t, StatusApproved, updated.Status)
	assert.Nil(t, updated.CurrentStepID)
	assert.Contains(t, dispatcher.templates(), notifications.TemplateCertificateApproved)
}

func TestApproveStepOrderBeatsListPosition(t *testing.T) {
	mockRepo := new(MockRepository)
	svc, _ := newApprovalFixture(mockRepo)

	ctx := context.Background()
	cert := pendingCertificate()
	// The list is stored out of order: the later entry carries the lower
	// order and must be selected next.
	cert.ApprovalSteps[0].StepOrder = 5
	cert.ApprovalSteps[1].StepOrder = 2
	third := ApprovalStep{
		ID: uuid.New(), CertificateID: cert.ID, StepName: "Chancellor review",
		StepOrder: 9, Position: 2, ApproverID: "chan-1", Status: StepPending,
	}
	cert.ApprovalSteps = append(cert.ApprovalSteps, third)
	mockRepo.On("GetCertificate", ctx, cert.ID).Return(cert, nil)
	mockRepo.On("UpdateStep", ctx, cert, mock.Anything, mock.Anything).Return(nil)

	updated, err := svc.ApproveStep(ctx, cert.ID, "dean-1", cert.ApprovalSteps[1].ID, "")

	assert.NoError(t, err)
	if assert.NotNil(t, updated.CurrentStepID) {
		assert.Equal(t, cert.ApprovalSteps[0].ID, *updated.CurrentStepID)
	}
}

func TestApproveStepNotFound(t *testing.T) {
	mockRepo := new(MockRepository)
	svc, _ := newApprovalFixture(mockRepo)

	ctx := context.Background()
	cert := pendingCertificate()
	mockRepo.On("GetCertificate", ctx, cert.ID).Return(cert, nil)

	_, err := svc.ApproveStep(ctx, cert.ID, "reg-1", uuid.New(), "")

	var notFoundErr *NotFoundError
	assert.ErrorAs(t, err, &notFoundErr)
	mockRepo.AssertNotCalled(t, "UpdateStep", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestApproveStepOnRevokedCertificate(t *testing.T) {
	mockRepo := new(MockRepository)
	svc, _ := newApprovalFixture(mockRepo)

	ctx := context.Background()
	cert := pendingCertificate()
	cert.Status = StatusRevoked
	cert.IsRevoked = true
	mockRepo.On("GetCertificate", ctx, cert.ID).Return(cert, nil)

	_, err := svc.ApproveStep(ctx, cert.ID, "reg-1", cert.ApprovalSteps[0].ID, "")

	var stateErr *InvalidStateError
	assert.ErrorAs(t, err, &stateErr)
}

func TestApproveAlreadyDecidedStep(t *testing.T) {
	mockRepo := new(MockRepository)
	svc, _ := newApprovalFixture(mockRepo)

	ctx := context.Background()
	cert := pendingCertificate()
	cert.ApprovalSteps[0].Status = StepApproved
	mockRepo.On("GetCertificate", ctx, cert.ID).Return(cert, nil)

	_, err := svc.ApproveStep(ctx, cert.ID, "reg-1", cert.ApprovalSteps[0].ID, "")

	var stateErr *InvalidStateError
	assert.ErrorAs(t, err, &stateErr)
}

func TestSimultaneousApprovalsCompleteChain(t *testing.T) {
	repo := newFakeRepo()
	cert := pendingCertificate()
	repo.addCertificate(cert)

	// Both reviewers read the certificate before either decision landed, so
	// each sees the other's step still pending. The store, not the stale
	// snapshots, decides the chain state.
	stale := &staleReadRepo{fakeRepo: repo, snapshot: copyCertificate(cert)}
	svc, dispatcher := newApprovalFixture(stale)

	ctx := context.Background()
	_, err := svc.ApproveStep(ctx, cert.ID, "reg-1", cert.ApprovalSteps[0].ID, "")
	assert.NoError(t, err)

	updated, err := svc.ApproveStep(ctx, cert.ID, "dean-1", cert.ApprovalSteps[1].ID, "")
	assert.NoError(t, err)
	assert.Equal(t, StatusApproved, updated.Status)
	assert.Nil(t, updated.CurrentStepID)

	stored, err := repo.GetCertificate(ctx, cert.ID)
	assert.NoError(t, err)
	assert.Equal(t, StatusApproved, stored.Status)
	assert.Nil(t, stored.CurrentStepID, "no step is current once every step is approved")
	for _, step := range stored.ApprovalSteps {
		assert.Equal(t, StepApproved, step.Status)
	}
	assert.Contains(t, dispatcher.templates(), notifications.TemplateCertificateApproved)
}

func TestApproveStepLosesToConcurrentRevocation(t *testing.T) {
	repo := newFakeRepo()
	cert := pendingCertificate()
	repo.addCertificate(cert)
	stale := &staleReadRepo{fakeRepo: repo, snapshot: copyCertificate(cert)}
	svc, _ := newApprovalFixture(stale)

	// Revoked after the reviewer's read but before their decision lands.
	cert.Status = StatusRevoked
	cert.IsRevoked = true

	ctx := context.Background()
	_, err := svc.ApproveStep(ctx, cert.ID, "reg-1", cert.ApprovalSteps[0].ID, "")

	var stateErr *InvalidStateError
	assert.ErrorAs(t, err, &stateErr)

	stored, _ := repo.GetCertificate(ctx, cert.ID)
	assert.Equal(t, StatusRevoked, stored.Status)
	assert.Equal(t, StepPending, stored.ApprovalSteps[0].Status)
}

func TestRejectStepHaltsChain(t *testing.T) {
	mockRepo := new(MockRepository)
	svc, dispatcher := newApprovalFixture(mockRepo)

	ctx := context.Background()
	cert := pendingCertificate()
	mockRepo.On("GetCertificate", ctx, cert.ID).Return(cert, nil)
	mockRepo.On("UpdateStep", ctx, cert, mock.Anything, mock.Anything).Return(nil)

	updated, err := svc.RejectStep(ctx, cert.ID, "reg-1", cert.ApprovalSteps[0].ID, "missing transcript")

	assert.NoError(t, err)
	assert.Equal(t, StatusRejected, updated.Status)
	assert.Nil(t, updated.CurrentStepID)
	assert.Equal(t, StepRejected, updated.StepByID(cert.ApprovalSteps[0].ID).Status)
	assert.Contains(t, dispatcher.templates(), notifications.TemplateCertificateRejected)

	// The halted chain refuses further decisions.
	mockRepo2 := new(MockRepository)
	svc2, _ := newApprovalFixture(mockRepo2)
	mockRepo2.On("GetCertificate", ctx, cert.ID).Return(updated, nil)
	_, err = svc2.ApproveStep(ctx, cert.ID, "dean-1", cert.ApprovalSteps[1].ID, "")
	var stateErr *InvalidStateError
	assert.ErrorAs(t, err, &stateErr)
}
