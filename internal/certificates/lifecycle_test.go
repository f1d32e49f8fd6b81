package certificates

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/hafiyazfar/certrepo/internal/auth"
	"github.com/hafiyazfar/certrepo/internal/notifications"
)

var testTime = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

func newLifecycleFixture(repo Repository) (*LifecycleService, *stubRenderer, *recordingDispatcher) {
	renderer := &stubRenderer{artifact: []byte("%PDF-1.4 stub")}
	dispatcher := &recordingDispatcher{}
	svc := NewLifecycleService(
		repo,
		NewIdentifierService(),
		renderer,
		dispatcher,
		fixedClock{t: testTime},
		zap.NewNop(),
		"https://certs.example.edu/verify",
	)
	return svc, renderer, dispatcher
}

func caActor() auth.Actor {
	return auth.Actor{ID: "ca-1", Role: auth.RoleCA}
}

func validCreateRequest() *CreateCertificateRequest {
	return &CreateCertificateRequest{
		IssuerID:       "ca-1",
		IssuerName:     "Registrar Office",
		RecipientID:    "student-9",
		RecipientEmail: "a@x.edu",
		RecipientName:  "Alice",
		Title:          "Cert A",
		Type:           TypeCompletion,
	}
}

func TestCreateCertificateDraft(t *testing.T) {
	mockRepo := new(MockRepository)
	svc, _, dispatcher := newLifecycleFixture(mockRepo)

	ctx := context.Background()
	mockRepo.On("CreateCertificate", ctx, mock.AnythingOfType("*certificates.Certificate"), mock.AnythingOfType("*certificates.Transaction")).Return(nil)

	cert, err := svc.CreateCertificate(ctx, caActor(), validCreateRequest())

	assert.NoError(t, err)
	assert.Equal(t, StatusDraft, cert.Status)
	assert.Nil(t, cert.CurrentStepID)
	assert.Len(t, cert.VerificationCode, VerificationCodeLength)
	assert.NotEmpty(t, cert.VerificationID)
	assert.NotEmpty(t, cert.Hash)
	assert.NotEmpty(t, cert.QRCode)
	assert.Equal(t, testTime, cert.CreatedAt)
	assert.Contains(t, dispatcher.templates(), notifications.TemplateCertificateCreated)
	mockRepo.AssertExpectations(t)
}

func TestCreateCertificatePendingSelectsLowestOrderStep(t *testing.T) {
	mockRepo := new(MockRepository)
	svc, _, dispatcher := newLifecycleFixture(mockRepo)

	ctx := context.Background()
	mockRepo.On("CreateCertificate", ctx, mock.Anything, mock.Anything).Return(nil)

	req := validCreateRequest()
	req.RequiresApproval = true
	req.ApprovalSteps = []ApprovalStepSpec{
		{StepName: "Dean review", Order: 1, ApproverID: "dean-1", ApproverEmail: "dean@x.edu"},
		{StepName: "Registrar review", Order: 0, ApproverID: "reg-1", ApproverEmail: "reg@x.edu"},
	}

	cert, err := svc.CreateCertificate(ctx, caActor(), req)

	assert.NoError(t, err)
	assert.Equal(t, StatusPending, cert.Status)
	if assert.NotNil(t, cert.CurrentStepID) {
		current := cert.StepByID(*cert.CurrentStepID)
		assert.Equal(t, "Registrar review", current.StepName)
	}
	// The first approver is told a review is waiting.
	assert.Contains(t, dispatcher.templates(), notifications.TemplateApprovalRequested)
	mockRepo.AssertExpectations(t)
}

func TestCreateCertificateValidation(t *testing.T) {
	mockRepo := new(MockRepository)
	svc, _, _ := newLifecycleFixture(mockRepo)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*CreateCertificateRequest)
	}{
		{"empty title", func(r *CreateCertificateRequest) { r.Title = "" }},
		{"malformed email", func(r *CreateCertificateRequest) { r.RecipientEmail = "not-an-email" }},
		{"unknown type", func(r *CreateCertificateRequest) { r.Type = "diploma-ish" }},
		{"expiry in the past", func(r *CreateCertificateRequest) {
			past := testTime.Add(-time.Hour)
			r.ExpiresAt = &past
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validCreateRequest()
			tc.mutate(req)
			_, err := svc.CreateCertificate(ctx, caActor(), req)
			var validationErr *ValidationError
			assert.ErrorAs(t, err, &validationErr)
		})
	}
	mockRepo.AssertNotCalled(t, "CreateCertificate", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateCertificateRequiresCapability(t *testing.T) {
	mockRepo := new(MockRepository)
	svc, _, _ := newLifecycleFixture(mockRepo)

	_, err := svc.CreateCertificate(context.Background(), auth.Actor{ID: "viewer-1", Role: auth.RoleRecipient}, validCreateRequest())

	var permissionErr *PermissionError
	assert.ErrorAs(t, err, &permissionErr)
}

func TestCreateCertificateSurvivesDispatchFailure(t *testing.T) {
	mockRepo := new(MockRepository)
	svc, _, dispatcher := newLifecycleFixture(mockRepo)
	dispatcher.failing = true

	ctx := context.Background()
	mockRepo.On("CreateCertificate", ctx, mock.Anything, mock.Anything).Return(nil)

	cert, err := svc.CreateCertificate(ctx, caActor(), validCreateRequest())

	assert.NoError(t, err)
	assert.NotNil(t, cert)
}

func draftCertificate() *Certificate {
	return &Certificate{
		ID:               mustUUID(),
		VerificationID:   "N4GAPZ2RQMF5BTPVIR3HO5TEXE",
		VerificationCode: "AB12CD34",
		RecipientEmail:   "a@x.edu",
		RecipientName:    "Alice",
		Title:            "Cert A",
		Type:             TypeCompletion,
		QRCode:           `{"url":"https://certs.example.edu/verify/N4GAPZ2RQMF5BTPVIR3HO5TEXE","certificate_id":"x","verification_id":"N4GAPZ2RQMF5BTPVIR3HO5TEXE"}`,
		Status:           StatusDraft,
		CreatedAt:        testTime.Add(-time.Hour),
		UpdatedAt:        testTime.Add(-time.Hour),
	}
}

func TestIssueCertificateFromDraft(t *testing.T) {
	mockRepo := new(MockRepository)
	svc, _, dispatcher := newLifecycleFixture(mockRepo)

	ctx := context.Background()
	cert := draftCertificate()
	mockRepo.On("GetCertificate", ctx, cert.ID).Return(cert, nil)
	mockRepo.On("UpdateCertificate", ctx, cert, StatusDraft, mock.Anything).Return(nil)

	issued, err := svc.IssueCertificate(ctx, caActor(), cert.ID)

	assert.NoError(t, err)
	assert.Equal(t, StatusIssued, issued.Status)
	assert.True(t, issued.IsVerified)
	if assert.NotNil(t, issued.IssuedAt) {
		assert.Equal(t, testTime, *issued.IssuedAt)
	}
	assert.NotNil(t, issued.Artifact, "issuance renders an artifact when none exists")
	assert.Contains(t, dispatcher.templates(), notifications.TemplateCertificateIssued)
	mockRepo.AssertExpectations(t)
}

func TestIssueCertificateKeepsExistingArtifact(t *testing.T) {
	mockRepo := new(MockRepository)
	svc, renderer, _ := newLifecycleFixture(mockRepo)
	renderer.err = errors.New("renderer should not run")

	ctx := context.Background()
	cert := draftCertificate()
	cert.Artifact = []byte("existing artifact")
	mockRepo.On("GetCertificate", ctx, cert.ID).Return(cert, nil)
	mockRepo.On("UpdateCertificate", ctx, cert, StatusDraft, mock.Anything).Return(nil)

	issued, err := svc.IssueCertificate(ctx, caActor(), cert.ID)

	assert.NoError(t, err)
	assert.Equal(t, []byte("existing artifact"), issued.Artifact)
}

func TestIssueCertificateRenderingFailureIsFatal(t *testing.T) {
	mockRepo := new(MockRepository)
	svc, renderer, _ := newLifecycleFixture(mockRepo)
	renderer.artifact = nil
	renderer.err = errors.New("font missing")

	ctx := context.Background()
	cert := draftCertificate()
	mockRepo.On("GetCertificate", ctx, cert.ID).Return(cert, nil)

	_, err := svc.IssueCertificate(ctx, caActor(), cert.ID)

	var renderErr *RenderingError
	assert.ErrorAs(t, err, &renderErr)
	mockRepo.AssertNotCalled(t, "UpdateCertificate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestIssueCertificateInvalidStates(t *testing.T) {
	for _, status := range []CertificateStatus{StatusPending, StatusRejected, StatusIssued, StatusRevoked} {
		t.Run(string(status), func(t *testing.T) {
			mockRepo := new(MockRepository)
			svc, _, _ := newLifecycleFixture(mockRepo)

			ctx := context.Background()
			cert := draftCertificate()
			cert.Status = status
			cert.IsRevoked = status == StatusRevoked
			mockRepo.On("GetCertificate", ctx, cert.ID).Return(cert, nil)

			_, err := svc.IssueCertificate(ctx, caActor(), cert.ID)

			var stateErr *InvalidStateError
			assert.ErrorAs(t, err, &stateErr)
		})
	}
}

func TestIssueCertificateRequiresCapability(t *testing.T) {
	mockRepo := new(MockRepository)
	svc, _, _ := newLifecycleFixture(mockRepo)

	_, err := svc.IssueCertificate(context.Background(), auth.Actor{ID: "rev-1", Role: auth.RoleReviewer}, draftCertificate().ID)

	var permissionErr *PermissionError
	assert.ErrorAs(t, err, &permissionErr)
	mockRepo.AssertNotCalled(t, "GetCertificate", mock.Anything, mock.Anything)
}

func TestRevokeCertificateIsTerminal(t *testing.T) {
	mockRepo := new(MockRepository)
	svc, _, dispatcher := newLifecycleFixture(mockRepo)

	ctx := context.Background()
	admin := auth.Actor{ID: "admin-1", Role: auth.RoleAdmin}
	cert := draftCertificate()
	cert.Status = StatusIssued
	mockRepo.On("GetCertificate", ctx, cert.ID).Return(cert, nil)
	mockRepo.On("UpdateCertificate", ctx, cert, StatusIssued, mock.Anything).Return(nil)

	revoked, err := svc.RevokeCertificate(ctx, admin, cert.ID, "policy violation")

	assert.NoError(t, err)
	assert.Equal(t, StatusRevoked, revoked.Status)
	assert.True(t, revoked.IsRevoked)
	if assert.NotNil(t, revoked.RevocationReason) {
		assert.Equal(t, "policy violation", *revoked.RevocationReason)
	}
	assert.Contains(t, dispatcher.templates(), notifications.TemplateCertificateRevoked)

	// A second revocation and a later issuance must both fail.
	_, err = svc.RevokeCertificate(ctx, admin, cert.ID, "again")
	var stateErr *InvalidStateError
	assert.ErrorAs(t, err, &stateErr)

	_, err = svc.IssueCertificate(ctx, caActor(), cert.ID)
	assert.ErrorAs(t, err, &stateErr)
}

func TestRevokeCertificateRequiresCapability(t *testing.T) {
	mockRepo := new(MockRepository)
	svc, _, _ := newLifecycleFixture(mockRepo)

	for _, role := range []auth.Role{auth.RoleRecipient, auth.RoleReviewer} {
		t.Run(string(role), func(t *testing.T) {
			_, err := svc.RevokeCertificate(context.Background(), auth.Actor{ID: "u-1", Role: role}, mustUUID(), "not mine to revoke")
			var permissionErr *PermissionError
			assert.ErrorAs(t, err, &permissionErr)
		})
	}
	mockRepo.AssertNotCalled(t, "GetCertificate", mock.Anything, mock.Anything)
}

func TestIssueCertificateLosesToConcurrentRevocation(t *testing.T) {
	repo := newFakeRepo()
	cert := draftCertificate()
	repo.addCertificate(cert)
	// The issuer read the certificate while it was still a draft.
	stale := &staleReadRepo{fakeRepo: repo, snapshot: copyCertificate(cert)}
	svc, _, _ := newLifecycleFixture(stale)

	cert.Status = StatusRevoked
	cert.IsRevoked = true

	_, err := svc.IssueCertificate(context.Background(), caActor(), cert.ID)

	var stateErr *InvalidStateError
	assert.ErrorAs(t, err, &stateErr)

	stored, _ := repo.GetCertificate(context.Background(), cert.ID)
	assert.Equal(t, StatusRevoked, stored.Status)
	assert.True(t, stored.IsRevoked, "a stale issuance must not resurrect a revoked certificate")
}
