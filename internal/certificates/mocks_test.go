package certificates

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/hafiyazfar/certrepo/internal/notifications"
	"github.com/hafiyazfar/certrepo/internal/render"
)

// MockRepository is a mock implementation of the Repository interface.
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateCertificate(ctx context.Context, cert *Certificate, rec *Transaction) error {
	args := m.Called(ctx, cert, rec)
	return args.Error(0)
}

func (m *MockRepository) GetCertificate(ctx context.Context, id uuid.UUID) (*Certificate, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Certificate), args.Error(1)
}

func (m *MockRepository) GetCertificateByCode(ctx context.Context, code string) (*Certificate, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Certificate), args.Error(1)
}

func (m *MockRepository) UpdateCertificate(ctx context.Context, cert *Certificate, expected CertificateStatus, rec *Transaction) error {
	args := m.Called(ctx, cert, expected, rec)
	return args.Error(0)
}

func (m *MockRepository) UpdateStep(ctx context.Context, cert *Certificate, step *ApprovalStep, rec *Transaction) error {
	args := m.Called(ctx, cert, step, rec)
	return args.Error(0)
}

func (m *MockRepository) AppendShareToken(ctx context.Context, token *ShareToken, rec *Transaction) error {
	args := m.Called(ctx, token, rec)
	return args.Error(0)
}

func (m *MockRepository) DeactivateShareToken(ctx context.Context, tokenID uuid.UUID, rec *Transaction) error {
	args := m.Called(ctx, tokenID, rec)
	return args.Error(0)
}

func (m *MockRepository) FindShareToken(ctx context.Context, token string) (*ShareToken, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ShareToken), args.Error(1)
}

func (m *MockRepository) DeactivateExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) RecordVerification(ctx context.Context, certificateID uuid.UUID, at time.Time, rec *Transaction) error {
	args := m.Called(ctx, certificateID, at, rec)
	return args.Error(0)
}

func (m *MockRepository) RecordTokenAccess(ctx context.Context, tokenID, certificateID uuid.UUID, at time.Time, rec *Transaction) error {
	args := m.Called(ctx, tokenID, certificateID, at, rec)
	return args.Error(0)
}

func (m *MockRepository) ListTransactions(ctx context.Context, certificateID uuid.UUID) ([]Transaction, error) {
	args := m.Called(ctx, certificateID)
	return args.Get(0).([]Transaction), args.Error(1)
}

func (m *MockRepository) Statistics(ctx context.Context, filter StatisticsFilter) (*Statistics, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Statistics), args.Error(1)
}

func mustUUID() uuid.UUID { return uuid.New() }

// fixedClock returns a constant instant.
type fixedClock struct {
	t time.Time
}

func (c fixedClock) Now() time.Time { return c.t }

// stubRenderer returns canned artifact bytes or a failure.
type stubRenderer struct {
	artifact []byte
	err      error
}

func (r *stubRenderer) Render(ctx context.Context, data render.CertificateData) ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.artifact, nil
}

// recordingDispatcher captures dispatched notifications. When failing is
// set it reports an error on each call, like an unreachable provider.
type recordingDispatcher struct {
	mu      sync.Mutex
	sent    []notifications.Notification
	failing bool
}

func (d *recordingDispatcher) Notify(ctx context.Context, n notifications.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, n)
	if d.failing {
		return errors.New("provider unreachable")
	}
	return nil
}

func (d *recordingDispatcher) templates() []notifications.Template {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]notifications.Template, len(d.sent))
	for i, n := range d.sent {
		out[i] = n.Template
	}
	return out
}
