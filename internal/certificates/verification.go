package certificates

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// VerificationService resolves certificates for third-party verifiers and
// records usage. It never mutates certificate status, only counters.
type VerificationService struct {
	repo   Repository
	clock  Clock
	logger *zap.Logger
}

// NewVerificationService creates the verification service.
func NewVerificationService(repo Repository, clock Clock, logger *zap.Logger) *VerificationService {
	return &VerificationService{repo: repo, clock: clock, logger: logger}
}

// VerifyByID fetches a certificate by id and counts the access. Anonymous
// callers are allowed; every call counts.
func (s *VerificationService) VerifyByID(ctx context.Context, certificateID uuid.UUID) (*Certificate, error) {
	cert, err := s.repo.GetCertificate(ctx, certificateID)
	if err != nil {
		return nil, err
	}
	return s.recordVerification(ctx, cert)
}

// VerifyByCode resolves a certificate by its human-typable verification
// code, with the same counting semantics as VerifyByID.
func (s *VerificationService) VerifyByCode(ctx context.Context, code string) (*Certificate, error) {
	cert, err := s.repo.GetCertificateByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.recordVerification(ctx, cert)
}

func (s *VerificationService) recordVerification(ctx context.Context, cert *Certificate) (*Certificate, error) {
	now := s.clock.Now()
	rec := &Transaction{
		CertificateID: cert.ID,
		Action:        ActionAccessed,
		PerformedBy:   AnonymousActor,
		Timestamp:     now,
	}
	if err := s.repo.RecordVerification(ctx, cert.ID, now, rec); err != nil {
		return nil, err
	}
	cert.VerificationCount++
	cert.LastAccessedAt = &now
	return cert, nil
}

// VerifyByToken resolves the certificate behind a share token. Constraints
// are checked in a fixed order: active, not expired, not exhausted, password.
// The access increment is conditional in the store, so a race over the last
// remaining access yields ErrTokenExhausted instead of overshooting.
func (s *VerificationService) VerifyByToken(ctx context.Context, token, password string) (*Certificate, error) {
	tok, err := s.repo.FindShareToken(ctx, token)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if !tok.IsActive {
		return nil, ErrTokenInactive
	}
	if !now.Before(tok.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	if tok.CurrentAccess >= tok.MaxAccess {
		return nil, ErrTokenExhausted
	}
	if tok.PasswordHash != nil {
		if err := bcrypt.CompareHashAndPassword([]byte(*tok.PasswordHash), []byte(password)); err != nil {
			return nil, ErrInvalidPassword
		}
	}

	cert, err := s.repo.GetCertificate(ctx, tok.CertificateID)
	if err != nil {
		return nil, err
	}

	rec := &Transaction{
		CertificateID: cert.ID,
		Action:        ActionAccessedByToken,
		PerformedBy:   AnonymousActor,
		Timestamp:     now,
		Details:       Metadata{"token_id": tok.ID.String()},
	}
	if err := s.repo.RecordTokenAccess(ctx, tok.ID, cert.ID, now, rec); err != nil {
		return nil, err
	}

	cert.AccessCount++
	cert.VerificationCount++
	cert.LastAccessedAt = &now

	s.logger.Debug("certificate accessed via token",
		zap.String("certificate_id", cert.ID.String()),
		zap.String("token_id", tok.ID.String()))

	return cert, nil
}
