package certificates

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ShareTokenPolicy carries the defaults applied when token options are
// omitted.
type ShareTokenPolicy struct {
	DefaultValidity  time.Duration
	DefaultMaxAccess int
}

// DefaultShareTokenPolicy returns the configured-constant defaults: 30 days
// of validity and 100 accesses.
func DefaultShareTokenPolicy() ShareTokenPolicy {
	return ShareTokenPolicy{
		DefaultValidity:  30 * 24 * time.Hour,
		DefaultMaxAccess: 100,
	}
}

// ShareService issues and revokes bounded-lifetime, bounded-use share
// tokens.
type ShareService struct {
	repo   Repository
	ids    *IdentifierService
	clock  Clock
	logger *zap.Logger
	policy ShareTokenPolicy
}

// NewShareService creates the share-token service.
func NewShareService(repo Repository, ids *IdentifierService, clock Clock, logger *zap.Logger, policy ShareTokenPolicy) *ShareService {
	return &ShareService{repo: repo, ids: ids, clock: clock, logger: logger, policy: policy}
}

// CreateShareToken mints a token for an issued or approved certificate. The
// token append and the share-count increment commit in one transaction.
// Passwords are stored as bcrypt hashes, never in the clear.
func (s *ShareService) CreateShareToken(ctx context.Context, certificateID uuid.UUID, sharedBy string, opts ShareTokenOptions) (*ShareToken, error) {
	cert, err := s.repo.GetCertificate(ctx, certificateID)
	if err != nil {
		return nil, err
	}
	if !cert.Shareable() {
		return nil, &InvalidStateError{Operation: "share", Current: cert.Status}
	}

	value, err := s.ids.ShareToken()
	if err != nil {
		return nil, fmt.Errorf("generating share token: %w", err)
	}

	validity := s.policy.DefaultValidity
	if opts.Validity != nil {
		if *opts.Validity <= 0 {
			return nil, &ValidationError{Field: "validity", Reason: "must be positive"}
		}
		validity = *opts.Validity
	}
	maxAccess := s.policy.DefaultMaxAccess
	if opts.MaxAccess != nil {
		if *opts.MaxAccess <= 0 {
			return nil, &ValidationError{Field: "max_access", Reason: "must be positive"}
		}
		maxAccess = *opts.MaxAccess
	}

	now := s.clock.Now()
	token := &ShareToken{
		ID:            uuid.New(),
		CertificateID: certificateID,
		Token:         value,
		SharedBy:      sharedBy,
		CreatedAt:     now,
		ExpiresAt:     now.Add(validity),
		MaxAccess:     maxAccess,
		IsActive:      true,
	}
	if opts.Password != nil && *opts.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(*opts.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hashing token password: %w", err)
		}
		hashed := string(hash)
		token.PasswordHash = &hashed
	}

	rec := &Transaction{
		CertificateID: certificateID,
		Action:        ActionShared,
		PerformedBy:   sharedBy,
		Timestamp:     now,
		Details:       Metadata{"token_id": token.ID.String(), "max_access": fmt.Sprint(maxAccess)},
	}
	if err := s.repo.AppendShareToken(ctx, token, rec); err != nil {
		return nil, err
	}

	s.logger.Info("share token created",
		zap.String("certificate_id", certificateID.String()),
		zap.String("token_id", token.ID.String()),
		zap.String("shared_by", sharedBy),
		zap.Time("expires_at", token.ExpiresAt))

	return token, nil
}

// RevokeShareToken makes a single token permanently inert. The row is kept
// for audit.
func (s *ShareService) RevokeShareToken(ctx context.Context, certificateID, tokenID uuid.UUID, revokedBy string) error {
	cert, err := s.repo.GetCertificate(ctx, certificateID)
	if err != nil {
		return err
	}
	found := false
	for i := range cert.ShareTokens {
		if cert.ShareTokens[i].ID == tokenID {
			found = true
			break
		}
	}
	if !found {
		return &NotFoundError{Resource: "share token", ID: tokenID.String()}
	}

	rec := &Transaction{
		CertificateID: certificateID,
		Action:        ActionTokenRevoked,
		PerformedBy:   revokedBy,
		Timestamp:     s.clock.Now(),
		Details:       Metadata{"token_id": tokenID.String()},
	}
	if err := s.repo.DeactivateShareToken(ctx, tokenID, rec); err != nil {
		return err
	}

	s.logger.Info("share token revoked",
		zap.String("certificate_id", certificateID.String()),
		zap.String("token_id", tokenID.String()),
		zap.String("revoked_by", revokedBy))
	return nil
}
