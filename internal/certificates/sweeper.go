package certificates

import (
	"context"

	"go.uber.org/zap"
)

// TokenSweeper marks expired share tokens inactive. Tokens are never
// deleted; the sweep only makes them permanently inert ahead of lookup so
// expired tokens cannot accumulate as live capabilities.
type TokenSweeper struct {
	repo   Repository
	clock  Clock
	logger *zap.Logger
}

// NewTokenSweeper creates the sweeper; it is scheduled from the binary.
func NewTokenSweeper(repo Repository, clock Clock, logger *zap.Logger) *TokenSweeper {
	return &TokenSweeper{repo: repo, clock: clock, logger: logger}
}

// Run performs one sweep.
func (s *TokenSweeper) Run(ctx context.Context) error {
	n, err := s.repo.DeactivateExpiredTokens(ctx, s.clock.Now())
	if err != nil {
		s.logger.Error("token sweep failed", zap.Error(err))
		return err
	}
	if n > 0 {
		s.logger.Info("expired share tokens deactivated", zap.Int64("count", n))
	}
	return nil
}
