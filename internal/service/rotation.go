package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"git.sr.ht/~jakintosh/tokenslot/internal/tokens"
)

// IssuedToken carries a raw token to the caller. It is the only place the
// raw value ever leaves this package.
type IssuedToken struct {
	Token     string
	ExpiresAt time.Time
}

// CheckStatus evaluates the current slot of userID without taking the
// per-user lock; the answer may trail one in-flight issuance.
func (s *Service) CheckStatus(
	ctx context.Context,
	userID string,
) (
	Status,
	error,
) {
	record, err := s.records.GetRecord(ctx, userID)
	if err != nil {
		return Status{}, fmt.Errorf("%w: failed to read token record: %v", ErrInternal, err)
	}
	return Evaluate(record, s.now()), nil
}

// IssueToken hands out a new raw token for userID unless the current one is
// still valid, in which case it returns ErrTokenStillValid and writes
// nothing. A source failure returns ErrSourceUnavailable, a store failure
// ErrInternal; in both cases no token is returned.
func (s *Service) IssueToken(
	ctx context.Context,
	userID string,
	username string,
) (
	*IssuedToken,
	error,
) {
	logger := log.Ctx(ctx).With().Str("user_id", userID).Logger()

	unlock := s.locks.lock(userID)
	defer unlock()

	record, err := s.records.GetRecord(ctx, userID)
	if err != nil {
		s.metrics.TokenIssue(OutcomeStoreFailure)
		return nil, fmt.Errorf("%w: failed to read token record: %v", ErrInternal, err)
	}

	status := Evaluate(record, s.now())
	if status.Valid() {
		s.metrics.TokenIssue(OutcomeRefused)
		logger.Debug().Time("expires_at", status.ExpiresAt).Msg("token.issue.refused")
		return nil, ErrTokenStillValid
	}

	start := time.Now()
	raw, err := s.source.Obtain(ctx, username)
	s.metrics.SourceLatency(time.Since(start))
	if err != nil {
		s.metrics.TokenIssue(OutcomeSourceUnavailable)
		logger.Warn().Err(err).Msg("token.issue.source_unavailable")
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	// stores keep millisecond precision; hand out what will be read back
	now := s.now()
	expiresAt := now.Add(TokenTTL).Truncate(time.Millisecond)
	if err := s.records.PutRecord(ctx, userID, tokens.Hash(raw), expiresAt, now); err != nil {
		if errors.Is(err, ErrTokenStillValid) {
			// another writer on the same store filled the slot first
			s.metrics.TokenIssue(OutcomeRefused)
			logger.Info().Err(err).Msg("token.issue.lost_race")
			return nil, ErrTokenStillValid
		}
		s.metrics.TokenIssue(OutcomeStoreFailure)
		logger.Error().Err(err).Msg("token.issue.store_failed")
		return nil, fmt.Errorf("%w: failed to store token record: %v", ErrInternal, err)
	}

	s.metrics.TokenIssue(OutcomeIssued)
	logger.Info().
		Str("previous_state", status.State.String()).
		Time("expires_at", expiresAt).
		Msg("token.issue.succeeded")

	return &IssuedToken{
		Token:     raw,
		ExpiresAt: expiresAt,
	}, nil
}
