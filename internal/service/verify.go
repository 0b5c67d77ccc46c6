package service

import (
	"context"
	"crypto/subtle"
	"fmt"

	"git.sr.ht/~jakintosh/tokenslot/internal/tokens"
)

// Verify checks a presented raw token against the stored hash of userID.
// It succeeds only for the current, unexpired token; anything else yields
// ErrTokenInvalid.
func (s *Service) Verify(
	ctx context.Context,
	userID string,
	candidate string,
) (
	Status,
	error,
) {
	if candidate == "" {
		return Status{}, ErrTokenInvalid
	}

	record, err := s.records.GetRecord(ctx, userID)
	if err != nil {
		return Status{}, fmt.Errorf("%w: failed to read token record: %v", ErrInternal, err)
	}

	status := Evaluate(record, s.now())
	if !status.Valid() || record.TokenHash == "" {
		return status, ErrTokenInvalid
	}

	candidateHash := tokens.Hash(candidate)
	if subtle.ConstantTimeCompare([]byte(candidateHash), []byte(record.TokenHash)) != 1 {
		return status, ErrTokenInvalid
	}
	return status, nil
}
