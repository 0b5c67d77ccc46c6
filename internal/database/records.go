package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"git.sr.ht/~jakintosh/tokenslot/internal/service"
)

func (s *SQLStore) GetRecord(
	ctx context.Context,
	userID string,
) (
	service.Record,
	error,
) {
	row := s.db.QueryRowContext(ctx, s.q.getRecord, userID)

	var (
		hash       string
		expiration int64
	)
	err := row.Scan(&hash, &expiration)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return service.Record{UserID: userID}, nil
		}
		return service.Record{}, fmt.Errorf("couldn't scan token record: %v", err)
	}

	return service.Record{
		UserID:    userID,
		TokenHash: hash,
		ExpiresAt: fromMillis(expiration),
	}, nil
}

func (s *SQLStore) PutRecord(
	ctx context.Context,
	userID string,
	tokenHash string,
	expiresAt time.Time,
	now time.Time,
) error {
	result, err := s.db.ExecContext(ctx, s.q.putRecord,
		userID,
		tokenHash,
		expiresAt.UnixMilli(),
		now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("couldn't write token record: %v", err)
	}
	if resultsEmpty(result) {
		return fmt.Errorf("%w: slot of %s taken by a concurrent write", service.ErrTokenStillValid, userID)
	}
	return nil
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
