package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"git.sr.ht/~jakintosh/tokenslot/internal/service"
)

func (s *SQLStore) InsertIdentity(
	ctx context.Context,
	identity service.Identity,
) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, s.q.insertIdentity,
			identity.ID,
			identity.Username,
			identity.Secret,
		)
		if err != nil {
			return fmt.Errorf("couldn't insert into identity: %v", err)
		}
		if resultsEmpty(result) {
			return fmt.Errorf("%w: %s", service.ErrHandleExists, identity.Username)
		}

		if _, err := tx.ExecContext(ctx, s.q.insertSlot, identity.Username); err != nil {
			return fmt.Errorf("couldn't insert into token: %v", err)
		}
		return nil
	})
}

func (s *SQLStore) UpsertIdentity(
	ctx context.Context,
	identity service.Identity,
) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.q.upsertIdentity,
			identity.ID,
			identity.Username,
			identity.Secret,
		)
		if err != nil {
			return fmt.Errorf("couldn't upsert identity: %v", err)
		}

		if _, err := tx.ExecContext(ctx, s.q.insertSlot, identity.Username); err != nil {
			return fmt.Errorf("couldn't insert into token: %v", err)
		}
		return nil
	})
}

func (s *SQLStore) GetIdentity(
	ctx context.Context,
	username string,
) (
	service.Identity,
	error,
) {
	row := s.db.QueryRowContext(ctx, s.q.getIdentity, username)

	var identity service.Identity
	err := row.Scan(&identity.ID, &identity.Username, &identity.Secret)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return service.Identity{}, fmt.Errorf("%w: %s", service.ErrAccountNotFound, username)
		}
		return service.Identity{}, fmt.Errorf("couldn't scan identity: %v", err)
	}
	return identity, nil
}
