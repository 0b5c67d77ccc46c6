package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

var postgresQueries = queries{
	insertIdentity: `
		INSERT INTO identity (id, username, secret)
		VALUES ($1, $2, $3)
		ON CONFLICT (username) DO NOTHING`,
	upsertIdentity: `
		INSERT INTO identity (id, username, secret)
		VALUES ($1, $2, $3)
		ON CONFLICT (username) DO UPDATE SET secret = EXCLUDED.secret`,
	insertSlot: `
		INSERT INTO token (owner)
		SELECT i.id
		FROM identity i
		WHERE i.username = $1
		ON CONFLICT (owner) DO NOTHING`,
	getIdentity: `
		SELECT id, username, secret
		FROM identity
		WHERE username = $1`,
	getRecord: `
		SELECT hash, expiration
		FROM token
		WHERE owner = $1`,
	putRecord: `
		INSERT INTO token (owner, hash, expiration)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner) DO UPDATE
		SET hash = EXCLUDED.hash, expiration = EXCLUDED.expiration
		WHERE token.expiration <= $4`,
}

// NewPostgresStore connects to PostgreSQL through pgx and applies the
// embedded migrations.
func NewPostgresStore(
	ctx context.Context,
	dsn string,
) (
	*SQLStore,
	error,
) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach database: %v", err)
	}

	if err := migrate(ctx, db, goose.DialectPostgres, "migrations/postgres"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init database: %v", err)
	}

	return newPostgresStore(db), nil
}

func newPostgresStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, q: postgresQueries}
}
