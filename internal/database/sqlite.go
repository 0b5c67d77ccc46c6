package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

var sqliteQueries = queries{
	insertIdentity: `
		INSERT INTO identity (id, username, secret)
		VALUES (?1, ?2, ?3)
		ON CONFLICT (username) DO NOTHING;`,
	upsertIdentity: `
		INSERT INTO identity (id, username, secret)
		VALUES (?1, ?2, ?3)
		ON CONFLICT (username) DO UPDATE SET secret = excluded.secret;`,
	insertSlot: `
		INSERT INTO token (owner)
		SELECT i.id
		FROM identity i
		WHERE i.username = ?1
		ON CONFLICT (owner) DO NOTHING;`,
	getIdentity: `
		SELECT id, username, secret
		FROM identity
		WHERE username = ?1;`,
	getRecord: `
		SELECT hash, expiration
		FROM token
		WHERE owner = ?1;`,
	putRecord: `
		INSERT INTO token (owner, hash, expiration)
		VALUES (?1, ?2, ?3)
		ON CONFLICT (owner) DO UPDATE
		SET hash = excluded.hash, expiration = excluded.expiration
		WHERE token.expiration <= ?4;`,
}

// NewSQLiteStore opens (or creates) the SQLite database at dbPath and
// brings its schema up to date. ":memory:" yields a private database.
func NewSQLiteStore(dbPath string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	// one connection: keeps ":memory:" databases alive and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init database schema: couldn't enable foreign keys: %v", err)
	}

	// other processes may hold the write lock on a shared file
	if _, err := db.Exec("PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init database: couldn't set busy timeout: %v", err)
	}

	if err := migrate(context.Background(), db, goose.DialectSQLite3, "migrations/sqlite"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init database: %v", err)
	}

	return &SQLStore{db: db, q: sqliteQueries}, nil
}
