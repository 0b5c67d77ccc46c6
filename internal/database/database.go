// Package database provides persistence for identities and their token
// slots: SQLite and PostgreSQL stores sharing one implementation over
// database/sql, and an in-memory store.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"

	"git.sr.ht/~jakintosh/tokenslot/internal/service"
)

//go:embed migrations
var migrations embed.FS

// SQLStore implements service.RecordStore and service.IdentityStore on top
// of a SQL database. Expirations are kept as unix milliseconds, 0 meaning
// "never issued".
type SQLStore struct {
	db *sql.DB
	q  queries
}

type queries struct {
	insertIdentity string
	upsertIdentity string
	insertSlot     string
	getIdentity    string
	getRecord      string
	putRecord      string
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) IdentityStore() service.IdentityStore {
	return s
}

func (s *SQLStore) RecordStore() service.RecordStore {
	return s
}

func migrate(
	ctx context.Context,
	db *sql.DB,
	dialect goose.Dialect,
	dir string,
) error {
	fsys, err := fs.Sub(migrations, dir)
	if err != nil {
		return fmt.Errorf("failed to open migrations '%s': %v", dir, err)
	}
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return fmt.Errorf("failed to init migrations: %v", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to apply migrations: %v", err)
	}
	return nil
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func withTx(
	ctx context.Context,
	db *sql.DB,
	fn func(tx *sql.Tx) error,
) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	return fn(tx)
}

func resultsEmpty(result sql.Result) bool {
	count, err := result.RowsAffected()
	if err != nil {
		return false
	}
	return count == 0
}

// Store is the full persistence surface used by the server.
type Store interface {
	service.RecordStore
	service.IdentityStore
	Close() error
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Open returns the store for the given driver name.
func Open(
	ctx context.Context,
	driver string,
	dsn string,
) (
	Store,
	error,
) {
	var (
		store *SQLStore
		err   error
	)
	switch driver {
	case DriverSQLite:
		store, err = NewSQLiteStore(dsn)
	case DriverPostgres:
		store, err = NewPostgresStore(ctx, dsn)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown database driver '%s'", driver)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}
