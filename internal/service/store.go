package service

import (
	"context"
	"time"
)

// RecordStore handles persistence of token slots.
//
// GetRecord returns an empty Record (UserID set, nothing else) when the user
// has no slot yet.
//
// PutRecord replaces hash and expiration in one atomic write, but only while
// the stored expiration is not after now; otherwise it writes nothing and
// fails with ErrTokenStillValid. The check and the write are a single
// statement, so concurrent writers sharing a store cannot both succeed.
// userID must belong to a registered identity; unknown ids are an error.
type RecordStore interface {
	GetRecord(ctx context.Context, userID string) (Record, error)
	PutRecord(ctx context.Context, userID string, tokenHash string, expiresAt time.Time, now time.Time) error
}

// IdentityStore handles persistence of user identities.
//
// InsertIdentity fails with ErrHandleExists for a taken username.
// UpsertIdentity replaces the secret of an existing username and keeps its id.
// Both create the empty token slot of a new identity in the same write.
// GetIdentity fails with ErrAccountNotFound for an unknown username.
type IdentityStore interface {
	InsertIdentity(ctx context.Context, identity Identity) error
	UpsertIdentity(ctx context.Context, identity Identity) error
	GetIdentity(ctx context.Context, username string) (Identity, error)
}
