package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"git.sr.ht/~jakintosh/tokenslot/internal/service"
)

// MemoryStore keeps identities and token slots in process memory. It is
// meant for tests and throwaway deployments; nothing survives a restart.
type MemoryStore struct {
	mu         sync.RWMutex
	identities map[string]service.Identity
	records    map[string]service.Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		identities: make(map[string]service.Identity),
		records:    make(map[string]service.Record),
	}
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) IdentityStore() service.IdentityStore {
	return s
}

func (s *MemoryStore) RecordStore() service.RecordStore {
	return s
}

func (s *MemoryStore) InsertIdentity(
	_ context.Context,
	identity service.Identity,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.identities[identity.Username]; ok {
		return fmt.Errorf("%w: %s", service.ErrHandleExists, identity.Username)
	}
	s.identities[identity.Username] = identity
	s.records[identity.ID] = service.Record{UserID: identity.ID}
	return nil
}

func (s *MemoryStore) UpsertIdentity(
	_ context.Context,
	identity service.Identity,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.identities[identity.Username]; ok {
		existing.Secret = identity.Secret
		s.identities[identity.Username] = existing
		return nil
	}
	s.identities[identity.Username] = identity
	s.records[identity.ID] = service.Record{UserID: identity.ID}
	return nil
}

func (s *MemoryStore) GetIdentity(
	_ context.Context,
	username string,
) (
	service.Identity,
	error,
) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, ok := s.identities[username]
	if !ok {
		return service.Identity{}, fmt.Errorf("%w: %s", service.ErrAccountNotFound, username)
	}
	return identity, nil
}

func (s *MemoryStore) GetRecord(
	_ context.Context,
	userID string,
) (
	service.Record,
	error,
) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if record, ok := s.records[userID]; ok {
		return record, nil
	}
	return service.Record{UserID: userID}, nil
}

func (s *MemoryStore) PutRecord(
	_ context.Context,
	userID string,
	tokenHash string,
	expiresAt time.Time,
	now time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[userID]
	if !ok {
		return fmt.Errorf("%w: no identity with id %s", service.ErrAccountNotFound, userID)
	}
	if current.ExpiresAt.After(now) {
		return fmt.Errorf("%w: slot of %s taken by a concurrent write", service.ErrTokenStillValid, userID)
	}

	s.records[userID] = service.Record{
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
	}
	return nil
}
