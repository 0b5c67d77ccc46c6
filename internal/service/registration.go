package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// Identity is a user known to tokenslot. ID is stable and never reused;
// Secret is a bcrypt hash.
type Identity struct {
	ID       string
	Username string
	Secret   []byte
}

var handlePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@-]{0,63}$`)

func validateHandle(handle string) error {
	if !handlePattern.MatchString(handle) {
		return fmt.Errorf("%w: %q", ErrInvalidHandle, handle)
	}
	return nil
}

// RegisterAccount creates a new identity with an empty token slot.
func (s *Service) RegisterAccount(
	ctx context.Context,
	handle string,
	password string,
) (
	Identity,
	error,
) {
	if err := validateHandle(handle); err != nil {
		return Identity{}, err
	}
	if password == "" {
		return Identity{}, fmt.Errorf("%w: empty password", ErrInvalidCredentials)
	}

	hashPass, err := bcrypt.GenerateFromPassword([]byte(password), s.passwordMode.Cost())
	if err != nil {
		return Identity{}, fmt.Errorf("%w: failed to hash password: %v", ErrInternal, err)
	}

	identity := Identity{
		ID:       uuid.NewString(),
		Username: handle,
		Secret:   hashPass,
	}
	if err := s.identities.InsertIdentity(ctx, identity); err != nil {
		if errors.Is(err, ErrHandleExists) {
			return Identity{}, err
		}
		return Identity{}, fmt.Errorf("%w: failed to insert account: %v", ErrInternal, err)
	}

	log.Ctx(ctx).Info().
		Str("user_id", identity.ID).
		Str("username", handle).
		Msg("account.registered")
	return identity, nil
}

// ProvisionAccount creates or updates an identity from an already hashed
// secret, as read from an account definition file. The token slot of an
// existing identity is left alone.
func (s *Service) ProvisionAccount(
	ctx context.Context,
	handle string,
	secretHash []byte,
) error {
	if err := validateHandle(handle); err != nil {
		return err
	}
	if _, err := bcrypt.Cost(secretHash); err != nil {
		return fmt.Errorf("%w: secret for %q is not a bcrypt hash", ErrInvalidCredentials, handle)
	}

	identity := Identity{
		ID:       uuid.NewString(),
		Username: handle,
		Secret:   secretHash,
	}
	if err := s.identities.UpsertIdentity(ctx, identity); err != nil {
		return fmt.Errorf("%w: failed to provision account: %v", ErrInternal, err)
	}
	return nil
}

// LookupAccount resolves a handle without checking credentials. It is meant
// for operator tooling that already has direct store access.
func (s *Service) LookupAccount(
	ctx context.Context,
	handle string,
) (
	Identity,
	error,
) {
	identity, err := s.identities.GetIdentity(ctx, handle)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return Identity{}, err
		}
		return Identity{}, fmt.Errorf("%w: failed to look up account: %v", ErrInternal, err)
	}
	return identity, nil
}
