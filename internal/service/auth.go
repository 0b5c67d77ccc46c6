package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"git.sr.ht/~jakintosh/tokenslot/internal/tokens"
)

// Authenticate resolves a username/password pair to an identity. Unknown
// users and wrong passwords both yield ErrInvalidCredentials.
func (s *Service) Authenticate(
	ctx context.Context,
	handle string,
	secret string,
) (
	Identity,
	error,
) {
	identity, err := s.identities.GetIdentity(ctx, handle)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			// spend the same bcrypt work as a real comparison
			_ = bcrypt.CompareHashAndPassword(s.decoy(), []byte(secret))
			return Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		}
		return Identity{}, fmt.Errorf("%w: failed to retrieve secret: %v", ErrInternal, err)
	}

	if err := bcrypt.CompareHashAndPassword(identity.Secret, []byte(secret)); err != nil {
		return Identity{}, ErrInvalidCredentials
	}

	return identity, nil
}

// decoy returns a hash of a random secret at the configured cost, built on
// first use.
func (s *Service) decoy() []byte {
	s.decoyOnce.Do(func() {
		secret, err := bcrypt.GenerateFromPassword([]byte(tokens.Generate()), s.passwordMode.Cost())
		if err != nil {
			log.Error().Err(err).Msg("auth.decoy.generate_failed")
			return
		}
		s.decoySecret = secret
	})
	return s.decoySecret
}
