// Package service implements the token lifecycle for tokenslot: validity
// evaluation of a user's token slot, rotation gating and issuance, plus the
// small identity layer that stands in for an external user directory.
package service

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"git.sr.ht/~jakintosh/tokenslot/internal/tokens"
)

// TokenTTL is the fixed lifetime of an issued token.
const TokenTTL = 30 * 24 * time.Hour

var (
	ErrTokenStillValid    = errors.New("token still valid")
	ErrSourceUnavailable  = errors.New("could not obtain token")
	ErrTokenInvalid       = errors.New("token invalid")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountNotFound    = errors.New("account not found")
	ErrHandleExists       = errors.New("handle already exists")
	ErrInvalidHandle      = errors.New("invalid handle")
	ErrInternal           = errors.New("internal error")
)

// PasswordMode controls bcrypt cost for account secrets.
// Use PasswordModeProduction for real deployments and PasswordModeTesting only in tests.
type PasswordMode int

const (
	// PasswordModeProduction uses bcrypt.DefaultCost.
	PasswordModeProduction PasswordMode = iota
	// PasswordModeTesting uses bcrypt.MinCost and panics outside of go test.
	PasswordModeTesting
)

// Cost returns the bcrypt cost for this mode.
func (m PasswordMode) Cost() int {
	switch m {
	case PasswordModeTesting:
		if !testing.Testing() {
			panic("service: PasswordModeTesting used outside of test environment")
		}
		log.Warn().Msg("using insecure password hashing (testing mode)")
		return bcrypt.MinCost
	default:
		return bcrypt.DefaultCost
	}
}

// Issuance outcomes reported to Metrics.
const (
	OutcomeIssued            = "issued"
	OutcomeRefused           = "refused"
	OutcomeSourceUnavailable = "source_unavailable"
	OutcomeStoreFailure      = "store_failure"
)

// Metrics receives issuance observations.
type Metrics interface {
	TokenIssue(outcome string)
	SourceLatency(d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) TokenIssue(string)            {}
func (nopMetrics) SourceLatency(time.Duration) {}

// Service coordinates the token slot of every user. It depends on storage
// interfaces (RecordStore, IdentityStore) and a tokens.Source.
type Service struct {
	records      RecordStore
	identities   IdentityStore
	source       tokens.Source
	locks        *userLocks
	now          func() time.Time
	metrics      Metrics
	passwordMode PasswordMode

	decoyOnce   sync.Once
	decoySecret []byte
}

type Option func(*Service)

// WithClock replaces time.Now as the source of the current time.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithPasswordMode(mode PasswordMode) Option {
	return func(s *Service) { s.passwordMode = mode }
}

func New(
	records RecordStore,
	identities IdentityStore,
	source tokens.Source,
	opts ...Option,
) *Service {
	s := &Service{
		records:      records,
		identities:   identities,
		source:       source,
		locks:        newUserLocks(),
		now:          time.Now,
		metrics:      nopMetrics{},
		passwordMode: PasswordModeProduction,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
