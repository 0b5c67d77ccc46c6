// Package testutil provides test environment setup and utilities for internal package tests.
package testutil

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"git.sr.ht/~jakintosh/tokenslot/internal/api"
	"git.sr.ht/~jakintosh/tokenslot/internal/database"
	"git.sr.ht/~jakintosh/tokenslot/internal/metrics"
	"git.sr.ht/~jakintosh/tokenslot/internal/service"
	"git.sr.ht/~jakintosh/tokenslot/internal/tokens"
)

// Epoch is the instant every test clock starts at.
var Epoch = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

// TestEnv provides all dependencies needed for testing
type TestEnv struct {
	DB      *database.SQLStore
	Service *service.Service
	Router  http.Handler
	Clock   *Clock
	Source  *Source
	Metrics *metrics.Collector
}

// SetupTestEnv creates an isolated test environment with in-memory SQLite
func SetupTestEnv(
	t *testing.T,
) *TestEnv {
	t.Helper()

	// create in-memory SQLite database
	db, err := database.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	clock := NewClock(Epoch)
	source := &Source{}
	collector := metrics.New()

	// create service
	svc := service.New(
		db.RecordStore(),
		db.IdentityStore(),
		source,
		service.WithClock(clock.Now),
		service.WithMetrics(collector),
		service.WithPasswordMode(service.PasswordModeTesting),
	)

	// setup cleanup
	t.Cleanup(func() {
		_ = db.Close()
	})

	return &TestEnv{
		DB:      db,
		Service: svc,
		Clock:   clock,
		Source:  source,
		Metrics: collector,
	}
}

// SetupTestEnvWithRouter creates TestEnv and configures the API router
// with registration and metrics enabled.
func SetupTestEnvWithRouter(
	t *testing.T,
) *TestEnv {
	t.Helper()
	env := SetupTestEnv(t)
	a := api.New(
		env.Service,
		api.WithRegistration(true),
		api.WithMetricsHandler(env.Metrics.Handler()),
	)
	env.Router = a.Router()
	return env
}

// RegisterTestUser creates a test user in the database
func (env *TestEnv) RegisterTestUser(
	t *testing.T,
	handle string,
	password string,
) service.Identity {
	t.Helper()
	identity, err := env.Service.RegisterAccount(context.Background(), handle, password)
	if err != nil {
		t.Fatalf("failed to register test user: %v", err)
	}
	return identity
}

// IssueTestToken issues a token for a registered user and returns it
func (env *TestEnv) IssueTestToken(
	t *testing.T,
	identity service.Identity,
) *service.IssuedToken {
	t.Helper()
	issued, err := env.Service.IssueToken(context.Background(), identity.ID, identity.Username)
	if err != nil {
		t.Fatalf("failed to issue test token: %v", err)
	}
	return issued
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ErrSourceDown is returned by a failing Source.
var ErrSourceDown = errors.New("test source down")

// Source is a tokens.Source that generates local tokens, counts calls and
// can be switched into failure.
type Source struct {
	mu      sync.Mutex
	failing bool
	calls   int
}

func (s *Source) Obtain(
	ctx context.Context,
	username string,
) (
	string,
	error,
) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failing {
		return "", ErrSourceDown
	}
	return tokens.Generate(), nil
}

func (s *Source) SetFailing(failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = failing
}

func (s *Source) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
