package service_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"git.sr.ht/~jakintosh/tokenslot/internal/database"
	"git.sr.ht/~jakintosh/tokenslot/internal/service"
	"git.sr.ht/~jakintosh/tokenslot/internal/testutil"
	"git.sr.ht/~jakintosh/tokenslot/internal/tokens"
)

func TestCheckStatus_NoRecord(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)

	// unknown user has no token
	status, err := env.Service.CheckStatus(context.Background(), "no-such-user")
	if err != nil {
		t.Fatalf("CheckStatus failed: %v", err)
	}
	if status.Valid() {
		t.Error("expected invalid status for unknown user")
	}
	if status.State != service.StateNoToken {
		t.Errorf("state = %s, want no_token", status.State)
	}
}

func TestIssueToken_FirstIssue(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)
	identity := env.RegisterTestUser(t, "alice", "password")
	svc, records := setupCounting(t, env, env.Source)

	// first issue returns a high-entropy token expiring exactly 30 days out
	issued, err := svc.IssueToken(context.Background(), identity.ID, identity.Username)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	if len(issued.Token) != 2*tokens.RawTokenBytes {
		t.Errorf("token length = %d, want %d", len(issued.Token), 2*tokens.RawTokenBytes)
	}
	want := testutil.Epoch.Add(30 * 24 * time.Hour)
	if !issued.ExpiresAt.Equal(want) {
		t.Errorf("expiresAt = %v, want %v", issued.ExpiresAt, want)
	}
	if records.Puts() != 1 {
		t.Errorf("puts = %d, want 1", records.Puts())
	}

	// stored hash matches the returned token, raw value is not stored
	record, err := env.DB.GetRecord(context.Background(), identity.ID)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if record.TokenHash != tokens.Hash(issued.Token) {
		t.Error("stored hash does not match returned token")
	}
	if record.TokenHash == issued.Token {
		t.Error("raw token persisted")
	}
	if !record.ExpiresAt.Equal(want) {
		t.Errorf("stored expiresAt = %v, want %v", record.ExpiresAt, want)
	}
}

func TestIssueToken_RefusedWhileValid(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)
	identity := env.RegisterTestUser(t, "alice", "password")
	svc, records := setupCounting(t, env, env.Source)

	// setup env
	first, err := svc.IssueToken(context.Background(), identity.ID, identity.Username)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	// refusal is repeatable and never writes or calls the source
	for i := 0; i < 2; i++ {
		env.Clock.Advance(time.Hour)
		issued, err := svc.IssueToken(context.Background(), identity.ID, identity.Username)
		if !errors.Is(err, service.ErrTokenStillValid) {
			t.Fatalf("attempt %d: expected ErrTokenStillValid, got %v", i, err)
		}
		if issued != nil {
			t.Errorf("attempt %d: refusal returned a token", i)
		}
	}
	if records.Puts() != 1 {
		t.Errorf("puts = %d, want 1", records.Puts())
	}
	if env.Source.Calls() != 1 {
		t.Errorf("source calls = %d, want 1", env.Source.Calls())
	}

	// original token still verifies
	if _, err := svc.Verify(context.Background(), identity.ID, first.Token); err != nil {
		t.Errorf("original token no longer valid: %v", err)
	}
}

func TestIssueToken_ValidUntilLastInstant(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)
	identity := env.RegisterTestUser(t, "alice", "password")
	env.IssueTestToken(t, identity)

	// one millisecond before expiry is still refused
	env.Clock.Advance(service.TokenTTL - time.Millisecond)
	_, err := env.Service.IssueToken(context.Background(), identity.ID, identity.Username)
	if !errors.Is(err, service.ErrTokenStillValid) {
		t.Fatalf("expected ErrTokenStillValid, got %v", err)
	}

	// at expiry a new token is issued
	env.Clock.Advance(time.Millisecond)
	if _, err := env.Service.IssueToken(context.Background(), identity.ID, identity.Username); err != nil {
		t.Fatalf("expected issue at expiry, got %v", err)
	}
}

func TestIssueToken_ExpiredYesterday(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)
	identity := env.RegisterTestUser(t, "alice", "password")

	// token expired a day ago
	yesterday := env.Clock.Now().Add(-24 * time.Hour)
	if err := env.DB.PutRecord(context.Background(), identity.ID, tokens.Hash("old"), yesterday, yesterday.Add(-service.TokenTTL)); err != nil {
		t.Fatalf("PutRecord failed: %v", err)
	}

	// issue overwrites the old hash
	issued, err := env.Service.IssueToken(context.Background(), identity.ID, identity.Username)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	record, err := env.DB.GetRecord(context.Background(), identity.ID)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if record.TokenHash != tokens.Hash(issued.Token) {
		t.Error("old hash not replaced")
	}
	if !record.ExpiresAt.Equal(env.Clock.Now().Add(service.TokenTTL)) {
		t.Errorf("expiresAt = %v", record.ExpiresAt)
	}
}

func TestIssueToken_SourceUnavailable(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)
	identity := env.RegisterTestUser(t, "alice", "password")
	svc, records := setupCounting(t, env, env.Source)
	env.Source.SetFailing(true)

	// source failure is reported and nothing is written
	issued, err := svc.IssueToken(context.Background(), identity.ID, identity.Username)
	if !errors.Is(err, service.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
	if issued != nil {
		t.Error("failure returned a token")
	}
	if records.Puts() != 0 {
		t.Errorf("puts = %d, want 0", records.Puts())
	}

	// recovers once the source is back
	env.Source.SetFailing(false)
	if _, err := svc.IssueToken(context.Background(), identity.ID, identity.Username); err != nil {
		t.Errorf("expected recovery, got %v", err)
	}
}

func TestIssueToken_ExternalMalformedPayload(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)
	identity := env.RegisterTestUser(t, "alice", "password")

	// external issuer answers without a token field
	issuer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	t.Cleanup(issuer.Close)

	client, err := tokens.NewExternalClient(issuer.URL, time.Second)
	if err != nil {
		t.Fatalf("NewExternalClient failed: %v", err)
	}
	svc, records := setupCounting(t, env, client)

	// issue fails as unavailable, store untouched
	_, err = svc.IssueToken(context.Background(), identity.ID, identity.Username)
	if !errors.Is(err, service.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
	if records.Puts() != 0 {
		t.Errorf("puts = %d, want 0", records.Puts())
	}
	record, _ := env.DB.GetRecord(context.Background(), identity.ID)
	if !record.Empty() {
		t.Error("record written after malformed payload")
	}
}

func TestIssueToken_ExternalSource(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)
	identity := env.RegisterTestUser(t, "alice", "password")

	// external issuer hands out a fixed token for the named user
	issuer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("username") != "alice" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"token":"external-token-value"}`))
	}))
	t.Cleanup(issuer.Close)

	client, err := tokens.NewExternalClient(issuer.URL, time.Second)
	if err != nil {
		t.Fatalf("NewExternalClient failed: %v", err)
	}
	svc, _ := setupCounting(t, env, client)

	issued, err := svc.IssueToken(context.Background(), identity.ID, identity.Username)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	if issued.Token != "external-token-value" {
		t.Errorf("token = %q", issued.Token)
	}
	record, _ := env.DB.GetRecord(context.Background(), identity.ID)
	if record.TokenHash != tokens.Hash("external-token-value") {
		t.Error("stored hash does not match external token")
	}
}

func TestIssueToken_StoreFailure(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)
	identity := env.RegisterTestUser(t, "alice", "password")
	svc, records := setupCounting(t, env, env.Source)
	records.failPut = true

	// write failure returns no token
	issued, err := svc.IssueToken(context.Background(), identity.ID, identity.Username)
	if !errors.Is(err, service.ErrInternal) {
		t.Fatalf("expected ErrInternal, got %v", err)
	}
	if issued != nil {
		t.Error("store failure returned a token")
	}

	// slot is still reissuable
	status, _ := svc.CheckStatus(context.Background(), identity.ID)
	if status.Valid() {
		t.Error("slot valid after failed write")
	}
}

func TestIssueToken_Concurrent(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)
	identity := env.RegisterTestUser(t, "alice", "password")
	svc, records := setupCounting(t, env, env.Source)

	const callers = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		refused int
		start   = make(chan struct{})
	)

	// all callers race for a never-issued slot
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			issued, err := svc.IssueToken(context.Background(), identity.ID, identity.Username)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, issued.Token)
			case errors.Is(err, service.ErrTokenStillValid):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	// exactly one winner whose token matches the single stored record
	if len(winners) != 1 {
		t.Fatalf("winners = %d, want 1", len(winners))
	}
	if refused != callers-1 {
		t.Errorf("refused = %d, want %d", refused, callers-1)
	}
	if records.Puts() != 1 {
		t.Errorf("puts = %d, want 1", records.Puts())
	}
	record, _ := env.DB.GetRecord(context.Background(), identity.ID)
	if record.TokenHash != tokens.Hash(winners[0]) {
		t.Error("stored hash does not belong to the winner")
	}
}

func TestIssueToken_DifferentUsersIndependent(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)
	alice := env.RegisterTestUser(t, "alice", "password")
	bob := env.RegisterTestUser(t, "bob", "password")

	// alice holding a token does not block bob
	env.IssueTestToken(t, alice)
	if _, err := env.Service.IssueToken(context.Background(), bob.ID, bob.Username); err != nil {
		t.Errorf("bob blocked by alice's token: %v", err)
	}
}

// rendezvousSource holds every caller inside Obtain until all expected
// callers have arrived, so each of them has already read the empty slot.
type rendezvousSource struct {
	arrived sync.WaitGroup
}

func newRendezvousSource(callers int) *rendezvousSource {
	s := &rendezvousSource{}
	s.arrived.Add(callers)
	return s
}

func (s *rendezvousSource) Obtain(
	ctx context.Context,
	username string,
) (
	string,
	error,
) {
	s.arrived.Done()

	all := make(chan struct{})
	go func() {
		s.arrived.Wait()
		close(all)
	}()
	select {
	case <-all:
		return tokens.Generate(), nil
	case <-time.After(5 * time.Second):
		return "", errors.New("other callers never reached the source")
	}
}

func TestIssueToken_TwoServicesOneDatabaseFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tokenslot.db")
	clock := testutil.NewClock(testutil.Epoch)
	source := newRendezvousSource(2)

	// two server processes, each with its own store handle and lock table
	services := make([]*service.Service, 2)
	for i := range services {
		store, err := database.NewSQLiteStore(path)
		if err != nil {
			t.Fatalf("NewSQLiteStore failed: %v", err)
		}
		t.Cleanup(func() { _ = store.Close() })
		services[i] = service.New(store, store, source,
			service.WithClock(clock.Now),
			service.WithPasswordMode(service.PasswordModeTesting),
		)
	}
	identity, err := services[0].RegisterAccount(ctx, "alice", "password")
	if err != nil {
		t.Fatalf("RegisterAccount failed: %v", err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		refused int
	)
	for _, svc := range services {
		wg.Add(1)
		go func() {
			defer wg.Done()
			issued, err := svc.IssueToken(ctx, identity.ID, identity.Username)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, issued.Token)
			case errors.Is(err, service.ErrTokenStillValid):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	// one process issues, the other is refused and returns no token
	if len(winners) != 1 {
		t.Fatalf("winners = %d, want 1", len(winners))
	}
	if refused != 1 {
		t.Errorf("refused = %d, want 1", refused)
	}
	for _, svc := range services {
		if _, err := svc.Verify(ctx, identity.ID, winners[0]); err != nil {
			t.Errorf("winner's token rejected: %v", err)
		}
	}
}

func TestIssueToken_ExpirationMillisecondPrecision(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)
	identity := env.RegisterTestUser(t, "alice", "password")

	// clock off the millisecond grid
	env.Clock.Advance(1234567 * time.Nanosecond)
	issued, err := env.Service.IssueToken(context.Background(), identity.ID, identity.Username)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	if issued.ExpiresAt.Nanosecond()%int(time.Millisecond) != 0 {
		t.Errorf("expiresAt = %v, carries sub-millisecond precision", issued.ExpiresAt)
	}

	// the returned expiration is what later reads report
	status, err := env.Service.CheckStatus(context.Background(), identity.ID)
	if err != nil {
		t.Fatalf("CheckStatus failed: %v", err)
	}
	if !status.ExpiresAt.Equal(issued.ExpiresAt) {
		t.Errorf("CheckStatus expiresAt = %v, want %v", status.ExpiresAt, issued.ExpiresAt)
	}
	verified, err := env.Service.Verify(context.Background(), identity.ID, issued.Token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !verified.ExpiresAt.Equal(issued.ExpiresAt) {
		t.Errorf("Verify expiresAt = %v, want %v", verified.ExpiresAt, issued.ExpiresAt)
	}
}
