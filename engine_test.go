package consoleauth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/autorent-leon/consoleauth/authapi"
	"github.com/autorent-leon/consoleauth/authapi/authapitest"
	"github.com/autorent-leon/consoleauth/jwt"
	"github.com/autorent-leon/consoleauth/permission"
	"github.com/autorent-leon/consoleauth/session"
	"github.com/go-logr/logr/testr"
)

const (
	testEmail    = "ana@autorent.test"
	testPassword = "s3cret-pass"
)

type testEnv struct {
	engine  *Engine
	server  *authapitest.Server
	storage *session.MemoryStorage
	events  *ChannelSink
}

func newTestEnv(t *testing.T, perms permission.Set, mutate func(*Builder)) *testEnv {
	t.Helper()

	srv := authapitest.NewServer()
	t.Cleanup(srv.Close)
	srv.AddUser(authapitest.User{
		Name:        "Ana",
		LastName:    "Lopez",
		Email:       testEmail,
		Password:    testPassword,
		Permissions: perms,
	})

	cfg := DefaultConfig()
	cfg.API.BaseURL = srv.BaseURL()
	cfg.Permissions.FetchTimeout = 2 * time.Second
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 64

	storage := session.NewMemoryStorage()
	sink := NewChannelSink(64)
	b := New().
		WithConfig(cfg).
		WithStorage(storage).
		WithAuditSink(sink).
		WithLogger(testr.New(t))
	if mutate != nil {
		mutate(b)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, server: srv, storage: storage, events: sink}
}

func (env *testEnv) storedToken(t *testing.T) string {
	t.Helper()
	v, _, err := env.storage.Get(context.Background(), session.DefaultTokenKey)
	if err != nil {
		t.Fatalf("storage get: %v", err)
	}
	return v
}

func waitAudit(t *testing.T, sink *ChannelSink, eventType string) AuditEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sink.Events():
			if ev.EventType == eventType {
				return ev
			}
		case <-timeout:
			t.Fatalf("audit event %q not emitted", eventType)
		}
	}
}

func TestLoginInitiatesSessionAndLoadsPermissions(t *testing.T) {
	env := newTestEnv(t, permission.Of("branch.view_branch"), nil)
	ctx := context.Background()

	if err := env.engine.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if env.storedToken(t) == "" {
		t.Fatal("expected token to be persisted")
	}
	if !env.engine.CheckLoggedIn(ctx) || !env.engine.IsAuthenticated(ctx) {
		t.Fatal("expected logged-in session")
	}
	if !env.engine.HasPermission("branch.view_branch") {
		t.Fatal("expected branch.view_branch after login")
	}
	if env.engine.HasPermission("vehicle.view_vehicle") {
		t.Fatal("unexpected vehicle.view_vehicle")
	}

	user, ok := env.engine.CurrentUser(ctx)
	if !ok || user.Email != testEmail || user.FullName() != "Ana Lopez" {
		t.Fatalf("unexpected current user %+v ok=%v", user, ok)
	}

	ev := waitAudit(t, env.events, auditEventLoginSuccess)
	if !ev.Success || ev.Email != testEmail || ev.ID == "" {
		t.Fatalf("unexpected audit event %+v", ev)
	}

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricLoginSuccess] != 1 || snap.Counters[MetricPermissionFetch] != 1 {
		t.Fatalf("unexpected counters %+v", snap.Counters)
	}
}

func TestLoginFailureKeepsServerMessage(t *testing.T) {
	env := newTestEnv(t, permission.Of(), nil)

	err := env.engine.Login(context.Background(), testEmail, "wrong")
	if err == nil {
		t.Fatal("expected login failure")
	}
	if got := UserMessage(err); got != "Invalid credentials" {
		t.Fatalf("unexpected message %q", got)
	}
	if env.engine.IsAuthenticated(context.Background()) {
		t.Fatal("failed login must not store a token")
	}

	env.server.Fail("login", authapitest.Failure{Status: 500})
	err = env.engine.Login(context.Background(), testEmail, testPassword)
	if got := UserMessage(err); got != authapi.GenericMessage {
		t.Fatalf("expected generic message, got %q", got)
	}
	if env.engine.MetricsSnapshot().Counters[MetricLoginFailure] != 2 {
		t.Fatal("expected two login failures counted")
	}
}

func TestInitiateSessionRequiresToken(t *testing.T) {
	env := newTestEnv(t, permission.Of(), nil)

	for _, resp := range []*authapi.LoginResponse{nil, {Status: "ok"}} {
		if err := env.engine.InitiateSession(context.Background(), resp); !errors.Is(err, ErrTokenMissing) {
			t.Fatalf("expected ErrTokenMissing, got %v", err)
		}
	}
}

func TestInitiateSessionSucceedsWhenPermissionsFail(t *testing.T) {
	env := newTestEnv(t, permission.Of("branch.view_branch"), nil)
	env.server.Fail("permission", authapitest.Failure{Status: 500, Remaining: 1})
	ctx := context.Background()

	token := env.server.TokenFor(testEmail)
	if err := env.engine.InitiateSession(ctx, &authapi.LoginResponse{Token: token}); err != nil {
		t.Fatalf("InitiateSession: %v", err)
	}
	if !env.engine.CheckLoggedIn(ctx) {
		t.Fatal("session must survive a failed permission fetch")
	}
	if env.engine.PermissionState().State != permission.StateError {
		t.Fatalf("expected error state, got %v", env.engine.PermissionState().State)
	}

	if !env.engine.FetchUserPermissions(ctx) {
		t.Fatal("retry should load permissions")
	}
	if !env.engine.HasPermission("branch.view_branch") {
		t.Fatal("expected permission after retry")
	}
}

func TestInitiateSessionReplacesPreviousPermissions(t *testing.T) {
	env := newTestEnv(t, permission.All(), nil)
	ctx := context.Background()
	env.server.AddUser(authapitest.User{Email: "clerk@autorent.test", Password: "x", Permissions: permission.Of("rental.view_rental")})

	if err := env.engine.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !env.engine.HasPermission("user.delete_user") {
		t.Fatal("superuser should hold every permission")
	}

	if err := env.engine.Login(ctx, "clerk@autorent.test", "x"); err != nil {
		t.Fatalf("second Login: %v", err)
	}
	if env.engine.HasPermission("user.delete_user") {
		t.Fatal("permissions of the previous session leaked")
	}
	if !env.engine.HasPermission("rental.view_rental") {
		t.Fatal("expected permissions of the new session")
	}
}

func TestCheckLoggedInWithoutToken(t *testing.T) {
	env := newTestEnv(t, permission.Of(), nil)
	if env.engine.CheckLoggedIn(context.Background()) {
		t.Fatal("expected not logged in")
	}
	if env.engine.FetchUserPermissions(context.Background()) {
		t.Fatal("fetch without token must fail")
	}
	if env.server.PermissionCalls.Load() != 0 {
		t.Fatal("no network call expected without a token")
	}
}

func TestCheckLoggedInClearsExpiredOrMalformedToken(t *testing.T) {
	for name, token := range map[string]func(*authapitest.Server) string{
		"expired":   func(s *authapitest.Server) string { return s.ExpiredTokenFor(testEmail) },
		"malformed": func(*authapitest.Server) string { return "not-a-jwt" },
	} {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, permission.Of(), nil)
			ctx := context.Background()
			if err := env.storage.Set(ctx, session.DefaultTokenKey, token(env.server)); err != nil {
				t.Fatal(err)
			}
			if !env.engine.IsAuthenticated(ctx) {
				t.Fatal("IsAuthenticated does not check expiry")
			}
			if env.engine.CheckLoggedIn(ctx) {
				t.Fatal("expected not logged in")
			}
			if env.storedToken(t) != "" {
				t.Fatal("expected token to be cleared")
			}
			if _, ok := env.engine.CurrentUser(ctx); ok {
				t.Fatal("expected no current user")
			}
			if env.engine.MetricsSnapshot().Counters[MetricSessionExpired] != 1 {
				t.Fatal("expected expiry counted")
			}
		})
	}
}

func TestCheckLoggedInHonoursClock(t *testing.T) {
	var mu sync.Mutex
	now := time.Now()
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	env := newTestEnv(t, permission.Of(), func(b *Builder) { b.WithClock(clock) })
	ctx := context.Background()

	if err := env.engine.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatal(err)
	}
	if !env.engine.CheckLoggedIn(ctx) {
		t.Fatal("fresh token should be valid")
	}

	mu.Lock()
	now = now.Add(25 * time.Hour)
	mu.Unlock()
	if env.engine.CheckLoggedIn(ctx) {
		t.Fatal("token should be expired after 25h")
	}
}

func TestClearAuthDataDropsTokenAndPermissions(t *testing.T) {
	env := newTestEnv(t, permission.All(), nil)
	ctx := context.Background()
	if err := env.engine.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatal(err)
	}

	if err := env.engine.ClearAuthData(ctx); err != nil {
		t.Fatalf("ClearAuthData: %v", err)
	}
	if env.engine.IsAuthenticated(ctx) {
		t.Fatal("expected not authenticated")
	}
	if env.engine.HasPermission("branch.view_branch") || env.engine.PermissionsKnown() {
		t.Fatal("expected no permissions")
	}
}

func TestConcurrentPermissionFetchesShareOneRequest(t *testing.T) {
	env := newTestEnv(t, permission.Of("vehicle.view_vehicle"), nil)
	ctx := context.Background()
	if err := env.storage.Set(ctx, session.DefaultTokenKey, env.server.TokenFor(testEmail)); err != nil {
		t.Fatal(err)
	}
	env.server.Fail("permission", authapitest.Failure{Delay: 100 * time.Millisecond})

	const n = 16
	var wg sync.WaitGroup
	results := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- env.engine.FetchUserPermissions(ctx)
		}()
	}
	wg.Wait()
	close(results)

	for ok := range results {
		if !ok {
			t.Fatal("every caller should see the shared result")
		}
	}
	if got := env.server.PermissionCalls.Load(); got != 1 {
		t.Fatalf("expected 1 permission request, got %d", got)
	}
	if !env.engine.HasPermission("vehicle.view_vehicle") {
		t.Fatal("expected vehicle.view_vehicle")
	}
}

func TestPermissionRejectionClearsSession(t *testing.T) {
	env := newTestEnv(t, permission.Of("branch.view_branch"), nil)
	ctx := context.Background()
	if err := env.storage.Set(ctx, session.DefaultTokenKey, env.server.TokenFor(testEmail)); err != nil {
		t.Fatal(err)
	}
	env.server.Fail("permission", authapitest.Failure{Status: 403, Message: "Forbidden"})

	if env.engine.FetchUserPermissions(ctx) {
		t.Fatal("expected fetch to fail")
	}
	if env.engine.IsAuthenticated(ctx) {
		t.Fatal("403 must clear the token")
	}
	if env.engine.PermissionsKnown() {
		t.Fatal("403 must leave permissions unknown")
	}
	waitAudit(t, env.events, auditEventSessionRejected)
	if env.engine.MetricsSnapshot().Counters[MetricPermissionAuthRejected] != 1 {
		t.Fatal("expected rejection counted")
	}
}

func TestRejectionOfReplacedTokenKeepsNewSession(t *testing.T) {
	env := newTestEnv(t, permission.Of(), nil)
	ctx := context.Background()
	if err := env.engine.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatal(err)
	}
	current := env.storedToken(t)

	env.engine.onAuthFailure("an-older-token")

	if env.storedToken(t) != current {
		t.Fatal("rejection of an older token must not clear the current session")
	}
}

func TestLogoutAsksConfirmer(t *testing.T) {
	answer := false
	confirmer := ConfirmFunc(func(context.Context) (bool, error) { return answer, nil })
	env := newTestEnv(t, permission.Of(), func(b *Builder) { b.WithConfirmer(confirmer) })
	ctx := context.Background()
	if err := env.engine.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatal(err)
	}

	d, err := env.engine.Logout(ctx)
	if err != nil || d.Outcome != Allow {
		t.Fatalf("declined logout should stay, got %v %v", d, err)
	}
	if !env.engine.IsAuthenticated(ctx) {
		t.Fatal("declined logout must keep the session")
	}

	answer = true
	d, err = env.engine.Logout(ctx)
	if err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if d.Outcome != RedirectLogin || d.Location() != "/login" {
		t.Fatalf("unexpected decision %v", d)
	}
	if env.engine.IsAuthenticated(ctx) {
		t.Fatal("confirmed logout must clear the session")
	}

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricLogout] != 1 || snap.Counters[MetricLogoutDeclined] != 1 {
		t.Fatalf("unexpected counters %+v", snap.Counters)
	}
}

func TestLogoutConfirmerError(t *testing.T) {
	boom := errors.New("dialog closed")
	env := newTestEnv(t, permission.Of(), func(b *Builder) {
		b.WithConfirmer(ConfirmFunc(func(context.Context) (bool, error) { return false, boom }))
	})

	d, err := env.engine.Logout(context.Background())
	if !errors.Is(err, boom) || d.Outcome != Allow {
		t.Fatalf("unexpected %v %v", d, err)
	}
}

func TestRegisterDoesNotStartSession(t *testing.T) {
	env := newTestEnv(t, permission.Of(), nil)
	ctx := context.Background()

	resp, err := env.engine.Register(ctx, authapi.RegisterRequest{Name: "Luis", Email: "luis@autorent.test", Password: "pw"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if resp.Message == "" {
		t.Fatal("expected server message")
	}
	if env.engine.IsAuthenticated(ctx) {
		t.Fatal("register must not log in")
	}

	_, err = env.engine.Register(ctx, authapi.RegisterRequest{Name: "Ana", Email: testEmail, Password: "pw"})
	if got := UserMessage(err); got != "The email "+testEmail+" is not available" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestRecordDecisionCountsAndAuditsDenials(t *testing.T) {
	env := newTestEnv(t, permission.Of(), nil)
	ctx := WithClientIP(context.Background(), "10.0.0.7")

	env.engine.RecordDecision(ctx, "/branches", AllowDecision("/branches"))
	env.engine.RecordDecision(ctx, "/branches", UnauthorizedDecision("/unauthorized", "/branches", "branch.view_branch"))

	ev := waitAudit(t, env.events, auditEventAccessDenied)
	if ev.Route != "/branches" || ev.IP != "10.0.0.7" || ev.Permission != "branch.view_branch" ||
		ev.Outcome != "redirect_unauthorized" || ev.Reason != "" {
		t.Fatalf("unexpected audit event %+v", ev)
	}
	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricGuardAllow] != 1 || snap.Counters[MetricGuardRedirectUnauthorized] != 1 {
		t.Fatalf("unexpected counters %+v", snap.Counters)
	}
}

func TestBuilderSingleUse(t *testing.T) {
	b := New().WithStorage(session.NewMemoryStorage())
	e, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	if _, err := b.Build(); !errors.Is(err, ErrBuilderUsed) {
		t.Fatalf("expected ErrBuilderUsed, got %v", err)
	}
}

func TestBuilderRegistersExtraCodes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Permissions.ExtraCodes = []string{"maintenance.view_maintenance"}
	e, err := New().WithConfig(cfg).Build()
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	if !e.Registry().Known("maintenance.view_maintenance") || !e.Registry().Known("branch.view_branch") {
		t.Fatal("expected default and extra codes in the catalog")
	}
}

func TestClearAuthDataIfKeepsReplacedSession(t *testing.T) {
	env := newTestEnv(t, permission.Of("branch.view_branch"), nil)
	ctx := context.Background()

	observed, ok := env.engine.CheckSession(ctx)
	if ok || observed != "" {
		t.Fatalf("expected no session, got %q %v", observed, ok)
	}
	if err := env.engine.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatal(err)
	}
	current := env.storedToken(t)

	cleared, err := env.engine.ClearAuthDataIf(ctx, observed)
	if err != nil || cleared {
		t.Fatalf("expected no clear, got %v %v", cleared, err)
	}
	if env.storedToken(t) != current || !env.engine.HasPermission("branch.view_branch") {
		t.Fatal("newer session must keep its token and permissions")
	}

	cleared, err = env.engine.ClearAuthDataIf(ctx, current)
	if err != nil || !cleared {
		t.Fatalf("expected clear of the current token, got %v %v", cleared, err)
	}
	if env.engine.IsAuthenticated(ctx) || env.engine.PermissionsKnown() {
		t.Fatal("expected session cleared")
	}
}

func verifyingConfig(b *Builder, secret string) {
	b.config.Token = TokenConfig{
		Verify:    true,
		Algorithm: "HS512",
		Secret:    secret,
		Issuer:    "authapitest",
	}
}

func TestVerifiedSessionAcceptsServerTokens(t *testing.T) {
	env := newTestEnv(t, permission.Of(), func(b *Builder) { verifyingConfig(b, authapitest.Secret) })
	ctx := context.Background()

	if err := env.engine.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !env.engine.CheckLoggedIn(ctx) {
		t.Fatal("token signed by the server should verify")
	}
}

func TestVerifiedSessionClearsForgedToken(t *testing.T) {
	env := newTestEnv(t, permission.Of(), func(b *Builder) { verifyingConfig(b, authapitest.Secret) })
	ctx := context.Background()

	forger, err := jwt.NewManager(jwt.Config{TTL: time.Hour, PrivateKey: []byte("not-the-server-secret"), Issuer: "authapitest"})
	if err != nil {
		t.Fatal(err)
	}
	forged, err := forger.Issue(jwt.SessionClaims{UserID: 1, Email: testEmail})
	if err != nil {
		t.Fatal(err)
	}
	if err := env.storage.Set(ctx, session.DefaultTokenKey, forged); err != nil {
		t.Fatal(err)
	}

	if env.engine.CheckLoggedIn(ctx) {
		t.Fatal("forged token must not be accepted")
	}
	if env.storedToken(t) != "" {
		t.Fatal("forged token must be cleared")
	}
	waitAudit(t, env.events, auditEventSessionExpired)
}

func TestBuilderRejectsBadTokenConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Token = TokenConfig{Verify: true, Algorithm: "ed25519", PublicKey: "not a key"}
	_, err := New().WithConfig(cfg).Build()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
