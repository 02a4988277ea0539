package consoleauth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/autorent-leon/consoleauth/authapi"
	"github.com/autorent-leon/consoleauth/jwt"
	"github.com/autorent-leon/consoleauth/permission"
	"github.com/autorent-leon/consoleauth/session"
	"github.com/go-logr/logr"
)

// APIClient is the part of the rental backend the engine talks to.
// [*authapi.Client] implements it.
type APIClient interface {
	Login(ctx context.Context, req authapi.LoginRequest) (*authapi.LoginResponse, error)
	Register(ctx context.Context, req authapi.RegisterRequest) (*authapi.RegisterResponse, error)
	FetchPermissions(ctx context.Context, token string) (permission.Set, error)
}

// Engine is the session controller of the console. It owns the token
// store and the permission cache and keeps the two consistent.
//
// Engine methods are safe for concurrent use after [Builder.Build].
type Engine struct {
	config   Config
	log      logr.Logger
	api      APIClient
	tokens   *session.TokenStore
	perms    *permission.Cache
	registry *permission.Registry
	confirm  Confirmer
	audit    *auditDispatcher
	metrics  *Metrics
	now      func() time.Time
	closers  []func() error

	// mu serializes changes of session identity: saving a new token
	// together with invalidating the cache, and clearing both.
	mu sync.Mutex
}

// PermissionStatus describes the permission cache for diagnostics.
type PermissionStatus struct {
	State permission.State
	Known bool
	Set   permission.Set
	Err   error
}

// Close flushes audit events and releases storage connections the engine
// opened itself.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	for _, c := range e.closers {
		if err := c(); err != nil {
			e.log.Error(err, "closing engine resource")
		}
	}
}

// AuditDropped returns how many audit events were dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// Registry returns the frozen permission catalog.
func (e *Engine) Registry() *permission.Registry {
	return e.registry
}

// InitiateSession stores the token from a successful login, drops any
// permissions of a previous session and loads the new ones.
//
// A failed permission load does not fail the session: it is logged and
// the guard retries on the next navigation.
func (e *Engine) InitiateSession(ctx context.Context, resp *authapi.LoginResponse) error {
	if resp == nil || resp.Token == "" {
		return ErrTokenMissing
	}
	token := resp.Token

	e.mu.Lock()
	err := e.tokens.Save(ctx, token)
	if err == nil {
		e.perms.Invalidate()
	}
	e.mu.Unlock()
	if err != nil {
		e.metricInc(MetricStorageError)
		return fmt.Errorf("%w: %v", ErrSessionStorage, err)
	}
	e.metricInc(MetricSessionInitiated)

	userID, email := e.identity(token)
	e.log.V(1).Info("session initiated", "user", email)

	if _, err := e.perms.Fetch(ctx, token); err != nil {
		e.log.Info("permissions not loaded at login, will retry on navigation", "error", err.Error())
		e.emitAudit(ctx, auditEventPermissionsFailed, false, userID, email, "", err, nil)
	}
	e.emitAudit(ctx, auditEventSessionInitiated, true, userID, email, "", nil, nil)
	return nil
}

// CheckLoggedIn re-reads the stored token. A missing token resets the
// permission cache; an expired or undecodable one clears the whole
// session. Storage failures count as logged out.
func (e *Engine) CheckLoggedIn(ctx context.Context) bool {
	_, ok := e.CheckSession(ctx)
	return ok
}

// CheckSession is CheckLoggedIn that also returns the token it judged,
// empty when none was stored. An expired token is cleared only while it
// is still the stored one.
func (e *Engine) CheckSession(ctx context.Context) (observed string, loggedIn bool) {
	token, ok, err := e.tokens.Read(ctx)
	if err != nil {
		e.metricInc(MetricStorageError)
		e.log.Error(err, "reading session token")
		e.perms.Invalidate()
		return "", false
	}
	if !ok {
		e.perms.Invalidate()
		return "", false
	}
	if e.tokens.IsExpired(token) {
		userID, email := e.identity(token)
		e.metricInc(MetricSessionExpired)
		e.log.V(1).Info("session token expired", "user", email)
		if cleared, _ := e.ClearAuthDataIf(ctx, token); cleared {
			e.emitAudit(ctx, auditEventSessionExpired, false, userID, email, "", nil, nil)
		}
		return token, false
	}
	return token, true
}

// FetchUserPermissions loads the permission set for the stored token,
// sharing an in-flight request if there is one. It reports whether a set
// is available afterwards.
func (e *Engine) FetchUserPermissions(ctx context.Context) bool {
	token, ok, err := e.tokens.Read(ctx)
	if err != nil {
		e.metricInc(MetricStorageError)
		e.log.Error(err, "reading session token")
		return false
	}
	if !ok {
		return false
	}
	if _, err := e.perms.Fetch(ctx, token); err != nil {
		e.log.V(1).Info("permission fetch failed", "error", err.Error())
		return false
	}
	return true
}

// PermissionsKnown reports whether a permission set is cached.
func (e *Engine) PermissionsKnown() bool {
	return e.perms.Known()
}

// HasPermission reports whether the cached set grants code. Nothing is
// granted while the set is unknown.
func (e *Engine) HasPermission(code string) bool {
	return e.perms.Has(code)
}

// IsAuthenticated reports whether a token is stored, without checking
// its expiry.
func (e *Engine) IsAuthenticated(ctx context.Context) bool {
	_, ok, err := e.tokens.Read(ctx)
	if err != nil {
		e.metricInc(MetricStorageError)
		e.log.Error(err, "reading session token")
		return false
	}
	return ok
}

// ClearAuthData drops the token and the permission cache together.
// The cache is reset even when storage fails.
func (e *Engine) ClearAuthData(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clearLocked(ctx)
}

// ClearAuthDataIf clears the session only if storage still holds
// observed, where "" stands for no token. It reports whether it cleared.
// A session started after observed was read is left alone.
func (e *Engine) ClearAuthDataIf(ctx context.Context, observed string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.isCurrentLocked(ctx, observed) {
		e.log.V(1).Info("keeping session that replaced the observed token")
		return false, nil
	}
	return true, e.clearLocked(ctx)
}

// isCurrentLocked reports whether storage still holds token. A storage
// error counts as a match so the caller still clears.
func (e *Engine) isCurrentLocked(ctx context.Context, token string) bool {
	current, ok, err := e.tokens.Read(ctx)
	if err != nil {
		return true
	}
	if !ok {
		current = ""
	}
	return current == token
}

func (e *Engine) clearLocked(ctx context.Context) error {
	err := e.tokens.Clear(ctx)
	e.perms.Invalidate()
	e.metricInc(MetricSessionCleared)
	if err != nil {
		e.metricInc(MetricStorageError)
		e.log.Error(err, "clearing session storage")
		return fmt.Errorf("%w: %v", ErrSessionStorage, err)
	}
	return nil
}

// onAuthFailure runs when the backend rejected token with 401/403. The
// session is cleared only if token is still the stored one; a newer login
// is left alone.
func (e *Engine) onAuthFailure(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), e.config.Permissions.FetchTimeout)
	defer cancel()

	e.mu.Lock()
	current, ok, err := e.tokens.Read(ctx)
	if err == nil && ok && current != token {
		e.mu.Unlock()
		e.log.V(1).Info("ignoring rejection of a replaced session token")
		return
	}
	_ = e.clearLocked(ctx)
	e.mu.Unlock()

	userID, email := e.identity(token)
	e.log.Info("backend rejected session, signed out", "user", email)
	e.emitAudit(ctx, auditEventSessionRejected, false, userID, email, "", nil, nil)
}

// Confirmer asks the user whether to log out.
type Confirmer interface {
	ConfirmLogout(ctx context.Context) (bool, error)
}

// ConfirmFunc adapts a function to [Confirmer].
type ConfirmFunc func(ctx context.Context) (bool, error)

func (f ConfirmFunc) ConfirmLogout(ctx context.Context) (bool, error) {
	return f(ctx)
}

// AlwaysConfirm accepts every logout without asking.
var AlwaysConfirm = ConfirmFunc(func(context.Context) (bool, error) { return true, nil })

// Logout asks the Confirmer first. When the user declines the returned
// Decision is Allow with an empty Route, meaning stay where you are. When
// confirmed the session is cleared and the Decision redirects to login.
func (e *Engine) Logout(ctx context.Context) (Decision, error) {
	confirmed, err := e.confirm.ConfirmLogout(ctx)
	if err != nil {
		return Decision{Outcome: Allow}, fmt.Errorf("logout confirmation: %w", err)
	}

	userID, email := "", ""
	if token, ok, rerr := e.tokens.Read(ctx); rerr == nil && ok {
		userID, email = e.identity(token)
	}

	if !confirmed {
		e.metricInc(MetricLogoutDeclined)
		e.emitAudit(ctx, auditEventLogout, false, userID, email, "", ErrLogoutDeclined, nil)
		return Decision{Outcome: Allow}, nil
	}

	clearErr := e.ClearAuthData(ctx)
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, clearErr == nil, userID, email, "", clearErr, nil)
	return LoginDecision(e.config.Routes.Login, ""), clearErr
}

// Login exchanges credentials for a token and initiates the session.
// Backend failures come back as [*authapi.Error]; its UserMessage is safe
// to show.
func (e *Engine) Login(ctx context.Context, email, password string) error {
	resp, err := e.api.Login(ctx, authapi.LoginRequest{Email: email, Password: password})
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.log.V(1).Info("login failed", "email", email, "error", err.Error())
		e.emitAudit(ctx, auditEventLoginFailure, false, "", email, "", err, nil)
		return err
	}
	if err := e.InitiateSession(ctx, resp); err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", email, "", err, nil)
		return err
	}
	e.metricInc(MetricLoginSuccess)
	userID, _ := e.identity(resp.Token)
	e.emitAudit(ctx, auditEventLoginSuccess, true, userID, email, "", nil, nil)
	return nil
}

// Register creates an account. The backend sends an activation e-mail;
// no session is started.
func (e *Engine) Register(ctx context.Context, req authapi.RegisterRequest) (*authapi.RegisterResponse, error) {
	resp, err := e.api.Register(ctx, req)
	if err != nil {
		e.metricInc(MetricRegisterFailure)
		e.emitAudit(ctx, auditEventRegister, false, "", req.Email, "", err, nil)
		return nil, err
	}
	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegister, true, "", req.Email, "", nil, nil)
	return resp, nil
}

// CurrentUser decodes the profile carried by the stored token. It reports
// false when there is no usable token; it never clears anything.
func (e *Engine) CurrentUser(ctx context.Context) (*jwt.SessionClaims, bool) {
	token, ok, err := e.tokens.Read(ctx)
	if err != nil || !ok || e.tokens.IsExpired(token) {
		return nil, false
	}
	claims, err := e.tokens.Claims(token)
	if err != nil {
		return nil, false
	}
	return claims, true
}

// PermissionState reports the permission cache for diagnostics.
func (e *Engine) PermissionState() PermissionStatus {
	set, known := e.perms.Snapshot()
	return PermissionStatus{
		State: e.perms.State(),
		Known: known,
		Set:   set,
		Err:   e.perms.Err(),
	}
}

// RecordDecision counts a guard decision and audits denials.
func (e *Engine) RecordDecision(ctx context.Context, requested string, d Decision) {
	e.metricInc(decisionMetric(d.Outcome))
	if d.Outcome != RedirectUnauthorized {
		return
	}
	userID, email := "", ""
	if token, ok, err := e.tokens.Read(ctx); err == nil && ok {
		userID, email = e.identity(token)
	}
	e.emitAudit(ctx, auditEventAccessDenied, false, userID, email, requested, nil, func(ev *AuditEvent) {
		ev.Outcome = d.Outcome.String()
		ev.Permission = d.Query.Get(QueryRequired)
		ev.Reason = d.Query.Get(QueryReason)
	})
}

func (e *Engine) identity(token string) (userID, email string) {
	claims, err := e.tokens.Claims(token)
	if err != nil {
		return "", ""
	}
	if claims.UserID != 0 {
		userID = fmt.Sprint(claims.UserID)
	}
	return userID, claims.Email
}

func (e *Engine) onCacheEvent(ev permission.Event, d time.Duration) {
	switch ev {
	case permission.EventCacheHit:
		e.metricInc(MetricPermissionCacheHit)
	case permission.EventFetchStarted:
		e.metricInc(MetricPermissionFetch)
	case permission.EventFetchShared:
		e.metricInc(MetricPermissionFetchShared)
	case permission.EventFetchSucceeded:
		e.metrics.Observe(MetricPermissionFetchLatency, d)
	case permission.EventFetchFailed:
		e.metricInc(MetricPermissionFetchFailure)
		e.metrics.Observe(MetricPermissionFetchLatency, d)
	case permission.EventAuthRejected:
		e.metricInc(MetricPermissionAuthRejected)
	case permission.EventStaleDiscarded:
		e.metricInc(MetricPermissionStaleDiscarded)
	}
}

// IsAuthFailure reports whether err means the backend rejected the
// session (401/403).
func IsAuthFailure(err error) bool {
	return permission.IsAuthFailure(err)
}

// UserMessage returns the text to show for a failed Login or Register.
func UserMessage(err error) string {
	var apiErr *authapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.UserMessage()
	}
	return authapi.GenericMessage
}
