package guard

import (
	"context"

	"github.com/autorent-leon/consoleauth"
	"github.com/go-logr/logr"
)

// Session is what the guard needs from the session controller.
// [*consoleauth.Engine] implements it.
type Session interface {
	CheckLoggedIn(ctx context.Context) bool
	// CheckSession also returns the token it judged so that a failed
	// check clears only that token through ClearAuthDataIf.
	CheckSession(ctx context.Context) (observed string, loggedIn bool)
	ClearAuthDataIf(ctx context.Context, observed string) (bool, error)
	PermissionsKnown() bool
	FetchUserPermissions(ctx context.Context) bool
	HasPermission(code string) bool
	IsAuthenticated(ctx context.Context) bool
}

// Recorder is implemented by sessions that want to observe decisions.
type Recorder interface {
	RecordDecision(ctx context.Context, requested string, d consoleauth.Decision)
}

// Guard evaluates navigation against a Session.
type Guard struct {
	session Session
	table   *Table
	paths   consoleauth.RoutesConfig
	log     logr.Logger
}

// Option configures a Guard.
type Option func(*Guard)

func WithLogger(log logr.Logger) Option {
	return func(g *Guard) { g.log = log }
}

// New creates a Guard. paths names the login, register, dashboard and
// unauthorized routes; table is used by Navigate and may be nil if only
// Before is called.
func New(s Session, table *Table, paths consoleauth.RoutesConfig, opts ...Option) *Guard {
	g := &Guard{
		session: s,
		table:   table,
		paths:   paths,
		log:     logr.Discard(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.WithName("guard")
	return g
}

// ForEngine builds the default route table for e, applying its route
// overrides, and returns a Guard over it.
func ForEngine(e *consoleauth.Engine, opts ...Option) (*Guard, error) {
	cfg := e.Config()
	routes, err := ApplyOverrides(DefaultRoutes(cfg.Routes), cfg.Routes.Overrides)
	if err != nil {
		return nil, err
	}
	table, err := NewTable(routes, cfg.Routes.Error, e.Registry())
	if err != nil {
		return nil, err
	}
	return New(e, table, cfg.Routes, opts...), nil
}

// Table returns the route table, or nil.
func (g *Guard) Table() *Table {
	return g.table
}

// Before decides whether navigation to `to` may proceed.
//
// Secure routes require an unexpired session and, when the route names a
// permission, that permission. Permissions are loaded on first use. An
// authenticated user is sent from login/register to the dashboard.
func (g *Guard) Before(ctx context.Context, to Route) consoleauth.Decision {
	d := g.decide(ctx, to)
	if r, ok := g.session.(Recorder); ok {
		r.RecordDecision(ctx, to.Path, d)
	}
	if !d.Allowed() {
		g.log.V(1).Info("navigation redirected", "to", to.Path, "decision", d.String())
	}
	return d
}

func (g *Guard) decide(ctx context.Context, to Route) consoleauth.Decision {
	if to.Secure {
		if observed, ok := g.session.CheckSession(ctx); !ok {
			_, _ = g.session.ClearAuthDataIf(ctx, observed)
			return consoleauth.LoginDecision(g.paths.Login, to.Path)
		}

		if !g.session.PermissionsKnown() && !g.session.FetchUserPermissions(ctx) {
			// A 401/403 during the fetch has already cleared the session.
			if !g.session.CheckLoggedIn(ctx) {
				return consoleauth.LoginDecision(g.paths.Login, to.Path)
			}
			return consoleauth.UnavailableDecision(g.paths.Unauthorized, to.Path)
		}

		if to.RequiredPermission != "" && !g.session.HasPermission(to.RequiredPermission) {
			return consoleauth.UnauthorizedDecision(g.paths.Unauthorized, to.Path, to.RequiredPermission)
		}
		return consoleauth.AllowDecision(to.Path)
	}

	if g.isAuthEntry(to) && g.session.IsAuthenticated(ctx) {
		return consoleauth.DashboardDecision(g.paths.Dashboard)
	}
	return consoleauth.AllowDecision(to.Path)
}

func (g *Guard) isAuthEntry(r Route) bool {
	return r.Name == RouteLogin || r.Name == RouteRegister ||
		r.Path == g.paths.Login || r.Path == g.paths.Register
}

// Navigate resolves path through the table and guards the result. Unknown
// paths resolve to the error route.
func (g *Guard) Navigate(ctx context.Context, path string) (Route, consoleauth.Decision) {
	if g.table == nil {
		r := Route{Path: path}
		return r, g.Before(ctx, r)
	}
	r, _ := g.table.Resolve(path)
	return r, g.Before(ctx, r)
}

// Menu lists the secure routes the current session may open, in table
// order. Permissions are loaded if needed; on failure only routes without
// a required permission are listed.
func (g *Guard) Menu(ctx context.Context) []Route {
	if g.table == nil || !g.session.CheckLoggedIn(ctx) {
		return nil
	}
	if !g.session.PermissionsKnown() {
		g.session.FetchUserPermissions(ctx)
	}
	var out []Route
	for _, r := range g.table.Routes() {
		if !r.Secure {
			continue
		}
		if r.RequiredPermission == "" || g.session.HasPermission(r.RequiredPermission) {
			out = append(out, r)
		}
	}
	return out
}
