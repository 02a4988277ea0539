package consoleauth

import (
	"net/url"
	"strings"
)

// Outcome is the verdict of one navigation check.
type Outcome uint8

const (
	// Allow lets the navigation proceed to the requested route.
	Allow Outcome = iota
	// RedirectLogin sends the user to the login route.
	RedirectLogin
	// RedirectDashboard sends an authenticated user away from login/register.
	RedirectDashboard
	// RedirectUnauthorized sends the user to the unauthorized route.
	RedirectUnauthorized
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case RedirectLogin:
		return "redirect_login"
	case RedirectDashboard:
		return "redirect_dashboard"
	case RedirectUnauthorized:
		return "redirect_unauthorized"
	default:
		return "unknown"
	}
}

// Query keys carried by redirect decisions.
const (
	QueryRedirect  = "redirect"
	QueryReason    = "reason"
	QueryAttempted = "attempted"
	QueryRequired  = "required"
)

// ReasonPermissionsUnavailable is the reason reported when the permission
// set could not be loaded for a still-valid session.
const ReasonPermissionsUnavailable = "permissions_unavailable"

// Decision is what the navigation guard hands back to the routing layer.
// Route is the destination path for redirects and the requested path for
// Allow.
type Decision struct {
	Outcome Outcome
	Route   string
	Query   url.Values
}

// Allowed reports whether the navigation may proceed unchanged.
func (d Decision) Allowed() bool {
	return d.Outcome == Allow
}

// Location renders the destination as a router location, e.g.
// "/login?redirect=%2Fbranches".
func (d Decision) Location() string {
	path := d.Route
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(d.Query) == 0 {
		return path
	}
	return path + "?" + d.Query.Encode()
}

func (d Decision) String() string {
	return d.Outcome.String() + " " + d.Location()
}

// AllowDecision lets navigation to path proceed.
func AllowDecision(path string) Decision {
	return Decision{Outcome: Allow, Route: path}
}

// LoginDecision redirects to the login route. A non-empty from is carried
// as the redirect query so the user lands back there after logging in.
func LoginDecision(loginPath, from string) Decision {
	d := Decision{Outcome: RedirectLogin, Route: loginPath}
	if from != "" {
		d.Query = url.Values{QueryRedirect: []string{from}}
	}
	return d
}

// DashboardDecision redirects to the dashboard route.
func DashboardDecision(dashboardPath string) Decision {
	return Decision{Outcome: RedirectDashboard, Route: dashboardPath}
}

// UnauthorizedDecision redirects to the unauthorized route with the
// attempted path and the missing permission code.
func UnauthorizedDecision(unauthorizedPath, attempted, required string) Decision {
	q := url.Values{}
	if attempted != "" {
		q.Set(QueryAttempted, attempted)
	}
	if required != "" {
		q.Set(QueryRequired, required)
	}
	return Decision{Outcome: RedirectUnauthorized, Route: unauthorizedPath, Query: q}
}

// UnavailableDecision redirects to the unauthorized route because the
// permission set could not be loaded.
func UnavailableDecision(unauthorizedPath, attempted string) Decision {
	q := url.Values{QueryReason: []string{ReasonPermissionsUnavailable}}
	if attempted != "" {
		q.Set(QueryAttempted, attempted)
	}
	return Decision{Outcome: RedirectUnauthorized, Route: unauthorizedPath, Query: q}
}
