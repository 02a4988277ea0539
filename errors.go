package consoleauth

import "errors"

var (
	// ErrTokenMissing is returned when a login response carries no token.
	ErrTokenMissing = errors.New("login response carried no token")
	// ErrNotLoggedIn is returned by operations that need a stored session.
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrSessionStorage wraps failures of the durable token storage.
	ErrSessionStorage = errors.New("session storage failure")
	// ErrBuilderUsed is returned when Build is called twice on one Builder.
	ErrBuilderUsed = errors.New("builder already used")
	// ErrInvalidConfig wraps every Config validation failure.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrLogoutDeclined is reported to audit sinks when the confirmer says no.
	ErrLogoutDeclined = errors.New("logout declined")
)
