// Package authapi is the HTTP client for the rental backend's user-control
// endpoints: login, register and permission retrieval.
//
// Failures never escape as transport-specific errors. Every failed call
// returns an [*Error] carrying the HTTP status (0 for network failures) and
// the server's message when it sent one, so callers can choose what to show.
// 401 and 403 responses report AuthFailure() == true, which the permission
// cache uses to end the session.
package authapi
