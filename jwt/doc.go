// Package jwt decodes and issues the session tokens handed out by the rental
// console backend.
//
// The console never trusts a token cryptographically: [Decode] reads the
// claims without verifying the signature and [IsExpired] is the only check
// the client performs. [Manager] signs and verifies tokens and is used by
// fake backends and by deployments that hold the shared secret.
//
// # What this package must NOT do
//
//   - Persist tokens (the session package owns storage).
//   - Make authorization decisions from claims such as is_superuser.
package jwt
