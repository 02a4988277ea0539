// Package consoleauth is the session gate of the rental administration
// console: it keeps the login token, the permission set loaded for it, and
// decides what the console may show.
//
// [Engine] is the public surface. It is assembled by [Builder] from a
// [Config] and wires together:
//
//   - session.TokenStore over a durable session.Storage (memory, file, redis)
//   - permission.Cache, a single-flight cache of the backend permission set
//   - authapi.Client for the login, register and permission endpoints
//
// Navigation decisions are made by the guard sub-package, which returns a
// [Decision] for every route transition.
//
// # Consistency
//
// The token and the permission set change together. Saving a new token
// invalidates the cache in the same critical section, clearing drops both,
// and a permission fetch started for an older token can never populate the
// cache of a newer one.
//
// # What this package must NOT do
//
//   - Render UI or perform navigation. It only returns decisions.
//   - Verify token signatures. The backend is the authority; the client
//     decodes claims for expiry and profile display only.
//   - Import the guard or metrics exporter packages (they import this one).
package consoleauth
