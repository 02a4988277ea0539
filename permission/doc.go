// Package permission holds the authorization decision for the current
// console session and the catalog of permission codes the console knows.
//
// # Set
//
// A [Set] is either superuser (every code granted) or an explicit set of
// codes such as "branch.view_branch". It decodes from the permission
// endpoint's `true | false | ["code", ...]` payload.
//
// # Cache
//
// [Cache] fetches the Set lazily and de-duplicates concurrent fetches:
// callers that arrive while a fetch is in flight wait on that fetch instead
// of issuing another. [Cache.Invalidate] starts a new generation; a fetch
// that started in an older generation never writes its result.
//
// # What this package must NOT do
//
//   - Touch token storage (the Engine clears the token via OnAuthFailure).
//   - Import consoleauth, session or guard.
package permission
