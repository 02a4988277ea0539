// Package guard decides, before every route transition of the console,
// whether the navigation proceeds or is redirected.
//
// [Guard.Before] implements the decision for one target [Route]; a [Table]
// maps paths to routes and [Guard.Navigate] combines both. [Middleware]
// adapts the guard to net/http for a server-rendered console.
//
// The guard never fails: every error (storage, network, rejected session)
// ends up as a [consoleauth.Decision].
package guard
