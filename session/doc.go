// Package session keeps the console's session token in durable key-value
// storage.
//
// # Storage
//
// [Storage] is the persistence contract. Three backends ship with the
// package: [MemoryStorage] for tests and ephemeral runs, [FileStorage] for a
// single workstation (survives restarts the way browser local storage does),
// and [RedisStorage] for consoles that share one session across processes.
//
// # Token store
//
// [TokenStore] treats storage as the single source of truth. Every
// [TokenStore.Read] goes back to storage so that a token cleared by another
// process is observed immediately. Nothing is cached in memory.
//
// Without options the store only decodes claims to check exp. With
// [WithVerifier] a token whose signature, issuer or time claims fail
// verification counts as expired.
//
// # What this package must NOT do
//
//   - Call the Auth API or fetch permissions.
//   - Issue tokens; the Auth API does that.
package session
