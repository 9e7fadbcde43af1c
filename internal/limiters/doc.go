// Package limiters provides the Redis-backed failure ledger that drives the
// software platform's sensor lockout.
//
// # Limiters
//
//   - [LockoutLimiter]: consecutive recognition failures per sensor scope,
//     with an optional rolling window.
//
// The limiter is nil-safe: calling any method on a nil receiver is a no-op.
//
// # What this package must NOT do
//
//   - Import goBioKey or any sibling internal package.
//   - Decide what a lockout means for a session. The platform translates a
//     reached threshold into a lockout error code.
package limiters
