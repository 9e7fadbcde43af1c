// Package session runs one authentication challenge from start to a single
// terminal outcome.
//
// # State machine
//
// A [Session] moves Idle → Listening when the challenge is shown, between
// Listening and Authenticating while the sensor reports acquisition trouble,
// and to Terminated on success, a hard error or cancellation. Terminated is
// final; platform events that arrive afterwards are dropped.
//
// # Concurrency
//
// Platform callbacks may arrive on any goroutine. They are posted to the
// session's event loop, which is the only goroutine that mutates state, the
// attempt counter or the presenter. [Session.Cancel] never blocks.
//
// # Timing
//
// Success and error outcomes are held for a short settle delay so the user can
// read the final message. Timers come from a quartz.Clock so tests can drive
// them deterministically.
//
// # What this package must NOT do
//
//   - Touch the keystore or see secret material.
//   - Return raw platform error text in an [Outcome].
package session
