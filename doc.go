// Package goBioKey releases a key-bound secret only after one successful
// biometric or device credential challenge.
//
// A [Controller] composes a [keystore.SecretStore] with a challenge source
// and runs one [session.Session] per request. Every request resolves to
// exactly one [Response]: a derived secret as lowercase hex, a plain
// acknowledgement, an error code, or a cancellation.
//
// # Architecture boundaries
//
// goBioKey is the public surface. It exposes [Controller], [Builder],
// [Config], [Request] and [Response]. Key records live in package keystore,
// the challenge state machine in package session, and platform
// authenticators implement [challenge.Source].
//
// # What this package must NOT do
//
//   - Return raw platform messages or backend errors in a Response. They are
//     logged instead.
//   - Log, cache or persist derived secrets or authentication tokens.
//   - Run two challenges for one key identifier at once.
package goBioKey
