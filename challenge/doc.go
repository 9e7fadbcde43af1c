// Package challenge defines the contract between an authentication session
// and a platform authenticator: a biometric sensor or the device credential
// prompt.
//
// A [Source] reports whether it can currently authenticate and starts
// cancellable requests. Results arrive on a [Callback] from whatever goroutine
// the platform uses; consumers must not assume ordering with respect to their
// own goroutines.
//
// Error codes follow the platform fingerprint numbering so that hosts which
// already understand those codes can pass them through unchanged.
package challenge
