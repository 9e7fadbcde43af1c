// Package authtoken issues and verifies the short-lived tokens a platform hands
// back after one successful authentication event. A token binds the
// authentication to a single derivation operation and is signed so a keystore
// can check it without trusting the caller.
package authtoken
