// Package internal contains helper utilities that are intentionally private to goBioKey,
// including secure random generation, operation identifiers and hex encoding.
//
// # Sub-packages
//
//   - limiters: Redis-backed platform lockout ledger used by the software platform
//
// # What this package must NOT do
//
//   - Export types that appear in the public goBioKey API.
//   - Be imported by any package outside the goBioKey module.
package internal
