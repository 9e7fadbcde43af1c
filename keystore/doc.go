// Package keystore manages authentication-bound secret records keyed by an
// opaque identifier.
//
// # Lifecycle
//
// [Store.Generate] creates a record whose material is produced by a
// [Backend]. [Store.PrepareDerivation] checks the record is still usable and
// returns a [Handle] that is not yet authorized. After the platform reports a
// successful authentication, the caller attaches the platform token with
// [Handle.Authorize] and calls [Store.Derive], which verifies and consumes the
// token before computing HMAC-SHA256 over the identifier under the record
// material.
//
// # Invalidation
//
// Every record remembers the platform enrollment epoch it was created under.
// When the epoch changes (a biometric was added or removed) the record is
// marked invalidated and can only be replaced by Generate.
//
// # Architecture boundaries
//
// Records live in a [RecordStore] (Redis in production). Key material is
// opaque to this package: the software backend seals it with
// XChaCha20-Poly1305, the TPM backend keeps it inside the TPM.
//
// # What this package must NOT do
//
//   - Log or return key material other than the derived secret.
//   - Derive without consuming a fresh authentication token.
package keystore
