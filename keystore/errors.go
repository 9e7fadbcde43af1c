package keystore

import "errors"

var (
	// ErrStoreUnavailable indicates the record store or enrollment source failed.
	ErrStoreUnavailable = errors.New("keystore unavailable")
	// ErrGenerationFailed indicates key generation could not complete.
	ErrGenerationFailed = errors.New("key generation failed")
	// ErrNotFound is returned by a RecordStore when no record exists.
	ErrNotFound = errors.New("record not found")
	// ErrKeyMissing indicates no secret record exists for the identifier.
	ErrKeyMissing = errors.New("key missing")
	// ErrUnauthenticated indicates the key needs a fresh authentication before use.
	ErrUnauthenticated = errors.New("user not authenticated")
	// ErrInvalidated indicates the enrollment changed since the key was created.
	ErrInvalidated = errors.New("key permanently invalidated")
	// ErrInvalidIdentifier indicates an empty or oversized identifier.
	ErrInvalidIdentifier = errors.New("invalid key identifier")
	// ErrDeriveFailed indicates the backend could not compute the secret.
	ErrDeriveFailed = errors.New("secret derivation failed")
	// ErrCorruptRecord indicates a stored record that cannot be decoded.
	ErrCorruptRecord = errors.New("corrupt key record")
)
