package goBioKey

import (
	"errors"

	"github.com/MrEthical07/goBioKey/keystore"
	"github.com/MrEthical07/goBioKey/session"
)

var (
	// ErrInvalidRequest is returned by ParseRequest and reported as CodeInvalidRequest.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrFallbackUnavailable is returned by Pending.Fallback when no device
	// credential challenge can take over.
	ErrFallbackUnavailable = errors.New("device credential fallback unavailable")
	// ErrBuilderReused is returned when Build is called twice on one Builder.
	ErrBuilderReused = errors.New("builder already used")
)

// Response error codes. Positive codes are platform error codes passed
// through from the challenge.
const (
	CodeDeriveFailed     = -1
	CodeInvalidRequest   = -2
	// CodeKeyMissing also covers keys invalidated by an enrollment change.
	// Hosts re-initialize on it either way.
	CodeKeyMissing       = -314
	CodeStoreUnavailable = -316
	CodeGenerationFailed = -317
	CodeNotAvailable     = session.CodeNotAvailable
)

// codeForError maps a keystore failure to its response code.
func codeForError(err error) int {
	switch {
	case errors.Is(err, keystore.ErrKeyMissing), errors.Is(err, keystore.ErrNotFound),
		errors.Is(err, keystore.ErrInvalidated):
		return CodeKeyMissing
	case errors.Is(err, keystore.ErrGenerationFailed):
		return CodeGenerationFailed
	case errors.Is(err, keystore.ErrInvalidIdentifier), errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest
	case errors.Is(err, keystore.ErrStoreUnavailable):
		return CodeStoreUnavailable
	default:
		return CodeDeriveFailed
	}
}
