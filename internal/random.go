package internal

import (
	"crypto/rand"
	"encoding/hex"
	"errors"

	"github.com/google/uuid"
)

const (
	// MaterialSize is the byte length of generated secret material and TPM unique values.
	MaterialSize  = 32
	maxRandomSize = 1024
)

// NewRandom returns n bytes from crypto/rand.
func NewRandom(n int) ([]byte, error) {
	if n <= 0 || n > maxRandomSize {
		return nil, errors.New("invalid random size")
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// NewOperationID returns a random identifier used to bind a challenge to a
// derivation handle.
func NewOperationID() string {
	return uuid.NewString()
}

// NewSessionID returns a random session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// ValidOperationID reports whether id parses as a UUID.
func ValidOperationID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// HexLower encodes b as lowercase hex. An empty input yields "".
func HexLower(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return hex.EncodeToString(b)
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
