package goBioKey

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goBioKey/keystore"
	"github.com/MrEthical07/goBioKey/session"
)

// Operation names a controller operation on the wire.
type Operation string

const (
	OpInitializeKey Operation = "initkey"
	OpFetchSecret   Operation = "fetchkey"
	OpLockOnly      Operation = "lock"
	OpAvailability  Operation = "availability"
	OpRemoveKey     Operation = "removekey"
)

func (o Operation) valid() bool {
	switch o {
	case OpInitializeKey, OpFetchSecret, OpLockOnly, OpAvailability, OpRemoveKey:
		return true
	}
	return false
}

func (o Operation) needsKey() bool {
	return o == OpInitializeKey || o == OpFetchSecret || o == OpRemoveKey
}

// Request is one call into the Controller.
type Request struct {
	Operation Operation
	KeyID     string
	// Locale is merged over the configured locale. Empty fields fall back.
	Locale session.LocaleText
	// WaitTime bounds the LockOnly prompt. Zero means the configured default.
	WaitTime time.Duration
}

// Validate reports ErrInvalidRequest for an unknown operation, a missing or
// oversized key identifier, or a negative wait time.
func (r Request) Validate() error {
	if !r.Operation.valid() {
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidRequest, r.Operation)
	}
	if r.Operation.needsKey() {
		if r.KeyID == "" {
			return fmt.Errorf("%w: keyId is required for %s", ErrInvalidRequest, r.Operation)
		}
		if len(r.KeyID) > keystore.MaxIdentifierLength {
			return fmt.Errorf("%w: keyId longer than %d bytes", ErrInvalidRequest, keystore.MaxIdentifierLength)
		}
	}
	if r.WaitTime < 0 {
		return fmt.Errorf("%w: negative wait time", ErrInvalidRequest)
	}
	return nil
}

type wireLocale struct {
	session.LocaleText
	LockTime int `json:"locktime,omitempty"`
}

type wireRequest struct {
	Operation string      `json:"operation"`
	KeyID     string      `json:"keyId,omitempty"`
	Locale    *wireLocale `json:"locale,omitempty"`
}

// ParseRequest decodes the JSON request shape used by host bridges:
//
//	{"operation":"fetchkey","keyId":"acct-1","locale":{"title":"...","locktime":30}}
//
// locktime is the LockOnly wait time in seconds.
func ParseRequest(data []byte) (Request, error) {
	var w wireRequest
	if err := json.Unmarshal(data, &w); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	req := Request{
		Operation: Operation(strings.ToLower(strings.TrimSpace(w.Operation))),
		KeyID:     w.KeyID,
	}
	if w.Locale != nil {
		if w.Locale.LockTime < 0 {
			return Request{}, fmt.Errorf("%w: negative locktime", ErrInvalidRequest)
		}
		req.Locale = w.Locale.LocaleText
		req.WaitTime = time.Duration(w.Locale.LockTime) * time.Second
	}
	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

// Response statuses.
const (
	StatusOK        = "ok"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

// Availability reports whether a biometric challenge can run.
type Availability struct {
	IsAvailable             bool `json:"isAvailable"`
	IsHardwareDetected      bool `json:"isHardwareDetected"`
	HasEnrolledFingerprints bool `json:"hasEnrolledFingerprints"`
}

// Response is the single result of a Request. Its JSON form is stable:
//
//	{"status":"ok","key":"<hex>"}
//	{"status":"ok"}
//	{"status":"error","error":-314}
//	{"status":"error","error":7,"attempts":3}
//	{"status":"cancelled"}
//	{"isAvailable":true,"isHardwareDetected":true,"hasEnrolledFingerprints":true}
type Response struct {
	Status   string `json:"status,omitempty"`
	Key      string `json:"key,omitempty"`
	Error    *int   `json:"error,omitempty"`
	Attempts *int   `json:"attempts,omitempty"`
	*Availability
}

// OK reports a successful operation.
func (r Response) OK() bool {
	return r.Status == StatusOK
}

// Cancelled reports a cancelled challenge.
func (r Response) Cancelled() bool {
	return r.Status == StatusCancelled
}

// Code returns the error code, or 0 when the response is not an error.
func (r Response) Code() int {
	if r.Error == nil {
		return 0
	}
	return *r.Error
}

// AttemptCount returns the reported attempts, or 0 when omitted.
func (r Response) AttemptCount() int {
	if r.Attempts == nil {
		return 0
	}
	return *r.Attempts
}

func okResponse() Response {
	return Response{Status: StatusOK}
}

func keyResponse(hexKey string) Response {
	return Response{Status: StatusOK, Key: hexKey}
}

func cancelledResponse() Response {
	return Response{Status: StatusCancelled}
}

// errorResponse is a failure before any challenge ran. attempts is omitted.
func errorResponse(code int) Response {
	return Response{Status: StatusError, Error: &code}
}

func challengeErrorResponse(code, attempts int) Response {
	return Response{Status: StatusError, Error: &code, Attempts: &attempts}
}

func availabilityResponse(a Availability) Response {
	return Response{Availability: &a}
}
