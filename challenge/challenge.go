package challenge

import (
	"context"
	"time"
)

// Kind identifies the kind of authenticator behind a Source.
type Kind uint8

const (
	// KindBiometric is a fingerprint or other biometric sensor.
	KindBiometric Kind = iota + 1
	// KindDeviceCredential is the device PIN, pattern or passphrase.
	KindDeviceCredential
)

// String returns the wire name of k.
func (k Kind) String() string {
	switch k {
	case KindBiometric:
		return "biometric"
	case KindDeviceCredential:
		return "credential"
	default:
		return "unknown"
	}
}

// Platform error codes delivered through Callback.OnError.
const (
	ErrorHardwareUnavailable = 1
	ErrorUnableToProcess     = 2
	ErrorTimeout             = 3
	ErrorNoSpace             = 4
	ErrorCanceled            = 5
	ErrorLockout             = 7
	ErrorVendor              = 8
	ErrorLockoutPermanent    = 9
	ErrorUserCanceled        = 10
)

// Acquisition help codes delivered through Callback.OnHelp.
const (
	HelpPartial      = 1
	HelpInsufficient = 2
	HelpImagerDirty  = 3
	HelpTooSlow      = 4
	HelpTooFast      = 5
)

// IsLockout reports whether code is a temporary or permanent lockout.
func IsLockout(code int) bool {
	return code == ErrorLockout || code == ErrorLockoutPermanent
}

// Capabilities describes what a Source can do right now.
type Capabilities struct {
	HardwareDetected   bool
	HasEnrolledFactors bool
}

// Available reports whether an authentication request can be started.
func (c Capabilities) Available() bool {
	return c.HardwareDetected && c.HasEnrolledFactors
}

// Request describes one authentication attempt.
type Request struct {
	SessionID   string
	OperationID string
	Kind        Kind
	// WaitTime bounds how long the platform waits for input. Zero means the
	// platform default.
	WaitTime time.Duration
}

// Callback receives the platform's events for one request.
type Callback interface {
	// OnFailed reports a recognition attempt that did not match.
	OnFailed()
	// OnHelp reports recoverable acquisition trouble.
	OnHelp(code int, message string)
	// OnError reports a terminal platform error.
	OnError(code int, message string)
	// OnSucceeded reports one successful authentication. token proves it to
	// the keystore.
	OnSucceeded(token string)
}

// CancelFunc cancels an outstanding request. It is safe to call more than
// once and from any goroutine.
type CancelFunc func()

// Source is a platform authenticator.
type Source interface {
	Kind() Kind
	Probe(ctx context.Context) (Capabilities, error)
	Authenticate(ctx context.Context, req Request, cb Callback) (CancelFunc, error)
}

// CallbackFuncs adapts plain functions to Callback. Nil fields are ignored.
type CallbackFuncs struct {
	Failed    func()
	Help      func(code int, message string)
	Error     func(code int, message string)
	Succeeded func(token string)
}

// OnFailed implements Callback.
func (f CallbackFuncs) OnFailed() {
	if f.Failed != nil {
		f.Failed()
	}
}

// OnHelp implements Callback.
func (f CallbackFuncs) OnHelp(code int, message string) {
	if f.Help != nil {
		f.Help(code, message)
	}
}

// OnError implements Callback.
func (f CallbackFuncs) OnError(code int, message string) {
	if f.Error != nil {
		f.Error(code, message)
	}
}

// OnSucceeded implements Callback.
func (f CallbackFuncs) OnSucceeded(token string) {
	if f.Succeeded != nil {
		f.Succeeded(token)
	}
}
