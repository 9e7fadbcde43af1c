package session

import "fmt"

// State is the lifecycle state of a Session.
type State int32

const (
	StateIdle State = iota
	StateListening
	StateAuthenticating
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateAuthenticating:
		return "authenticating"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// OutcomeKind classifies how a session ended.
type OutcomeKind uint8

const (
	OutcomeSuccess OutcomeKind = iota + 1
	OutcomeError
	OutcomeCancelled
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeError:
		return "error"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// CodeNotAvailable is reported when the authenticator cannot be used at all:
// no hardware, nothing enrolled, or the platform refused the request.
const CodeNotAvailable = -318

// Outcome is the single terminal result of a Session.
type Outcome struct {
	Kind OutcomeKind
	// Code is the platform error code for OutcomeError.
	Code int
	// Attempts counts recognition failures before the outcome.
	Attempts int
	// Token is the platform's proof of authentication for OutcomeSuccess.
	Token string
}

// Stage is the visual stage a Presenter should show.
type Stage uint8

const (
	StageHint Stage = iota
	StageWarning
	StageSuccess
)

func (s Stage) String() string {
	switch s {
	case StageHint:
		return "hint"
	case StageWarning:
		return "warning"
	case StageSuccess:
		return "success"
	default:
		return "unknown"
	}
}
