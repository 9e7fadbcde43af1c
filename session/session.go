package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"

	"github.com/MrEthical07/goBioKey/challenge"
)

const (
	// DefaultSuccessDelay is how long the success message stays up before the
	// outcome is delivered.
	DefaultSuccessDelay = 1300 * time.Millisecond
	// DefaultErrorDelay is how long a terminal error stays up before the
	// outcome is delivered.
	DefaultErrorDelay = 1600 * time.Millisecond
	// DefaultHintResetDelay is how long a warning stays up before the hint
	// text returns.
	DefaultHintResetDelay = 1600 * time.Millisecond

	eventBuffer = 32
)

// ErrAlreadyStarted is returned when Start is called twice on one Session.
var ErrAlreadyStarted = errors.New("session already started")

// Options tunes a Session. Zero values take the defaults.
type Options struct {
	SuccessDelay   time.Duration
	ErrorDelay     time.Duration
	HintResetDelay time.Duration
	Clock          quartz.Clock
	Logger         slog.Logger

	// OnTransition observes every state change on the event loop.
	OnTransition func(from, to State)
	// OnComplete receives the outcome exactly once, before Done is closed.
	OnComplete func(Outcome)
}

func (o Options) withDefaults() Options {
	if o.SuccessDelay <= 0 {
		o.SuccessDelay = DefaultSuccessDelay
	}
	if o.ErrorDelay <= 0 {
		o.ErrorDelay = DefaultErrorDelay
	}
	if o.HintResetDelay <= 0 {
		o.HintResetDelay = DefaultHintResetDelay
	}
	if o.Clock == nil {
		o.Clock = quartz.NewReal()
	}
	return o
}

type eventKind uint8

const (
	evFailed eventKind = iota
	evHelp
	evError
	evSucceeded
	evHintReset
	evSettled
)

type event struct {
	kind    eventKind
	code    int
	message string
	token   string
	gen     uint64
}

// Session drives one challenge to one Outcome.
type Session struct {
	source    challenge.Source
	presenter Presenter
	locale    LocaleText
	opts      Options
	logger    slog.Logger

	events     chan event
	cancelCh   chan struct{}
	cancelOnce sync.Once
	stopped    chan struct{}
	done       chan struct{}
	started    atomic.Bool
	state      atomic.Int32
	attempts   atomic.Int32
	outcome    Outcome

	// Owned by the event loop.
	ctx            context.Context
	shown          bool
	selfCancelled  bool
	platformCancel challenge.CancelFunc
	hintTimer      *quartz.Timer
	hintGen        uint64
	settleTimer    *quartz.Timer
	pending        *Outcome
}

// New returns an idle Session. locale is merged over DefaultLocale. A nil
// presenter is replaced by NopPresenter.
func New(source challenge.Source, presenter Presenter, locale LocaleText, opts Options) *Session {
	if presenter == nil {
		presenter = NopPresenter{}
	}
	opts = opts.withDefaults()
	return &Session{
		source:    source,
		presenter: presenter,
		locale:    locale.Merge(DefaultLocale()),
		opts:      opts,
		logger:    opts.Logger.Named("session"),
		events:    make(chan event, eventBuffer),
		cancelCh:  make(chan struct{}),
		stopped:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start begins the challenge and returns immediately. Cancelling ctx has the
// same effect as Cancel.
func (s *Session) Start(ctx context.Context, req challenge.Request) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	s.logger = s.logger.With(slog.F("session_id", req.SessionID), slog.F("kind", req.Kind.String()))
	go s.run(ctx, req)
	return nil
}

// Cancel asks the session to stop. It only has an effect while the challenge
// is showing; after the session terminated it is a no-op. Cancel never blocks.
func (s *Session) Cancel() {
	s.cancelOnce.Do(func() { close(s.cancelCh) })
}

// Done is closed once the outcome is available.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Outcome returns the terminal outcome. It is only meaningful after Done is
// closed.
func (s *Session) Outcome() Outcome {
	select {
	case <-s.done:
		return s.outcome
	default:
		return Outcome{}
	}
}

// Wait blocks until the outcome is available or ctx ends.
func (s *Session) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-s.done:
		return s.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// State returns a snapshot of the current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Attempts returns a snapshot of the recognition failure count.
func (s *Session) Attempts() int {
	return int(s.attempts.Load())
}

func (s *Session) run(ctx context.Context, req challenge.Request) {
	s.ctx = ctx

	caps, err := s.source.Probe(ctx)
	if err != nil || !caps.Available() {
		s.logger.Info(ctx, "authenticator not available",
			slog.F("hardware_detected", caps.HardwareDetected),
			slog.F("enrolled", caps.HasEnrolledFactors),
			slog.Error(err))
		s.finish(Outcome{Kind: OutcomeError, Code: CodeNotAvailable})
		return
	}

	// A cancel that arrived before anything was shown ends the session quietly.
	select {
	case <-s.cancelCh:
		s.finish(Outcome{Kind: OutcomeCancelled})
		return
	case <-ctx.Done():
		s.finish(Outcome{Kind: OutcomeCancelled})
		return
	default:
	}

	s.transition(StateListening)
	s.shown = true
	if lp, ok := s.presenter.(LocalePresenter); ok {
		lp.ApplyLocale(s.locale)
	}
	s.presenter.ShowStage(StageHint)
	s.presenter.ShowTransientMessage(s.locale.Hint, false)

	cancel, err := s.source.Authenticate(ctx, req, relay{s: s})
	if err != nil {
		s.logger.Warn(ctx, "platform refused authentication request", slog.Error(err))
		s.finish(Outcome{Kind: OutcomeError, Code: CodeNotAvailable})
		return
	}
	s.platformCancel = cancel

	cancelCh := s.cancelCh
	ctxDone := ctx.Done()
	for {
		select {
		case ev := <-s.events:
			if s.handle(ev) {
				return
			}
		case <-cancelCh:
			cancelCh = nil
			if s.handleCancel("caller") {
				return
			}
		case <-ctxDone:
			ctxDone = nil
			if s.handleCancel("context") {
				return
			}
		}
	}
}

// handle applies one event and reports whether the session finished.
func (s *Session) handle(ev event) bool {
	if ev.kind == evSettled {
		if s.pending == nil {
			return false
		}
		s.finish(*s.pending)
		return true
	}
	if s.State() == StateTerminated {
		s.logger.Debug(s.ctx, "event after termination dropped", slog.F("event", int(ev.kind)))
		return false
	}

	switch ev.kind {
	case evFailed:
		n := s.attempts.Add(1)
		s.logger.Debug(s.ctx, "recognition failed", slog.F("attempts", n))
		s.transition(StateListening)
		s.warn(s.locale.NotRecognized)
	case evHelp:
		s.logger.Debug(s.ctx, "acquisition help", slog.F("code", ev.code), slog.F("message", ev.message))
		s.transition(StateAuthenticating)
		msg := ev.message
		if msg == "" {
			msg = s.locale.Hint
		}
		s.warn(msg)
	case evHintReset:
		if ev.gen != s.hintGen {
			return false
		}
		s.transition(StateListening)
		s.presenter.ShowStage(StageHint)
		s.presenter.ShowTransientMessage(s.locale.Hint, false)
	case evError:
		return s.handleError(ev.code, ev.message)
	case evSucceeded:
		s.presenter.ShowStage(StageSuccess)
		s.presenter.ShowSuccessMessage(s.locale.Success)
		s.settle(Outcome{Kind: OutcomeSuccess, Attempts: s.Attempts(), Token: ev.token}, s.opts.SuccessDelay)
	}
	return false
}

func (s *Session) handleError(code int, message string) bool {
	s.logger.Info(s.ctx, "platform error", slog.F("code", code), slog.F("message", message))

	switch {
	case code == challenge.ErrorCanceled && s.selfCancelled:
		return false
	case code == challenge.ErrorUserCanceled:
		s.finish(Outcome{Kind: OutcomeCancelled, Attempts: s.Attempts()})
		return true
	}

	text := message
	if challenge.IsLockout(code) {
		text = s.locale.TooManyTries
	} else if text == "" {
		text = s.locale.NotRecognized
	}
	s.stopHint()
	s.presenter.ShowStage(StageWarning)
	s.presenter.ShowTransientMessage(text, true)
	s.settle(Outcome{Kind: OutcomeError, Code: code, Attempts: s.Attempts()}, s.opts.ErrorDelay)
	return false
}

func (s *Session) handleCancel(by string) bool {
	switch s.State() {
	case StateListening, StateAuthenticating:
	default:
		return false
	}
	s.logger.Debug(s.ctx, "session cancelled", slog.F("by", by))
	s.selfCancelled = true
	if s.platformCancel != nil {
		s.platformCancel()
	}
	s.finish(Outcome{Kind: OutcomeCancelled, Attempts: s.Attempts()})
	return true
}

// warn shows a transient warning and schedules the hint to come back.
func (s *Session) warn(text string) {
	s.presenter.ShowStage(StageWarning)
	s.presenter.ShowTransientMessage(text, true)

	s.stopHint()
	s.hintGen++
	gen := s.hintGen
	s.hintTimer = s.opts.Clock.AfterFunc(s.opts.HintResetDelay, func() {
		s.post(event{kind: evHintReset, gen: gen})
	}, "session", "hint")
}

func (s *Session) stopHint() {
	if s.hintTimer != nil {
		s.hintTimer.Stop()
		s.hintTimer = nil
	}
	s.hintGen++
}

// settle terminates the session and delivers o after delay.
func (s *Session) settle(o Outcome, delay time.Duration) {
	s.stopHint()
	s.transition(StateTerminated)
	s.pending = &o
	s.settleTimer = s.opts.Clock.AfterFunc(delay, func() {
		s.post(event{kind: evSettled})
	}, "session", "settle")
}

func (s *Session) finish(o Outcome) {
	s.stopHint()
	if s.settleTimer != nil {
		s.settleTimer.Stop()
	}
	s.transition(StateTerminated)
	if s.shown {
		s.presenter.RequestDismiss()
	}
	s.outcome = o
	close(s.stopped)
	s.logger.Debug(s.ctx, "session finished",
		slog.F("outcome", o.Kind.String()),
		slog.F("code", o.Code),
		slog.F("attempts", o.Attempts))
	if s.opts.OnComplete != nil {
		s.opts.OnComplete(o)
	}
	close(s.done)
}

func (s *Session) transition(to State) {
	from := State(s.state.Swap(int32(to)))
	if from != to && s.opts.OnTransition != nil {
		s.opts.OnTransition(from, to)
	}
}

func (s *Session) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.stopped:
	}
}

// relay forwards platform callbacks onto the event loop.
type relay struct {
	s *Session
}

func (r relay) OnFailed() {
	r.s.post(event{kind: evFailed})
}

func (r relay) OnHelp(code int, message string) {
	r.s.post(event{kind: evHelp, code: code, message: message})
}

func (r relay) OnError(code int, message string) {
	r.s.post(event{kind: evError, code: code, message: message})
}

func (r relay) OnSucceeded(token string) {
	r.s.post(event{kind: evSucceeded, token: token})
}
