package goBioKey

import (
	"context"
	"errors"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"

	"github.com/MrEthical07/goBioKey/challenge"
	"github.com/MrEthical07/goBioKey/internal"
	"github.com/MrEthical07/goBioKey/keystore"
	"github.com/MrEthical07/goBioKey/session"
)

// Controller runs key operations behind authentication challenges.
//
// Controller methods are safe for concurrent use. At most one challenge runs
// per key identifier: a newer request for the same identifier cancels the
// older one, which resolves as cancelled.
type Controller struct {
	config     Config
	store      keystore.SecretStore
	biometric  challenge.Source
	credential challenge.Source
	clock      quartz.Clock
	logger     slog.Logger
	audit      *auditDispatcher
	metrics    *Metrics

	mu     sync.Mutex
	active map[string]*Pending
	closed bool
}

type requestContext struct {
	req       Request
	sessionID string
	presenter session.Presenter
	locale    session.LocaleText
	pending   *Pending
	logger    slog.Logger
}

/*
====================================
BLOCKING OPERATIONS
====================================
*/

// InitializeKey creates the secret for id if needed, runs a biometric
// challenge and returns the derived secret as lowercase hex.
func (c *Controller) InitializeKey(ctx context.Context, id string, locale session.LocaleText, presenter session.Presenter) Response {
	return c.Execute(ctx, Request{Operation: OpInitializeKey, KeyID: id, Locale: locale}, presenter)
}

// FetchSecret runs a biometric challenge and returns the secret of an
// existing key. A missing key fails with CodeKeyMissing before any challenge.
func (c *Controller) FetchSecret(ctx context.Context, id string, locale session.LocaleText, presenter session.Presenter) Response {
	return c.Execute(ctx, Request{Operation: OpFetchSecret, KeyID: id, Locale: locale}, presenter)
}

// LockOnly confirms the device credential. No key is involved.
func (c *Controller) LockOnly(ctx context.Context, locale session.LocaleText, waitTime time.Duration, presenter session.Presenter) Response {
	return c.Execute(ctx, Request{Operation: OpLockOnly, Locale: locale, WaitTime: waitTime}, presenter)
}

// Execute runs req and blocks until its response. Cancelling ctx cancels
// the request.
func (c *Controller) Execute(ctx context.Context, req Request, presenter session.Presenter) Response {
	p := c.Start(ctx, req, presenter)
	<-p.Done()
	return p.Response()
}

// Availability reports whether a biometric challenge can run. Probe failures
// degrade to all false.
func (c *Controller) Availability(ctx context.Context) Availability {
	caps, err := c.biometric.Probe(ctx)
	if err != nil {
		c.logger.Warn(ctx, "availability probe failed", slog.Error(err))
		c.emitAudit(ctx, AuditEvent{EventType: auditEventAvailabilityDegraded, Error: string(auditErrNotAvailable)})
		return Availability{}
	}
	return Availability{
		IsAvailable:             caps.Available(),
		IsHardwareDetected:      caps.HardwareDetected,
		HasEnrolledFingerprints: caps.HasEnrolledFactors,
	}
}

// RemoveKey deletes the secret for id. It returns keystore.ErrNotFound when
// no secret exists.
func (c *Controller) RemoveKey(ctx context.Context, id string) error {
	err := c.store.Remove(ctx, id)
	if err != nil {
		c.logger.Warn(ctx, "key removal failed", slog.F("key_id", id), slog.Error(err))
		if errors.Is(err, keystore.ErrStoreUnavailable) {
			c.metrics.Inc(MetricStoreUnavailable)
		}
		c.emitAudit(ctx, AuditEvent{
			EventType: auditEventKeyRemoveFailed,
			Operation: string(OpRemoveKey),
			KeyID:     id,
			Error:     string(auditErrorCode(err)),
		})
		return err
	}
	c.metrics.Inc(MetricKeyRemoved)
	c.logger.Info(ctx, "key removed", slog.F("key_id", id))
	c.emitAudit(ctx, AuditEvent{
		EventType: auditEventKeyRemoved,
		Operation: string(OpRemoveKey),
		KeyID:     id,
		Success:   true,
	})
	return nil
}

/*
====================================
ASYNCHRONOUS START
====================================
*/

// Start begins req and returns at once. The response arrives through the
// returned Pending. Cancelling ctx cancels the request.
func (c *Controller) Start(ctx context.Context, req Request, presenter session.Presenter) *Pending {
	if presenter == nil {
		presenter = session.NopPresenter{}
	}
	canFallback := c.credential != nil && (req.Operation == OpInitializeKey || req.Operation == OpFetchSecret)
	p := newPending(ctx, canFallback)

	if err := req.Validate(); err != nil {
		c.logger.Info(ctx, "invalid request", slog.Error(err))
		p.resolve(errorResponse(CodeInvalidRequest))
		return p
	}

	slot := slotFor(req)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		p.resolve(errorResponse(CodeNotAvailable))
		return p
	}
	var prev *Pending
	if slot != "" {
		prev = c.active[slot]
		c.active[slot] = p
	}
	c.mu.Unlock()

	rc := &requestContext{
		req:       req,
		sessionID: internal.NewSessionID(),
		presenter: presenter,
		locale:    req.Locale.Merge(c.config.Locale),
		pending:   p,
	}
	rc.logger = c.logger.With(
		slog.F("operation", string(req.Operation)),
		slog.F("key_id", req.KeyID),
		slog.F("session_id", rc.sessionID),
	)

	if prev != nil {
		prev.supersede()
		c.metrics.Inc(MetricSessionSuperseded)
		rc.logger.Info(ctx, "superseding running request")
	}

	go c.run(rc, slot, prev)
	return p
}

func slotFor(req Request) string {
	switch req.Operation {
	case OpInitializeKey, OpFetchSecret:
		return "key:" + req.KeyID
	case OpLockOnly:
		return "lock"
	default:
		return ""
	}
}

func (c *Controller) run(rc *requestContext, slot string, prev *Pending) {
	ctx := rc.pending.ctx
	start := c.clock.Now("controller", "latency")

	if prev != nil {
		// The superseded request must release the platform before ours starts.
		select {
		case <-prev.Done():
		case <-ctx.Done():
		}
	}

	resp := c.dispatch(ctx, rc)

	if slot != "" {
		c.mu.Lock()
		if c.active[slot] == rc.pending {
			delete(c.active, slot)
		}
		c.mu.Unlock()
	}
	if rc.req.Operation != OpAvailability && rc.req.Operation != OpRemoveKey {
		c.metrics.Observe(MetricSessionLatency, c.clock.Since(start, "controller", "latency"))
	}
	rc.logger.Debug(ctx, "request finished",
		slog.F("status", resp.Status),
		slog.F("code", resp.Code()),
		slog.F("superseded", rc.pending.superseded.Load()))
	rc.pending.resolve(resp)
}

func (c *Controller) dispatch(ctx context.Context, rc *requestContext) Response {
	if ctx.Err() != nil {
		return cancelledResponse()
	}
	switch rc.req.Operation {
	case OpAvailability:
		return availabilityResponse(c.Availability(ctx))
	case OpRemoveKey:
		if err := c.RemoveKey(ctx, rc.req.KeyID); err != nil {
			return errorResponse(codeForError(err))
		}
		return okResponse()
	case OpInitializeKey:
		return c.runKey(ctx, rc, true)
	case OpFetchSecret:
		return c.runKey(ctx, rc, false)
	case OpLockOnly:
		return c.runLock(ctx, rc)
	default:
		return errorResponse(CodeInvalidRequest)
	}
}

/*
====================================
KEY FLOW
====================================
*/

func (c *Controller) runKey(ctx context.Context, rc *requestContext, generate bool) Response {
	id := rc.req.KeyID

	if generate {
		// No key is created for a device that cannot unlock it.
		caps, err := c.biometric.Probe(ctx)
		if err != nil || !caps.Available() {
			rc.logger.Info(ctx, "authenticator not available", slog.Error(err))
			c.metrics.Inc(MetricNotAvailable)
			c.auditRequest(ctx, rc, auditEventNotAvailable, false, auditErrNotAvailable)
			return errorResponse(CodeNotAvailable)
		}

		if err := c.store.Generate(ctx, id); err != nil {
			if ctx.Err() != nil {
				return cancelledResponse()
			}
			rc.logger.Warn(ctx, "key generation failed", slog.Error(err))
			c.countStoreError(err, MetricKeyGenerationFailed)
			c.auditRequest(ctx, rc, auditEventKeyGenerationFailed, false, auditErrorCode(err))
			return errorResponse(codeForError(err))
		}
		c.metrics.Inc(MetricKeyGenerated)
		c.auditRequest(ctx, rc, auditEventKeyGenerated, true, "")
	}

	handle, err := c.store.PrepareDerivation(ctx, id)
	if err != nil && !errors.Is(err, keystore.ErrUnauthenticated) {
		if ctx.Err() != nil {
			return cancelledResponse()
		}
		rc.logger.Info(ctx, "derivation precondition failed", slog.Error(err))
		switch {
		case errors.Is(err, keystore.ErrKeyMissing):
			c.metrics.Inc(MetricKeyMissing)
		case errors.Is(err, keystore.ErrInvalidated):
			c.metrics.Inc(MetricKeyInvalidated)
		default:
			c.countStoreError(err, MetricDeriveFailure)
		}
		c.auditRequest(ctx, rc, auditEventPreconditionFailed, false, auditErrorCode(err))
		return errorResponse(codeForError(err))
	}
	if handle == nil {
		rc.logger.Error(ctx, "keystore returned no derivation handle")
		return errorResponse(CodeDeriveFailed)
	}

	outcome, kind := c.challenge(ctx, rc, challenge.KindBiometric, handle.OperationID, 0)
	if outcome.Kind != session.OutcomeSuccess {
		return outcomeResponse(outcome)
	}

	// The session already succeeded. A cancel arriving during the success
	// settle must not turn that into a cancelled response.
	ctx = context.WithoutCancel(ctx)
	handle.Authorize(outcome.Token)
	secret, err := c.store.Derive(ctx, handle)
	if err != nil {
		if kind == challenge.KindDeviceCredential && errors.Is(err, keystore.ErrUnauthenticated) {
			rc.logger.Info(ctx, "device credential cannot release this key")
			c.auditRequest(ctx, rc, auditEventChallengeCancelled, false, auditErrUnauthenticated)
			return cancelledResponse()
		}
		rc.logger.Error(ctx, "secret derivation failed", slog.Error(err))
		c.countStoreError(err, MetricDeriveFailure)
		c.auditOutcome(ctx, rc, auditEventSecretDeriveFailed, codeForError(err), outcome.Attempts, auditErrorCode(err))
		return challengeErrorResponse(codeForError(err), outcome.Attempts)
	}

	key := internal.HexLower(secret)
	internal.Zero(secret)
	c.metrics.Inc(MetricSecretReleased)
	rc.logger.Info(ctx, "secret released", slog.F("attempts", outcome.Attempts), slog.F("kind", kind.String()))
	c.auditOutcome(ctx, rc, auditEventSecretReleased, 0, outcome.Attempts, "")
	return keyResponse(key)
}

func (c *Controller) countStoreError(err error, fallback MetricID) {
	if errors.Is(err, keystore.ErrStoreUnavailable) {
		c.metrics.Inc(MetricStoreUnavailable)
		return
	}
	c.metrics.Inc(fallback)
}

/*
====================================
LOCK FLOW
====================================
*/

func (c *Controller) runLock(ctx context.Context, rc *requestContext) Response {
	if c.credential == nil {
		c.metrics.Inc(MetricNotAvailable)
		c.auditRequest(ctx, rc, auditEventNotAvailable, false, auditErrNotAvailable)
		return errorResponse(CodeNotAvailable)
	}

	wait := rc.req.WaitTime
	if wait <= 0 {
		wait = c.config.LockOnly.DefaultWaitTime
	}
	if wait > c.config.LockOnly.MaxWaitTime {
		wait = c.config.LockOnly.MaxWaitTime
	}

	outcome, _ := c.challenge(ctx, rc, challenge.KindDeviceCredential, internal.NewOperationID(), wait)
	if outcome.Kind != session.OutcomeSuccess {
		return outcomeResponse(outcome)
	}
	c.metrics.Inc(MetricLockConfirmed)
	c.auditOutcome(ctx, rc, auditEventLockConfirmed, 0, outcome.Attempts, "")
	return okResponse()
}

/*
====================================
CHALLENGE
====================================
*/

// challenge runs sessions until one produces an outcome that is not a
// fallback request. It returns the outcome and the kind that produced it.
func (c *Controller) challenge(ctx context.Context, rc *requestContext, kind challenge.Kind, operationID string, wait time.Duration) (session.Outcome, challenge.Kind) {
	for {
		src := c.sourceFor(kind)
		if src == nil {
			return session.Outcome{Kind: session.OutcomeError, Code: CodeNotAvailable}, kind
		}

		sess := session.New(src, rc.presenter, rc.locale, session.Options{
			SuccessDelay:   c.config.Session.SuccessDelay,
			ErrorDelay:     c.config.Session.ErrorDelay,
			HintResetDelay: c.config.Session.HintResetDelay,
			Clock:          c.clock,
			Logger:         c.logger,
		})
		if !rc.pending.attach(sess, kind) {
			return session.Outcome{Kind: session.OutcomeCancelled}, kind
		}
		if out, ok := c.startSession(ctx, rc, sess, challenge.Request{
			SessionID:   rc.sessionID,
			OperationID: operationID,
			Kind:        kind,
			WaitTime:    wait,
		}); !ok {
			c.recordOutcome(ctx, rc, out)
			return out, kind
		}
		c.metrics.Inc(MetricSessionStarted)
		c.auditRequest(ctx, rc, auditEventChallengeStarted, true, "")

		<-sess.Done()
		out := sess.Outcome()

		if out.Kind == session.OutcomeCancelled && kind == challenge.KindBiometric &&
			ctx.Err() == nil && rc.pending.takeFallback() {
			rc.logger.Info(ctx, "falling back to device credential", slog.F("attempts", out.Attempts))
			c.metrics.Inc(MetricFallback)
			c.auditRequest(ctx, rc, auditEventFallbackRequested, true, "")
			kind = challenge.KindDeviceCredential
			continue
		}

		c.recordOutcome(ctx, rc, out)
		return out, kind
	}
}

// startSession starts sess. When it cannot start, it returns the outcome
// that ends the challenge instead.
func (c *Controller) startSession(ctx context.Context, rc *requestContext, sess *session.Session, req challenge.Request) (session.Outcome, bool) {
	err := sess.Start(ctx, req)
	if err == nil {
		return session.Outcome{}, true
	}
	if ctx.Err() != nil {
		return session.Outcome{Kind: session.OutcomeCancelled}, false
	}
	rc.logger.Error(ctx, "challenge session failed to start", slog.Error(err))
	return session.Outcome{Kind: session.OutcomeError, Code: CodeNotAvailable}, false
}

func (c *Controller) sourceFor(kind challenge.Kind) challenge.Source {
	switch kind {
	case challenge.KindBiometric:
		return c.biometric
	case challenge.KindDeviceCredential:
		return c.credential
	default:
		return nil
	}
}

func (c *Controller) recordOutcome(ctx context.Context, rc *requestContext, out session.Outcome) {
	for i := 0; i < out.Attempts; i++ {
		c.metrics.Inc(MetricRecognitionFailed)
	}
	switch out.Kind {
	case session.OutcomeSuccess:
		c.metrics.Inc(MetricSessionSuccess)
		c.auditOutcome(ctx, rc, auditEventChallengeSucceeded, 0, out.Attempts, "")
	case session.OutcomeCancelled:
		c.metrics.Inc(MetricSessionCancelled)
		event := auditEventChallengeCancelled
		if rc.pending.superseded.Load() {
			event = auditEventChallengeSuperseded
		}
		c.auditOutcome(ctx, rc, event, 0, out.Attempts, "")
	case session.OutcomeError:
		errCode := auditErrPlatform
		switch {
		case out.Code == CodeNotAvailable:
			c.metrics.Inc(MetricNotAvailable)
			errCode = auditErrNotAvailable
		case challenge.IsLockout(out.Code):
			c.metrics.Inc(MetricLockout)
			c.metrics.Inc(MetricSessionError)
			errCode = auditErrLockout
		default:
			c.metrics.Inc(MetricSessionError)
		}
		c.auditOutcome(ctx, rc, auditEventChallengeFailed, out.Code, out.Attempts, errCode)
	}
	rc.logger.Info(ctx, "challenge finished",
		slog.F("outcome", out.Kind.String()),
		slog.F("code", out.Code),
		slog.F("attempts", out.Attempts))
}

// outcomeResponse renders a non-success outcome. CodeNotAvailable comes from
// the guard before anything was shown, so it carries no attempts.
func outcomeResponse(out session.Outcome) Response {
	switch out.Kind {
	case session.OutcomeCancelled:
		return cancelledResponse()
	case session.OutcomeError:
		if out.Code == CodeNotAvailable {
			return errorResponse(out.Code)
		}
		return challengeErrorResponse(out.Code, out.Attempts)
	default:
		return okResponse()
	}
}

/*
====================================
LIFECYCLE AND INTROSPECTION
====================================
*/

// Close cancels running requests and flushes the audit dispatcher. Later
// requests resolve with CodeNotAvailable.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	running := make([]*Pending, 0, len(c.active))
	for _, p := range c.active {
		running = append(running, p)
	}
	c.mu.Unlock()

	for _, p := range running {
		p.Cancel()
		<-p.Done()
	}
	c.audit.Close()
}

// MetricsSnapshot returns a copy of the controller metrics.
func (c *Controller) MetricsSnapshot() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// AuditDropped returns how many audit events were dropped.
func (c *Controller) AuditDropped() uint64 {
	return c.audit.Dropped()
}
