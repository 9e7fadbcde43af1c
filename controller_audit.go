package goBioKey

import (
	"context"
	"errors"

	"github.com/MrEthical07/goBioKey/keystore"
)

const (
	auditEventKeyGenerated         = "key_generated"
	auditEventKeyGenerationFailed  = "key_generation_failed"
	auditEventKeyRemoved           = "key_removed"
	auditEventKeyRemoveFailed      = "key_remove_failed"
	auditEventPreconditionFailed   = "precondition_failed"
	auditEventNotAvailable         = "authenticator_not_available"
	auditEventChallengeStarted     = "challenge_started"
	auditEventChallengeSucceeded   = "challenge_succeeded"
	auditEventChallengeFailed      = "challenge_failed"
	auditEventChallengeCancelled   = "challenge_cancelled"
	auditEventChallengeSuperseded  = "challenge_superseded"
	auditEventFallbackRequested    = "fallback_requested"
	auditEventSecretReleased       = "secret_released"
	auditEventSecretDeriveFailed   = "secret_derive_failed"
	auditEventLockConfirmed        = "lock_confirmed"
	auditEventAvailabilityDegraded = "availability_degraded"
)

// AuditErrorCode classifies the error of an audit event.
type AuditErrorCode string

const (
	auditErrKeyMissing       AuditErrorCode = "key_missing"
	auditErrInvalidated      AuditErrorCode = "key_invalidated"
	auditErrStoreUnavailable AuditErrorCode = "store_unavailable"
	auditErrGeneration       AuditErrorCode = "generation_failed"
	auditErrInvalidRequest   AuditErrorCode = "invalid_request"
	auditErrUnauthenticated  AuditErrorCode = "unauthenticated"
	auditErrDerive           AuditErrorCode = "derive_failed"
	auditErrNotAvailable     AuditErrorCode = "not_available"
	auditErrPlatform         AuditErrorCode = "platform_error"
	auditErrLockout          AuditErrorCode = "lockout"
	auditErrInternal         AuditErrorCode = "internal_error"
)

func auditErrorCode(err error) AuditErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, keystore.ErrKeyMissing), errors.Is(err, keystore.ErrNotFound):
		return auditErrKeyMissing
	case errors.Is(err, keystore.ErrInvalidated):
		return auditErrInvalidated
	case errors.Is(err, keystore.ErrStoreUnavailable):
		return auditErrStoreUnavailable
	case errors.Is(err, keystore.ErrGenerationFailed):
		return auditErrGeneration
	case errors.Is(err, keystore.ErrInvalidIdentifier), errors.Is(err, ErrInvalidRequest):
		return auditErrInvalidRequest
	case errors.Is(err, keystore.ErrUnauthenticated):
		return auditErrUnauthenticated
	case errors.Is(err, keystore.ErrDeriveFailed):
		return auditErrDerive
	default:
		return auditErrInternal
	}
}

func (c *Controller) emitAudit(ctx context.Context, event AuditEvent) {
	if c == nil || c.audit == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = c.clock.Now("controller", "audit")
	}
	c.audit.Emit(ctx, event)
}

func (c *Controller) auditRequest(ctx context.Context, rc *requestContext, eventType string, success bool, errCode AuditErrorCode) {
	if c == nil || c.audit == nil {
		return
	}
	c.emitAudit(ctx, AuditEvent{
		EventType: eventType,
		Operation: string(rc.req.Operation),
		KeyID:     rc.req.KeyID,
		SessionID: rc.sessionID,
		Success:   success,
		Error:     string(errCode),
	})
}

func (c *Controller) auditOutcome(ctx context.Context, rc *requestContext, eventType string, code, attempts int, errCode AuditErrorCode) {
	if c == nil || c.audit == nil {
		return
	}
	c.emitAudit(ctx, AuditEvent{
		EventType: eventType,
		Operation: string(rc.req.Operation),
		KeyID:     rc.req.KeyID,
		SessionID: rc.sessionID,
		Success:   errCode == "",
		Code:      code,
		Attempts:  attempts,
		Error:     string(errCode),
	})
}
