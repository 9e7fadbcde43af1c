package soft

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goBioKey/authtoken"
	"github.com/MrEthical07/goBioKey/challenge"
	"github.com/MrEthical07/goBioKey/internal/limiters"
	"github.com/MrEthical07/goBioKey/pin"
)

var (
	// ErrNoActiveRequest indicates input arrived while nothing was listening.
	ErrNoActiveRequest = errors.New("no active authentication request")
	// ErrNoCredential indicates no device credential is configured.
	ErrNoCredential = errors.New("no device credential configured")
	// ErrPlatformUnavailable wraps Redis failures.
	ErrPlatformUnavailable = errors.New("platform state unavailable")
)

// Platform messages, mirroring what a mobile OS reports.
const (
	msgCanceled   = "Fingerprint operation canceled."
	msgLockout    = "Too many attempts. Try again later."
	msgTimeout    = "Authentication timed out."
	msgUserCancel = "Authentication canceled by user."
	msgTokenError = "Unable to process authentication."
)

// Deps are the optional collaborators of a Platform.
type Deps struct {
	// Tokens signs authentication tokens. When nil an ephemeral manager is
	// created and exposed through Platform.Tokens.
	Tokens *authtoken.Manager
	// Hasher hashes device credentials. Defaults to pin.DefaultConfig.
	Hasher *pin.Hasher
	Clock  quartz.Clock
	Logger slog.Logger
}

type pending struct {
	req   challenge.Request
	cb    challenge.Callback
	timer *quartz.Timer
}

// Platform is the software authentication platform.
type Platform struct {
	redis   redis.UniversalClient
	config  Config
	tokens  *authtoken.Manager
	pins    *pin.Hasher
	lockout *limiters.LockoutLimiter
	clock   quartz.Clock
	logger  slog.Logger

	mu     sync.Mutex
	active map[challenge.Kind]*pending
}

// New returns a Platform storing its state in redisClient.
func New(redisClient redis.UniversalClient, cfg Config, deps Deps) (*Platform, error) {
	if redisClient == nil {
		return nil, errors.New("soft: redis client is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Tokens == nil {
		tokens, err := authtoken.NewEphemeral(cfg.TokenTTL)
		if err != nil {
			return nil, err
		}
		deps.Tokens = tokens
	}
	if deps.Hasher == nil {
		hasher, err := pin.NewHasher(pin.DefaultConfig())
		if err != nil {
			return nil, err
		}
		deps.Hasher = hasher
	}
	if deps.Clock == nil {
		deps.Clock = quartz.NewReal()
	}
	return &Platform{
		redis:  redisClient,
		config: cfg,
		tokens: deps.Tokens,
		pins:   deps.Hasher,
		lockout: limiters.NewLockoutLimiter(redisClient, limiters.LockoutConfig{
			Enabled:   true,
			Prefix:    cfg.RedisPrefix,
			Threshold: cfg.LockoutThreshold,
			Duration:  cfg.LockoutDuration,
		}),
		clock:  deps.Clock,
		logger: deps.Logger.Named("soft"),
		active: make(map[challenge.Kind]*pending),
	}, nil
}

// Tokens returns the manager that signs this platform's tokens. Keystores
// verify with it.
func (p *Platform) Tokens() *authtoken.Manager {
	return p.tokens
}

// Biometric returns the fingerprint sensor.
func (p *Platform) Biometric() challenge.Source {
	return source{p: p, kind: challenge.KindBiometric}
}

// DeviceCredential returns the device credential prompt.
func (p *Platform) DeviceCredential() challenge.Source {
	return source{p: p, kind: challenge.KindDeviceCredential}
}

func (p *Platform) key(suffix string) string {
	return p.config.RedisPrefix + ":" + suffix
}

/* ==== ENROLLMENT ==== */

// EnrollmentEpoch implements keystore.EnrollmentSource.
func (p *Platform) EnrollmentEpoch(ctx context.Context) (uint64, error) {
	n, err := p.redis.Get(ctx, p.key("epoch")).Uint64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrPlatformUnavailable, err)
	}
	return n, nil
}

// Enroll registers a biometric template under name and advances the
// enrollment epoch, which invalidates existing keys.
func (p *Platform) Enroll(ctx context.Context, name string, template []byte) error {
	if name == "" || len(template) == 0 {
		return errors.New("soft: enrollment needs a name and a template")
	}
	digest := sha256.Sum256(template)
	_, err := p.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, p.key("enrolled"), name, hex.EncodeToString(digest[:]))
		pipe.Incr(ctx, p.key("epoch"))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPlatformUnavailable, err)
	}
	p.logger.Info(ctx, "biometric enrolled", slog.F("name", name))
	return nil
}

// Unenroll removes the template registered under name. The epoch only
// advances when something was removed.
func (p *Platform) Unenroll(ctx context.Context, name string) error {
	removed, err := p.redis.HDel(ctx, p.key("enrolled"), name).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPlatformUnavailable, err)
	}
	if removed == 0 {
		return nil
	}
	if err := p.redis.Incr(ctx, p.key("epoch")).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPlatformUnavailable, err)
	}
	p.logger.Info(ctx, "biometric removed", slog.F("name", name))
	return nil
}

// SetDeviceCredential stores the hash of credential.
func (p *Platform) SetDeviceCredential(ctx context.Context, credential string) error {
	encoded, err := p.pins.Hash(credential)
	if err != nil {
		return err
	}
	if err := p.redis.Set(ctx, p.key("credential"), encoded, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPlatformUnavailable, err)
	}
	return nil
}

// ClearDeviceCredential removes the device credential.
func (p *Platform) ClearDeviceCredential(ctx context.Context) error {
	if err := p.redis.Del(ctx, p.key("credential")).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPlatformUnavailable, err)
	}
	return nil
}

/* ==== CHALLENGE SOURCES ==== */

type source struct {
	p    *Platform
	kind challenge.Kind
}

func (s source) Kind() challenge.Kind { return s.kind }

func (s source) Probe(ctx context.Context) (challenge.Capabilities, error) {
	return s.p.probe(ctx, s.kind)
}

func (s source) Authenticate(ctx context.Context, req challenge.Request, cb challenge.Callback) (challenge.CancelFunc, error) {
	return s.p.authenticate(ctx, s.kind, req, cb)
}

func (p *Platform) probe(ctx context.Context, kind challenge.Kind) (challenge.Capabilities, error) {
	switch kind {
	case challenge.KindBiometric:
		if !p.config.HardwareDetected {
			return challenge.Capabilities{}, nil
		}
		n, err := p.redis.HLen(ctx, p.key("enrolled")).Result()
		if err != nil {
			return challenge.Capabilities{HardwareDetected: true}, fmt.Errorf("%w: %v", ErrPlatformUnavailable, err)
		}
		return challenge.Capabilities{HardwareDetected: true, HasEnrolledFactors: n > 0}, nil
	case challenge.KindDeviceCredential:
		n, err := p.redis.Exists(ctx, p.key("credential")).Result()
		if err != nil {
			return challenge.Capabilities{HardwareDetected: true}, fmt.Errorf("%w: %v", ErrPlatformUnavailable, err)
		}
		return challenge.Capabilities{HardwareDetected: true, HasEnrolledFactors: n > 0}, nil
	default:
		return challenge.Capabilities{}, fmt.Errorf("soft: unknown kind %v", kind)
	}
}

func (p *Platform) authenticate(ctx context.Context, kind challenge.Kind, req challenge.Request, cb challenge.Callback) (challenge.CancelFunc, error) {
	if cb == nil {
		return nil, errors.New("soft: callback is required")
	}
	locked, err := p.lockout.Locked(ctx, kind.String())
	if err != nil {
		return nil, err
	}

	entry := &pending{req: req, cb: cb}

	p.mu.Lock()
	prev := p.active[kind]
	p.active[kind] = entry
	p.mu.Unlock()

	if prev != nil {
		p.stopTimer(prev)
		go prev.cb.OnError(challenge.ErrorCanceled, msgCanceled)
	}

	if locked {
		// The sensor refuses immediately while locked out.
		p.logger.Info(ctx, "request while locked out", slog.F("kind", kind.String()))
		if p.take(kind, entry) {
			go cb.OnError(challenge.ErrorLockout, msgLockout)
		}
		return func() {}, nil
	}

	wait := req.WaitTime
	if wait <= 0 && kind == challenge.KindDeviceCredential {
		wait = p.config.CredentialWait
	}
	if wait > 0 {
		timer := p.clock.AfterFunc(wait, func() {
			if p.take(kind, entry) {
				cb.OnError(challenge.ErrorTimeout, msgTimeout)
			}
		}, "soft", "timeout")
		p.mu.Lock()
		entry.timer = timer
		p.mu.Unlock()
	}

	p.logger.Debug(ctx, "listening", slog.F("kind", kind.String()), slog.F("session_id", req.SessionID))
	return func() {
		if p.take(kind, entry) {
			go cb.OnError(challenge.ErrorCanceled, msgCanceled)
		}
	}, nil
}

// take removes entry if it is still the active request for kind.
func (p *Platform) take(kind challenge.Kind, entry *pending) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active[kind] != entry {
		return false
	}
	delete(p.active, kind)
	if entry.timer != nil {
		entry.timer.Stop()
	}
	return true
}

func (p *Platform) current(kind challenge.Kind) *pending {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active[kind]
}

func (p *Platform) stopTimer(entry *pending) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry.timer != nil {
		entry.timer.Stop()
	}
}

/* ==== USER INPUT ==== */

// Touch presents a biometric template to the sensor.
func (p *Platform) Touch(ctx context.Context, template []byte) error {
	entry := p.current(challenge.KindBiometric)
	if entry == nil {
		return ErrNoActiveRequest
	}
	matched, err := p.matchTemplate(ctx, template)
	if err != nil {
		return err
	}
	return p.resolve(ctx, challenge.KindBiometric, entry, matched)
}

// SubmitCredential enters the device credential at the prompt.
func (p *Platform) SubmitCredential(ctx context.Context, credential string) error {
	entry := p.current(challenge.KindDeviceCredential)
	if entry == nil {
		return ErrNoActiveRequest
	}
	encoded, err := p.redis.Get(ctx, p.key("credential")).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNoCredential
		}
		return fmt.Errorf("%w: %v", ErrPlatformUnavailable, err)
	}
	matched, err := p.pins.Verify(credential, encoded)
	if err != nil {
		return err
	}
	if matched {
		if upgrade, err := p.pins.NeedsUpgrade(encoded); err == nil && upgrade {
			if err := p.SetDeviceCredential(ctx, credential); err != nil {
				p.logger.Warn(ctx, "credential rehash failed", slog.Error(err))
			}
		}
	}
	return p.resolve(ctx, challenge.KindDeviceCredential, entry, matched)
}

// Acquire reports acquisition trouble (a partial or dirty read) to the
// active biometric request.
func (p *Platform) Acquire(code int, message string) error {
	entry := p.current(challenge.KindBiometric)
	if entry == nil {
		return ErrNoActiveRequest
	}
	entry.cb.OnHelp(code, message)
	return nil
}

// UserCancel dismisses the platform's own prompt for kind.
func (p *Platform) UserCancel(kind challenge.Kind) error {
	return p.Fault(kind, challenge.ErrorUserCanceled, msgUserCancel)
}

// Fault terminates the active request for kind with a platform error.
func (p *Platform) Fault(kind challenge.Kind, code int, message string) error {
	entry := p.current(kind)
	if entry == nil || !p.take(kind, entry) {
		return ErrNoActiveRequest
	}
	entry.cb.OnError(code, message)
	return nil
}

func (p *Platform) resolve(ctx context.Context, kind challenge.Kind, entry *pending, matched bool) error {
	scope := kind.String()
	if matched {
		if !p.take(kind, entry) {
			return ErrNoActiveRequest
		}
		if err := p.lockout.Reset(ctx, scope); err != nil {
			p.logger.Warn(ctx, "failed to reset lockout ledger", slog.Error(err))
		}
		token, err := p.tokens.Issue(entry.req.OperationID, scope, entry.req.SessionID)
		if err != nil {
			p.logger.Error(ctx, "failed to issue authentication token", slog.Error(err))
			entry.cb.OnError(challenge.ErrorUnableToProcess, msgTokenError)
			return nil
		}
		entry.cb.OnSucceeded(token)
		return nil
	}

	reached, err := p.lockout.RecordFailure(ctx, scope)
	if err != nil {
		return err
	}
	if reached {
		if !p.take(kind, entry) {
			return ErrNoActiveRequest
		}
		p.logger.Info(ctx, "sensor locked out", slog.F("kind", scope))
		entry.cb.OnError(challenge.ErrorLockout, msgLockout)
		return nil
	}
	entry.cb.OnFailed()
	return nil
}

func (p *Platform) matchTemplate(ctx context.Context, template []byte) (bool, error) {
	digests, err := p.redis.HVals(ctx, p.key("enrolled")).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrPlatformUnavailable, err)
	}
	sum := sha256.Sum256(template)
	want := hex.EncodeToString(sum[:])
	matched := 0
	for _, d := range digests {
		matched |= subtle.ConstantTimeCompare([]byte(d), []byte(want))
	}
	return matched == 1, nil
}

// LockedOut reports whether kind is currently locked out.
func (p *Platform) LockedOut(ctx context.Context, kind challenge.Kind) (bool, error) {
	return p.lockout.Locked(ctx, kind.String())
}

// ResetLockout clears the failure ledger for kind, as a successful device
// credential unlock does on a phone.
func (p *Platform) ResetLockout(ctx context.Context, kind challenge.Kind) error {
	return p.lockout.Reset(ctx, kind.String())
}

// Active reports whether a request of kind is waiting for input.
func (p *Platform) Active(kind challenge.Kind) bool {
	return p.current(kind) != nil
}

// WaitActive polls until a request of kind is waiting or ctx ends.
func (p *Platform) WaitActive(ctx context.Context, kind challenge.Kind) error {
	for !p.Active(kind) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
	return nil
}
