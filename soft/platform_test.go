package soft

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/alicebob/miniredis/v2"
	"github.com/coder/quartz"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goBioKey/challenge"
	"github.com/MrEthical07/goBioKey/pin"
)

type recorder struct {
	mu     sync.Mutex
	events []string
	codes  []int
	token  string
	got    chan struct{}
}

func newRecorder() *recorder {
	return &recorder{got: make(chan struct{}, 16)}
}

func (r *recorder) add(ev string, code int) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.codes = append(r.codes, code)
	r.mu.Unlock()
	r.got <- struct{}{}
}

func (r *recorder) OnFailed()                  { r.add("failed", 0) }
func (r *recorder) OnHelp(code int, _ string)  { r.add("help", code) }
func (r *recorder) OnError(code int, _ string) { r.add("error", code) }
func (r *recorder) OnSucceeded(token string) {
	r.mu.Lock()
	r.token = token
	r.mu.Unlock()
	r.add("succeeded", 0)
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.got:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for callback")
	}
}

func (r *recorder) last() (string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return "", 0
	}
	return r.events[len(r.events)-1], r.codes[len(r.codes)-1]
}

func newPlatform(t *testing.T, cfg Config, clock quartz.Clock) (*Platform, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	hasher, err := pin.NewHasher(pin.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	p, err := New(client, cfg, Deps{
		Hasher: hasher,
		Clock:  clock,
		Logger: slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, mr
}

func TestProbeReflectsEnrollment(t *testing.T) {
	ctx := context.Background()
	p, _ := newPlatform(t, DefaultConfig(), nil)

	caps, err := p.Biometric().Probe(ctx)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !caps.HardwareDetected || caps.HasEnrolledFactors {
		t.Fatalf("unexpected caps before enrollment %+v", caps)
	}
	if err := p.Enroll(ctx, "right-thumb", []byte("ridge-pattern")); err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	caps, _ = p.Biometric().Probe(ctx)
	if !caps.Available() {
		t.Fatalf("expected available after enrollment, got %+v", caps)
	}

	caps, _ = p.DeviceCredential().Probe(ctx)
	if caps.HasEnrolledFactors {
		t.Fatal("credential must not be available before it is set")
	}
	if err := p.SetDeviceCredential(ctx, "4821"); err != nil {
		t.Fatalf("SetDeviceCredential: %v", err)
	}
	caps, _ = p.DeviceCredential().Probe(ctx)
	if !caps.Available() {
		t.Fatal("expected credential to be available")
	}

	cfg := DefaultConfig()
	cfg.HardwareDetected = false
	noHW, _ := newPlatform(t, cfg, nil)
	caps, _ = noHW.Biometric().Probe(ctx)
	if caps.HardwareDetected {
		t.Fatal("expected no hardware")
	}
}

func TestEnrollmentEpoch(t *testing.T) {
	ctx := context.Background()
	p, _ := newPlatform(t, DefaultConfig(), nil)

	if e, _ := p.EnrollmentEpoch(ctx); e != 0 {
		t.Fatalf("expected epoch 0, got %d", e)
	}
	_ = p.Enroll(ctx, "a", []byte("1"))
	_ = p.Enroll(ctx, "b", []byte("2"))
	if e, _ := p.EnrollmentEpoch(ctx); e != 2 {
		t.Fatalf("expected epoch 2, got %d", e)
	}
	_ = p.Unenroll(ctx, "missing")
	if e, _ := p.EnrollmentEpoch(ctx); e != 2 {
		t.Fatalf("removing nothing must not advance the epoch, got %d", e)
	}
	_ = p.Unenroll(ctx, "a")
	if e, _ := p.EnrollmentEpoch(ctx); e != 3 {
		t.Fatalf("expected epoch 3, got %d", e)
	}
}

func TestTouchSuccessIssuesToken(t *testing.T) {
	ctx := context.Background()
	p, _ := newPlatform(t, DefaultConfig(), nil)
	_ = p.Enroll(ctx, "thumb", []byte("ridge"))

	rec := newRecorder()
	req := challenge.Request{SessionID: "s1", OperationID: "op-1", Kind: challenge.KindBiometric}
	if _, err := p.Biometric().Authenticate(ctx, req, rec); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	if err := p.Touch(ctx, []byte("other")); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	rec.wait(t)
	if ev, _ := rec.last(); ev != "failed" {
		t.Fatalf("expected failed, got %s", ev)
	}

	if err := p.Acquire(challenge.HelpPartial, "Partial fingerprint detected."); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	rec.wait(t)
	if ev, code := rec.last(); ev != "help" || code != challenge.HelpPartial {
		t.Fatalf("expected help, got %s %d", ev, code)
	}

	if err := p.Touch(ctx, []byte("ridge")); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	rec.wait(t)
	if ev, _ := rec.last(); ev != "succeeded" {
		t.Fatalf("expected succeeded, got %s", ev)
	}
	claims, err := p.Tokens().VerifyFor(rec.token, "op-1")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if claims.Kind != "biometric" || claims.SessionID != "s1" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if err := p.Touch(ctx, []byte("ridge")); !errors.Is(err, ErrNoActiveRequest) {
		t.Fatalf("expected ErrNoActiveRequest after success, got %v", err)
	}
	if n, _ := p.lockout.GetFailureCount(ctx, "biometric"); n != 0 {
		t.Fatalf("expected ledger reset after success, got %d", n)
	}
}

func TestLockoutAfterThreshold(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.LockoutThreshold = 3
	p, _ := newPlatform(t, cfg, nil)
	_ = p.Enroll(ctx, "thumb", []byte("ridge"))

	rec := newRecorder()
	if _, err := p.Biometric().Authenticate(ctx, challenge.Request{OperationID: "op"}, rec); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := p.Touch(ctx, []byte("wrong")); err != nil {
			t.Fatalf("Touch %d: %v", i, err)
		}
		rec.wait(t)
	}
	if ev, code := rec.last(); ev != "error" || code != challenge.ErrorLockout {
		t.Fatalf("expected lockout, got %s %d", ev, code)
	}
	if locked, _ := p.LockedOut(ctx, challenge.KindBiometric); !locked {
		t.Fatal("expected platform to report lockout")
	}

	// A new request while locked out fails straight away.
	again := newRecorder()
	if _, err := p.Biometric().Authenticate(ctx, challenge.Request{OperationID: "op2"}, again); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	again.wait(t)
	if ev, code := again.last(); ev != "error" || code != challenge.ErrorLockout {
		t.Fatalf("expected immediate lockout, got %s %d", ev, code)
	}

	if err := p.ResetLockout(ctx, challenge.KindBiometric); err != nil {
		t.Fatalf("ResetLockout: %v", err)
	}
	if locked, _ := p.LockedOut(ctx, challenge.KindBiometric); locked {
		t.Fatal("expected lockout to be cleared")
	}
}

func TestCancelDeliversCanceledOnce(t *testing.T) {
	ctx := context.Background()
	p, _ := newPlatform(t, DefaultConfig(), nil)
	_ = p.Enroll(ctx, "thumb", []byte("ridge"))

	rec := newRecorder()
	cancel, err := p.Biometric().Authenticate(ctx, challenge.Request{OperationID: "op"}, rec)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	cancel()
	cancel()
	rec.wait(t)
	if ev, code := rec.last(); ev != "error" || code != challenge.ErrorCanceled {
		t.Fatalf("expected canceled, got %s %d", ev, code)
	}
	select {
	case <-rec.got:
		t.Fatal("cancel must deliver exactly one callback")
	case <-time.After(50 * time.Millisecond):
	}
	if p.Active(challenge.KindBiometric) {
		t.Fatal("request must be gone after cancel")
	}
}

func TestNewRequestSupersedesOld(t *testing.T) {
	ctx := context.Background()
	p, _ := newPlatform(t, DefaultConfig(), nil)
	_ = p.Enroll(ctx, "thumb", []byte("ridge"))

	first := newRecorder()
	second := newRecorder()
	if _, err := p.Biometric().Authenticate(ctx, challenge.Request{OperationID: "op1"}, first); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if _, err := p.Biometric().Authenticate(ctx, challenge.Request{OperationID: "op2"}, second); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	first.wait(t)
	if ev, code := first.last(); ev != "error" || code != challenge.ErrorCanceled {
		t.Fatalf("expected first request to be canceled, got %s %d", ev, code)
	}
	if err := p.Touch(ctx, []byte("ridge")); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	second.wait(t)
	if ev, _ := second.last(); ev != "succeeded" {
		t.Fatalf("expected second request to succeed, got %s", ev)
	}
}

func TestCredentialPromptAndTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	mClock := quartz.NewMock(t)
	p, _ := newPlatform(t, DefaultConfig(), mClock)
	if err := p.SetDeviceCredential(ctx, "4821"); err != nil {
		t.Fatalf("SetDeviceCredential: %v", err)
	}

	rec := newRecorder()
	if _, err := p.DeviceCredential().Authenticate(ctx, challenge.Request{OperationID: "op", WaitTime: 10 * time.Second}, rec); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if err := p.SubmitCredential(ctx, "0000"); err != nil {
		t.Fatalf("SubmitCredential: %v", err)
	}
	rec.wait(t)
	if ev, _ := rec.last(); ev != "failed" {
		t.Fatalf("expected failed, got %s", ev)
	}

	mClock.Advance(10 * time.Second).MustWait(ctx)
	rec.wait(t)
	if ev, code := rec.last(); ev != "error" || code != challenge.ErrorTimeout {
		t.Fatalf("expected timeout, got %s %d", ev, code)
	}

	ok := newRecorder()
	if _, err := p.DeviceCredential().Authenticate(ctx, challenge.Request{OperationID: "op2"}, ok); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if err := p.SubmitCredential(ctx, "4821"); err != nil {
		t.Fatalf("SubmitCredential: %v", err)
	}
	ok.wait(t)
	if ev, _ := ok.last(); ev != "succeeded" {
		t.Fatalf("expected success, got %s", ev)
	}
	claims, err := p.Tokens().VerifyFor(ok.token, "op2")
	if err != nil || claims.Kind != "credential" {
		t.Fatalf("unexpected token claims %+v err=%v", claims, err)
	}
}

func TestCredentialRehashOnUpgrade(t *testing.T) {
	ctx := context.Background()
	p, mr := newPlatform(t, DefaultConfig(), nil)
	if err := p.SetDeviceCredential(ctx, "4821"); err != nil {
		t.Fatalf("SetDeviceCredential: %v", err)
	}
	before, _ := mr.Get("bk:credential")

	strong, err := pin.NewHasher(pin.DefaultConfig())
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	p.pins = strong

	rec := newRecorder()
	if _, err := p.DeviceCredential().Authenticate(ctx, challenge.Request{OperationID: "op"}, rec); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if err := p.SubmitCredential(ctx, "4821"); err != nil {
		t.Fatalf("SubmitCredential: %v", err)
	}
	rec.wait(t)
	after, _ := mr.Get("bk:credential")
	if before == after {
		t.Fatal("expected credential hash to be upgraded")
	}
}

func TestUserCancelAndFault(t *testing.T) {
	ctx := context.Background()
	p, _ := newPlatform(t, DefaultConfig(), nil)
	_ = p.Enroll(ctx, "thumb", []byte("ridge"))

	rec := newRecorder()
	if _, err := p.Biometric().Authenticate(ctx, challenge.Request{OperationID: "op"}, rec); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if err := p.UserCancel(challenge.KindBiometric); err != nil {
		t.Fatalf("UserCancel: %v", err)
	}
	rec.wait(t)
	if ev, code := rec.last(); ev != "error" || code != challenge.ErrorUserCanceled {
		t.Fatalf("expected user cancel, got %s %d", ev, code)
	}
	if err := p.Fault(challenge.KindBiometric, challenge.ErrorVendor, "x"); !errors.Is(err, ErrNoActiveRequest) {
		t.Fatalf("expected ErrNoActiveRequest, got %v", err)
	}
	if err := p.SubmitCredential(ctx, "1234"); !errors.Is(err, ErrNoActiveRequest) {
		t.Fatalf("expected ErrNoActiveRequest, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LockoutThreshold = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected zero threshold to be rejected")
	}
	cfg = DefaultConfig()
	cfg.RedisPrefix = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected empty prefix to be rejected")
	}
}

func TestRedisDownSurfacesUnavailable(t *testing.T) {
	ctx := context.Background()
	p, mr := newPlatform(t, DefaultConfig(), nil)
	mr.Close()
	if _, err := p.Biometric().Probe(ctx); !errors.Is(err, ErrPlatformUnavailable) {
		t.Fatalf("expected ErrPlatformUnavailable, got %v", err)
	}
	if _, err := p.EnrollmentEpoch(ctx); !errors.Is(err, ErrPlatformUnavailable) {
		t.Fatalf("expected ErrPlatformUnavailable, got %v", err)
	}
}
