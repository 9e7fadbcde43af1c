package keystore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"

	"github.com/MrEthical07/goBioKey/authtoken"
	"github.com/MrEthical07/goBioKey/challenge"
	"github.com/MrEthical07/goBioKey/internal"
)

// SecretStore is the secret lifecycle contract used by the controller.
type SecretStore interface {
	Generate(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	PrepareDerivation(ctx context.Context, id string) (*Handle, error)
	Derive(ctx context.Context, h *Handle) ([]byte, error)
}

// TokenVerifier checks a platform authentication token for one operation.
type TokenVerifier interface {
	VerifyFor(token, operationID string) (*authtoken.Claims, error)
}

// EnrollmentSource reports the platform's current enrollment epoch. The
// epoch changes whenever the set of enrolled biometrics changes.
type EnrollmentSource interface {
	EnrollmentEpoch(ctx context.Context) (uint64, error)
}

// GeneratePolicy decides what Generate does when a usable record exists.
type GeneratePolicy uint8

const (
	// GenerateKeepExisting keeps a valid record so the derived secret stays
	// stable. Invalidated records are replaced.
	GenerateKeepExisting GeneratePolicy = iota
	// GenerateFailIfExists reports ErrGenerationFailed for a valid record.
	GenerateFailIfExists
)

// Config controls Store behavior.
type Config struct {
	GeneratePolicy GeneratePolicy `yaml:"generate_policy"`
	// GrantTTL is how long consumed token IDs are remembered. It must cover
	// the token lifetime.
	GrantTTL time.Duration `yaml:"grant_ttl"`
	// AllowDeviceCredential lets device-credential tokens unlock records.
	AllowDeviceCredential bool `yaml:"allow_device_credential"`
}

// DefaultConfig returns the default Store configuration.
func DefaultConfig() Config {
	return Config{
		GeneratePolicy: GenerateKeepExisting,
		GrantTTL:       2 * time.Minute,
	}
}

// Deps are the collaborators of a Store.
type Deps struct {
	Records    RecordStore
	Backend    Backend
	Verifier   TokenVerifier
	Enrollment EnrollmentSource
	Clock      quartz.Clock
	Logger     slog.Logger
}

// Handle is a prepared derivation for one identifier. It becomes usable once
// a platform token is attached with Authorize, and is spent by Derive.
type Handle struct {
	Identifier  string
	OperationID string

	mu    sync.Mutex
	token string
	spent bool
}

// Authorize attaches the token the platform issued for this operation.
func (h *Handle) Authorize(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.spent {
		h.token = token
	}
}

func (h *Handle) take() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.spent || h.token == "" {
		return "", false
	}
	token := h.token
	h.token = ""
	h.spent = true
	return token, true
}

// Store implements SecretStore over a RecordStore and a Backend.
type Store struct {
	records  RecordStore
	backend  Backend
	verifier TokenVerifier
	enroll   EnrollmentSource
	clock    quartz.Clock
	logger   slog.Logger
	config   Config
}

// New returns a Store. Records, Backend, Verifier and Enrollment are required.
func New(cfg Config, deps Deps) (*Store, error) {
	if deps.Records == nil || deps.Backend == nil || deps.Verifier == nil || deps.Enrollment == nil {
		return nil, errors.New("keystore: records, backend, verifier and enrollment are required")
	}
	if cfg.GrantTTL <= 0 {
		return nil, errors.New("keystore: grant TTL must be > 0")
	}
	if cfg.GeneratePolicy > GenerateFailIfExists {
		return nil, errors.New("keystore: unknown generate policy")
	}
	if deps.Clock == nil {
		deps.Clock = quartz.NewReal()
	}
	return &Store{
		records:  deps.Records,
		backend:  deps.Backend,
		verifier: deps.Verifier,
		enroll:   deps.Enrollment,
		clock:    deps.Clock,
		logger:   deps.Logger.Named("keystore"),
		config:   cfg,
	}, nil
}

// Generate creates the record for id, following the configured policy when
// one already exists.
func (s *Store) Generate(ctx context.Context, id string) error {
	if !validIdentifier(id) {
		return ErrInvalidIdentifier
	}
	epoch, err := s.epoch(ctx)
	if err != nil {
		return err
	}

	cur, err := s.records.Get(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		cur = nil
	case errors.Is(err, ErrCorruptRecord):
		// An undecodable record cannot be compared, so it cannot be swapped
		// atomically either. Drop it first.
		s.logger.Warn(ctx, "replacing corrupt record", slog.F("key_id", id), slog.Error(err))
		if err := s.records.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		cur = nil
	case err != nil:
		return err
	}

	if cur != nil && s.usable(cur, epoch) {
		if s.config.GeneratePolicy == GenerateFailIfExists {
			return fmt.Errorf("%w: record already exists", ErrGenerationFailed)
		}
		s.logger.Debug(ctx, "keeping existing record", slog.F("key_id", id))
		return nil
	}

	blob, err := s.backend.NewMaterial(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	next := &Record{
		Identifier: id,
		State:      RecordValid,
		Epoch:      epoch,
		CreatedAt:  s.clock.Now("keystore", "generate").Unix(),
		Blob:       blob,
	}
	ok, err := s.records.Replace(ctx, cur, next)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: record changed concurrently", ErrGenerationFailed)
	}
	s.logger.Info(ctx, "key generated", slog.F("key_id", id), slog.F("epoch", epoch), slog.F("replaced", cur != nil))
	return nil
}

// Remove deletes the record for id. It returns ErrNotFound when no record
// exists.
func (s *Store) Remove(ctx context.Context, id string) error {
	if !validIdentifier(id) {
		return ErrInvalidIdentifier
	}
	if err := s.records.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info(ctx, "key removed", slog.F("key_id", id))
	return nil
}

// PrepareDerivation checks the record for id and returns an unauthorized
// Handle together with ErrUnauthenticated. Any other error means no challenge
// should be started.
func (s *Store) PrepareDerivation(ctx context.Context, id string) (*Handle, error) {
	if !validIdentifier(id) {
		return nil, ErrInvalidIdentifier
	}
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	return &Handle{Identifier: id, OperationID: internal.NewOperationID()}, ErrUnauthenticated
}

// Derive verifies and consumes the handle's token, then returns
// HMAC-SHA256(identifier) under the record material. The caller owns the
// returned slice and should zero it after use.
func (s *Store) Derive(ctx context.Context, h *Handle) ([]byte, error) {
	if h == nil || !internal.ValidOperationID(h.OperationID) {
		return nil, ErrUnauthenticated
	}
	token, ok := h.take()
	if !ok {
		return nil, ErrUnauthenticated
	}

	claims, err := s.verifier.VerifyFor(token, h.OperationID)
	if err != nil {
		s.logger.Warn(ctx, "authentication token rejected", slog.F("key_id", h.Identifier), slog.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.Kind != challenge.KindBiometric.String() && !s.config.AllowDeviceCredential {
		return nil, fmt.Errorf("%w: %s authentication cannot unlock keys", ErrUnauthenticated, claims.Kind)
	}
	fresh, err := s.records.ConsumeGrant(ctx, claims.ID, s.config.GrantTTL)
	if err != nil {
		return nil, err
	}
	if !fresh {
		s.logger.Warn(ctx, "authentication token replayed", slog.F("key_id", h.Identifier))
		return nil, fmt.Errorf("%w: token already used", ErrUnauthenticated)
	}

	rec, err := s.load(ctx, h.Identifier)
	if err != nil {
		return nil, err
	}
	secret, err := s.backend.MAC(ctx, h.Identifier, rec.Blob, []byte(h.Identifier))
	if err != nil {
		s.logger.Error(ctx, "backend failed to derive secret", slog.F("key_id", h.Identifier), slog.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrDeriveFailed, err)
	}
	return secret, nil
}

// load returns a usable record, marking it invalidated when the enrollment
// epoch moved on.
func (s *Store) load(ctx context.Context, id string) (*Record, error) {
	rec, err := s.records.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrKeyMissing
		}
		if errors.Is(err, ErrCorruptRecord) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidated, err)
		}
		return nil, err
	}
	if rec.State == RecordInvalidated {
		return nil, ErrInvalidated
	}

	epoch, err := s.epoch(ctx)
	if err != nil {
		return nil, err
	}
	if rec.Epoch != epoch {
		marked := *rec
		marked.State = RecordInvalidated
		if _, err := s.records.Replace(ctx, rec, &marked); err != nil {
			s.logger.Warn(ctx, "failed to mark record invalidated", slog.F("key_id", id), slog.Error(err))
		}
		s.logger.Info(ctx, "key invalidated by enrollment change",
			slog.F("key_id", id), slog.F("record_epoch", rec.Epoch), slog.F("epoch", epoch))
		return nil, ErrInvalidated
	}
	return rec, nil
}

func (s *Store) usable(rec *Record, epoch uint64) bool {
	return rec.State == RecordValid && rec.Epoch == epoch
}

func (s *Store) epoch(ctx context.Context) (uint64, error) {
	epoch, err := s.enroll.EnrollmentEpoch(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: enrollment: %v", ErrStoreUnavailable, err)
	}
	return epoch, nil
}
