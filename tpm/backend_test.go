package tpm_test

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-tpm/tpm2/transport/simulator"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goBioKey/authtoken"
	"github.com/MrEthical07/goBioKey/challenge"
	"github.com/MrEthical07/goBioKey/keystore"
	"github.com/MrEthical07/goBioKey/tpm"
)

func newSimBackend(t *testing.T) *tpm.Backend {
	t.Helper()
	sim, err := simulator.OpenSimulator()
	if err != nil {
		t.Fatalf("error opening TPM simulator: %v", err)
	}
	t.Cleanup(func() {
		if err := sim.Close(); err != nil {
			t.Error(err)
		}
	})
	return tpm.NewBackend(sim, slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}))
}

func TestBackendMACIsStablePerBlob(t *testing.T) {
	ctx := context.Background()
	b := newSimBackend(t)

	blob, err := b.NewMaterial(ctx, "acct-1")
	if err != nil {
		t.Fatalf("NewMaterial: %v", err)
	}
	first, err := b.MAC(ctx, "acct-1", blob, []byte("acct-1"))
	if err != nil {
		t.Fatalf("MAC: %v", err)
	}
	second, err := b.MAC(ctx, "acct-1", blob, []byte("acct-1"))
	if err != nil {
		t.Fatalf("MAC: %v", err)
	}
	if len(first) != 32 || !bytes.Equal(first, second) {
		t.Fatalf("expected stable 32-byte MAC, got %x and %x", first, second)
	}

	other, err := b.NewMaterial(ctx, "acct-1")
	if err != nil {
		t.Fatalf("NewMaterial: %v", err)
	}
	third, err := b.MAC(ctx, "acct-1", other, []byte("acct-1"))
	if err != nil {
		t.Fatalf("MAC: %v", err)
	}
	if bytes.Equal(first, third) {
		t.Fatal("expected distinct keys for distinct blobs")
	}
}

func TestBackendRejectsMalformedBlob(t *testing.T) {
	b := newSimBackend(t)
	if _, err := b.MAC(context.Background(), "acct-1", []byte{1, 2, 3}, []byte("acct-1")); err == nil {
		t.Fatal("expected malformed blob to be rejected")
	}
	if _, err := tpm.Open("/dev/null"); err == nil {
		t.Fatal("expected unsupported device path to be rejected")
	}
}

type fixedEpoch struct{ n atomic.Uint64 }

func (f *fixedEpoch) EnrollmentEpoch(context.Context) (uint64, error) { return f.n.Load(), nil }

func TestBackendWithStore(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	tokens, err := authtoken.NewEphemeral(0)
	if err != nil {
		t.Fatalf("NewEphemeral: %v", err)
	}
	store, err := keystore.New(keystore.DefaultConfig(), keystore.Deps{
		Records:    keystore.NewRedisRecords(client, "tpm"),
		Backend:    newSimBackend(t),
		Verifier:   tokens,
		Enrollment: &fixedEpoch{},
	})
	if err != nil {
		t.Fatalf("keystore.New: %v", err)
	}

	if err := store.Generate(ctx, "acct-1"); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	h, err := store.PrepareDerivation(ctx, "acct-1")
	if !errors.Is(err, keystore.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	token, err := tokens.Issue(h.OperationID, challenge.KindBiometric.String(), "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	h.Authorize(token)
	secret, err := store.Derive(ctx, h)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if len(secret) != 32 {
		t.Fatalf("expected 32-byte secret, got %d", len(secret))
	}
}
