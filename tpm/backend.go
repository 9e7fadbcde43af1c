package tpm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cdr.dev/slog/v3"
	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"

	"github.com/MrEthical07/goBioKey/internal"
)

const blobVersion byte = 0x01

// maxMessage is the minimum TPM2B_MAX_BUFFER every TPM accepts, so one
// SequenceUpdate always suffices.
const maxMessage = 1024

// Open opens a TPM character device. Only the kernel resource managers are
// accepted.
func Open(path string) (transport.TPMCloser, error) {
	switch path {
	case "/dev/tpmrm0", "/dev/tpmrm1":
		return transport.OpenTPM(path)
	default:
		return nil, fmt.Errorf("unsupported TPM device path: %s", path)
	}
}

// Backend is a keystore.Backend backed by a TPM.
type Backend struct {
	mu     sync.Mutex
	device transport.TPM
	logger slog.Logger
}

// NewBackend returns a Backend using device. Commands are serialized.
func NewBackend(device transport.TPM, logger slog.Logger) *Backend {
	return &Backend{device: device, logger: logger.Named("tpm")}
}

// NewMaterial implements keystore.Backend. The blob is the unique value of
// the record's primary key; creating the key once verifies the TPM accepts it.
func (b *Backend) NewMaterial(ctx context.Context, id string) ([]byte, error) {
	unique, err := internal.NewRandom(internal.MaterialSize)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	key, err := b.createKey(unique)
	if err != nil {
		return nil, err
	}
	if err := b.flush(key.ObjectHandle); err != nil {
		return nil, err
	}
	b.logger.Debug(ctx, "created TPM key template", slog.F("key_id", id))

	return append([]byte{blobVersion}, unique...), nil
}

// MAC implements keystore.Backend.
func (b *Backend) MAC(ctx context.Context, id string, blob, msg []byte) (mac []byte, err error) {
	if len(blob) != 1+internal.MaterialSize || blob[0] != blobVersion {
		return nil, errors.New("tpm: malformed key blob")
	}
	if len(msg) > maxMessage {
		return nil, errors.New("tpm: message too long")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	key, err := b.createKey(blob[1:])
	if err != nil {
		return nil, err
	}
	defer func() {
		if ferr := b.flush(key.ObjectHandle); ferr != nil && err == nil {
			err = ferr
		}
	}()

	sequenceAuth, err := internal.NewRandom(16)
	if err != nil {
		return nil, err
	}
	start, err := tpm2.HmacStart{
		Handle: tpm2.AuthHandle{
			Handle: key.ObjectHandle,
			Name:   key.Name,
			Auth:   tpm2.PasswordAuth(nil),
		},
		Auth: tpm2.TPM2BAuth{Buffer: sequenceAuth},
		// Null uses the algorithm from the key scheme.
		HashAlg: tpm2.TPMAlgNull,
	}.Execute(b.device)
	if err != nil {
		return nil, fmt.Errorf("tpm: HmacStart: %w", err)
	}
	seq := tpm2.AuthHandle{
		Handle: start.SequenceHandle,
		Auth:   tpm2.PasswordAuth(sequenceAuth),
	}

	if _, err := (tpm2.SequenceUpdate{
		SequenceHandle: seq,
		Buffer:         tpm2.TPM2BMaxBuffer{Buffer: msg},
	}).Execute(b.device); err != nil {
		// SequenceComplete was never reached, so the sequence object is still loaded.
		_ = b.flush(start.SequenceHandle)
		return nil, fmt.Errorf("tpm: SequenceUpdate: %w", err)
	}

	done, err := tpm2.SequenceComplete{
		SequenceHandle: seq,
		Hierarchy:      tpm2.TPMRHOwner,
	}.Execute(b.device)
	if err != nil {
		_ = b.flush(start.SequenceHandle)
		return nil, fmt.Errorf("tpm: SequenceComplete: %w", err)
	}
	b.logger.Debug(ctx, "computed TPM HMAC", slog.F("key_id", id))
	return done.Result.Buffer, nil
}

func (b *Backend) createKey(unique []byte) (*tpm2.CreatePrimaryResponse, error) {
	rsp, err := tpm2.CreatePrimary{
		PrimaryHandle: tpm2.AuthHandle{
			Handle: tpm2.TPMRHOwner,
			Auth:   tpm2.PasswordAuth(nil),
		},
		InPublic: tpm2.New2B(tpm2.TPMTPublic{
			Type:    tpm2.TPMAlgKeyedHash,
			NameAlg: tpm2.TPMAlgSHA256,
			ObjectAttributes: tpm2.TPMAObject{
				SignEncrypt:         true,
				FixedTPM:            true,
				FixedParent:         true,
				SensitiveDataOrigin: true,
				UserWithAuth:        true,
			},
			Parameters: tpm2.NewTPMUPublicParms(tpm2.TPMAlgKeyedHash,
				&tpm2.TPMSKeyedHashParms{
					Scheme: tpm2.TPMTKeyedHashScheme{
						Scheme: tpm2.TPMAlgHMAC,
						Details: tpm2.NewTPMUSchemeKeyedHash(tpm2.TPMAlgHMAC,
							&tpm2.TPMSSchemeHMAC{HashAlg: tpm2.TPMAlgSHA256}),
					},
				}),
			Unique: tpm2.NewTPMUPublicID(tpm2.TPMAlgKeyedHash,
				&tpm2.TPM2BDigest{Buffer: unique}),
		}),
	}.Execute(b.device)
	if err != nil {
		return nil, fmt.Errorf("tpm: create hmac key: %w", err)
	}
	return rsp, nil
}

func (b *Backend) flush(h tpm2.TPMHandle) error {
	if _, err := (tpm2.FlushContext{FlushHandle: h}).Execute(b.device); err != nil {
		return fmt.Errorf("tpm: flush 0x%x: %w", h.HandleValue(), err)
	}
	return nil
}
