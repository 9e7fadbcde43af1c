package keystore

import (
	"context"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/MrEthical07/goBioKey/internal"
)

// Backend produces and uses record material.
type Backend interface {
	// NewMaterial creates material for id and returns the blob to persist.
	NewMaterial(ctx context.Context, id string) ([]byte, error)
	// MAC computes HMAC-SHA256 of msg under the material held in blob.
	MAC(ctx context.Context, id string, blob, msg []byte) ([]byte, error)
}

const (
	sealedBlobVersion byte = 0x01
	masterKeySize          = 32
)

var hkdfInfoRecord = []byte("biokey.record.seal.v1")

// SoftBackend keeps 32-byte record material sealed with XChaCha20-Poly1305
// under a key derived from a master key and the record identifier.
//
// Blob layout: [version 1][nonce 24][ciphertext+tag 48].
type SoftBackend struct {
	master []byte
}

// NewSoftBackend returns a SoftBackend. masterKey must be 32 bytes.
func NewSoftBackend(masterKey []byte) (*SoftBackend, error) {
	if len(masterKey) != masterKeySize {
		return nil, fmt.Errorf("master key must be %d bytes", masterKeySize)
	}
	return &SoftBackend{master: append([]byte(nil), masterKey...)}, nil
}

func (b *SoftBackend) aead(id string) (cipher.AEAD, error) {
	info := make([]byte, 0, len(hkdfInfoRecord)+len(id))
	info = append(info, hkdfInfoRecord...)
	info = append(info, id...)

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, b.master, nil, info), key); err != nil {
		return nil, err
	}
	defer internal.Zero(key)
	return chacha20poly1305.NewX(key)
}

// NewMaterial implements Backend.
func (b *SoftBackend) NewMaterial(_ context.Context, id string) ([]byte, error) {
	material, err := internal.NewRandom(internal.MaterialSize)
	if err != nil {
		return nil, err
	}
	defer internal.Zero(material)

	aead, err := b.aead(id)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	blob := make([]byte, 0, 1+len(nonce)+len(material)+aead.Overhead())
	blob = append(blob, sealedBlobVersion)
	blob = append(blob, nonce...)
	return aead.Seal(blob, nonce, material, additionalData(id)), nil
}

// MAC implements Backend.
func (b *SoftBackend) MAC(_ context.Context, id string, blob, msg []byte) ([]byte, error) {
	if len(blob) < 1+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead || blob[0] != sealedBlobVersion {
		return nil, errors.New("malformed sealed blob")
	}
	aead, err := b.aead(id)
	if err != nil {
		return nil, err
	}
	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	material, err := aead.Open(nil, nonce, blob[1+chacha20poly1305.NonceSizeX:], additionalData(id))
	if err != nil {
		return nil, fmt.Errorf("open sealed material: %w", err)
	}
	defer internal.Zero(material)

	mac := hmac.New(sha256.New, material)
	mac.Write(msg)
	return mac.Sum(nil), nil
}

func additionalData(id string) []byte {
	ad := make([]byte, 0, 1+len(id))
	ad = append(ad, sealedBlobVersion)
	return append(ad, id...)
}
