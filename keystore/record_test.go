package keystore

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRecordEncodeDecode(t *testing.T) {
	in := &Record{
		Identifier: "acct-1",
		State:      RecordValid,
		Epoch:      42,
		CreatedAt:  1700000000,
		Blob:       []byte{1, 2, 3},
	}
	data, err := EncodeRecord(in)
	if err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}
	if data[0] != recordFormatVersion {
		t.Fatalf("expected version byte %d, got %d", recordFormatVersion, data[0])
	}
	out, err := DecodeRecord(data)
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	if out.Identifier != in.Identifier || out.State != in.State || out.Epoch != in.Epoch ||
		out.CreatedAt != in.CreatedAt || !bytes.Equal(out.Blob, in.Blob) {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestDecodeRecordRejectsCorruption(t *testing.T) {
	good, err := EncodeRecord(&Record{Identifier: "a", State: RecordValid, Blob: []byte{9}})
	if err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}
	cases := map[string][]byte{
		"empty":     nil,
		"version":   append([]byte{9}, good[1:]...),
		"state":     append([]byte{good[0], 0}, good[2:]...),
		"truncated": good[:len(good)-1],
		"trailing":  append(append([]byte(nil), good...), 0),
	}
	for name, data := range cases {
		if _, err := DecodeRecord(data); !errors.Is(err, ErrCorruptRecord) {
			t.Fatalf("%s: expected ErrCorruptRecord, got %v", name, err)
		}
	}
}

func TestEncodeRecordRejectsBadIdentifier(t *testing.T) {
	if _, err := EncodeRecord(&Record{State: RecordValid}); !errors.Is(err, ErrInvalidIdentifier) {
		t.Fatalf("expected ErrInvalidIdentifier, got %v", err)
	}
}

func FuzzDecodeRecord(f *testing.F) {
	good, _ := EncodeRecord(&Record{Identifier: "acct", State: RecordValid, Epoch: 1, Blob: []byte("blob")})
	f.Add(good)
	f.Add([]byte{})
	f.Add([]byte{1, 1, 255})

	f.Fuzz(func(t *testing.T, data []byte) {
		rec, err := DecodeRecord(data)
		if err != nil {
			return
		}
		again, err := EncodeRecord(rec)
		if err != nil {
			return
		}
		if !bytes.Equal(again, data) {
			t.Fatalf("decode/encode not canonical")
		}
	})
}

func newRedisRecords(t *testing.T) (*RedisRecords, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisRecords(client, "bk"), mr
}

func TestRedisRecordsReplaceIsCompareAndSwap(t *testing.T) {
	recs, _ := newRedisRecords(t)
	ctx := context.Background()

	first := &Record{Identifier: "acct-1", State: RecordValid, Epoch: 1, Blob: []byte("a")}
	ok, err := recs.Replace(ctx, nil, first)
	if err != nil || !ok {
		t.Fatalf("create: ok=%v err=%v", ok, err)
	}
	ok, err = recs.Replace(ctx, nil, first)
	if err != nil || ok {
		t.Fatalf("second create must fail: ok=%v err=%v", ok, err)
	}

	second := &Record{Identifier: "acct-1", State: RecordValid, Epoch: 2, Blob: []byte("b")}
	stale := &Record{Identifier: "acct-1", State: RecordValid, Epoch: 9, Blob: []byte("z")}
	if ok, _ := recs.Replace(ctx, stale, second); ok {
		t.Fatal("swap against stale record must fail")
	}
	if ok, err := recs.Replace(ctx, first, second); err != nil || !ok {
		t.Fatalf("swap: ok=%v err=%v", ok, err)
	}

	got, err := recs.Get(ctx, "acct-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Epoch != 2 || string(got.Blob) != "b" {
		t.Fatalf("unexpected record %+v", got)
	}

	if err := recs.Delete(ctx, "acct-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := recs.Get(ctx, "acct-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := recs.Delete(ctx, "acct-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestRedisRecordsConsumeGrant(t *testing.T) {
	recs, mr := newRedisRecords(t)
	ctx := context.Background()

	ok, err := recs.ConsumeGrant(ctx, "jti-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first consume: ok=%v err=%v", ok, err)
	}
	ok, err = recs.ConsumeGrant(ctx, "jti-1", time.Minute)
	if err != nil || ok {
		t.Fatalf("replay must be rejected: ok=%v err=%v", ok, err)
	}
	if ttl := mr.TTL("bk:grant:jti-1"); ttl != time.Minute {
		t.Fatalf("expected grant TTL, got %v", ttl)
	}
	if ok, _ := recs.ConsumeGrant(ctx, "", time.Minute); ok {
		t.Fatal("empty grant id must never be accepted")
	}
}

func TestSoftBackendSealing(t *testing.T) {
	ctx := context.Background()
	b, err := NewSoftBackend(bytes.Repeat([]byte{1}, 32))
	if err != nil {
		t.Fatalf("NewSoftBackend: %v", err)
	}
	if _, err := NewSoftBackend([]byte("short")); err == nil {
		t.Fatal("expected short master key to be rejected")
	}

	blob, err := b.NewMaterial(ctx, "acct-1")
	if err != nil {
		t.Fatalf("NewMaterial: %v", err)
	}
	mac1, err := b.MAC(ctx, "acct-1", blob, []byte("acct-1"))
	if err != nil {
		t.Fatalf("MAC: %v", err)
	}
	mac2, _ := b.MAC(ctx, "acct-1", blob, []byte("acct-1"))
	if !bytes.Equal(mac1, mac2) || len(mac1) != 32 {
		t.Fatal("expected deterministic 32-byte MAC")
	}

	if _, err := b.MAC(ctx, "acct-2", blob, []byte("acct-1")); err == nil {
		t.Fatal("blob sealed for one identifier must not open for another")
	}
	tampered := append([]byte(nil), blob...)
	tampered[len(tampered)-1] ^= 0xff
	if _, err := b.MAC(ctx, "acct-1", tampered, []byte("acct-1")); err == nil {
		t.Fatal("expected tampered blob to fail")
	}
	if _, err := b.MAC(ctx, "acct-1", []byte{1}, nil); err == nil {
		t.Fatal("expected malformed blob to fail")
	}

	other, _ := NewSoftBackend(bytes.Repeat([]byte{2}, 32))
	if _, err := other.MAC(ctx, "acct-1", blob, []byte("acct-1")); err == nil {
		t.Fatal("expected foreign master key to fail")
	}
}
