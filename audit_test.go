package goBioKey

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"cdr.dev/slog/v3/sloggers/slogtest"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

type gateSink struct {
	gate chan struct{}
}

func (s *gateSink) Emit(context.Context, AuditEvent) {
	<-s.gate
}

func TestAuditDispatcherDisabled(t *testing.T) {
	d := newAuditDispatcher(AuditConfig{Enabled: false}, &countingSink{}, slogtest.Make(t, nil))
	if d != nil {
		t.Fatal("disabled audit must not start a dispatcher")
	}
	d.Emit(context.Background(), AuditEvent{EventType: "x"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher must report zero drops")
	}
}

func TestAuditDispatcherDeliversOnClose(t *testing.T) {
	sink := &countingSink{}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 64}, sink, slogtest.Make(t, nil))
	for i := 0; i < 50; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: auditEventChallengeStarted})
	}
	d.Close()
	if got := sink.count.Load(); got != 50 {
		t.Fatalf("expected 50 delivered events, got %d", got)
	}
	// Emit after close is dropped silently.
	d.Emit(context.Background(), AuditEvent{EventType: auditEventChallengeStarted})
	if got := sink.count.Load(); got != 50 {
		t.Fatalf("emit after close must be ignored, got %d", got)
	}
}

func TestAuditDispatcherDropIfFull(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1, DropIfFull: true}, sink, slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}))

	// The first event blocks the sink, the second fills the buffer.
	d.Emit(context.Background(), AuditEvent{EventType: "a"})
	deadline := time.Now().Add(2 * time.Second)
	for len(d.ch) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	d.Emit(context.Background(), AuditEvent{EventType: "b"})
	d.Emit(context.Background(), AuditEvent{EventType: "c"})
	d.Emit(context.Background(), AuditEvent{EventType: "d"})

	if got := d.Dropped(); got != 2 {
		t.Fatalf("expected 2 dropped events, got %d", got)
	}
	close(sink.gate)
	d.Close()
}

func TestAuditDispatcherBlockingRespectsContext(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1}, sink, slogtest.Make(t, nil))
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	d.Emit(context.Background(), AuditEvent{EventType: "a"})
	d.Emit(context.Background(), AuditEvent{EventType: "b"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	d.Emit(ctx, AuditEvent{EventType: "c"})
	if time.Since(start) > time.Second {
		t.Fatal("blocking emit must return when ctx ends")
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), AuditEvent{
		EventType: auditEventChallengeFailed,
		KeyID:     "acct-1",
		Code:      7,
		Attempts:  3,
		Error:     string(auditErrLockout),
	})
	sink.Emit(context.Background(), AuditEvent{EventType: auditEventSecretReleased, Success: true})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var ev AuditEvent
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Code != 7 || ev.Attempts != 3 || ev.KeyID != "acct-1" || ev.Error != "lockout" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if strings.Contains(lines[1], "key_id") {
		t.Fatalf("empty key must be omitted: %s", lines[1])
	}

	var nilSink *JSONWriterSink
	nilSink.Emit(context.Background(), AuditEvent{})
}

func TestChannelSink(t *testing.T) {
	sink := NewChannelSink(0)
	sink.Emit(context.Background(), AuditEvent{EventType: "a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink.Emit(ctx, AuditEvent{EventType: "b"})

	if ev := <-sink.Events(); ev.EventType != "a" {
		t.Fatalf("unexpected event %+v", ev)
	}
	select {
	case ev := <-sink.Events():
		t.Fatalf("cancelled emit must not deliver, got %+v", ev)
	default:
	}
}
