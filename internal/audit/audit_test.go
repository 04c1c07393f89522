package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestDispatcherDeliversInOrder(t *testing.T) {
	sink := NewChannelSink(8)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)

	d.Emit(context.Background(), Event{Type: LoginFailure, IdentityID: "u1"})
	d.Emit(context.Background(), Event{Type: AccountLocked, IdentityID: "u1"})
	d.Close()

	first := <-sink.Events()
	second := <-sink.Events()
	if first.Type != LoginFailure || second.Type != AccountLocked {
		t.Fatalf("unexpected order: %s, %s", first.Type, second.Type)
	}
}

func TestDisabledDispatcherIsNilSafe(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{})
	if d != nil {
		t.Fatal("disabled dispatcher should be nil")
	}
	d.Emit(context.Background(), Event{Type: Logout})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher should report zero drops")
	}
}

type blockingSink struct{ release chan struct{} }

func (b blockingSink) Emit(context.Context, Event) { <-b.release }

func TestDropIfFull(t *testing.T) {
	sink := blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{Type: RateLimited})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops with a stalled sink")
	}
	close(sink.release)
	d.Close()
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONWriterSink(&buf)
	s.Emit(context.Background(), Event{Type: LoginSuccess, IdentityID: "u1", Success: true, Timestamp: time.Unix(0, 0).UTC()})

	var got map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &got); err != nil {
		t.Fatalf("invalid JSON line: %v", err)
	}
	if got["type"] != LoginSuccess || got["identity_id"] != "u1" {
		t.Fatalf("unexpected event %v", got)
	}
}

func TestZapSinkLevels(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s := NewZapSink(zap.New(core))

	s.Emit(context.Background(), Event{Type: LoginSuccess, Success: true})
	s.Emit(context.Background(), Event{Type: LoginFailure, Reason: "unknown_identity"})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[1].Level != zapcore.WarnLevel {
		t.Fatalf("unexpected levels %v %v", entries[0].Level, entries[1].Level)
	}
	if entries[1].ContextMap()["reason"] != "unknown_identity" {
		t.Fatalf("missing reason field: %v", entries[1].ContextMap())
	}
}
