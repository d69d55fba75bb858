package authcore

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func TestAuditEventsReachSink(t *testing.T) {
	sink := NewChannelSink(64)
	env := newTestEnvWithSink(t, nil, sink)
	env.addAccount(t, "acct-1", nil)

	env.mustLogin(t, requestCtx("203.0.113.7", "Mozilla/5.0"))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sink.Events():
			if ev.EventType != auditEventLoginSuccess {
				continue
			}
			if !ev.Success || ev.AccountID != "acct-1" {
				t.Fatalf("unexpected login event: %+v", ev)
			}
			if ev.IP != "203.0.113.7" {
				t.Fatalf("expected client ip on the event, got %q", ev.IP)
			}
			return
		case <-deadline:
			t.Fatal("login_success audit event never arrived")
		}
	}
}

func TestAuditFailureCarriesErrorCode(t *testing.T) {
	sink := NewChannelSink(64)
	env := newTestEnvWithSink(t, nil, sink)
	env.addAccount(t, "acct-1", nil)

	ctx := requestCtx("203.0.113.7", "curl/8.0")
	if _, err := env.engine.Login(ctx, testIdentifier, "wrong-password", LoginOptions{}); !isErr(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sink.Events():
			if ev.EventType != auditEventLoginFailure {
				continue
			}
			if ev.Success || ev.Error == "" {
				t.Fatalf("failure event must carry an error code: %+v", ev)
			}
			return
		case <-deadline:
			t.Fatal("login_failure audit event never arrived")
		}
	}
}

// blockingSink parks inside Emit until released, to force backpressure.
type blockingSink struct {
	entered chan struct{}
	release chan struct{}
}

func newBlockingSink() *blockingSink {
	return &blockingSink{
		entered: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (s *blockingSink) Emit(_ context.Context, _ AuditEvent) {
	s.entered <- struct{}{}
	<-s.release
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := newBlockingSink()
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	ctx := context.Background()
	d.Emit(ctx, AuditEvent{EventType: "first"})
	// Wait until the worker is parked inside the sink so the buffer
	// state is deterministic.
	select {
	case <-sink.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never reached the sink")
	}

	d.Emit(ctx, AuditEvent{EventType: "second"}) // fills the buffer
	d.Emit(ctx, AuditEvent{EventType: "third"})  // no room left

	if got := d.Dropped(); got != 1 {
		t.Fatalf("expected 1 dropped event, got %d", got)
	}

	close(sink.release)
	d.Close()
}

func TestDispatcherCloseDrains(t *testing.T) {
	sink := NewChannelSink(16)
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 16, DropIfFull: true}, sink)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		d.Emit(ctx, AuditEvent{EventType: "shutdown-test"})
	}
	d.Close()

	received := 0
	for {
		select {
		case <-sink.Events():
			received++
			if received == 5 {
				return
			}
		default:
			t.Fatalf("expected 5 events after drain, got %d", received)
		}
	}
}

func TestDispatcherDisabled(t *testing.T) {
	d := newAuditDispatcher(AuditConfig{Enabled: false}, NewChannelSink(1))
	if d != nil {
		t.Fatal("disabled audit must not start a dispatcher")
	}
	// Nil receivers are safe.
	d.Emit(context.Background(), AuditEvent{})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher reports zero drops")
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), AuditEvent{
		Timestamp: time.Now(),
		EventType: "login_success",
		AccountID: "acct-1",
		Success:   true,
	})

	line := buf.String()
	if !strings.HasSuffix(line, "\n") {
		t.Fatal("expected newline-terminated output")
	}
	if !strings.Contains(line, `"event_type":"login_success"`) || !strings.Contains(line, `"account_id":"acct-1"`) {
		t.Fatalf("unexpected output: %s", line)
	}
}
