package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})

	return NewRegistry(client, "dev")
}

var testAttrs = Attributes{
	IP:             "203.0.113.7",
	UserAgent:      "Mozilla/5.0 (Windows NT 10.0) Chrome/126.0 Safari/537.36",
	AcceptLanguage: "en-US",
	AcceptEncoding: "gzip",
}

func TestRegisterNewDeviceIsUntrusted(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	fp := Fingerprint(testAttrs)
	rec, err := reg.Register(ctx, "acct-1", fp, testAttrs, "Berlin, DE")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if rec.Trusted {
		t.Fatal("expected new device to start untrusted")
	}
	if rec.ID == "" || rec.Fingerprint != fp {
		t.Fatalf("record fields mismatch: %+v", rec)
	}
	if rec.Browser != "Chrome" || rec.OS != "Windows" {
		t.Fatalf("descriptor mismatch: %s/%s", rec.Browser, rec.OS)
	}
}

func TestRegisterExistingDeviceKeepsIdentityAndTrust(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	fp := Fingerprint(testAttrs)
	first, err := reg.Register(ctx, "acct-1", fp, testAttrs, "")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := reg.SetTrusted(ctx, "acct-1", first.ID, true); err != nil {
		t.Fatalf("SetTrusted failed: %v", err)
	}

	time.Sleep(1100 * time.Millisecond)
	again, err := reg.Register(ctx, "acct-1", fp, testAttrs, "")
	if err != nil {
		t.Fatalf("re-Register failed: %v", err)
	}
	if again.ID != first.ID {
		t.Fatal("expected stable device id across logins")
	}
	if !again.Trusted {
		t.Fatal("expected trust bit preserved on touch")
	}
	if again.LastSeen <= first.LastSeen {
		t.Fatal("expected last-seen to advance")
	}
	if again.FirstSeen != first.FirstSeen {
		t.Fatal("expected first-seen unchanged")
	}
}

func TestLookupUnknownFingerprint(t *testing.T) {
	reg := newTestRegistry(t)

	if _, err := reg.Lookup(context.Background(), "acct-1", "nope"); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestSetTrustedUnknownDevice(t *testing.T) {
	reg := newTestRegistry(t)

	if _, err := reg.SetTrusted(context.Background(), "acct-1", "missing", true); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestRemoveDevice(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	fp := Fingerprint(testAttrs)
	rec, err := reg.Register(ctx, "acct-1", fp, testAttrs, "")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	removed, err := reg.Remove(ctx, "acct-1", rec.ID)
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if removed.Fingerprint != fp {
		t.Fatalf("removed wrong device: %+v", removed)
	}

	if _, err := reg.Lookup(ctx, "acct-1", fp); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected device gone, got %v", err)
	}
	if _, err := reg.Remove(ctx, "acct-1", rec.ID); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound on double remove, got %v", err)
	}
}

func TestListOrdersByLastSeen(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	older := testAttrs
	older.UserAgent = "older-agent"
	if _, err := reg.Register(ctx, "acct-1", Fingerprint(older), older, ""); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	time.Sleep(1100 * time.Millisecond)
	newer := testAttrs
	newer.UserAgent = "newer-agent"
	newest, err := reg.Register(ctx, "acct-1", Fingerprint(newer), newer, "")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	list, err := reg.List(ctx, "acct-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(list))
	}
	if list[0].ID != newest.ID {
		t.Fatal("expected most recently seen device first")
	}
}

func TestAccountsAreIsolated(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	fp := Fingerprint(testAttrs)
	if _, err := reg.Register(ctx, "acct-1", fp, testAttrs, ""); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if _, err := reg.Lookup(ctx, "acct-2", fp); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected fingerprint unknown for other account, got %v", err)
	}
}
