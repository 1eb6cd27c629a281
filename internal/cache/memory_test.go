package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryProviderRoundTrip(t *testing.T) {
	m := NewMemoryProvider()
	ctx := context.Background()

	if _, err := m.Get(ctx, "missing"); err != ErrCacheMiss {
		t.Fatalf("expected cache miss, got %v", err)
	}

	if err := m.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	value, err := m.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(value) != "v" {
		t.Fatalf("unexpected value %q", value)
	}

	if err := m.Del(ctx, "k"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, err := m.Get(ctx, "k"); err != ErrCacheMiss {
		t.Fatalf("expected miss after delete, got %v", err)
	}
}

func TestMemoryProviderTTLExpiry(t *testing.T) {
	m := NewMemoryProvider()
	ctx := context.Background()

	if err := m.Set(ctx, "k", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(25 * time.Millisecond)
	if _, err := m.Get(ctx, "k"); err != ErrCacheMiss {
		t.Fatalf("expected expiry, got %v", err)
	}
}
