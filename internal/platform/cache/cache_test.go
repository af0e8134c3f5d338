package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryGetSet(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	if _, ok := c.Get(ctx, "missing"); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.Set(ctx, "k", []byte("value"), time.Minute)
	got, ok := c.Get(ctx, "k")
	if !ok || string(got) != "value" {
		t.Fatalf("expected hit with value, got %q ok=%v", got, ok)
	}

	// The cache must hold its own copy of the value.
	got[0] = 'X'
	again, ok := c.Get(ctx, "k")
	if !ok || string(again) != "value" {
		t.Fatalf("cache entry was mutated through the returned slice: %q", again)
	}
}

func TestMemoryExpiry(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), 10*time.Millisecond)
	time.Sleep(25 * time.Millisecond)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("expected expired entry to miss")
	}
}

func TestMemoryZeroTTLIgnored(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), 0)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("expected zero-ttl set to be a no-op")
	}
}

func TestMemorySweepBoundsSize(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	c.Set(ctx, "live", []byte("v"), time.Minute)
	for i := 0; i < 500; i++ {
		c.Set(ctx, "dead-"+string(rune('a'+i%26))+string(rune('a'+(i/26)%26))+string(rune('a'+i/676)), []byte("v"), time.Nanosecond)
	}

	c.mu.Lock()
	n := len(c.items)
	c.mu.Unlock()
	if n >= 500 {
		t.Fatalf("expected sweeps to drop expired entries, %d remain", n)
	}
	if _, ok := c.Get(ctx, "live"); !ok {
		t.Fatal("live entry lost during sweep")
	}
}
