package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newDedup(t *testing.T, ttl time.Duration) (*Deduplicator, *miniredis.Miniredis) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)

	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() {
		if err := rdb.Close(); err != nil {
			t.Fatalf("close redis: %v", err)
		}
	})
	return NewDeduplicator(rdb, ttl), s
}

func TestDeduplicator_IsDuplicate(t *testing.T) {
	d, _ := newDedup(t, time.Minute)
	ctx := context.Background()
	fp := Fingerprint("tenant-1", "Dentista", "São Paulo", "50")

	dup, err := d.IsDuplicate(ctx, fp)
	if err != nil {
		t.Fatalf("first dedup: %v", err)
	}
	if dup {
		t.Fatalf("expected first to be non-duplicate")
	}

	dup, err = d.IsDuplicate(ctx, fp)
	if err != nil {
		t.Fatalf("second dedup: %v", err)
	}
	if !dup {
		t.Fatalf("expected second to be duplicate")
	}
}

func TestDeduplicator_ExpiresAndRelease(t *testing.T) {
	d, s := newDedup(t, time.Minute)
	ctx := context.Background()
	fp := Fingerprint("tenant-1", "pizzaria", "recife", "20")

	if dup, _ := d.IsDuplicate(ctx, fp); dup {
		t.Fatal("unexpected duplicate")
	}
	s.FastForward(2 * time.Minute)
	if dup, _ := d.IsDuplicate(ctx, fp); dup {
		t.Fatal("entry should expire after ttl")
	}

	if err := d.Release(ctx, fp); err != nil {
		t.Fatalf("release: %v", err)
	}
	if dup, _ := d.IsDuplicate(ctx, fp); dup {
		t.Fatal("released entry should be claimable again")
	}
}

func TestFingerprintNormalizes(t *testing.T) {
	a := Fingerprint("T1", "  Dentist  Clinic ", "Sao Paulo")
	b := Fingerprint("t1", "dentist clinic", "SAO PAULO")
	if a != b {
		t.Fatalf("fingerprints differ: %q vs %q", a, b)
	}
	if Fingerprint("t1", "a") == Fingerprint("t2", "a") {
		t.Fatal("different tenants must not collide")
	}
}

func TestDeduplicator_NilSafe(t *testing.T) {
	var d *Deduplicator
	if dup, err := d.IsDuplicate(context.Background(), "x"); dup || err != nil {
		t.Fatalf("nil deduplicator = %v, %v", dup, err)
	}
}
