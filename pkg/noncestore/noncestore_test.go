package noncestore

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_FirstUseIsFresh(t *testing.T) {
	s := NewMemoryStore()
	fresh, err := s.CheckAndSet(context.Background(), "n1", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if !fresh {
		t.Fatal("expected first use of a nonce to be fresh")
	}
}

func TestMemoryStore_ReplayIsRejected(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if _, err := s.CheckAndSet(ctx, "n1", time.Minute); err != nil {
		t.Fatal(err)
	}
	fresh, err := s.CheckAndSet(ctx, "n1", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if fresh {
		t.Fatal("expected replayed nonce to be rejected")
	}
}

func TestMemoryStore_ExpiresAfterTTL(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if _, err := s.CheckAndSet(ctx, "n1", time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	fresh, err := s.CheckAndSet(ctx, "n1", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if !fresh {
		t.Fatal("expected nonce to be usable again after its TTL expired")
	}
}

func TestMemoryStore_DistinctNoncesIndependent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if _, err := s.CheckAndSet(ctx, "n1", time.Minute); err != nil {
		t.Fatal(err)
	}
	fresh, err := s.CheckAndSet(ctx, "n2", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if !fresh {
		t.Fatal("expected a distinct nonce to be unaffected by another nonce's use")
	}
}
