package devotp

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_PutGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	expiresAt := time.Now().UTC().Add(5 * time.Minute)

	store.Put(ctx, "session-1", "123456", expiresAt)

	code, ok := store.Get(ctx, "session-1")
	if !ok {
		t.Fatal("Get should return code after Put")
	}
	if code != "123456" {
		t.Errorf("code = %q, want %q", code, "123456")
	}
}

func TestMemoryStore_Get_ReturnsFalseWhenMissing(t *testing.T) {
	store := NewMemoryStore()

	code, ok := store.Get(context.Background(), "nonexistent")
	if ok {
		t.Error("Get should return false when code is missing")
	}
	if code != "" {
		t.Errorf("code = %q, want empty string", code)
	}
}

func TestMemoryStore_Get_ReturnsFalseWhenExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Put(ctx, "session-1", "123456", time.Now().UTC().Add(-1*time.Minute))

	code, ok := store.Get(ctx, "session-1")
	if ok {
		t.Error("Get should return false when code is expired")
	}
	if code != "" {
		t.Errorf("code = %q, want empty string", code)
	}
}

func TestMemoryStore_Put_OverwritesPrior(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	expiresAt := time.Now().UTC().Add(5 * time.Minute)

	store.Put(ctx, "session-1", "111111", expiresAt)
	store.Put(ctx, "session-1", "222222", expiresAt)

	code, ok := store.Get(ctx, "session-1")
	if !ok || code != "222222" {
		t.Errorf("Get = %q, %v; want latest code 222222", code, ok)
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	expiresAt := time.Now().UTC().Add(5 * time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			store.Put(ctx, "session-1", "123456", expiresAt)
		}()
		go func() {
			defer wg.Done()
			store.Get(ctx, "session-1")
		}()
	}
	wg.Wait()
}
