// Package storagetest is a conformance suite for storage.Storage backends.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ggoodman/oidcguard/storage"
)

// StorageFactory creates a new, empty Storage for a single test.
type StorageFactory func(t *testing.T) storage.Storage

// RunStorageTests runs the complete Storage test suite against the provided factory.
func RunStorageTests(t *testing.T, factory StorageFactory) {
	t.Run("SetAndGet", func(t *testing.T) { testSetAndGet(t, factory) })
	t.Run("GetNonExistent", func(t *testing.T) { testGetNonExistent(t, factory) })
	t.Run("TTL", func(t *testing.T) { testTTL(t, factory) })
	t.Run("Namespaces", func(t *testing.T) { testNamespaces(t, factory) })
	t.Run("DeleteKey", func(t *testing.T) { testDeleteKey(t, factory) })
	t.Run("DeleteSessionNamespace", func(t *testing.T) { testDeleteSessionNamespace(t, factory) })
	t.Run("DeleteUserSweepsSessions", func(t *testing.T) { testDeleteUserSweepsSessions(t, factory) })
	t.Run("DeleteUserWithPrefixedID", func(t *testing.T) { testDeleteUserWithPrefixedID(t, factory) })
	t.Run("TakeIsSingleUse", func(t *testing.T) { testTakeIsSingleUse(t, factory) })
	t.Run("TakeConcurrent", func(t *testing.T) { testTakeConcurrent(t, factory) })
	t.Run("InvalidOptions", func(t *testing.T) { testInvalidOptions(t, factory) })
}

func newStore(t *testing.T, factory StorageFactory) storage.Storage {
	t.Helper()
	s := factory(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustGet(t *testing.T, s storage.Storage, key string, opts ...storage.Option) *storage.StorageItem {
	t.Helper()
	item, err := s.Get(context.Background(), key, opts...)
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", key, err)
	}
	return item
}

func testSetAndGet(t *testing.T, factory StorageFactory) {
	s := newStore(t, factory)
	ctx := context.Background()

	if err := s.Set(ctx, "test-key", []byte("test data")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	item := mustGet(t, s, "test-key")
	if item == nil {
		t.Fatal("expected item to exist, got nil")
	}
	if string(item.Data) != "test data" {
		t.Errorf("expected data %q, got %q", "test data", item.Data)
	}
	if item.CreatedAt.IsZero() {
		t.Error("CreatedAt should not be zero")
	}
	if item.ExpiresAt != nil {
		t.Error("ExpiresAt should be nil for data without TTL")
	}
}

func testGetNonExistent(t *testing.T, factory StorageFactory) {
	s := newStore(t, factory)
	if item := mustGet(t, s, "non-existent-key"); item != nil {
		t.Error("expected nil for non-existent key, got item")
	}
}

func testTTL(t *testing.T, factory StorageFactory) {
	s := newStore(t, factory)
	ctx := context.Background()
	ttl := 100 * time.Millisecond

	if err := s.Set(ctx, "ttl-key", []byte("ttl data"), storage.WithLogin(), storage.WithTTL(ttl)); err != nil {
		t.Fatalf("Set() with TTL failed: %v", err)
	}

	item := mustGet(t, s, "ttl-key", storage.WithLogin())
	if item == nil {
		t.Fatal("expected item before expiration")
	}
	if item.ExpiresAt == nil {
		t.Fatal("ExpiresAt should be set for data with TTL")
	}

	time.Sleep(ttl + 50*time.Millisecond)

	if item := mustGet(t, s, "ttl-key", storage.WithLogin()); item != nil {
		t.Error("expected nil for expired data, got item")
	}
}

func testNamespaces(t *testing.T, factory StorageFactory) {
	s := newStore(t, factory)
	ctx := context.Background()
	key := "namespace-key"

	writes := []struct {
		data string
		opts []storage.Option
	}{
		{data: "global"},
		{data: "login", opts: []storage.Option{storage.WithLogin()}},
		{data: "user", opts: []storage.Option{storage.WithUser("user1")}},
		{data: "session", opts: []storage.Option{storage.WithUserSession("user1", "session1")}},
	}
	for _, w := range writes {
		if err := s.Set(ctx, key, []byte(w.data), w.opts...); err != nil {
			t.Fatalf("Set(%s) failed: %v", w.data, err)
		}
	}
	for _, w := range writes {
		item := mustGet(t, s, key, w.opts...)
		if item == nil || string(item.Data) != w.data {
			t.Errorf("expected %q, got %v", w.data, item)
		}
	}

	if item := mustGet(t, s, key, storage.WithUser("user2")); item != nil {
		t.Error("expected nil for a different user namespace")
	}
	if item := mustGet(t, s, key, storage.WithUserSession("user1", "session2")); item != nil {
		t.Error("expected nil for a different session namespace")
	}
}

func testDeleteKey(t *testing.T, factory StorageFactory) {
	s := newStore(t, factory)
	ctx := context.Background()

	if err := s.Set(ctx, "delete-key", []byte("x"), storage.WithUser("u")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Set(ctx, "other-key", []byte("y"), storage.WithUser("u")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Delete(ctx, storage.WithUser("u"), storage.WithKey("delete-key")); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if item := mustGet(t, s, "delete-key", storage.WithUser("u")); item != nil {
		t.Error("expected nil after deletion")
	}
	if item := mustGet(t, s, "other-key", storage.WithUser("u")); item == nil {
		t.Error("sibling key should survive single-key deletion")
	}
}

func testDeleteSessionNamespace(t *testing.T, factory StorageFactory) {
	s := newStore(t, factory)
	ctx := context.Background()
	keys := []string{"key1", "key2", "key3"}

	for _, key := range keys {
		if err := s.Set(ctx, key, []byte("data-"+key), storage.WithUserSession("u", "s1")); err != nil {
			t.Fatalf("Set(%s) failed: %v", key, err)
		}
	}
	if err := s.Set(ctx, "key1", []byte("keep"), storage.WithUserSession("u", "s2")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	if err := s.Delete(ctx, storage.WithUserSession("u", "s1")); err != nil {
		t.Fatalf("Delete() namespace failed: %v", err)
	}
	for _, key := range keys {
		if item := mustGet(t, s, key, storage.WithUserSession("u", "s1")); item != nil {
			t.Errorf("key %s should not exist after namespace deletion", key)
		}
	}
	if item := mustGet(t, s, "key1", storage.WithUserSession("u", "s2")); item == nil {
		t.Error("other session should be untouched")
	}
}

func testDeleteUserSweepsSessions(t *testing.T, factory StorageFactory) {
	s := newStore(t, factory)
	ctx := context.Background()

	if err := s.Set(ctx, "profile", []byte("p"), storage.WithUser("u")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	for _, sid := range []string{"s1", "s2"} {
		if err := s.Set(ctx, "record", []byte(sid), storage.WithUserSession("u", sid)); err != nil {
			t.Fatalf("Set() failed: %v", err)
		}
	}
	if err := s.Set(ctx, "record", []byte("other"), storage.WithUserSession("v", "s1")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	if err := s.Delete(ctx, storage.WithUser("u")); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	if item := mustGet(t, s, "profile", storage.WithUser("u")); item != nil {
		t.Error("user data should be gone")
	}
	for _, sid := range []string{"s1", "s2"} {
		if item := mustGet(t, s, "record", storage.WithUserSession("u", sid)); item != nil {
			t.Errorf("session %s should be gone", sid)
		}
	}
	if item := mustGet(t, s, "record", storage.WithUserSession("v", "s1")); item == nil {
		t.Error("another user's session should survive")
	}
}

func testDeleteUserWithPrefixedID(t *testing.T, factory StorageFactory) {
	s := newStore(t, factory)
	ctx := context.Background()

	if err := s.Set(ctx, "record", []byte("admin"), storage.WithUserSession("alice:admin", "s1")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Set(ctx, "record", []byte("alice"), storage.WithUserSession("alice", "s1")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	// A user-level key must not alias a session key of another user.
	if err := s.Set(ctx, "record", []byte("user"), storage.WithUser("alice:session:s1")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	if err := s.Delete(ctx, storage.WithUser("alice")); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	if item := mustGet(t, s, "record", storage.WithUserSession("alice", "s1")); item != nil {
		t.Error("alice's session should be gone")
	}
	if item := mustGet(t, s, "record", storage.WithUserSession("alice:admin", "s1")); item == nil || string(item.Data) != "admin" {
		t.Errorf("alice:admin's session should survive, got %v", item)
	}
	if item := mustGet(t, s, "record", storage.WithUser("alice:session:s1")); item == nil || string(item.Data) != "user" {
		t.Errorf("user-level record should survive, got %v", item)
	}
}

func testTakeIsSingleUse(t *testing.T, factory StorageFactory) {
	s := newStore(t, factory)
	ctx := context.Background()

	if err := s.Set(ctx, "state", []byte("nonce"), storage.WithLogin(), storage.WithTTL(time.Minute)); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	item, err := s.Take(ctx, "state", storage.WithLogin())
	if err != nil {
		t.Fatalf("Take() failed: %v", err)
	}
	if item == nil || string(item.Data) != "nonce" {
		t.Fatalf("unexpected item %v", item)
	}
	item, err = s.Take(ctx, "state", storage.WithLogin())
	if err != nil {
		t.Fatalf("second Take() failed: %v", err)
	}
	if item != nil {
		t.Fatal("second Take() should find nothing")
	}
}

func testTakeConcurrent(t *testing.T, factory StorageFactory) {
	s := newStore(t, factory)
	ctx := context.Background()

	if err := s.Set(ctx, "state", []byte("x"), storage.WithLogin()); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	var (
		wg   sync.WaitGroup
		hits atomic.Int32
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			item, err := s.Take(ctx, "state", storage.WithLogin())
			if err == nil && item != nil {
				hits.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := hits.Load(); got != 1 {
		t.Fatalf("expected exactly one successful Take, got %d", got)
	}
}

func testInvalidOptions(t *testing.T, factory StorageFactory) {
	s := newStore(t, factory)
	ctx := context.Background()

	tests := []struct {
		name string
		opts []storage.Option
	}{
		{name: "zero ttl", opts: []storage.Option{storage.WithTTL(0)}},
		{name: "empty user", opts: []storage.Option{storage.WithUser("")}},
		{name: "empty session", opts: []storage.Option{storage.WithUserSession("u", "")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Set(ctx, "k", []byte("v"), tt.opts...); !errors.Is(err, storage.ErrInvalidOptions) {
				t.Fatalf("want ErrInvalidOptions, got %v", err)
			}
		})
	}
}
