package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/ggoodman/oidcguard/storage"
	"github.com/ggoodman/oidcguard/storage/storagetest"
)

func TestMemoryStorage(t *testing.T) {
	storagetest.RunStorageTests(t, func(t *testing.T) storage.Storage {
		s, err := New(100)
		if err != nil {
			t.Fatalf("New() failed: %v", err)
		}
		return s
	})
}

func TestNew_InvalidSize(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Fatal("New(0) should fail")
	}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	s, err := New(3)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	for i := range 3 {
		if err := s.Set(ctx, fmt.Sprintf("k%d", i), []byte("v")); err != nil {
			t.Fatalf("Set() failed: %v", err)
		}
	}
	// Touch k0 so k1 becomes the eviction candidate.
	if item, _ := s.Get(ctx, "k0"); item == nil {
		t.Fatal("k0 should exist")
	}
	if err := s.Set(ctx, "k3", []byte("v")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", s.Len())
	}
	if item, _ := s.Get(ctx, "k1"); item != nil {
		t.Fatal("k1 should have been evicted")
	}
	if item, _ := s.Get(ctx, "k0"); item == nil {
		t.Fatal("k0 should have survived")
	}
}

func TestSetCopiesData(t *testing.T) {
	s, err := New(10)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	data := []byte("abc")
	if err := s.Set(ctx, "k", data, storage.WithLogin()); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	data[0] = 'z'

	item, err := s.Get(ctx, "k", storage.WithLogin())
	if err != nil || item == nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if string(item.Data) != "abc" {
		t.Fatalf("stored data aliased caller slice: %q", item.Data)
	}
}
