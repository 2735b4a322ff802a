// Package memory provides an in-memory implementation of the storage interface
// using github.com/hashicorp/golang-lru/v2 for bounded caching with TTL support.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ggoodman/oidcguard/storage"
	lru "github.com/hashicorp/golang-lru/v2"
)

const cleanupInterval = 5 * time.Minute

// Storage implements the storage.Storage interface using in-memory storage.
// When the cache is full the least recently used entry is evicted, which
// for sessions means the oldest idle login is signed out.
type Storage struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *storage.StorageItem]
	done  chan struct{}
	once  sync.Once
}

// New creates a new in-memory storage holding at most maxItems entries.
func New(maxItems int) (*Storage, error) {
	cache, err := lru.New[string, *storage.StorageItem](maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	s := &Storage{
		cache: cache,
		done:  make(chan struct{}),
	}

	go s.cleanupExpired()

	return s, nil
}

// Get retrieves data for a specific key within the given namespace
func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.StorageItem, error) {
	options := storage.Apply(opts...)
	if err := options.Validate(); err != nil {
		return nil, err
	}
	storageKey := storage.ItemKey(options.Namespace, key)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(storageKey), nil
}

// Take retrieves and removes data for a key in one step.
func (s *Storage) Take(ctx context.Context, key string, opts ...storage.Option) (*storage.StorageItem, error) {
	options := storage.Apply(opts...)
	if err := options.Validate(); err != nil {
		return nil, err
	}
	storageKey := storage.ItemKey(options.Namespace, key)

	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.lookup(storageKey)
	s.cache.Remove(storageKey)
	return item, nil
}

// lookup must be called with s.mu held.
func (s *Storage) lookup(storageKey string) *storage.StorageItem {
	item, exists := s.cache.Get(storageKey)
	if !exists {
		return nil
	}
	if item.IsExpired() {
		s.cache.Remove(storageKey)
		return nil
	}
	return item
}

// Set stores data for a specific key within the given namespace
func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	options := storage.Apply(opts...)
	if err := options.Validate(); err != nil {
		return err
	}
	storageKey := storage.ItemKey(options.Namespace, key)

	now := time.Now()
	item := &storage.StorageItem{
		Data:      make([]byte, len(data)),
		CreatedAt: now,
	}
	copy(item.Data, data)

	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		item.ExpiresAt = &expiresAt
	}

	s.mu.Lock()
	s.cache.Add(storageKey, item)
	s.mu.Unlock()

	return nil
}

// Delete removes data within the given namespace
func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	options := storage.Apply(opts...)
	if err := options.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if options.Key != nil {
		s.cache.Remove(storage.ItemKey(options.Namespace, *options.Key))
		return nil
	}

	prefix := storage.NamespacePrefix(options.Namespace)
	for _, key := range s.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			s.cache.Remove(key)
		}
	}
	return nil
}

// Close stops the cleanup goroutine and drops every entry.
func (s *Storage) Close() error {
	s.once.Do(func() { close(s.done) })
	s.mu.Lock()
	s.cache.Purge()
	s.mu.Unlock()
	return nil
}

// Len reports the number of entries currently held, expired or not.
func (s *Storage) Len() int {
	return s.cache.Len()
}

func (s *Storage) cleanupExpired() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		now := time.Now()
		for _, key := range s.cache.Keys() {
			if item, exists := s.cache.Peek(key); exists {
				if item.ExpiresAt != nil && now.After(*item.ExpiresAt) {
					s.cache.Remove(key)
				}
			}
		}
		s.mu.Unlock()
	}
}

var _ storage.Storage = (*Storage)(nil)
