package cache

import (
	"context"
	"sync"
	"time"
)

// memoryItem is a stored value with its physical expiry.
type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// MemoryAdapter is an in-process Adapter backed by a mutex-guarded map.
// Expired items are dropped lazily on read and swept periodically by a
// janitor goroutine.
type MemoryAdapter struct {
	mu      sync.RWMutex
	items   map[string]memoryItem
	done    chan struct{}
	once    sync.Once
	janitor *time.Ticker
}

// NewMemoryAdapter creates an in-memory adapter with a background janitor.
func NewMemoryAdapter() *MemoryAdapter {
	a := &MemoryAdapter{
		items:   make(map[string]memoryItem),
		done:    make(chan struct{}),
		janitor: time.NewTicker(time.Minute),
	}
	go a.sweep()
	return a
}

// Get returns the value stored under key, or ErrNotFound.
func (a *MemoryAdapter) Get(_ context.Context, key string) ([]byte, error) {
	a.mu.RLock()
	item, ok := a.items[key]
	a.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if time.Now().After(item.expiresAt) {
		a.mu.Lock()
		// Re-check under the write lock: a Set may have replaced the
		// expired item between the two locks.
		if cur, ok := a.items[key]; ok && time.Now().After(cur.expiresAt) {
			delete(a.items, key)
		}
		a.mu.Unlock()
		return nil, ErrNotFound
	}
	return item.value, nil
}

// Set stores value under key until ttl elapses.
func (a *MemoryAdapter) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	// Copy so later mutation by the caller cannot alter the stored value.
	buf := make([]byte, len(value))
	copy(buf, value)

	a.mu.Lock()
	a.items[key] = memoryItem{value: buf, expiresAt: time.Now().Add(ttl)}
	a.mu.Unlock()
	return nil
}

// Del removes key.
func (a *MemoryAdapter) Del(_ context.Context, key string) error {
	a.mu.Lock()
	delete(a.items, key)
	a.mu.Unlock()
	return nil
}

// Len returns the number of stored items, including not-yet-swept expired ones.
func (a *MemoryAdapter) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.items)
}

// Close stops the janitor goroutine.
func (a *MemoryAdapter) Close() {
	a.once.Do(func() {
		a.janitor.Stop()
		close(a.done)
	})
}

func (a *MemoryAdapter) sweep() {
	for {
		select {
		case <-a.done:
			return
		case now := <-a.janitor.C:
			a.mu.Lock()
			for key, item := range a.items {
				if now.After(item.expiresAt) {
					delete(a.items, key)
				}
			}
			a.mu.Unlock()
		}
	}
}
