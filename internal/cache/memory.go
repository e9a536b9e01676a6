package cache

import (
	"context"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/maypok86/otter/v2/stats"
)

// Memory is an in-process cache implementation using otter. Values are held
// as live T values with no serialization round trip.
type Memory[T any] struct {
	cache   *otter.Cache[string, T]
	counter *stats.Counter
}

// NewMemory creates a new in-memory cache bounded to maxSize entries. A zero
// ttl keeps entries until they are removed or evicted for size.
func NewMemory[T any](ttl time.Duration, maxSize int) (*Memory[T], error) {
	counter := stats.NewCounter()
	opts := &otter.Options[string, T]{
		MaximumSize:   maxSize,
		StatsRecorder: counter,
	}
	if ttl > 0 {
		opts.ExpiryCalculator = otter.ExpiryWriting[string, T](ttl)
	}

	cache, err := otter.New(opts)
	if err != nil {
		return nil, err
	}

	return &Memory[T]{
		cache:   cache,
		counter: counter,
	}, nil
}

// Keys lists the resources held under the namespace.
func (m *Memory[T]) Keys(_ context.Context, namespace string) ([]string, error) {
	keys := []string{}
	for k := range m.cache.Keys() {
		if resource, ok := Resource(namespace, k); ok {
			keys = append(keys, resource)
		}
	}
	return keys, nil
}

func (m *Memory[T]) Size(ctx context.Context, namespace string) (int, error) {
	keys, err := m.Keys(ctx, namespace)
	return len(keys), err
}

// Get retrieves a value from the cache.
// Returns the value, whether it was found, and any error.
func (m *Memory[T]) Get(_ context.Context, namespace, key string) (T, bool, error) {
	var zero T
	if blank(key) {
		return zero, false, nil
	}

	value, ok := m.cache.GetIfPresent(FullKey(namespace, key))
	if !ok {
		return zero, false, nil
	}

	return value, true, nil
}

// Put stores a value in the cache.
func (m *Memory[T]) Put(_ context.Context, namespace, key string, value T) (T, error) {
	if blank(key) {
		var zero T
		return zero, ErrBlankKey
	}

	m.cache.Set(FullKey(namespace, key), value)
	return value, nil
}

// Remove deletes a value from the cache.
func (m *Memory[T]) Remove(_ context.Context, namespace, key string) (T, bool, error) {
	var zero T
	if blank(key) {
		return zero, false, nil
	}

	value, ok := m.cache.Invalidate(FullKey(namespace, key))
	return value, ok, nil
}

func (m *Memory[T]) Clear(ctx context.Context, namespace string) error {
	keys, _ := m.Keys(ctx, namespace)
	for _, k := range keys {
		m.cache.Invalidate(FullKey(namespace, k))
	}
	return nil
}

// Stats exposes the hit/miss counters recorded by otter.
func (m *Memory[T]) Stats() stats.Stats {
	return m.counter.Snapshot()
}

func (m *Memory[T]) Close() error {
	m.cache.InvalidateAll()
	return nil
}
