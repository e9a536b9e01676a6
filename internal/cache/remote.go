package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/valkey-io/valkey-go"
)

const (
	// clientSideTTL bounds how long a value read with server-assisted client
	// side caching is trusted locally. The server invalidates it earlier when
	// another process writes the key.
	clientSideTTL = time.Minute

	scanCount = 100
)

// remote holds the behaviour shared by the valkey-backed variants: values are
// JSON-serialized, optionally encrypted, and stored under the three-part
// storage key.
type remote[T any] struct {
	client   valkey.Client
	ttl      time.Duration
	strategy EncryptionStrategy
}

func newRemote[T any](client valkey.Client, ttl time.Duration, strategy EncryptionStrategy) remote[T] {
	if strategy == nil {
		strategy = NoEncryptionStrategy{}
	}
	return remote[T]{
		client:   client,
		ttl:      ttl,
		strategy: strategy,
	}
}

// Keys enumerates the namespace with SCAN, stripping the prefix and module
// from each storage key.
func (r *remote[T]) Keys(ctx context.Context, namespace string) ([]string, error) {
	storageKeys, err := r.scan(ctx, namespace)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(storageKeys))
	for _, k := range storageKeys {
		if resource, ok := Resource(namespace, k); ok {
			keys = append(keys, resource)
		}
	}
	return keys, nil
}

func (r *remote[T]) Size(ctx context.Context, namespace string) (int, error) {
	keys, err := r.Keys(ctx, namespace)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Get retrieves a value using server-assisted client-side caching.
// Returns the value, whether it was found, and any error. A value that fails
// to decrypt is deleted on a best-effort basis and reported as an error.
func (r *remote[T]) Get(ctx context.Context, namespace, key string) (T, bool, error) {
	var zero T
	if blank(key) {
		return zero, false, nil
	}

	storageKey := FullKey(namespace, key)
	cmd := r.client.B().Get().Key(storageKey).Cache()
	result := r.client.DoCache(ctx, cmd, clientSideTTL)

	stored, err := result.ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("failed to get cached value: %w", err)
	}

	value, err := r.decode(stored, storageKey)
	if err != nil {
		_ = r.client.Do(ctx, r.client.B().Del().Key(storageKey).Build()).Error()
		return zero, false, err
	}

	return value, true, nil
}

// Put serializes and stores a value, applying the configured TTL if any.
func (r *remote[T]) Put(ctx context.Context, namespace, key string, value T) (T, error) {
	var zero T
	if blank(key) {
		return zero, ErrBlankKey
	}

	storageKey := FullKey(namespace, key)
	stored, err := r.encode(value, storageKey)
	if err != nil {
		return zero, err
	}

	var cmd valkey.Completed
	if r.ttl > 0 {
		cmd = r.client.B().Set().Key(storageKey).Value(stored).ExSeconds(int64(r.ttl.Seconds())).Build()
	} else {
		cmd = r.client.B().Set().Key(storageKey).Value(stored).Build()
	}

	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return zero, fmt.Errorf("failed to set cached value: %w", err)
	}
	return value, nil
}

// Remove deletes an entry with GETDEL so the removed value is returned from the
// same round trip.
func (r *remote[T]) Remove(ctx context.Context, namespace, key string) (T, bool, error) {
	var zero T
	if blank(key) {
		return zero, false, nil
	}

	storageKey := FullKey(namespace, key)
	stored, err := r.client.Do(ctx, r.client.B().Getdel().Key(storageKey).Build()).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("failed to remove cached value: %w", err)
	}

	value, err := r.decode(stored, storageKey)
	if err != nil {
		// the entry is gone either way; report it as removed without a value
		return zero, true, nil
	}
	return value, true, nil
}

// scan returns the distinct storage keys matching the namespace pattern.
func (r *remote[T]) scan(ctx context.Context, namespace string) ([]string, error) {
	seen := map[string]struct{}{}
	keys := []string{}

	for _, node := range scanTargets(r.client) {
		var cursor uint64
		for {
			cmd := node.B().Scan().Cursor(cursor).Match(pattern(namespace)).Count(scanCount).Build()
			entry, err := node.Do(ctx, cmd).AsScanEntry()
			if err != nil {
				return nil, fmt.Errorf("failed to enumerate cache keys: %w", err)
			}

			for _, k := range entry.Elements {
				if _, dup := seen[k]; dup {
					continue
				}
				seen[k] = struct{}{}
				keys = append(keys, k)
			}

			cursor = entry.Cursor
			if cursor == 0 {
				break
			}
		}
	}
	return keys, nil
}

// scanTargets lists the clients to enumerate: SCAN only covers the node it
// runs on, so a cluster is scanned node by node. Replicas repeat their
// primary's keys and are deduplicated by the caller.
func scanTargets(client valkey.Client) []valkey.Client {
	if client.Mode() != valkey.ClientModeCluster {
		return []valkey.Client{client}
	}
	return slices.Collect(maps.Values(client.Nodes()))
}

func (r *remote[T]) encode(value T, storageKey string) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to marshal cached value: %w", err)
	}

	stored, err := r.strategy.EncryptValue(data, storageKey)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt cached value: %w", err)
	}
	return stored, nil
}

func (r *remote[T]) decode(stored, storageKey string) (T, error) {
	var value T

	data, err := r.strategy.DecryptValue(stored, storageKey)
	if err != nil {
		return value, fmt.Errorf("cache decryption failure for key %q: %w", storageKey, err)
	}

	if err := json.Unmarshal(data, &value); err != nil {
		return value, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return value, nil
}
