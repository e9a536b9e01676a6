package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/valkey-io/valkey-go"
)

// Distributed implements Backend on a valkey client that it opened itself and
// therefore owns: closing the backend closes the client.
type Distributed[T any] struct {
	remote[T]
}

// NewDistributed creates a valkey-backed cache. The ttl parameter bounds how
// long entries live in the store; zero keeps them until removed. The strategy
// parameter controls encryption of stored values; nil stores plaintext.
func NewDistributed[T any](client valkey.Client, ttl time.Duration, strategy EncryptionStrategy) (*Distributed[T], error) {
	return &Distributed[T]{
		remote: newRemote[T](client, ttl, strategy),
	}, nil
}

// Clear enumerates the namespace and deletes entries one at a time. No atomic
// range delete is assumed of the server.
func (d *Distributed[T]) Clear(ctx context.Context, namespace string) error {
	keys, err := d.scan(ctx, namespace)
	if err != nil {
		return err
	}

	for _, k := range keys {
		if err := d.client.Do(ctx, d.client.B().Del().Key(k).Build()).Error(); err != nil {
			return fmt.Errorf("failed to clear cached value %q: %w", k, err)
		}
	}
	return nil
}

// Close releases the encryption strategy and the owned client.
func (d *Distributed[T]) Close() error {
	if err := d.strategy.Close(); err != nil {
		log.Warn().Err(err).Msg("error closing encryption strategy")
	}
	d.client.Close()
	return nil
}
