package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

// Managed implements Backend on a valkey client supplied by the hosting
// application. The host owns the client: Close leaves it open.
type Managed[T any] struct {
	remote[T]
}

func NewManaged[T any](client valkey.Client, ttl time.Duration, strategy EncryptionStrategy) (*Managed[T], error) {
	if client == nil {
		return nil, errors.New("managed cache requires a client supplied by the host")
	}
	return &Managed[T]{
		remote: newRemote[T](client, ttl, strategy),
	}, nil
}

// Clear deletes every key in the namespace with a single bulk DEL. A cluster
// rejects a DEL whose keys hash to different slots, so there each key gets
// its own DEL, pipelined and routed by the client.
func (m *Managed[T]) Clear(ctx context.Context, namespace string) error {
	keys, err := m.scan(ctx, namespace)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	if m.client.Mode() != valkey.ClientModeCluster {
		if err := m.client.Do(ctx, m.client.B().Del().Key(keys...).Build()).Error(); err != nil {
			return fmt.Errorf("failed to clear cached values: %w", err)
		}
		return nil
	}

	cmds := make(valkey.Commands, 0, len(keys))
	for _, k := range keys {
		cmds = append(cmds, m.client.B().Del().Key(k).Build())
	}
	for i, result := range m.client.DoMulti(ctx, cmds...) {
		if err := result.Error(); err != nil {
			return fmt.Errorf("failed to clear cached value %q: %w", keys[i], err)
		}
	}
	return nil
}

// Close releases the encryption strategy only.
func (m *Managed[T]) Close() error {
	return m.strategy.Close()
}
