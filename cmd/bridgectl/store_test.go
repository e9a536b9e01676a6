package main

import (
	"context"
	"errors"
	"testing"

	"github.com/chinmina/weixin-bridge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valkey-io/valkey-go"
)

// stubClient stands in for a connected client; only Close is expected to be
// called while opening and closing a store.
type stubClient struct {
	valkey.Client
	closed int
}

func (c *stubClient) Close() { c.closed++ }

func managedCacheConfig() config.CacheConfig {
	return config.CacheConfig{
		Type:          "valkey",
		ManagedClient: true,
		Prefix:        "weixin",
		Valkey:        config.ValkeyConfig{Address: "valkey:6379"},
	}
}

func TestOpenCaches_ManagedClient(t *testing.T) {
	client := &stubClient{}
	var dialed config.ValkeyConfig
	dial := func(_ context.Context, cfg config.ValkeyConfig) (valkey.Client, error) {
		dialed = cfg
		return client, nil
	}

	store, err := openCaches(context.Background(), managedCacheConfig(), dial)
	require.NoError(t, err)

	assert.Equal(t, "valkey:6379", dialed.Address)
	assert.Equal(t, []string{"ticket", "token"}, store.ModuleNames())
	assert.Zero(t, client.closed, "client stays open while the store is in use")

	require.NoError(t, store.Close())
	assert.Equal(t, 1, client.closed)
}

func TestOpenCaches_ManagedDialFailure(t *testing.T) {
	dial := func(context.Context, config.ValkeyConfig) (valkey.Client, error) {
		return nil, errors.New("connection refused")
	}

	_, err := openCaches(context.Background(), managedCacheConfig(), dial)
	assert.ErrorContains(t, err, "valkey client configuration failed")
}

func TestOpenCaches_MemoryDoesNotDial(t *testing.T) {
	dial := func(context.Context, config.ValkeyConfig) (valkey.Client, error) {
		t.Fatal("memory cache must not open a valkey client")
		return nil, nil
	}

	store, err := openCaches(context.Background(), config.CacheConfig{Type: "memory", Prefix: "weixin", MaxMemorySize: 10}, dial)
	require.NoError(t, err)
	assert.NoError(t, store.Close())
}
