//go:build integration

package testhelpers

import (
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/chinmina/weixin-bridge/internal/config"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/log"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/tink-crypto/tink-go/v2/aead"
	"github.com/tink-crypto/tink-go/v2/insecurecleartextkeyset"
	"github.com/tink-crypto/tink-go/v2/keyset"
	"github.com/valkey-io/valkey-go"
)

const valkeyPort = nat.Port("6379/tcp")

// Valkey is a throwaway valkey server for a single test.
type Valkey struct {
	// Cache points the cache factory at the server. Encryption is enabled
	// unless WithoutEncryption was given.
	Cache config.CacheConfig

	address  string
	password string
}

type ValkeyOption func(*config.CacheConfig)

// WithoutEncryption stores values as plain JSON.
func WithoutEncryption() ValkeyOption {
	return func(c *config.CacheConfig) {
		c.Encryption = config.CacheEncryptionConfig{}
	}
}

// StartValkey runs a password protected valkey container that lives until the
// test completes.
func StartValkey(t *testing.T, opts ...ValkeyOption) *Valkey {
	t.Helper()
	ctx := context.Background()

	password := rand.Text()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "valkey/valkey:9-alpine",
			Cmd:          []string{"valkey-server", "--requirepass", password, "--save", ""},
			ExposedPorts: []string{string(valkeyPort)},
			WaitingFor:   wait.ForListeningPort(valkeyPort),
		},
		Started: true,
		Logger:  log.TestLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	mapped, err := container.MappedPort(ctx, valkeyPort)
	require.NoError(t, err)

	// IPv4 loopback: the mapped port is not always bound on ::1
	v := &Valkey{
		address:  "127.0.0.1:" + mapped.Port(),
		password: password,
	}
	v.Cache = config.CacheConfig{
		Type:          "valkey",
		Prefix:        "weixin-it",
		MaxMemorySize: 1000,
		Valkey: config.ValkeyConfig{
			Address:  v.address,
			Username: "default",
			Password: password,
		},
		Encryption: config.CacheEncryptionConfig{
			Enabled:    true,
			KeysetFile: writeKeysetFile(t),
		},
	}
	for _, opt := range opts {
		opt(&v.Cache)
	}

	return v
}

// Client opens a plain client that bypasses the cache codec, for inspecting
// or tampering with stored values.
func (v *Valkey) Client(t *testing.T) valkey.Client {
	t.Helper()

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:  []string{v.address},
		Password:     v.password,
		DisableCache: true,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return client
}

// Stored returns the raw value held at fullKey.
func (v *Valkey) Stored(t *testing.T, fullKey string) string {
	t.Helper()

	client := v.Client(t)
	stored, err := client.Do(context.Background(), client.B().Get().Key(fullKey).Build()).ToString()
	require.NoError(t, err)

	return stored
}

func writeKeysetFile(t *testing.T) string {
	t.Helper()

	handle, err := keyset.NewHandle(aead.AES256GCMKeyTemplate())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "keyset.json")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, insecurecleartextkeyset.Write(handle, keyset.NewJSONWriter(f)))

	return path
}
