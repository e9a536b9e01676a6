package cache

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/chinmina/weixin-bridge/internal/cache/encryption"
	"github.com/chinmina/weixin-bridge/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/valkey-io/valkey-go"
)

// iamConnLifetime recycles connections before ElastiCache IAM tokens (valid
// for 12 hours) expire.
const iamConnLifetime = 11 * time.Hour

type factoryOptions struct {
	managedClient valkey.Client
}

type FactoryOption func(*factoryOptions)

// WithManagedClient supplies the valkey client used when the configuration
// asks for a host-managed client.
func WithManagedClient(client valkey.Client) FactoryOption {
	return func(o *factoryOptions) {
		o.managedClient = client
	}
}

// NewFromConfig creates the backend selected by the configuration, wrapped in
// instrumentation.
//
// The cache type must be either "memory" or "valkey". For "valkey", the client
// is opened and owned by the backend unless ManagedClient is set, in which case
// the client must be supplied with WithManagedClient.
func NewFromConfig[T any](ctx context.Context, cfg config.CacheConfig, opts ...FactoryOption) (Backend[T], error) {
	o := factoryOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	ttl := time.Duration(cfg.TTLSeconds) * time.Second

	switch cfg.Type {
	case "memory":
		log.Info().
			Str("cache_type", "memory").
			Int("max_size", cfg.MaxMemorySize).
			Msg("initializing in-memory cache")

		memory, err := NewMemory[T](ttl, cfg.MaxMemorySize)
		if err != nil {
			return nil, fmt.Errorf("failed to create memory cache: %w", err)
		}
		return NewInstrumented[T](memory, "memory"), nil

	case "valkey":
		strategy, err := newStrategy(ctx, cfg.Encryption)
		if err != nil {
			return nil, err
		}

		if cfg.ManagedClient {
			log.Info().
				Str("cache_type", "valkey").
				Bool("managed_client", true).
				Msg("initializing managed distributed cache")

			managed, err := NewManaged[T](o.managedClient, ttl, strategy)
			if err != nil {
				_ = strategy.Close()
				return nil, err
			}
			return NewInstrumented[T](managed, "managed"), nil
		}

		log.Info().
			Str("cache_type", "valkey").
			Str("address", cfg.Valkey.Address).
			Bool("tls", cfg.Valkey.TLS).
			Bool("iam_enabled", cfg.Valkey.IAMEnabled).
			Msg("initializing distributed cache")

		client, err := NewValkeyClient(ctx, cfg.Valkey)
		if err != nil {
			_ = strategy.Close()
			return nil, err
		}

		distributed, err := NewDistributed[T](client, ttl, strategy)
		if err != nil {
			_ = strategy.Close()
			client.Close()
			return nil, fmt.Errorf("failed to create distributed cache: %w", err)
		}
		return NewInstrumented[T](distributed, "distributed"), nil

	default:
		return nil, fmt.Errorf("invalid cache type %q: must be either \"memory\" or \"valkey\"", cfg.Type)
	}
}

// NewValkeyClient opens a client for the configured server. Hosts running a
// managed cache use it to construct the client they then own.
func NewValkeyClient(ctx context.Context, cfg config.ValkeyConfig) (valkey.Client, error) {
	if cfg.Address == "" {
		return nil, errors.New("valkey address is required when cache type is valkey")
	}

	opts := valkey.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.Database,
	}

	credsFn, err := AuthCredentialsFn(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("configuring valkey credentials: %w", err)
	}
	opts.AuthCredentialsFn = credsFn
	if cfg.IAMEnabled {
		opts.ConnLifetime = iamConnLifetime
	}

	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	client, err := valkey.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}
	return client, nil
}

func newStrategy(ctx context.Context, cfg config.CacheEncryptionConfig) (EncryptionStrategy, error) {
	if !cfg.Enabled {
		return NoEncryptionStrategy{}, nil
	}

	source := encryption.SecretsManagerKeyset(cfg.KeysetURI, cfg.KMSEnvelopeKeyURI)
	if cfg.KeysetFile != "" {
		source = encryption.FileKeyset(cfg.KeysetFile)
	}

	aead, err := encryption.NewRefreshableAEAD(ctx, source, encryption.DefaultRefreshInterval)
	if err != nil {
		return nil, fmt.Errorf("initializing encryption: %w", err)
	}

	log.Info().Msg("cache encryption enabled with automatic keyset refresh")
	return NewTinkEncryptionStrategy(aead), nil
}
