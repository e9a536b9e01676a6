package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Core     CoreConfig
	Cache    CacheConfig
	Platform PlatformConfig
	Observe  ObserveConfig
	Server   ServerConfig
}

// CoreConfig holds the settings consumed by the credential refresh and retry
// core.
type CoreConfig struct {
	// RetryLimit is the default number of refresh-and-retry attempts for an
	// account that does not set its own.
	RetryLimit int `env:"CORE_RETRY_LIMIT, default=2"`

	// StrictFailurePropagation surfaces platform errors to callers. When false,
	// failed calls yield an absent value (false for boolean results).
	StrictFailurePropagation bool `env:"CORE_STRICT_FAILURES, default=true"`

	// AccountsFile is a YAML file listing the accounts to register at startup.
	AccountsFile string `env:"ACCOUNTS_FILE"`
}

type ServerConfig struct {
	Port                   int `env:"SERVER_PORT, default=8080"`
	ShutdownTimeoutSeconds int `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	// APIKey, when set, must be presented as a bearer token on account routes.
	APIKey string `env:"SERVER_API_KEY"`

	OutgoingHTTPMaxIdleConns    int `env:"SERVER_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHTTPMaxConnsPerHost int `env:"SERVER_OUTGOING_MAX_CONNS_PER_HOST, default=20"`
	OutgoingHTTPTimeoutSeconds  int `env:"SERVER_OUTGOING_TIMEOUT_SECS, default=15"`
}

type PlatformConfig struct {
	APIURL string `env:"PLATFORM_API_URL, default=https://api.weixin.qq.com"`
}

// CacheConfig specifies cache configuration.
type CacheConfig struct {
	// Type selects the cache implementation: "memory" (default) or "valkey"
	Type string `env:"CACHE_TYPE, default=memory"`

	// ManagedClient makes the host application construct and own the valkey
	// client. The cache uses it without closing it.
	ManagedClient bool `env:"CACHE_VALKEY_MANAGED_CLIENT, default=false"`

	// Prefix is the first component of every storage key.
	Prefix string `env:"CACHE_KEY_PREFIX, default=weixin"`

	// TTLSeconds bounds entry lifetime in the store. Zero keeps entries until
	// they are removed.
	TTLSeconds int `env:"CACHE_TTL_SECS, default=0"`

	MaxMemorySize int `env:"CACHE_MEMORY_MAX_SIZE, default=10000"`

	// Valkey holds distributed cache settings.
	Valkey ValkeyConfig

	// Encryption holds cache encryption settings.
	// Only supported with valkey cache type.
	Encryption CacheEncryptionConfig
}

// Remote reports whether a remote store backs the cache.
func (c CacheConfig) Remote() bool {
	return c.Type == "valkey"
}

// ValkeyConfig specifies distributed cache configuration.
type ValkeyConfig struct {
	// Address is the Valkey server address (host:port).
	Address string `env:"VALKEY_ADDRESS"`

	// Database is the logical database index selected on connect.
	Database int `env:"VALKEY_DATABASE, default=0"`

	// TLS enables TLS connection to Valkey. Defaults to true so the secure option
	// is the default.
	TLS bool `env:"VALKEY_TLS, default=true"`

	// Username for Valkey authentication.
	Username string `env:"VALKEY_USERNAME"`

	// Password for Valkey authentication.
	Password string `env:"VALKEY_PASSWORD"`

	// IAMEnabled authenticates to ElastiCache with generated IAM tokens instead
	// of the static password.
	IAMEnabled    bool   `env:"VALKEY_IAM_ENABLED, default=false"`
	IAMCacheName  string `env:"VALKEY_IAM_CACHE_NAME"`
	IAMServerless bool   `env:"VALKEY_IAM_SERVERLESS, default=false"`
}

// CacheEncryptionConfig holds settings for cache encryption.
type CacheEncryptionConfig struct {
	// Enabled turns on encryption for cached credentials.
	// Requires CACHE_TYPE=valkey.
	Enabled bool `env:"CACHE_ENCRYPTION_ENABLED, default=false"`

	// KeysetFile is a cleartext Tink keyset file, for local development.
	KeysetFile string `env:"CACHE_ENCRYPTION_KEYSET_FILE"`

	// KeysetURI is the URI to the encrypted Tink keyset.
	// Format: aws-secretsmanager://secret-name
	KeysetURI string `env:"CACHE_ENCRYPTION_KEYSET_URI"`

	// KMSEnvelopeKeyURI is the AWS KMS key URI for envelope encryption.
	// Format: aws-kms://arn:aws:kms:region:account:key/key-id
	KMSEnvelopeKeyURI string `env:"CACHE_ENCRYPTION_KMS_ENVELOPE_KEY_URI"`
}

type ObserveConfig struct {
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=weixin-bridge"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	err = cfg.Core.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid core configuration: %w", err)
	}

	err = cfg.Cache.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid cache configuration: %w", err)
	}

	return cfg, nil
}

func (c *CoreConfig) Validate() error {
	if c.RetryLimit < 0 {
		return errors.New("CORE_RETRY_LIMIT must not be negative")
	}
	return nil
}

// Validate checks that the cache configuration is valid.
func (c *CacheConfig) Validate() error {
	switch c.Type {
	case "memory", "valkey":
	default:
		return fmt.Errorf("CACHE_TYPE must be either \"memory\" or \"valkey\", got %q", c.Type)
	}

	if c.ManagedClient && !c.Remote() {
		return errors.New("CACHE_VALKEY_MANAGED_CLIENT requires CACHE_TYPE=valkey")
	}

	if c.TTLSeconds < 0 {
		return errors.New("CACHE_TTL_SECS must not be negative")
	}

	// Encryption requires distributed cache
	if c.Encryption.Enabled && !c.Remote() {
		return errors.New("cache encryption requires CACHE_TYPE=valkey")
	}

	// Encryption requires a keyset source
	if c.Encryption.Enabled && c.Encryption.KeysetFile == "" {
		if c.Encryption.KeysetURI == "" {
			return errors.New("CACHE_ENCRYPTION_KEYSET_URI required when encryption enabled")
		}
		if c.Encryption.KMSEnvelopeKeyURI == "" {
			return errors.New("CACHE_ENCRYPTION_KMS_ENVELOPE_KEY_URI required when encryption enabled")
		}
	}

	// Valkey requires address
	if c.Remote() && c.Valkey.Address == "" {
		return errors.New("VALKEY_ADDRESS required when CACHE_TYPE=valkey")
	}

	if c.Valkey.IAMEnabled && c.Valkey.IAMCacheName == "" {
		return errors.New("VALKEY_IAM_CACHE_NAME required when VALKEY_IAM_ENABLED=true")
	}

	return nil
}
