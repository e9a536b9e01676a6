package cache

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/chinmina/iamcacheauth"
	"github.com/chinmina/weixin-bridge/internal/config"
	"github.com/valkey-io/valkey-go"
)

type credentialsFn = func(valkey.AuthCredentialsContext) (valkey.AuthCredentials, error)

// AuthCredentialsFn selects how connections authenticate: a fresh IAM token
// per connection when IAM is enabled, the configured username and password
// otherwise.
func AuthCredentialsFn(ctx context.Context, cfg config.ValkeyConfig) (credentialsFn, error) {
	if !cfg.IAMEnabled {
		return StaticCredentialsFn(cfg.Username, cfg.Password), nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config for IAM auth: %w", err)
	}

	return IAMCredentialsFn(cfg, awsCfg)
}

// StaticCredentialsFn returns an AuthCredentialsFn that always returns the
// configured username and password.
func StaticCredentialsFn(username, password string) credentialsFn {
	return func(valkey.AuthCredentialsContext) (valkey.AuthCredentials, error) {
		return valkey.AuthCredentials{
			Username: username,
			Password: password,
		}, nil
	}
}

// IAMCredentialsFn returns an AuthCredentialsFn generating an ElastiCache IAM
// token for every new connection. The aws.Config parameter allows callers to
// inject credentials for testing.
func IAMCredentialsFn(cfg config.ValkeyConfig, awsCfg aws.Config) (credentialsFn, error) {
	var opts []iamcacheauth.Option
	if cfg.IAMServerless {
		opts = append(opts, iamcacheauth.WithServerless())
	}

	gen, err := iamcacheauth.NewElastiCache(cfg.Username, cfg.IAMCacheName, awsCfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating IAM token generator: %w", err)
	}

	username := cfg.Username
	return func(valkey.AuthCredentialsContext) (valkey.AuthCredentials, error) {
		// The callback has no context of its own; signing is local so a
		// background context only bounds credential retrieval.
		token, err := gen.Token(context.Background())
		if err != nil {
			return valkey.AuthCredentials{}, fmt.Errorf("generating IAM auth token: %w", err)
		}
		return valkey.AuthCredentials{
			Username: username,
			Password: token,
		}, nil
	}, nil
}
