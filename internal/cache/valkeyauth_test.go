package cache

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/chinmina/weixin-bridge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valkey-io/valkey-go"
)

func TestAuthCredentialsFn_StaticWhenIAMDisabled(t *testing.T) {
	fn, err := AuthCredentialsFn(context.Background(), config.ValkeyConfig{
		Username: "bridge",
		Password: "s3cret",
	})
	require.NoError(t, err)

	creds, err := fn(valkey.AuthCredentialsContext{})
	require.NoError(t, err)
	assert.Equal(t, valkey.AuthCredentials{Username: "bridge", Password: "s3cret"}, creds)
}

func TestStaticCredentialsFn_Empty(t *testing.T) {
	creds, err := StaticCredentialsFn("", "")(valkey.AuthCredentialsContext{})
	require.NoError(t, err)
	assert.Equal(t, valkey.AuthCredentials{}, creds)
}

func TestIAMCredentialsFn(t *testing.T) {
	awsCfg := aws.Config{
		Region:      "ap-east-1",
		Credentials: credentials.NewStaticCredentialsProvider("AKID", "SECRET", ""),
	}

	tests := []struct {
		name       string
		serverless bool
	}{
		{name: "cluster"},
		{name: "serverless", serverless: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.ValkeyConfig{
				IAMEnabled:    true,
				Username:      "bridge-iam",
				IAMCacheName:  "weixin-credentials",
				IAMServerless: tt.serverless,
			}

			fn, err := IAMCredentialsFn(cfg, awsCfg)
			require.NoError(t, err)

			first, err := fn(valkey.AuthCredentialsContext{})
			require.NoError(t, err)
			assert.Equal(t, "bridge-iam", first.Username)
			assert.NotEmpty(t, first.Password)
			assert.NotEqual(t, "SECRET", first.Password)
		})
	}
}
