package account

import (
	"fmt"
	"sync"
	"testing"

	"github.com/chinmina/weixin-bridge/internal/credential"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func officialAccount(key string) Account {
	return Account{
		Key:       key,
		Kind:      credential.KindApplication,
		AppID:     "wx" + key,
		AppSecret: "secret",
	}
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(officialAccount("mp"), officialAccount("shop")))

	e, err := r.Lookup("mp")
	require.NoError(t, err)
	assert.Equal(t, "wxmp", e.AppID)
	assert.Equal(t, []string{"mp", "shop"}, r.Keys())
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_LookupMissing(t *testing.T) {
	r := NewRegistry()

	_, err := r.Lookup("absent")

	var notFound NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "absent", notFound.Key)
	status, _ := notFound.Status()
	assert.Equal(t, 404, status)
}

func TestRegistry_RegisterIsAllOrNothing(t *testing.T) {
	r := NewRegistry()

	err := r.Register(officialAccount("good"), Account{Key: "bad", Kind: "carrier-pigeon", AppID: "x"})

	assert.ErrorContains(t, err, "unsupported kind")
	assert.Empty(t, r.Keys())
}

func TestRegistry_SnapshotIsolation(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(officialAccount("mp")))
	before, err := r.Lookup("mp")
	require.NoError(t, err)

	require.NoError(t, r.Register(officialAccount("shop")))

	after, err := r.Lookup("mp")
	require.NoError(t, err)
	assert.Same(t, before, after, "registering another account keeps existing entries")
}

func TestEntry_SeedCredential(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Account{
		Key:          "shop",
		Kind:         credential.KindAuthorizer,
		AppID:        "wxshop",
		Component:    "platform",
		RefreshToken: "refreshtoken@@@seed",
	}))

	e, err := r.Lookup("shop")
	require.NoError(t, err)

	c := e.Credential()
	assert.Equal(t, credential.KindAuthorizer, c.Kind)
	assert.Equal(t, "shop", c.OwnerMark)
	assert.Equal(t, "refreshtoken@@@seed", c.RefreshToken)
	assert.True(t, c.IsExpired())
}

func TestEntry_EffectiveRetryLimit(t *testing.T) {
	e := newEntry(officialAccount("mp"))
	assert.Equal(t, 2, e.EffectiveRetryLimit(2))

	e.RetryLimit = 5
	assert.Equal(t, 5, e.EffectiveRetryLimit(2))
}

func TestEntry_ConcurrentStore(t *testing.T) {
	e := newEntry(officialAccount("mp"))

	var wg sync.WaitGroup
	written := make([]string, 16)
	for i := range written {
		written[i] = fmt.Sprintf("token-%d", i)
		wg.Add(2)
		go func(token string) {
			defer wg.Done()
			e.Store(credential.Issue(credential.KindApplication, "mp", token, "", 7200))
		}(written[i])
		go func() {
			defer wg.Done()
			_ = e.Credential().Token
		}()
	}
	wg.Wait()

	assert.Contains(t, written, e.Credential().Token)
}

func TestAccount_Validate(t *testing.T) {
	tests := []struct {
		name    string
		account Account
		wantErr string
	}{
		{name: "application", account: officialAccount("mp")},
		{name: "blank key", account: Account{Key: " ", Kind: credential.KindApplication}, wantErr: "key is required"},
		{name: "missing app id", account: Account{Key: "mp", Kind: credential.KindApplication}, wantErr: "appId is required"},
		{name: "application without secret", account: Account{Key: "mp", Kind: credential.KindApplication, AppID: "wx1"}, wantErr: "appSecret is required"},
		{name: "component without secret", account: Account{Key: "open", Kind: credential.KindComponent, AppID: "wx1"}, wantErr: "appSecret is required"},
		{name: "authorizer without component", account: Account{Key: "shop", Kind: credential.KindAuthorizer, AppID: "wx1"}, wantErr: "component is required"},
		{name: "web without secret", account: Account{Key: "site", Kind: credential.KindWeb, AppID: "wx1"}},
		{name: "negative retry limit", account: Account{Key: "site", Kind: credential.KindWeb, AppID: "wx1", RetryLimit: -1}, wantErr: "retryLimit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.account.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
