package token

import (
	"context"
	"testing"

	"github.com/chinmina/weixin-bridge/internal/account"
	"github.com/chinmina/weixin-bridge/internal/credential"
	"github.com/chinmina/weixin-bridge/internal/response"
	"github.com/chinmina/weixin-bridge/internal/testhelpers"
	"github.com/chinmina/weixin-bridge/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var shopAccount = account.Account{
	Key:          "shop",
	Kind:         credential.KindAuthorizer,
	AppID:        "wx0004",
	Component:    "platform",
	RefreshToken: "seed-refresh",
}

func newPlatformFixture(t *testing.T, accounts ...account.Account) (fixture, *testhelpers.MockPlatformServer) {
	t.Helper()

	platform := testhelpers.SetupMockPlatformServer(t)
	sender, err := transport.NewHTTPSender(platform.URL(), platform.Server.Client())
	require.NoError(t, err)

	return newFixture(t, NewPlatformFetcher(sender), accounts...), platform
}

func TestPlatformFetcher_Application(t *testing.T) {
	f, platform := newPlatformFixture(t, mpAccount)

	c, err := f.source.Current(context.Background(), "mp")
	require.NoError(t, err)

	assert.Equal(t, "app-token-1", c.Token)
	assert.Equal(t, credential.KindApplication, c.Kind)
	assert.Equal(t, int64(7200), c.LifetimeSeconds())
	assert.False(t, c.IsExpired())
	assert.Equal(t, 1, platform.Requests("token"))
}

func TestPlatformFetcher_ApplicationRejected(t *testing.T) {
	f, platform := newPlatformFixture(t, mpAccount)
	platform.FailTokenRequests(response.CodeInvalidAppSecret)

	_, err := f.source.Current(context.Background(), "mp")

	var platformErr *response.PlatformError
	require.ErrorAs(t, err, &platformErr)
	assert.Equal(t, response.CodeInvalidAppSecret, platformErr.Code)
}

func TestPlatformFetcher_ComponentNeedsTicket(t *testing.T) {
	ctx := context.Background()
	f, platform := newPlatformFixture(t, platformAccount)

	_, err := f.source.Current(ctx, "platform")
	var missing TicketMissingError
	require.ErrorAs(t, err, &missing)
	assert.Zero(t, platform.Requests("component"))

	require.NoError(t, f.source.SetTicket(ctx, "platform", "ticket@@@abc"))

	c, err := f.source.Current(ctx, "platform")
	require.NoError(t, err)
	assert.Equal(t, "component-token-1", c.Token)
	assert.Equal(t, "ticket@@@abc", platform.LastTicket())
}

func TestPlatformFetcher_Authorizer(t *testing.T) {
	ctx := context.Background()
	f, platform := newPlatformFixture(t, platformAccount, shopAccount)
	require.NoError(t, f.source.SetTicket(ctx, "platform", "ticket@@@abc"))

	c, err := f.source.Current(ctx, "shop")
	require.NoError(t, err)

	assert.Equal(t, "authorizer-token-2", c.Token)
	assert.Equal(t, "refresh-authorizer-token-2", c.RefreshToken)
	assert.Equal(t, "seed-refresh", platform.LastRefreshToken())
	assert.Equal(t, 1, platform.Requests("component"))

	// the rotated refresh token is used next time
	_, err = f.source.Refresh(ctx, "shop", c)
	require.NoError(t, err)
	assert.Equal(t, "refresh-authorizer-token-2", platform.LastRefreshToken())
}

func TestPlatformFetcher_AuthorizerRefreshesRejectedComponent(t *testing.T) {
	ctx := context.Background()
	f, platform := newPlatformFixture(t, platformAccount, shopAccount)
	require.NoError(t, f.source.SetTicket(ctx, "platform", "ticket@@@abc"))

	_, err := f.source.Current(ctx, "platform")
	require.NoError(t, err)

	// the component token is still unexpired locally but the platform no
	// longer accepts it
	platform.Revoke()

	c, err := f.source.Current(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, "authorizer-token-3", c.Token)
	assert.Equal(t, 2, platform.Requests("component"))
	assert.Equal(t, 2, platform.Requests("authorizer"))
}

func TestPlatformFetcher_AuthorizerComponentMustBeComponent(t *testing.T) {
	misconfigured := shopAccount
	misconfigured.Component = "mp"
	f, _ := newPlatformFixture(t, mpAccount, misconfigured)

	_, err := f.source.Current(context.Background(), "shop")
	assert.ErrorContains(t, err, "is a application account")
}

func TestPlatformFetcher_Web(t *testing.T) {
	f, platform := newPlatformFixture(t, webAccount)

	c, err := f.source.Current(context.Background(), "site")
	require.NoError(t, err)

	assert.Equal(t, "web-token-1", c.Token)
	assert.Equal(t, "refresh-web-token-1", c.RefreshToken)
	assert.Equal(t, "seed-refresh", platform.LastRefreshToken())
}

func TestPlatformFetcher_WebWithoutRefreshToken(t *testing.T) {
	noSeed := webAccount
	noSeed.RefreshToken = ""
	f, platform := newPlatformFixture(t, noSeed)

	_, err := f.source.Current(context.Background(), "site")
	assert.ErrorIs(t, err, ErrNoRefreshToken)
	assert.Zero(t, platform.Requests("web"))
}
