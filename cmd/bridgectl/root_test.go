package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/chinmina/weixin-bridge/internal/cache"
	"github.com/chinmina/weixin-bridge/internal/credential"
	"github.com/chinmina/weixin-bridge/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPrefix = "weixin-test"

type fixture struct {
	tokens  *cache.Memory[credential.Credential]
	tickets *cache.Memory[string]
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	tokens, err := cache.NewMemory[credential.Credential](0, 100)
	require.NoError(t, err)
	tickets, err := cache.NewMemory[string](0, 100)
	require.NoError(t, err)

	ctx := context.Background()
	tokenNS := cache.Namespace(testPrefix, token.TokenModule)
	_, err = tokens.Put(ctx, tokenNS, "mp-main", credential.Issue(credential.KindApplication, "mp-main", "abcdefgh-token", "", 7200))
	require.NoError(t, err)
	_, err = tokens.Put(ctx, tokenNS, "shop", credential.Issue(credential.KindAuthorizer, "shop", "shop-token", "shop-refresh", 7200))
	require.NoError(t, err)

	_, err = tickets.Put(ctx, cache.Namespace(testPrefix, token.TicketModule), "platform", "ticket@@@1")
	require.NoError(t, err)

	return fixture{tokens: tokens, tickets: tickets}
}

// open hands the fixture backends to a store that cannot close them, so that
// state survives across commands.
func (f fixture) open(context.Context) (*Store, error) {
	return NewStore(testPrefix, keepOpen[credential.Credential]{f.tokens}, keepOpen[string]{f.tickets}), nil
}

type keepOpen[T any] struct {
	cache.Backend[T]
}

func (keepOpen[T]) Close() error { return nil }

func run(t *testing.T, open OpenStore, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := NewRootCommand(open)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func lines(s string) []string {
	return strings.Split(strings.TrimSpace(s), "\n")
}

func TestKeys(t *testing.T) {
	f := newFixture(t)

	t.Run("defaults to token module", func(t *testing.T) {
		out, err := run(t, f.open, "keys")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"mp-main", "shop"}, lines(out))
	})

	t.Run("ticket module", func(t *testing.T) {
		out, err := run(t, f.open, "keys", "ticket")
		require.NoError(t, err)
		assert.Equal(t, []string{"platform"}, lines(out))
	})

	t.Run("unknown module", func(t *testing.T) {
		_, err := run(t, f.open, "keys", "sessions")
		assert.ErrorContains(t, err, `unknown module "sessions"`)
	})
}

func TestSize(t *testing.T) {
	f := newFixture(t)

	out, err := run(t, f.open, "size")
	require.NoError(t, err)
	assert.Equal(t, "2", strings.TrimSpace(out))
}

func TestGet(t *testing.T) {
	f := newFixture(t)

	t.Run("token redacted by default", func(t *testing.T) {
		out, err := run(t, f.open, "get", "mp-main")
		require.NoError(t, err)
		assert.Contains(t, out, `"abcd…"`)
		assert.NotContains(t, out, "abcdefgh-token")
	})

	t.Run("token shown on request", func(t *testing.T) {
		out, err := run(t, f.open, "get", "mp-main", "--show-token")
		require.NoError(t, err)
		assert.Contains(t, out, "abcdefgh-token")
	})

	t.Run("ticket", func(t *testing.T) {
		out, err := run(t, f.open, "get", "platform", "--module", "ticket")
		require.NoError(t, err)
		assert.Equal(t, `"ticket@@@1"`, strings.TrimSpace(out))
	})

	t.Run("missing", func(t *testing.T) {
		_, err := run(t, f.open, "get", "nope")
		assert.ErrorContains(t, err, `token "nope" not found`)
	})
}

func TestRemove(t *testing.T) {
	f := newFixture(t)

	out, err := run(t, f.open, "remove", "shop")
	require.NoError(t, err)
	assert.Contains(t, out, `removed token "shop"`)

	_, ok, err := f.tokens.Get(context.Background(), cache.Namespace(testPrefix, token.TokenModule), "shop")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = run(t, f.open, "remove", "shop")
	assert.ErrorContains(t, err, "not found")
}

func TestClear(t *testing.T) {
	f := newFixture(t)

	_, err := run(t, f.open, "clear")
	require.NoError(t, err)

	out, err := run(t, f.open, "size")
	require.NoError(t, err)
	assert.Equal(t, "0", strings.TrimSpace(out))

	out, err = run(t, f.open, "size", "ticket")
	require.NoError(t, err)
	assert.Equal(t, "1", strings.TrimSpace(out), "other modules are untouched")
}

func TestCacheFailureIsReported(t *testing.T) {
	outage := errors.New("connection refused")
	open := func(context.Context) (*Store, error) {
		return NewStore(testPrefix, failingBackend[credential.Credential]{err: outage}, failingBackend[string]{err: outage}), nil
	}

	for _, args := range [][]string{{"keys"}, {"size"}, {"get", "mp-main"}, {"remove", "mp-main"}, {"clear"}} {
		t.Run(args[0], func(t *testing.T) {
			_, err := run(t, open, args...)
			assert.ErrorIs(t, err, outage)
		})
	}
}

func TestOpenFailure(t *testing.T) {
	open := func(context.Context) (*Store, error) {
		return nil, errors.New("configuration load failed")
	}

	_, err := run(t, open, "keys")
	assert.ErrorContains(t, err, "configuration load failed")
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "", redact(""))
	assert.Equal(t, "abcd", redact("abcd"))
	assert.Equal(t, "abcd…", redact("abcde"))
}

type failingBackend[T any] struct {
	err error
}

func (b failingBackend[T]) Keys(context.Context, string) ([]string, error) { return nil, b.err }
func (b failingBackend[T]) Size(context.Context, string) (int, error)      { return 0, b.err }
func (b failingBackend[T]) Get(context.Context, string, string) (T, bool, error) {
	var zero T
	return zero, false, b.err
}
func (b failingBackend[T]) Put(context.Context, string, string, T) (T, error) {
	var zero T
	return zero, b.err
}
func (b failingBackend[T]) Remove(context.Context, string, string) (T, bool, error) {
	var zero T
	return zero, false, b.err
}
func (b failingBackend[T]) Clear(context.Context, string) error { return b.err }
func (b failingBackend[T]) Close() error                        { return nil }

