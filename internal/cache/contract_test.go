package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cachedTicket stands in for the credential types held in production; the
// cache package cannot import them without a cycle.
type cachedTicket struct {
	Value   string
	Refresh string
}

// runBackendContract exercises the behaviour every Backend variant must share.
// Each subtest gets a fresh backend and a unique namespace.
func runBackendContract(t *testing.T, newBackend func(t *testing.T) Backend[cachedTicket]) {
	t.Helper()
	ctx := context.Background()

	t.Run("put then get", func(t *testing.T) {
		b := newBackend(t)
		ns := Namespace("test", t.Name())

		stored, err := b.Put(ctx, ns, "wx123", cachedTicket{Value: "tok", Refresh: "ref"})
		require.NoError(t, err)
		assert.Equal(t, cachedTicket{Value: "tok", Refresh: "ref"}, stored)

		value, found, err := b.Get(ctx, ns, "wx123")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, cachedTicket{Value: "tok", Refresh: "ref"}, value)
	})

	t.Run("put overwrites", func(t *testing.T) {
		b := newBackend(t)
		ns := Namespace("test", t.Name())

		_, err := b.Put(ctx, ns, "wx123", cachedTicket{Value: "first"})
		require.NoError(t, err)
		_, err = b.Put(ctx, ns, "wx123", cachedTicket{Value: "second"})
		require.NoError(t, err)

		value, found, err := b.Get(ctx, ns, "wx123")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "second", value.Value)
	})

	t.Run("missing key", func(t *testing.T) {
		b := newBackend(t)
		ns := Namespace("test", t.Name())

		_, found, err := b.Get(ctx, ns, "absent")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("blank key", func(t *testing.T) {
		b := newBackend(t)
		ns := Namespace("test", t.Name())

		_, err := b.Put(ctx, ns, "  ", cachedTicket{Value: "tok"})
		assert.ErrorIs(t, err, ErrBlankKey)

		_, found, err := b.Get(ctx, ns, "")
		require.NoError(t, err)
		assert.False(t, found)

		_, found, err = b.Remove(ctx, ns, "")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("resource containing separator", func(t *testing.T) {
		b := newBackend(t)
		ns := Namespace("test", t.Name())

		_, err := b.Put(ctx, ns, "component:wxabc", cachedTicket{Value: "tok"})
		require.NoError(t, err)

		keys, err := b.Keys(ctx, ns)
		require.NoError(t, err)
		assert.Equal(t, []string{"component:wxabc"}, keys)
	})

	t.Run("remove returns value", func(t *testing.T) {
		b := newBackend(t)
		ns := Namespace("test", t.Name())

		_, err := b.Put(ctx, ns, "wx123", cachedTicket{Value: "tok"})
		require.NoError(t, err)

		removed, found, err := b.Remove(ctx, ns, "wx123")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "tok", removed.Value)

		_, found, err = b.Get(ctx, ns, "wx123")
		require.NoError(t, err)
		assert.False(t, found)

		_, found, err = b.Remove(ctx, ns, "wx123")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("keys and size", func(t *testing.T) {
		b := newBackend(t)
		ns := Namespace("test", t.Name())

		keys, err := b.Keys(ctx, ns)
		require.NoError(t, err)
		assert.Empty(t, keys)

		for _, k := range []string{"a", "b", "c"} {
			_, err := b.Put(ctx, ns, k, cachedTicket{Value: k})
			require.NoError(t, err)
		}

		keys, err = b.Keys(ctx, ns)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a", "b", "c"}, keys)

		size, err := b.Size(ctx, ns)
		require.NoError(t, err)
		assert.Equal(t, 3, size)
	})

	t.Run("clear", func(t *testing.T) {
		b := newBackend(t)
		ns := Namespace("test", t.Name())

		for _, k := range []string{"a", "b"} {
			_, err := b.Put(ctx, ns, k, cachedTicket{Value: k})
			require.NoError(t, err)
		}

		require.NoError(t, b.Clear(ctx, ns))

		keys, err := b.Keys(ctx, ns)
		require.NoError(t, err)
		assert.Empty(t, keys)

		// clearing an empty namespace succeeds
		require.NoError(t, b.Clear(ctx, ns))
	})

	t.Run("namespace isolation", func(t *testing.T) {
		b := newBackend(t)
		tokens := Namespace("test", t.Name()+"-token")
		tickets := Namespace("test", t.Name()+"-ticket")

		_, err := b.Put(ctx, tokens, "wx123", cachedTicket{Value: "token"})
		require.NoError(t, err)
		_, err = b.Put(ctx, tickets, "wx123", cachedTicket{Value: "ticket"})
		require.NoError(t, err)

		require.NoError(t, b.Clear(ctx, tokens))

		_, found, err := b.Get(ctx, tokens, "wx123")
		require.NoError(t, err)
		assert.False(t, found)

		value, found, err := b.Get(ctx, tickets, "wx123")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "ticket", value.Value)
	})
}
