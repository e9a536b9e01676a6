package server

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHooks_Add(t *testing.T) {
	t.Run("adds hook", func(t *testing.T) {
		hooks := &Hooks{}
		called := false

		hooks.Add("test", func(ctx context.Context) error {
			called = true
			return nil
		})

		require.Len(t, hooks.hooks, 1)
		assert.Equal(t, "test", hooks.hooks[0].name)

		require.NoError(t, hooks.Run(context.Background()))
		assert.True(t, called, "hook should have been called")
	})

	t.Run("ignores nil hooks", func(t *testing.T) {
		hooks := &Hooks{}
		hooks.Add("nil-hook", nil)
		hooks.AddCloser("nil-closer", nil)
		hooks.AddClose("nil-close", nil)

		assert.Empty(t, hooks.hooks)
	})
}

func TestHooks_Closers(t *testing.T) {
	t.Run("closer error is returned", func(t *testing.T) {
		hooks := &Hooks{}
		hooks.AddCloser("backend", &errCloser{err: errors.New("close failed")})

		err := hooks.Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "backend: close failed")
	})

	t.Run("close without result", func(t *testing.T) {
		hooks := &Hooks{}
		closer := &mockCloser{}
		hooks.AddClose("client", closer)

		require.NoError(t, hooks.Run(context.Background()))
		assert.True(t, closer.closed)
	})
}

func TestHooks_Run(t *testing.T) {
	t.Run("runs newest first", func(t *testing.T) {
		hooks := &Hooks{}
		var order []string

		hooks.Add("telemetry", func(ctx context.Context) error {
			order = append(order, "telemetry")
			return nil
		})
		hooks.AddClose("valkey", &mockCloser{closeFn: func() { order = append(order, "valkey") }})
		hooks.AddCloser("credentials", &errCloser{closeFn: func() { order = append(order, "credentials") }})

		require.NoError(t, hooks.Run(context.Background()))
		assert.Equal(t, []string{"credentials", "valkey", "telemetry"}, order)
	})

	t.Run("continues and joins failures", func(t *testing.T) {
		hooks := &Hooks{}
		var executed []string
		first := errors.New("first error")
		second := errors.New("second error")

		hooks.Add("error1", func(context.Context) error {
			executed = append(executed, "error1")
			return first
		})
		hooks.Add("success", func(context.Context) error {
			executed = append(executed, "success")
			return nil
		})
		hooks.Add("error2", func(context.Context) error {
			executed = append(executed, "error2")
			return second
		})

		err := hooks.Run(context.Background())

		assert.Equal(t, []string{"error2", "success", "error1"}, executed)
		assert.ErrorIs(t, err, first)
		assert.ErrorIs(t, err, second)
	})

	t.Run("runs once", func(t *testing.T) {
		hooks := &Hooks{}
		calls := 0
		hooks.Add("counter", func(context.Context) error {
			calls++
			return nil
		})

		require.NoError(t, hooks.Run(context.Background()))
		require.NoError(t, hooks.Run(context.Background()))
		assert.Equal(t, 1, calls)
	})

	t.Run("passes context to hooks", func(t *testing.T) {
		hooks := &Hooks{}
		type ctxKey struct{}

		var received string
		hooks.Add("ctx-check", func(ctx context.Context) error {
			received = ctx.Value(ctxKey{}).(string)
			return nil
		})

		ctx := context.WithValue(context.Background(), ctxKey{}, "test-value")
		require.NoError(t, hooks.Run(ctx))
		assert.Equal(t, "test-value", received)
	})

	t.Run("empty", func(t *testing.T) {
		hooks := &Hooks{}
		assert.NoError(t, hooks.Run(context.Background()))
	})
}

type mockCloser struct {
	closeFn func()
	closed  bool
}

func (m *mockCloser) Close() {
	m.closed = true
	if m.closeFn != nil {
		m.closeFn()
	}
}

type errCloser struct {
	closeFn func()
	err     error
}

func (c *errCloser) Close() error {
	if c.closeFn != nil {
		c.closeFn()
	}
	return c.err
}
