package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServe_ShutsDownOnCancel(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("OK"))
		}),
	}

	hookRan := make(chan struct{})
	hooks := &Hooks{}
	hooks.Add("probe", func(context.Context) error {
		close(hookRan)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, srv, listener, 5*time.Second, hooks)
	}()

	res, err := http.Get("http://" + listener.Addr().String() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(res.Body)
	_ = res.Body.Close()
	assert.Equal(t, "OK", string(body))

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}

	select {
	case <-hookRan:
	default:
		t.Fatal("shutdown hook did not run")
	}
}

func TestServe_ListenerFailure(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, listener.Close())

	hookRan := false
	hooks := &Hooks{}
	hooks.Add("probe", func(context.Context) error {
		hookRan = true
		return nil
	})

	err = Serve(context.Background(), &http.Server{}, listener, time.Second, hooks)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server stopped")
	assert.True(t, hookRan)
}
