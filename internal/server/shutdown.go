package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"
)

type hook struct {
	name string
	fn   func(context.Context) error
}

// Hooks releases process resources on shutdown. Hooks run in reverse order of
// registration, so a component is stopped before the resources it was built
// on: the credential caches before the valkey client they share, the valkey
// client before telemetry. A failing hook does not stop the others.
type Hooks struct {
	mu    sync.Mutex
	hooks []hook
	ran   bool
}

// Add registers a hook that receives the shutdown context. Nil hooks are
// ignored.
func (h *Hooks) Add(name string, fn func(context.Context) error) {
	if fn == nil {
		log.Warn().Str("hook", name).Msg("attempted to add nil shutdown hook; ignoring")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	log.Debug().Str("hook", name).Msg("adding shutdown hook")
	h.hooks = append(h.hooks, hook{name: name, fn: fn})
}

// AddCloser registers an io.Closer, such as a cache backend.
func (h *Hooks) AddCloser(name string, closer io.Closer) {
	if closer == nil {
		log.Warn().Str("hook", name).Msg("attempted to add nil shutdown hook; ignoring")
		return
	}
	h.Add(name, func(context.Context) error { return closer.Close() })
}

// AddClose registers a resource whose Close has no result, such as a valkey
// client.
func (h *Hooks) AddClose(name string, closer interface{ Close() }) {
	if closer == nil {
		log.Warn().Str("hook", name).Msg("attempted to add nil shutdown hook; ignoring")
		return
	}
	h.Add(name, func(context.Context) error { closer.Close(); return nil })
}

// Run executes the hooks once, newest first. Later calls do nothing. The
// returned error joins every hook failure.
func (h *Hooks) Run(ctx context.Context) error {
	h.mu.Lock()
	if h.ran {
		h.mu.Unlock()
		return nil
	}
	h.ran = true
	hooks := h.hooks
	h.mu.Unlock()

	l := log.Ctx(ctx)

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		hk := hooks[i]
		hookLog := l.With().Str("hook", hk.name).Logger()

		hookLog.Info().Msg("shutdown started")
		if err := hk.fn(ctx); err != nil {
			hookLog.Warn().Err(err).Msg("shutdown failed")
			errs = append(errs, fmt.Errorf("%s: %w", hk.name, err))
			continue
		}
		hookLog.Info().Msg("shutdown complete")
	}

	return errors.Join(errs...)
}
