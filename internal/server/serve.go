package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Serve runs srv on listener until ctx is cancelled, then drains in-flight
// requests for at most shutdownTimeout before running the hooks.
func Serve(ctx context.Context, srv *http.Server, listener net.Listener, shutdownTimeout time.Duration, hooks *Hooks) error {
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", listener.Addr().String()).Msg("server listening")
		serveErr <- srv.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		// the server stopped without being asked to
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		hookErr := hooks.Run(shutdownCtx)
		return errors.Join(fmt.Errorf("server stopped: %w", err), hookErr)

	case <-ctx.Done():
	}

	log.Info().Dur("timeout", shutdownTimeout).Msg("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	shutdownErr := srv.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		shutdownErr = fmt.Errorf("server shutdown: %w", shutdownErr)
	}

	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		shutdownErr = errors.Join(shutdownErr, fmt.Errorf("server stopped: %w", err))
	}

	return errors.Join(shutdownErr, hooks.Run(shutdownCtx))
}
