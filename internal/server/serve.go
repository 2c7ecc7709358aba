package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/thomasreuvers/apiease/internal/config"
)

// Serve runs srv until ctx is done or the process receives SIGINT or
// SIGTERM, then shuts it down gracefully and runs hooks.
func Serve(ctx context.Context, cfg config.ServerConfig, srv *http.Server, hooks *ShutdownHooks) error {
	listener, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("could not listen on %s: %w", srv.Addr, err)
	}

	return serveListener(ctx, cfg, srv, listener, hooks)
}

func serveListener(ctx context.Context, cfg config.ServerConfig, srv *http.Server, listener net.Listener, hooks *ShutdownHooks) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", listener.Addr().String()).Msg("server listening")
		serveErr <- srv.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("server shutting down")

	timeout := time.Duration(cfg.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	shutdownErr := srv.Shutdown(shutdownCtx)

	var hookErr error
	if hooks != nil {
		hookErr = hooks.Execute(shutdownCtx)
	}

	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Join(err, shutdownErr, hookErr)
	}

	return errors.Join(shutdownErr, hookErr)
}
