// SPDX-License-Identifier: MIT

package statusapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	vblog "github.com/vidbeat/vidbeat/internal/log"
)

const shutdownTimeout = 5 * time.Second

// Server runs the router on a listener for the lifetime of a context.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Listen binds addr. Use ":0" to pick a free port.
func Listen(addr string, handler http.Handler) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("status api: listen %s: %w", addr, err)
	}
	return &Server{
		ln: ln,
		srv: &http.Server{
			Handler:           handler,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}, nil
}

// Addr is the bound address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Serve blocks until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	logger := vblog.WithComponentFromContext(ctx, "statusapi")
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", s.Addr()).Msg("status api listening")
		if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status api: shutdown: %w", err)
	}
	return <-errCh
}
