package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/anime-shed/image-describer-go/internal/logger"
)

const shutdownTimeout = 5 * time.Second

// StatusServer exposes the status handler while a batch runs
type StatusServer struct {
	server *http.Server
}

// NewStatusServer creates a server exposing status on addr
func NewStatusServer(addr string, status StatusProvider) *StatusServer {
	return &StatusServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           NewHandler(status),
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
		},
	}
}

// Run serves until ctx is done, then shuts down gracefully
func (s *StatusServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener
func (s *StatusServer) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"address": ln.Addr().String(),
		}).Info("Starting status server")
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("Status server stopped")
	return nil
}
