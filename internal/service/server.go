package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server runs the ledger API until Stop.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	ready      chan net.Addr
}

func NewServer(addr string, handler http.Handler, logger *zap.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			// exports and image uploads are the slow paths
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		logger: logger,
		ready:  make(chan net.Addr, 1),
	}
}

// Start blocks serving requests. It returns nil after a graceful Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("ledger-api listening", zap.String("addr", ln.Addr().String()))
	s.ready <- ln.Addr()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Ready yields the bound address once Start is listening.
func (s *Server) Ready() <-chan net.Addr { return s.ready }

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("ledger-api shutting down")
	return s.httpServer.Shutdown(ctx)
}
