package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/remiblancher/qscep/internal/api/router"
	"github.com/remiblancher/qscep/internal/api/service"
	"github.com/remiblancher/qscep/internal/audit"
)

// Server is the REST API HTTP server.
type Server struct {
	cfg     *Config
	version string
	srv     *http.Server

	mu   sync.Mutex
	addr net.Addr
}

// New creates a Server for svc.
func New(cfg *Config, version string, svc *service.SCEPService) *Server {
	handler := router.New(&router.Config{
		Version:      version,
		Service:      svc,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})
	return &Server{
		cfg:     cfg,
		version: version,
		srv: &http.Server{
			Addr:         cfg.Address(),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Addr returns the bound address once Run is listening, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start serves until SIGINT or SIGTERM.
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Address(), err)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	if err := audit.LogServiceStarted(ln.Addr().String(), s.version); err != nil {
		ln.Close()
		return err
	}
	s.printStartupInfo(ln.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		if s.cfg.TLSEnabled() {
			errChan <- s.srv.ServeTLS(ln, s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			errChan <- s.srv.Serve(ln)
		}
	}()

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Printf("Shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	log.Println("Server stopped gracefully")
	return nil
}

func (s *Server) printStartupInfo(addr string) {
	scheme := "http"
	if s.cfg.TLSEnabled() {
		scheme = "https"
	}
	fmt.Println()
	fmt.Println("qscep API Server")
	fmt.Println("================")
	fmt.Printf("  Version:  %s\n", s.version)
	fmt.Printf("  Address:  %s://%s\n", scheme, addr)
	fmt.Println()
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /health                - Health check")
	fmt.Println("  GET  /ready                 - Readiness check")
	fmt.Println("  POST /api/v1/scep/request   - Build a PKCSReq")
	fmt.Println("  POST /api/v1/scep/inspect   - Decode a pkiMessage")
	fmt.Println()
	fmt.Println("Use Ctrl+C to stop")
	fmt.Println()
}
