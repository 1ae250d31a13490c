// Package server hosts the funding HTTP service.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/louisbranch/cyclefund/internal/funding/api"
	"github.com/louisbranch/cyclefund/internal/funding/grant"
	"github.com/louisbranch/cyclefund/internal/funding/service"
	fundingsqlite "github.com/louisbranch/cyclefund/internal/funding/storage/sqlite"
	"github.com/louisbranch/cyclefund/internal/platform/config"
	"github.com/louisbranch/cyclefund/internal/platform/timeouts"
)

// serverEnv holds env-parsed configuration for the funding server.
type serverEnv struct {
	DBPath        string `env:"CYCLEFUND_FUNDING_DB_PATH"`
	GrantsEnabled bool   `env:"CYCLEFUND_OPERATOR_GRANTS_ENABLED"`
}

func loadServerEnv() serverEnv {
	var cfg serverEnv
	_ = config.ParseEnv(&cfg)
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join("data", "funding.db")
	}
	return cfg
}

// Server hosts the funding service over HTTP.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	store      *fundingsqlite.Store
	closeOnce  sync.Once
}

// New creates a configured funding server listening on the provided address.
func New(addr string) (*Server, error) {
	srvEnv := loadServerEnv()

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	store, err := openFundingStore(srvEnv.DBPath)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	svc := service.New(store, store)

	var opts []api.Option
	if srvEnv.GrantsEnabled {
		grantConfig, err := grant.LoadConfigFromEnv(nil)
		if err != nil {
			_ = listener.Close()
			_ = store.Close()
			return nil, fmt.Errorf("load operator grant config: %w", err)
		}
		opts = append(opts, api.WithOperatorGrants(grantConfig))
	}

	mux := http.NewServeMux()
	api.RegisterRoutes(mux, api.NewHandler(svc, opts...))

	httpServer := &http.Server{
		Handler:           http.TimeoutHandler(mux, timeouts.Request, "request timed out"),
		ReadHeaderTimeout: timeouts.ReadHeader,
	}

	return &Server{
		listener:   listener,
		httpServer: httpServer,
		store:      store,
	}, nil
}

// Addr returns the listener address for the funding server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a funding server until the context ends.
func Run(ctx context.Context, addr string) error {
	server, err := New(addr)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the funding server and blocks until it stops or the context
// ends.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	log.Printf("funding server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	handleErr := func(err error) error {
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		return handleErr(<-serveErr)
	case err := <-serveErr:
		return handleErr(err)
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		if s.listener != nil {
			if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				log.Printf("close funding listener: %v", err)
			}
		}
		if s.store != nil {
			if err := s.store.Close(); err != nil {
				log.Printf("close funding store: %v", err)
			}
		}
	})
}

func openFundingStore(path string) (*fundingsqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := fundingsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open funding sqlite store: %w", err)
	}
	return store, nil
}
