// Package server wires the proxy pipeline and the admin surface onto real
// listeners, with graceful-shutdown handling. Neither the retrieved reference
// proxy sources nor the rest of the example pack include a runnable
// cmd/main.go-style bootstrap for this kind of service, so the shutdown
// sequencing here follows plain net/http + context idiom rather than any one
// file; see DESIGN.md.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/handlers"

	"github.com/yatagarasu/yatagarasu/internal/audit"
	"github.com/yatagarasu/yatagarasu/internal/config"
	"github.com/yatagarasu/yatagarasu/internal/log"
)

// Server owns the two listeners (proxy and admin) and the shared audit
// queue, and coordinates their shutdown.
type Server struct {
	cfg        *config.ServerConfig
	proxy      *http.Server
	admin      *http.Server
	sameAddr   bool
	auditQueue *audit.Queue
}

// recoveryLogger adapts the package logger to gorilla/handlers.RecoveryHandler's
// expected Println(args ...interface{}) logger interface.
type recoveryLogger struct{}

func (recoveryLogger) Println(args ...interface{}) {
	log.Error("panic recovered in request handler", log.Pairs{"panic": args})
}

// New builds the proxy and admin http.Servers. proxyHandler serves the
// read-only object-store traffic; adminHandler serves /health, /ready,
// /metrics and /admin/*. When cfg.AdminListenAddress is empty or equal to
// ListenAddress, both handlers are mounted behind a single listener, with
// admin routes taking precedence only for the paths they explicitly
// register (mux.Router) and everything else falling to the proxy.
func New(cfg *config.ServerConfig, proxyHandler, adminHandler http.Handler, auditQueue *audit.Queue) *Server {
	recovered := handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{}), handlers.PrintRecoveryStack(false))

	readTimeout := time.Duration(cfg.ReadTimeoutSecs) * time.Second

	s := &Server{cfg: cfg, auditQueue: auditQueue}

	sameAddr := cfg.AdminListenAddress == "" || cfg.AdminListenAddress == cfg.ListenAddress
	s.sameAddr = sameAddr

	if sameAddr {
		mux := http.NewServeMux()
		mux.Handle("/health", adminHandler)
		mux.Handle("/ready", adminHandler)
		mux.Handle("/metrics", adminHandler)
		mux.Handle("/admin/", adminHandler)
		mux.Handle("/", proxyHandler)
		s.proxy = &http.Server{
			Addr:        cfg.ListenAddress,
			Handler:     recovered(mux),
			ReadTimeout: readTimeout,
		}
		return s
	}

	s.proxy = &http.Server{
		Addr:        cfg.ListenAddress,
		Handler:     recovered(proxyHandler),
		ReadTimeout: readTimeout,
	}
	s.admin = &http.Server{
		Addr:        cfg.AdminListenAddress,
		Handler:     recovered(adminHandler),
		ReadTimeout: readTimeout,
	}
	return s
}

// Run starts both listeners and blocks until ctx is cancelled, then drains
// in-flight requests within cfg.ShutdownTimeoutSecs before returning.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		log.Info("proxy listener starting", log.Pairs{"address": s.proxy.Addr})
		if err := s.proxy.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if !s.sameAddr {
		go func() {
			log.Info("admin listener starting", log.Pairs{"address": s.admin.Addr})
			if err := s.admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case err := <-errCh:
		s.shutdown()
		return err
	case <-ctx.Done():
		s.shutdown()
		return nil
	}
}

func (s *Server) shutdown() {
	timeout := time.Duration(s.cfg.ShutdownTimeoutSecs) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	log.Info("shutting down listeners", log.Pairs{"timeout": timeout.String()})
	if err := s.proxy.Shutdown(shutdownCtx); err != nil {
		log.Warn("proxy listener did not shut down cleanly", log.Pairs{"error": err.Error()})
	}
	if !s.sameAddr {
		if err := s.admin.Shutdown(shutdownCtx); err != nil {
			log.Warn("admin listener did not shut down cleanly", log.Pairs{"error": err.Error()})
		}
	}
	if s.auditQueue != nil {
		s.auditQueue.Shutdown()
	}
}
