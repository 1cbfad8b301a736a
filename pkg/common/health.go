package common

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/arl/statsviz"

	"github.com/ahrav/fetch-relay/pkg/common/logger"
)

// HealthServer serves liveness and readiness probes plus the statsviz runtime
// dashboard under /debug/statsviz/.
type HealthServer struct {
	server   *http.Server
	listener net.Listener
}

// NewHealthServer binds addr and starts serving in the background.
// Readiness reports 200 only once ready is set.
func NewHealthServer(addr string, ready *atomic.Bool, log *logger.Logger) (*HealthServer, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if !ready.Load() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	if err := statsviz.Register(mux); err != nil {
		return nil, fmt.Errorf("registering statsviz: %w", err)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	hs := &HealthServer{
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ErrorLog:          logger.NewStdLogger(log, logger.LevelError),
		},
		listener: ln,
	}

	go func() {
		if err := hs.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(context.Background(), "health server stopped", "error", err)
		}
	}()

	return hs, nil
}

// Addr returns the bound address.
func (hs *HealthServer) Addr() string { return hs.listener.Addr().String() }

// Shutdown gracefully stops the server.
func (hs *HealthServer) Shutdown(ctx context.Context) error { return hs.server.Shutdown(ctx) }
