// Package server binds the network endpoint, walking past occupied ports
// up to a retry budget.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"
)

// ListenWithRetry binds a TCP listener on the configured port. When the
// port is occupied it tries the next port, up to retries additional
// attempts, then fails. Any bind failure other than an address conflict is
// returned immediately. The second return value is the port actually
// bound.
func ListenWithRetry(port, retries int, log *slog.Logger) (net.Listener, int, error) {
	for attempt := 0; attempt <= retries; attempt++ {
		candidate := port + attempt
		listener, err := net.Listen("tcp", fmt.Sprintf(":%d", candidate))
		if err == nil {
			if attempt > 0 {
				log.Info("bound after port conflict", "port", candidate, "requested", port)
			}
			return listener, candidate, nil
		}
		if !isAddrInUse(err) {
			return nil, 0, fmt.Errorf("bind port %d: %w", candidate, err)
		}
		log.Warn("port in use", "port", candidate, "next", candidate+1)
	}
	return nil, 0, fmt.Errorf("no free port in range %d-%d", port, port+retries)
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}

// CreateServer configures the HTTP server with production timeouts. The
// read and write timeouts only govern the initial HTTP exchange; upgraded
// connections manage their own deadlines in the pumps.
func CreateServer(handler http.Handler) *http.Server {
	return &http.Server{
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Serve runs the HTTP server on an already-bound listener and blocks until
// it exits.
func Serve(server *http.Server, listener net.Listener) error {
	return server.Serve(listener)
}

// ShutdownServer stops accepting new connections and waits for in-flight
// requests up to the timeout.
func ShutdownServer(server *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return server.Shutdown(ctx)
}
