package main

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tyrowin/echo-relay/internal/server"
	"github.com/Tyrowin/echo-relay/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := server.LoadConfig()
	if err != nil {
		log.Error("loading configuration", "error", err)
		os.Exit(1)
	}

	// A missing database is not fatal: posts still broadcast live, they
	// are just absent from future history replays. Store calls report
	// their own failures per operation.
	messageStore, err := store.Open(cfg.DB.StoreConfig())
	if err != nil {
		log.Error("message store unavailable, running without durable history", "error", err)
	}

	hub := server.NewHub(log)
	go hub.Run()

	relay := server.NewRelay(hub, messageStore, log, cfg.StoreTimeout)
	ws := server.NewWSHandler(hub, relay, cfg, log)
	mux := server.SetupRoutes(ws)

	listener, port, err := server.ListenWithRetry(cfg.Port, cfg.BindRetries, log)
	if err != nil {
		log.Error("binding listener", "error", err)
		os.Exit(1)
	}

	httpServer := server.CreateServer(mux)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(httpServer, listener)
	}()
	log.Info("chat relay listening", "port", port)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info("shutting down", "signal", sig.String())
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
		}
	}

	if err := server.ShutdownServer(httpServer, shutdownTimeout); err != nil {
		log.Error("http shutdown", "error", err)
	}
	if err := hub.Shutdown(shutdownTimeout); err != nil {
		log.Error("hub shutdown", "error", err)
	}
	if err := messageStore.Close(); err != nil {
		log.Error("closing message store", "error", err)
	}
}
