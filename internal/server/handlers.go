// Package server exposes the HTTP surface: the WebSocket upgrade endpoint
// and a health check.
package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// WSHandler upgrades HTTP requests to WebSocket connections and wires each
// accepted connection into the hub and relay.
type WSHandler struct {
	hub      *Hub
	relay    *Relay
	cfg      Config
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler builds the upgrade handler. Origin checking follows the
// configured allow-list.
func NewWSHandler(hub *Hub, relay *Relay, cfg Config, log *slog.Logger) *WSHandler {
	checker := newOriginChecker(cfg.AllowedOrigins, log)
	return &WSHandler{
		hub:   hub,
		relay: relay,
		cfg:   cfg,
		log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checker.check,
		},
	}
}

// ServeHTTP accepts one connection: upgrade, resolve the origin address,
// register with the hub, then send the welcome notice. The hub starts the
// connection's pump goroutines as part of registration.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	addr := resolveClientAddr(r)
	client := NewClient(conn, h.hub, h.relay, addr, h.cfg, h.log)

	h.hub.Register(client)
	h.relay.Welcome(client)
}

// HealthHandler reports that the relay is up.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "chat relay is running")
}

// SetupRoutes wires the HTTP mux: health check at the root, WebSocket
// endpoint at /ws.
func SetupRoutes(ws *WSHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.Handle("/ws", ws)
	return mux
}
