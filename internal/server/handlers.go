package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/blobarena/internal/gamelog"
)

// WebSocketHandler handles WebSocket upgrade requests. It validates that the
// request uses the GET method, upgrades the connection, gives the session a
// fresh id and registers it with the hub, which admits its player and starts
// the session's read/write pumps.
func (h *Hub) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		gamelog.Infof("WebSocket upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}

	session := NewSession(uuid.NewString(), conn, h, r.RemoteAddr)
	if !h.Register(session) {
		session.writeCloseMessage(websocket.CloseGoingAway, "server shutting down")
		session.closeConnection()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func (h *Hub) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Arena server is running! players=%d tick=%d", h.PlayerCount(), h.Tick())
}

// StatsHandler reports tick, population and the leaderboard as JSON.
func (h *Hub) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed.", http.StatusMethodNotAllowed)
		return
	}

	stats, err := h.Stats(r.Context())
	if err != nil {
		http.Error(w, "Stats unavailable.", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		gamelog.Debugf("Error writing stats response: %v", err)
	}
}
