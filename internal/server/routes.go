// Package server wires HTTP handlers into a ServeMux for the arena
// application via routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application
// routes: the game socket, health and stats endpoints, and the static client.
func SetupRoutes(h *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.WebSocketHandler)
	mux.HandleFunc("/healthz", h.HealthHandler)
	mux.HandleFunc("/stats", h.StatsHandler)
	if dir := h.Config().StaticDir; dir != "" {
		mux.Handle("/", http.FileServer(http.Dir(dir)))
	}
	return mux
}
