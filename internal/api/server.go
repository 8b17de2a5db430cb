// Package api exposes the gateway's control-plane HTTP surface: health,
// key-store inventory, and the active routing table, plus the admin
// WebSocket feed mounted alongside it.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/halyardsys/protogate/internal/keystore"
	"github.com/halyardsys/protogate/internal/pipeline"
	"github.com/halyardsys/protogate/internal/router"
	"github.com/halyardsys/protogate/internal/transport/adminws"
)

// Server is the gateway's control-plane HTTP server.
type Server struct {
	httpServer *http.Server
	store      *keystore.Store
	router     *router.Router
	pipeline   *pipeline.Pipeline
}

// New builds a Server listening on addr, wiring health/key/route
// endpoints plus feed as the admin WebSocket handler.
func New(addr string, store *keystore.Store, r *router.Router, p *pipeline.Pipeline, feed *adminws.Feed) *Server {
	s := &Server{store: store, router: r, pipeline: p}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/keys", s.handleKeys)
	mux.HandleFunc("/routes", s.handleRoutes)
	mux.HandleFunc("/stats", s.handleStats)
	if feed != nil {
		mux.HandleFunc("/admin/feed", feed.ServeHTTP)
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// ListenAndServe starts the HTTP server, blocking until it stops.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Close gracefully stops the HTTP server.
func (s *Server) Close() error {
	return s.httpServer.Close()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": s.pipeline.State().String(),
	})
}

func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.List())
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.router.Snapshot())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pipeline.Stats())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}
