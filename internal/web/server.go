// Package web serves the daemon's status surface: schema versions, settings,
// notes and a live invalidation event stream.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"entstore/internal/daos"
	"entstore/internal/store"
	"entstore/internal/web/sse"
)

// Server is the HTTP status server over one store manager.
type Server struct {
	mgr      *store.Manager
	settings *daos.Settings
	notes    *daos.Notes
	broker   *sse.Broker
	router   *chi.Mux
	port     int
	bind     string
}

// NewServer creates the server and wires its routes. The SSE broker is
// subscribed to the manager's invalidation events by the caller.
func NewServer(mgr *store.Manager, settings *daos.Settings, notes *daos.Notes, broker *sse.Broker, port int, bind string) *Server {
	s := &Server{
		mgr:      mgr,
		settings: settings,
		notes:    notes,
		broker:   broker,
		router:   chi.NewRouter(),
		port:     port,
		bind:     bind,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.Recoverer)

	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/versions", s.handleVersions)
	s.router.Get("/api/settings", s.handleSettings)
	s.router.Put("/api/settings/{key}", s.handlePutSetting)
	s.router.Get("/api/notes", s.handleListNotes)
	s.router.Post("/api/notes", s.handleCreateNote)
	s.router.Get("/events", s.broker.ServeHTTP)
}

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.bind, s.port)

	server := &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// WriteTimeout disabled to allow long-lived SSE connections.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down HTTP server")
		// Stop the broker first so SSE clients are released before Shutdown
		// waits on open connections.
		s.broker.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":      "ok",
		"store":       s.mgr.Path(),
		"sse_clients": s.broker.ClientCount(),
	})
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"versions": s.mgr.Versions(),
		"resolved": s.mgr.Resolved(),
	})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	all, err := s.settings.All()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, all)
}

func (s *Server) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.settings.Set(key, body.Value); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.mgr.NotifyInvalidated("Settings")
	writeJSON(w, map[string]any{"key": key, "value": body.Value})
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := s.notes.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, notes)
}

func (s *Server) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.Title == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("title is required"))
		return
	}

	note, err := s.notes.Create(body.Title, body.Body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.mgr.NotifyInvalidated("Notes")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(note); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
