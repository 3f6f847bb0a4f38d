// Package api serves the bridge's status and control endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/bbernstein/lacylights-midi/internal/database/models"
	"github.com/bbernstein/lacylights-midi/internal/mapping"
	"github.com/bbernstein/lacylights-midi/internal/services/dispatch"
	"github.com/bbernstein/lacylights-midi/internal/services/pubsub"
	"github.com/bbernstein/lacylights-midi/internal/services/scaling"
)

// Engine is the part of the dispatch engine the API reads and controls.
type Engine interface {
	Store() *mapping.Store
	Stats() dispatch.Stats
	Reload(ctx context.Context) error
}

// RevisionLister returns stored configuration revisions, newest first.
type RevisionLister interface {
	FindRecent(ctx context.Context, limit int) ([]models.ConfigRevision, error)
}

// Options configures a Server.
type Options struct {
	Engine     Engine
	Revisions  RevisionLister // nil when revision history is disabled
	PubSub     *pubsub.PubSub
	Version    string
	CORSOrigin string
	Debug      bool
}

// Server holds the handlers and their dependencies.
type Server struct {
	engine    Engine
	revisions RevisionLister
	pubsub    *pubsub.PubSub
	version   string
	started   time.Time
	upgrader  websocket.Upgrader

	corsOrigin string
	debug      bool
}

// NewServer creates a Server.
func NewServer(opts Options) *Server {
	return &Server{
		engine:    opts.Engine,
		revisions: opts.Revisions,
		pubsub:    opts.PubSub,
		version:   opts.Version,
		started:   time.Now(),

		corsOrigin: opts.CORSOrigin,
		debug:      opts.Debug,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for WebSocket
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Handler builds the chi router with middleware and routes.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	if s.debug {
		router.Use(middleware.Logger)
	}
	router.Use(middleware.Recoverer)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   []string{s.corsOrigin, "http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		Debug:            s.debug,
	})
	router.Use(corsMiddleware.Handler)

	router.Get("/health", s.health)

	router.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Get("/status", s.status)
		r.Get("/mappings", s.mappings)
		r.Post("/reload", s.reload)
		r.Get("/revisions", s.listRevisions)
	})

	router.Get("/ws/events", s.events)

	return router
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("⚠️  Failed to write response: %v", err)
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   s.version,
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

type statusResponse struct {
	Revision   string              `json:"revision"`
	Source     string              `json:"source"`
	Hash       string              `json:"hash"`
	LoadedAt   time.Time           `json:"loadedAt"`
	RuleCount  int                 `json:"ruleCount"`
	Settings   mapping.Settings    `json:"settings"`
	Stats      dispatch.Stats      `json:"stats"`
	Algorithms []scaling.Algorithm `json:"algorithms"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	store := s.engine.Store()
	if store == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "no mapping loaded"})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Revision:   store.Revision(),
		Source:     store.Source(),
		Hash:       store.Hash(),
		LoadedAt:   store.LoadedAt(),
		RuleCount:  store.Len(),
		Settings:   store.Settings(),
		Stats:      s.engine.Stats(),
		Algorithms: scaling.Known(),
	})
}

type mappingsResponse struct {
	Revision string          `json:"revision"`
	Rules    []mapping.Entry `json:"rules"`
}

func (s *Server) mappings(w http.ResponseWriter, r *http.Request) {
	store := s.engine.Store()
	if store == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "no mapping loaded"})
		return
	}
	writeJSON(w, http.StatusOK, mappingsResponse{Revision: store.Revision(), Rules: store.Rules()})
}

type reloadResponse struct {
	Revision  string `json:"revision"`
	RuleCount int    `json:"ruleCount"`
}

func (s *Server) reload(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Reload(r.Context()); err != nil {
		var cfgErr *mapping.ConfigError
		if errors.As(err, &cfgErr) {
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Field: cfgErr.Field})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	store := s.engine.Store()
	writeJSON(w, http.StatusOK, reloadResponse{Revision: store.Revision(), RuleCount: store.Len()})
}

func (s *Server) listRevisions(w http.ResponseWriter, r *http.Request) {
	if s.revisions == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "revision history disabled"})
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be 1-500", Field: "limit"})
			return
		}
		limit = n
	}

	revisions, err := s.revisions.FindRecent(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if revisions == nil {
		revisions = []models.ConfigRevision{}
	}
	writeJSON(w, http.StatusOK, revisions)
}
