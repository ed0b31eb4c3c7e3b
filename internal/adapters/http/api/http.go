// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/storymap/internal/adapters/mapengine"
	"github.com/okian/storymap/internal/adapters/repository"
	"github.com/okian/storymap/internal/domain/dataset"
	"github.com/okian/storymap/internal/domain/model"
	"github.com/okian/storymap/pkg/logger"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// Read operations expose the story dataset.
	Years(ctx context.Context) ([]string, error)
	Stories(ctx context.Context, year string) (*dataset.Collection, error)

	// Sessions drive one browser map each.
	OpenSession(ctx context.Context, engine mapengine.Engine, selector mapengine.Selector) (Session, error)
	CloseSession(ctx context.Context, id string) error
}

// Session is the part of a map session the WebSocket handler needs.
type Session interface {
	ID() string
	Post(ev model.Event) bool
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	configHandler  *ConfigHandler
	storiesHandler *StoriesHandler
	sessionHandler *SessionHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, client ClientConfig, opts ...Option) *Server {
	o := options{logger: logger.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	return &Server{
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(statsProvider),
		configHandler:  NewConfigHandler(client),
		storiesHandler: NewStoriesHandler(deps),
		sessionHandler: NewSessionHandler(deps, o.logger, o.upgrader, o.remoteOpts...),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	// Specific paths first (most specific to least specific)
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/api/config", MetricsMiddleware(s.configHandler.HandleConfig, "config"))
	mux.HandleFunc("/api/years", MetricsMiddleware(s.storiesHandler.HandleYears, "years"))
	mux.HandleFunc("/data/stories.geojson", MetricsMiddleware(s.storiesHandler.HandleStories, "stories"))
	mux.HandleFunc("/ws", MetricsMiddleware(s.sessionHandler.HandleSession, "ws"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeDatasetError maps store errors to responses. A pending load is
// retryable; a failed load is reported as an upstream failure.
func writeDatasetError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotLoaded):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "not_ready", err)
	case errors.Is(err, dataset.ErrFetch), errors.Is(err, dataset.ErrParse):
		writeError(w, http.StatusBadGateway, "dataset_unavailable", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}
