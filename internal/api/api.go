// Package api exposes a forest over HTTP as JSON.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lthms/hierprops/internal/engine"
	"github.com/lthms/hierprops/internal/hierarchy"
)

// Server holds the HTTP server dependencies
type Server struct {
	engine *engine.Engine
	logger *slog.Logger
}

// New creates a new API server
func New(e *engine.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: e, logger: logger}
}

// Routes returns the router serving the API, health check and metrics.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/roots", s.CreateRoot)
		r.Get("/roots", s.ListRoots)
		r.Get("/forest", s.GetForest)
		r.Get("/verify", s.Verify)

		r.Route("/nodes/{id}", func(r chi.Router) {
			r.Get("/", s.GetNode)
			r.Delete("/", s.RemoveNode)
			r.Get("/root", s.GetRoot)
			r.Get("/tree", s.GetTree)
			r.Post("/children", s.CreateChild)
			r.Post("/detach", s.Detach)
			r.Post("/attach", s.AttachTo)
			r.Post("/move", s.MoveTo)
			r.Post("/repair", s.Repair)
			r.Put("/assignments", s.AddProperty)
			r.Delete("/assignments/{entity}/{property}", s.RemoveProperty)
			r.Get("/entities/{entity}/properties", s.PropertiesForEntity)
			r.Get("/properties/{property}/entities", s.EntitiesWithProperty)
		})
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// statusFor maps an error kind to an HTTP status.
func statusFor(kind hierarchy.Kind) int {
	switch kind {
	case hierarchy.KindNodeNotFound, hierarchy.KindAssignmentNotFound:
		return http.StatusNotFound
	case hierarchy.KindAssignmentExists, hierarchy.KindAlreadyAttached:
		return http.StatusConflict
	case hierarchy.KindSelfAttach, hierarchy.KindInvalidTarget, hierarchy.KindInvalidArgument:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := hierarchy.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "kind", kind.String(), "err", err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: kind.String()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Kind:  hierarchy.KindInvalidArgument.String(),
		})
		return false
	}
	return true
}
