package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/cyderes/tweet-ingestion-service/internal/config"
	"github.com/cyderes/tweet-ingestion-service/internal/logging"
	"github.com/cyderes/tweet-ingestion-service/internal/metrics"
	"github.com/cyderes/tweet-ingestion-service/internal/storage"
)

const (
	defaultLimit = 10
	maxLimit     = 100
)

// Server handles HTTP requests
type Server struct {
	config  config.ServerConfig
	storage storage.Storage
	logger  logging.Logger
	server  *http.Server
}

// NewServer creates a new HTTP server
func NewServer(cfg config.ServerConfig, store storage.Storage, logger logging.Logger, m *metrics.Metrics) *Server {
	s := &Server{
		config:  cfg,
		storage: store,
		logger:  logger,
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.routes(m),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	return s
}

func (s *Server) routes(m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Route("/posts", func(r chi.Router) {
		r.Get("/", s.handlePosts)
		r.Get("/{id}", s.handlePostByID)
	})
	if m != nil {
		r.Handle("/metrics", m.Handler())
	}

	return r
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		}).Debug("Handled request")
	})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handlePosts handles GET requests for posts
func (s *Server) handlePosts(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultLimit, 1)
	if limit > maxLimit {
		limit = maxLimit
	}
	offset := queryInt(r, "offset", 0, 0)

	posts, err := s.storage.GetPosts(r.Context(), limit, offset)
	if err != nil {
		s.logger.WithError(err).Error("Failed to retrieve posts")
		http.Error(w, fmt.Sprintf("Failed to retrieve posts: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"posts":  posts,
		"count":  len(posts),
		"limit":  limit,
		"offset": offset,
	})
}

// handlePostByID handles GET requests for a specific post
func (s *Server) handlePostByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "Invalid post ID", http.StatusBadRequest)
		return
	}

	post, err := s.storage.GetPostByID(r.Context(), id)
	if err != nil {
		s.logger.WithError(err).WithField("post_id", id).Error("Failed to retrieve post")
		http.Error(w, fmt.Sprintf("Failed to retrieve post: %v", err), http.StatusInternalServerError)
		return
	}
	if post == nil {
		http.Error(w, "Post not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, post)
}

// handleStatus handles GET requests for ingestion status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.storage.GetIngestionStatus(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("Failed to retrieve status")
		http.Error(w, fmt.Sprintf("Failed to retrieve status: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// queryInt reads a non-negative integer query parameter, falling back on bad input
func queryInt(r *http.Request, key string, defaultValue, minValue int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < minValue {
		return defaultValue
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
