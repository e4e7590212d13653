package handlers

import (
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"social-sync/internal/store"
)

// HealthResponse reports gateway state and collected metrics.
type HealthResponse struct {
	Status      string      `json:"status"`
	ActivePosts int         `json:"active_posts"`
	Sessions    int         `json:"sessions"`
	Metrics     interface{} `json:"metrics"`
	ServerTime  time.Time   `json:"server_time"`
}

// HandleHealth handles health check requests
func (s *Server) HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		active, err := s.Engine.ActivePosts()
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, HealthResponse{
			Status:      "healthy",
			ActivePosts: active,
			Sessions:    s.Sessions(),
			Metrics:     s.Metrics.Snapshot(),
			ServerTime:  time.Now(),
		})
	}
}

// HandleMedia serves uploaded post images from object storage.
func (s *Server) HandleMedia() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(path.Clean("/"+chi.URLParam(r, "*")), "/")
		if name == "" {
			http.NotFound(w, r)
			return
		}

		ctx, cancel := s.requestContext(r)
		defer cancel()

		data, err := s.Objects.Open(ctx, name)
		if errors.Is(err, store.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		w.Header().Set("Content-Type", http.DetectContentType(data))
		w.Header().Set("Cache-Control", "public, max-age=86400")
		_, _ = w.Write(data)
	}
}
