package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"social-sync/internal/middleware"
)

// NewRouter wires every gateway route. Everything except health, register,
// login and media requires a session token.
func (s *Server) NewRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.CORS(middleware.DefaultCORSConfig(s.Config.Server.AllowedOrigins)))
	r.Use(s.countRequests)

	limiter := middleware.NewRateLimiter(s.Config.Server.RateLimitPerMinute)

	r.Get("/health", s.HandleHealth())
	r.Get("/media/*", s.HandleMedia())

	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware)
		r.Post("/auth/register", s.HandleRegister())
		r.Post("/auth/login", s.HandleLogin())
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(s.Tokens, s.logger))
		r.Use(limiter.Middleware)

		r.Get("/feed", s.HandleFeed())
		r.Get("/feed/live", s.HandleLiveFeed())

		r.Post("/posts", s.HandleCreatePost())
		r.Post("/posts/{id}/like", s.HandleToggleLike())
		r.Post("/posts/{id}/comments", s.HandleAddComment())
		r.Post("/posts/{id}/share", s.HandleShare())

		r.Get("/profiles/{id}", s.HandleGetProfile())
		r.Put("/profiles/me", s.HandleUpdateProfile())
	})

	return r
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Metrics.IncrementRequests()
		next.ServeHTTP(w, r)
	})
}
