package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"social-sync/internal/auth"
	"social-sync/internal/config"
	"social-sync/internal/engine"
	"social-sync/internal/feed"
	"social-sync/internal/models"
	"social-sync/internal/profile"
	"social-sync/internal/store"
	"social-sync/internal/utils"
	"social-sync/internal/websocket"
)

// Server holds all gateway dependencies and the per-user feed sessions.
type Server struct {
	Engine         *engine.Engine
	Loader         *feed.Loader
	Composer       *feed.Composer
	Auth           *auth.Service
	Profiles       *profile.Service
	Tokens         *auth.Tokens
	Objects        store.ObjectStore
	Hub            *websocket.Hub
	Metrics        *utils.MetricsCollector
	Config         *config.Config
	RequestTimeout time.Duration

	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session

	ctx    context.Context
	cancel context.CancelFunc
}

// session is one user's projection of the feed. Every change to the
// projector is pushed to the user's live connections.
type session struct {
	projector *feed.Projector
	cancel    func()

	mu     sync.Mutex
	loaded bool
}

// NewServer creates a new Server instance with the given components. hub may
// be nil, in which case no live updates are pushed.
func NewServer(
	engine *engine.Engine,
	loader *feed.Loader,
	composer *feed.Composer,
	authService *auth.Service,
	profiles *profile.Service,
	tokens *auth.Tokens,
	objects store.ObjectStore,
	hub *websocket.Hub,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		Engine:         engine,
		Loader:         loader,
		Composer:       composer,
		Auth:           authService,
		Profiles:       profiles,
		Tokens:         tokens,
		Objects:        objects,
		Hub:            hub,
		Metrics:        engine.Metrics(),
		Config:         cfg,
		RequestTimeout: cfg.Server.RequestTimeout,
		logger:         utils.OrNop(logger),
		sessions:       make(map[string]*session),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Close stops pushing live updates and drops every session.
func (s *Server) Close() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	for uid, sess := range s.sessions {
		sess.cancel()
		delete(s.sessions, uid)
	}
}

// Sessions reports how many users hold a feed session.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// projector returns uid's session projector, creating it on first use.
func (s *Server) projector(uid string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[uid]; ok {
		return sess
	}
	sess := &session{projector: feed.NewProjector(uid), cancel: func() {}}
	if s.Hub != nil {
		sess.cancel = s.streamSnapshots(uid, sess.projector)
	}
	s.sessions[uid] = sess
	return sess
}

// loadedProjector returns the viewer's projector, loading the first page if
// no load has succeeded yet.
func (s *Server) loadedProjector(ctx context.Context, viewer models.Identity) (*feed.Projector, error) {
	sess := s.projector(viewer.ID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.loaded {
		if err := s.Loader.Load(ctx, viewer, sess.projector); err != nil {
			return sess.projector, err
		}
		sess.loaded = true
	}
	return sess.projector, nil
}

// refresh reloads the viewer's first page, replacing the projected list.
func (s *Server) refresh(ctx context.Context, viewer models.Identity) (*feed.Projector, error) {
	sess := s.projector(viewer.ID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := s.Loader.Load(ctx, viewer, sess.projector); err != nil {
		return sess.projector, err
	}
	sess.loaded = true
	return sess.projector, nil
}

// streamSnapshots forwards p's changes to the hub. Listeners run under the
// projector's lock, so the listener only signals and a separate goroutine
// marshals the latest state. Bursts of changes coalesce into one push.
func (s *Server) streamSnapshots(uid string, p *feed.Projector) func() {
	notify := make(chan struct{}, 1)
	done := make(chan struct{})
	unsubscribe := p.Subscribe(func([]models.Post) {
		select {
		case notify <- struct{}{}:
		default:
		}
	})

	go func() {
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-done:
				return
			case <-notify:
				if s.Hub.Connections(uid) == 0 {
					continue
				}
				payload, err := snapshotMessage(p)
				if err != nil {
					s.logger.Error("failed to encode feed snapshot", zap.String("uid", uid), zap.Error(err))
					continue
				}
				s.Hub.SendDirectMessage(uid, payload)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			close(done)
		})
	}
}

// FeedMessage is the frame pushed on /feed/live.
type FeedMessage struct {
	Type    string        `json:"type"`
	Loading bool          `json:"loading"`
	Posts   []models.Post `json:"posts"`
}

func snapshotMessage(p *feed.Projector) ([]byte, error) {
	return json.Marshal(FeedMessage{Type: "feed", Loading: p.Loading(), Posts: nonNil(p.Posts())})
}

func nonNil(posts []models.Post) []models.Post {
	if posts == nil {
		return []models.Post{}
	}
	return posts
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status code. AppErrors keep their code; context
// deadlines become 504; anything else is a 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := ErrorResponse{Code: "INTERNAL", Error: "Internal server error"}
	status := http.StatusInternalServerError

	var appErr *utils.AppError
	switch {
	case errors.As(err, &appErr):
		status = utils.AppErrorToHTTPStatus(appErr.Code)
		resp = ErrorResponse{Code: appErr.Code, Error: appErr.Message}
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
		resp = ErrorResponse{Code: "TIMEOUT", Error: "Request timed out"}
	case errors.Is(err, context.Canceled):
		status = http.StatusRequestTimeout
		resp = ErrorResponse{Code: "CANCELED", Error: "Request canceled"}
	}

	if status >= http.StatusInternalServerError {
		s.Metrics.IncrementErrors()
		s.logger.Error("request failed",
			zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, resp)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: utils.ErrInvalidInput, Error: "Invalid request body"})
		return false
	}
	return true
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.RequestTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), s.RequestTimeout)
}

// viewer is the identity stored by the auth middleware. Routes that call it
// sit behind that middleware, so a missing identity is the zero value and the
// core rejects it with AUTH_REQUIRED.
func viewer(r *http.Request) models.Identity {
	id, _ := auth.CurrentUser(r.Context())
	return id
}
