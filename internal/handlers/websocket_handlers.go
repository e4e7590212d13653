package handlers

import (
	"net/http"

	ws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"social-sync/internal/websocket"
)

// HandleLiveFeed upgrades to a WebSocket that receives a full feed snapshot
// on connect and after every change to the viewer's projection. The token
// comes from the query string; the auth middleware has already checked it.
func (s *Server) HandleLiveFeed() http.HandlerFunc {
	upgrader := ws.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if s.Hub == nil {
			http.Error(w, "Live updates disabled", http.StatusServiceUnavailable)
			return
		}
		id := viewer(r)

		ctx, cancel := s.requestContext(r)
		p, err := s.loadedProjector(ctx, id)
		cancel()
		if err != nil {
			s.logger.Warn("live feed starting without posts", zap.String("uid", id.ID), zap.Error(err))
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Debug("websocket upgrade failed", zap.String("uid", id.ID), zap.Error(err))
			// Upgrade has already written the HTTP error.
			return
		}

		client := websocket.NewClient(s.Hub, id.ID, conn)
		if !client.Start() {
			return
		}

		payload, err := snapshotMessage(p)
		if err != nil {
			s.logger.Error("failed to encode feed snapshot", zap.String("uid", id.ID), zap.Error(err))
			return
		}
		s.Hub.SendDirectMessage(id.ID, payload)
		s.logger.Debug("live feed connected", zap.String("uid", id.ID))
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.Config.Server.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
