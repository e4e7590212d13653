package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// UpdateProfileRequest represents a request to edit the signed-in user's profile
type UpdateProfileRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Bio   string `json:"bio"`
}

// HandleGetProfile returns a profile with its derived post and like counts.
// The id "me" names the signed-in user.
func (s *Server) HandleGetProfile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := chi.URLParam(r, "id")
		if uid == "me" {
			uid = viewer(r).ID
		}

		ctx, cancel := s.requestContext(r)
		defer cancel()

		prof, err := s.Profiles.Load(ctx, uid)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, prof)
	}
}

// HandleUpdateProfile edits the signed-in user's name, email and bio.
func (s *Server) HandleUpdateProfile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateProfileRequest
		if !s.decode(w, r, &req) {
			return
		}

		ctx, cancel := s.requestContext(r)
		defer cancel()

		prof, err := s.Profiles.Update(ctx, viewer(r), req.Name, req.Email, req.Bio)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, prof)
	}
}
