package handlers

import (
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"social-sync/internal/feed"
	"social-sync/internal/models"
	"social-sync/internal/utils"
)

// FeedResponse is the viewer's projected feed.
type FeedResponse struct {
	Posts   []models.Post `json:"posts"`
	HasMore bool          `json:"hasMore"`
}

// CreatePostRequest is the JSON form of a text-only post. Posts with images
// are sent as multipart/form-data with "content" and "privacy" fields and
// "images" files.
type CreatePostRequest struct {
	Content string `json:"content"`
	Privacy string `json:"privacy"`
}

// CommentRequest represents a request to comment on a post
type CommentRequest struct {
	Text        string `json:"text"`
	DisplayName string `json:"displayName"`
}

// ShareResponse carries the post's local share count.
type ShareResponse struct {
	PostID string `json:"postId"`
	Shares int    `json:"shares"`
}

// HandleFeed returns the viewer's feed. A plain GET refreshes the first page;
// ?more=1 appends the next page to the session's list.
func (s *Server) HandleFeed() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := viewer(r)
		ctx, cancel := s.requestContext(r)
		defer cancel()

		if r.URL.Query().Get("more") != "" {
			p, err := s.loadedProjector(ctx, id)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			hasMore, err := s.Loader.LoadMore(ctx, id, p)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, FeedResponse{Posts: nonNil(p.Posts()), HasMore: hasMore})
			return
		}

		p, err := s.refresh(ctx, id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		posts := p.Posts()
		writeJSON(w, http.StatusOK, FeedResponse{
			Posts:   nonNil(posts),
			HasMore: s.Config.Feed.PageSize > 0 && len(posts) == s.Config.Feed.PageSize,
		})
	}
}

// HandleCreatePost publishes a post from JSON or multipart input.
func (s *Server) HandleCreatePost() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		draft, ok := s.readPostForm(w, r)
		if !ok {
			return
		}

		id := viewer(r)
		ctx, cancel := s.requestContext(r)
		defer cancel()

		p, err := s.loadedProjector(ctx, id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		post, err := s.Composer.Submit(ctx, id, p, draft)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, post)
	}
}

func (s *Server) readPostForm(w http.ResponseWriter, r *http.Request) (feed.Draft, bool) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var req CreatePostRequest
		if !s.decode(w, r, &req) {
			return feed.Draft{}, false
		}
		return feed.Draft{Content: req.Content, Privacy: req.Privacy}, true
	}

	if limit := s.multipartLimit(); limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: utils.ErrInvalidInput, Error: "Invalid multipart form"})
		return feed.Draft{}, false
	}

	var images []feed.Image
	for _, fh := range r.MultipartForm.File["images"] {
		f, err := fh.Open()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: utils.ErrInvalidInput, Error: "Unreadable image"})
			return feed.Draft{}, false
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: utils.ErrInvalidInput, Error: "Unreadable image"})
			return feed.Draft{}, false
		}
		images = append(images, feed.Image{Name: fh.Filename, Data: data})
	}
	return feed.Draft{Content: r.FormValue("content"), Privacy: r.FormValue("privacy"), Images: images}, true
}

// multipartLimit caps a post upload at the configured image allowance plus
// room for the text fields. Zero means no cap, matching the composer, which
// treats a zero image limit as unlimited.
func (s *Server) multipartLimit() int64 {
	images := int64(s.Config.Feed.MaxImagesPerPost)
	size := int64(s.Config.Feed.MaxImageSizeBytes)
	if images <= 0 || size <= 0 {
		return 0
	}
	return images*size + 1<<20
}

// HandleToggleLike flips the viewer's like and answers once the write settles.
func (s *Server) HandleToggleLike() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := viewer(r)
		ctx, cancel := s.requestContext(r)
		defer cancel()

		p, err := s.loadedProjector(ctx, id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		post, err := s.Engine.ToggleLike(ctx, id, p, chi.URLParam(r, "id"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, post)
	}
}

// HandleAddComment appends a comment and answers once the write settles.
func (s *Server) HandleAddComment() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CommentRequest
		if !s.decode(w, r, &req) {
			return
		}

		id := viewer(r)
		ctx, cancel := s.requestContext(r)
		defer cancel()

		p, err := s.loadedProjector(ctx, id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		comment, err := s.Engine.AddComment(ctx, id, p, chi.URLParam(r, "id"), req.Text, strings.TrimSpace(req.DisplayName))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, comment)
	}
}

// HandleShare bumps the post's local share count.
func (s *Server) HandleShare() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := viewer(r)
		ctx, cancel := s.requestContext(r)
		defer cancel()

		p, err := s.loadedProjector(ctx, id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		postID := chi.URLParam(r, "id")
		shares, err := s.Engine.Share(id, p, postID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ShareResponse{PostID: postID, Shares: shares})
	}
}
