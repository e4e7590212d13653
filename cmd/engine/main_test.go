package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"social-sync/internal/auth"
	"social-sync/internal/config"
	"social-sync/internal/handlers"
	"social-sync/internal/models"
	"social-sync/internal/store"
)

func send(t *testing.T, ts *httptest.Server, method, path, token string, body interface{}, out interface{}) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestIntegrationFlow(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Auth.JWTSecret = "integration-secret"
	cfg.Auth.BcryptCost = bcrypt.MinCost
	cfg.Feed.MutationTimeout = 2 * time.Second
	cfg.Server.RequestTimeout = 5 * time.Second
	require.NoError(t, cfg.Validate())

	mem := store.NewMemory("http://localhost/media")
	a := newApp(cfg, mem, mem, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go a.hub.Run(ctx)

	ts := httptest.NewServer(a.handler)
	t.Cleanup(func() {
		ts.Close()
		cancel()
		assert.NoError(t, a.close())
	})

	// Step 1: Create two users
	var user1, user2 auth.Session
	require.Equal(t, http.StatusCreated, send(t, ts, http.MethodPost, "/auth/register", "",
		handlers.RegisterRequest{Name: "User One", Email: "user1@gmail.com", Password: "password123"}, &user1))
	require.Equal(t, http.StatusCreated, send(t, ts, http.MethodPost, "/auth/register", "",
		handlers.RegisterRequest{Name: "User Two", Email: "user2@gmail.com", Password: "password123"}, &user2))

	// Step 2: User 1 posts
	var post models.Post
	require.Equal(t, http.StatusCreated, send(t, ts, http.MethodPost, "/posts", user1.Token,
		handlers.CreatePostRequest{Content: "first post"}, &post))

	// Step 3: User 2 likes and comments
	var liked models.Post
	require.Equal(t, http.StatusOK, send(t, ts, http.MethodPost, "/posts/"+post.ID+"/like", user2.Token, nil, &liked))
	assert.True(t, liked.Liked)

	var comment models.Comment
	require.Equal(t, http.StatusCreated, send(t, ts, http.MethodPost, "/posts/"+post.ID+"/comments", user2.Token,
		handlers.CommentRequest{Text: "great"}, &comment))
	assert.Equal(t, "User Two", comment.Username)

	// Step 4: User 1 refreshes and sees both
	var page handlers.FeedResponse
	require.Equal(t, http.StatusOK, send(t, ts, http.MethodGet, "/feed", user1.Token, nil, &page))
	require.Len(t, page.Posts, 1)
	got := page.Posts[0]
	assert.Equal(t, []string{user2.User.ID}, got.LikedBy)
	assert.Equal(t, len(got.LikedBy), got.LikeCount)
	assert.False(t, got.Liked)
	require.Len(t, got.Comments, 1)
	assert.Equal(t, "great", got.Comments[0].Text)

	// Step 5: Health reports the post actor that served the writes
	var health handlers.HealthResponse
	require.Equal(t, http.StatusOK, send(t, ts, http.MethodGet, "/health", "", nil, &health))
	assert.Equal(t, 1, health.ActivePosts)
	assert.Equal(t, 2, health.Sessions)
}
