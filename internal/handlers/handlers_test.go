package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"social-sync/internal/auth"
	"social-sync/internal/config"
	"social-sync/internal/database"
	"social-sync/internal/engine"
	"social-sync/internal/feed"
	"social-sync/internal/models"
	"social-sync/internal/profile"
	"social-sync/internal/store"
	"social-sync/internal/utils"
	"social-sync/internal/websocket"
)

const mediaBase = "http://media.test"

type gateway struct {
	server *Server
	http   *httptest.Server
	mem    *store.Memory
}

func newGateway(t *testing.T, pageSize int) *gateway {
	t.Helper()
	logger := zaptest.NewLogger(t)

	cfg := config.DefaultConfig()
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.BcryptCost = bcrypt.MinCost
	cfg.Server.RateLimitPerMinute = 10000
	cfg.Server.RequestTimeout = 5 * time.Second
	cfg.Feed.MutationTimeout = 2 * time.Second
	cfg.Feed.PageSize = pageSize

	mem := store.NewMemory(mediaBase)
	var clockMu sync.Mutex
	clock := time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)
	mem.SetClock(func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	})

	repo := database.NewRepository(mem)
	resolver := profile.NewResolver(repo, nil, logger)
	metrics := utils.NewMetricsCollector()
	eng := engine.NewEngine(actor.NewActorSystem(), repo, resolver, engine.Options{
		MutationTimeout:  cfg.Feed.MutationTimeout,
		RequestTimeout:   cfg.Feed.MutationTimeout + time.Second,
		DefaultAvatarURL: cfg.Feed.DefaultAvatarURL,
		Logger:           logger,
		Metrics:          metrics,
	})
	loader := feed.NewLoader(repo, resolver, feed.LoaderOptions{
		PageSize:      cfg.Feed.PageSize,
		DefaultAvatar: cfg.Feed.DefaultAvatarURL,
		Logger:        logger,
		Metrics:       metrics,
	})
	tokens := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	ctx, cancel := context.WithCancel(context.Background())
	hub := websocket.NewHub(nil)
	go hub.Run(ctx)

	server := NewServer(
		eng,
		loader,
		feed.NewComposer(repo, mem, resolver, cfg.Feed, logger),
		auth.NewService(repo, tokens, cfg.Auth, logger),
		profile.NewService(repo, resolver, logger),
		tokens,
		mem,
		hub,
		cfg,
		logger,
	)
	ts := httptest.NewServer(server.NewRouter())
	t.Cleanup(func() {
		ts.Close()
		server.Close()
		cancel()
		_ = eng.Shutdown()
	})
	return &gateway{server: server, http: ts, mem: mem}
}

func (g *gateway) do(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, g.http.URL+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (g *gateway) register(t *testing.T, name, email string) *auth.Session {
	t.Helper()
	resp := g.do(t, http.MethodPost, "/auth/register", "", RegisterRequest{Name: name, Email: email, Password: "secret1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeBody[*auth.Session](t, resp)
}

func (g *gateway) post(t *testing.T, token, content string) models.Post {
	t.Helper()
	resp := g.do(t, http.MethodPost, "/posts", token, CreatePostRequest{Content: content})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeBody[models.Post](t, resp)
}

func TestHealth(t *testing.T) {
	g := newGateway(t, 20)
	resp := g.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decodeBody[HealthResponse](t, resp)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 0, health.ActivePosts)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	g := newGateway(t, 20)
	for _, path := range []string{"/feed", "/profiles/me"} {
		resp := g.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
	resp := g.do(t, http.MethodPost, "/posts/p1/like", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginErrors(t *testing.T) {
	g := newGateway(t, 20)
	g.register(t, "Alice", "alice@gmail.com")

	resp := g.do(t, http.MethodPost, "/auth/login", "", LoginRequest{Email: "alice@gmail.com", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, utils.ErrInvalidCredentials, decodeBody[ErrorResponse](t, resp).Code)

	resp = g.do(t, http.MethodPost, "/auth/login", "", LoginRequest{Email: "alice@gmail.com", Password: "secret1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, decodeBody[auth.Session](t, resp).Token)

	resp = g.do(t, http.MethodPost, "/auth/register", "", RegisterRequest{Name: "A", Email: "alice@gmail.com", Password: "x"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestFeedLikeCommentShareFlow(t *testing.T) {
	g := newGateway(t, 20)
	alice := g.register(t, "Alice", "alice@gmail.com")
	bob := g.register(t, "Bob", "bob@gmail.com")

	created := g.post(t, alice.Token, "hello swamp")
	assert.Equal(t, "Alice", created.AuthorName)

	resp := g.do(t, http.MethodGet, "/feed", bob.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decodeBody[FeedResponse](t, resp)
	require.Len(t, page.Posts, 1)
	assert.Equal(t, created.ID, page.Posts[0].ID)
	assert.Equal(t, "Alice", page.Posts[0].AuthorName)
	assert.False(t, page.Posts[0].Liked)

	resp = g.do(t, http.MethodPost, "/posts/"+created.ID+"/like", bob.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	liked := decodeBody[models.Post](t, resp)
	assert.True(t, liked.Liked)
	assert.Equal(t, 1, liked.LikeCount)
	assert.Equal(t, []string{bob.User.ID}, liked.LikedBy)

	resp = g.do(t, http.MethodPost, "/posts/"+created.ID+"/like", bob.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	unliked := decodeBody[models.Post](t, resp)
	assert.False(t, unliked.Liked)
	assert.Equal(t, 0, unliked.LikeCount)

	resp = g.do(t, http.MethodPost, "/posts/"+created.ID+"/comments", bob.Token, CommentRequest{Text: " nice "})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	comment := decodeBody[models.Comment](t, resp)
	assert.Equal(t, "Bob", comment.Username)
	assert.Equal(t, "nice", comment.Text)
	assert.True(t, strings.HasPrefix(comment.ID, bob.User.ID+":"))

	resp = g.do(t, http.MethodPost, "/posts/"+created.ID+"/share", bob.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decodeBody[ShareResponse](t, resp).Shares)

	// a fresh load by the author sees the synchronized state
	resp = g.do(t, http.MethodGet, "/feed", alice.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page = decodeBody[FeedResponse](t, resp)
	require.Len(t, page.Posts, 1)
	assert.Equal(t, 0, page.Posts[0].LikeCount)
	require.Len(t, page.Posts[0].Comments, 1)
	assert.Equal(t, comment.ID, page.Posts[0].Comments[0].ID)
	assert.Equal(t, 0, page.Posts[0].ShareCount)

	resp = g.do(t, http.MethodGet, "/profiles/me", alice.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	prof := decodeBody[models.UserProfile](t, resp)
	assert.Equal(t, "Alice", prof.Name)
	assert.Equal(t, 1, prof.PostCount)
}

func TestLikeFailureRevertsSession(t *testing.T) {
	g := newGateway(t, 20)
	alice := g.register(t, "Alice", "alice@gmail.com")
	created := g.post(t, alice.Token, "P1")

	g.mem.SetHook(func(ctx context.Context, op store.Op, collection, id string) error {
		if op == store.OpUpdate {
			return errors.New("backend unavailable")
		}
		return nil
	})

	resp := g.do(t, http.MethodPost, "/posts/"+created.ID+"/like", alice.Token, nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, utils.ErrMutation, decodeBody[ErrorResponse](t, resp).Code)

	post, ok := g.server.projector(alice.User.ID).projector.Post(created.ID)
	require.True(t, ok)
	assert.False(t, post.Liked)
	assert.Equal(t, 0, post.LikeCount)
	assert.Empty(t, post.LikedBy)

	resp = g.do(t, http.MethodPost, "/posts/"+created.ID+"/comments", alice.Token, CommentRequest{Text: "hi"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	post, _ = g.server.projector(alice.User.ID).projector.Post(created.ID)
	assert.Empty(t, post.Comments)
}

func TestCommentAndShareErrors(t *testing.T) {
	g := newGateway(t, 20)
	alice := g.register(t, "Alice", "alice@gmail.com")
	created := g.post(t, alice.Token, "P1")

	resp := g.do(t, http.MethodPost, "/posts/"+created.ID+"/comments", alice.Token, CommentRequest{Text: "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, utils.ErrInvalidInput, decodeBody[ErrorResponse](t, resp).Code)

	resp = g.do(t, http.MethodPost, "/posts/missing/comments", alice.Token, CommentRequest{Text: "hi"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = g.do(t, http.MethodPost, "/posts/missing/share", alice.Token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = g.do(t, http.MethodPost, "/posts", alice.Token, CreatePostRequest{Content: "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFeedPaging(t *testing.T) {
	g := newGateway(t, 2)
	alice := g.register(t, "Alice", "alice@gmail.com")
	first := g.post(t, alice.Token, "one")
	g.post(t, alice.Token, "two")
	g.post(t, alice.Token, "three")

	resp := g.do(t, http.MethodGet, "/feed", alice.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decodeBody[FeedResponse](t, resp)
	require.Len(t, page.Posts, 2)
	assert.Equal(t, "three", page.Posts[0].Content)
	assert.True(t, page.HasMore)

	resp = g.do(t, http.MethodGet, "/feed?more=1", alice.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page = decodeBody[FeedResponse](t, resp)
	require.Len(t, page.Posts, 3)
	assert.Equal(t, first.ID, page.Posts[2].ID)
	assert.False(t, page.HasMore)
}

func TestMultipartPostServesMedia(t *testing.T) {
	g := newGateway(t, 20)
	alice := g.register(t, "Alice", "alice@gmail.com")

	png := []byte("\x89PNG\r\n\x1a\nfake-image-bytes")
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("content", "with picture"))
	fw, err := mw.CreateFormFile("images", "Photo.PNG")
	require.NoError(t, err)
	_, err = fw.Write(png)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, g.http.URL+"/posts", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+alice.Token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	post := decodeBody[models.Post](t, resp)
	require.Len(t, post.Images, 1)
	prefix := mediaBase + "/posts/" + alice.User.ID + "/"
	require.True(t, strings.HasPrefix(post.Images[0], prefix), post.Images[0])
	assert.True(t, strings.HasSuffix(post.Images[0], ".png"))

	media := g.do(t, http.MethodGet, "/media/"+strings.TrimPrefix(post.Images[0], mediaBase+"/"), "", nil)
	require.Equal(t, http.StatusOK, media.StatusCode)
	data, err := io.ReadAll(media.Body)
	require.NoError(t, err)
	assert.Equal(t, png, data)
	assert.Equal(t, "image/png", media.Header.Get("Content-Type"))

	missing := g.do(t, http.MethodGet, "/media/posts/nobody/none.png", "", nil)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestLiveFeedPushesSnapshots(t *testing.T) {
	g := newGateway(t, 20)
	alice := g.register(t, "Alice", "alice@gmail.com")
	created := g.post(t, alice.Token, "P1")

	url := "ws" + strings.TrimPrefix(g.http.URL, "http") + "/feed/live?token=" + alice.Token
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	readSnapshot := func() FeedMessage {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg FeedMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	}

	initial := readSnapshot()
	assert.Equal(t, "feed", initial.Type)
	require.Len(t, initial.Posts, 1)
	assert.False(t, initial.Posts[0].Liked)

	resp := g.do(t, http.MethodPost, "/posts/"+created.ID+"/like", alice.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for {
		msg := readSnapshot()
		if len(msg.Posts) == 1 && msg.Posts[0].Liked {
			assert.Equal(t, 1, msg.Posts[0].LikeCount)
			break
		}
	}

	// a refresh settles on a frame that is no longer loading
	resp = g.do(t, http.MethodGet, "/feed", alice.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var last *FeedMessage
	for {
		_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var msg FeedMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		last = &msg
	}
	require.NotNil(t, last)
	assert.False(t, last.Loading)
	require.Len(t, last.Posts, 1)
	assert.True(t, last.Posts[0].Liked)
}

func TestPrivatePostsHiddenFromOthers(t *testing.T) {
	g := newGateway(t, 20)
	alice := g.register(t, "Alice", "alice@gmail.com")
	bob := g.register(t, "Bob", "bob@gmail.com")

	g.post(t, alice.Token, "for everyone")
	resp := g.do(t, http.MethodPost, "/posts", bob.Token, CreatePostRequest{Content: "note to self", Privacy: "private"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	private := decodeBody[models.Post](t, resp)
	assert.Equal(t, models.PrivacyPrivate, private.Privacy)

	resp = g.do(t, http.MethodPost, "/posts", bob.Token, CreatePostRequest{Content: "x", Privacy: "secret"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	feedOf := func(token string) []string {
		resp := g.do(t, http.MethodGet, "/feed", token, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out []string
		for _, p := range decodeBody[FeedResponse](t, resp).Posts {
			out = append(out, p.Content)
		}
		return out
	}
	assert.Equal(t, []string{"for everyone"}, feedOf(alice.Token))
	assert.Equal(t, []string{"note to self", "for everyone"}, feedOf(bob.Token))
}

func TestMultipartWithoutImageLimit(t *testing.T) {
	g := newGateway(t, 20)
	g.server.Config.Feed.MaxImageSizeBytes = 0
	alice := g.register(t, "Alice", "alice@gmail.com")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("content", "large"))
	require.NoError(t, mw.WriteField("privacy", "friends"))
	fw, err := mw.CreateFormFile("images", "big.png")
	require.NoError(t, err)
	_, err = fw.Write(bytes.Repeat([]byte{0x42}, 2<<20))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, g.http.URL+"/posts", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+alice.Token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	post := decodeBody[models.Post](t, resp)
	assert.Len(t, post.Images, 1)
	assert.Equal(t, models.PrivacyFriends, post.Privacy)
}
