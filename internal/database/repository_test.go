package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-sync/internal/models"
	"social-sync/internal/store"
	"social-sync/internal/utils"
)

func TestRepositoryPostLifecycle(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory("")
	repo := NewRepository(mem)

	id, err := repo.CreatePost(ctx, NewPost{AuthorID: "u1", AuthorName: "Ann", Content: "hello"})
	require.NoError(t, err)

	post, err := repo.GetPost(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "u1", post.AuthorID)
	assert.Equal(t, "Ann", post.AuthorName)
	assert.Equal(t, 0, post.LikeCount)
	assert.Empty(t, post.LikedBy)
	assert.False(t, post.CreatedAt.IsZero())

	require.NoError(t, repo.SetLike(ctx, id, "u2", true))
	require.NoError(t, repo.SetLike(ctx, id, "u3", true))
	require.NoError(t, repo.SetLike(ctx, id, "u2", false))

	post, err = repo.GetPost(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"u3"}, post.LikedBy)
	assert.Equal(t, 1, post.LikeCount)

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := models.Comment{ID: models.CommentID("u3", at), UserID: "u3", Username: "Cy", Text: "nice", CreatedAt: at}
	require.NoError(t, repo.AppendComment(ctx, id, c))
	require.NoError(t, repo.AppendComment(ctx, id, c))

	post, err = repo.GetPost(ctx, id)
	require.NoError(t, err)
	require.Len(t, post.Comments, 1)
	assert.Equal(t, "u3:1704067200000", post.Comments[0].ID)
	assert.True(t, post.Comments[0].CreatedAt.Equal(at))
}

func TestRepositoryMissingPost(t *testing.T) {
	repo := NewRepository(store.NewMemory(""))

	_, err := repo.GetPost(context.Background(), "missing")
	assert.True(t, utils.IsErrorCode(err, utils.ErrNotFound))

	err = repo.SetLike(context.Background(), "missing", "u1", true)
	assert.True(t, utils.IsErrorCode(err, utils.ErrNotFound))
}

func TestRepositoryListPostsPaging(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory("")
	repo := NewRepository(mem)

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		tick := base.Add(time.Duration(i) * time.Hour)
		mem.SetClock(func() time.Time { return tick })
		author := "a"
		if i%2 == 1 {
			author = "b"
		}
		_, err := repo.CreatePost(ctx, NewPost{AuthorID: author, Content: string(rune('0' + i))})
		require.NoError(t, err)
	}

	first, err := repo.ListPosts(ctx, PostPage{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "4", first[0].Content)
	assert.Equal(t, "3", first[1].Content)

	next, err := repo.ListPosts(ctx, PostPage{Limit: 2, Before: first[1].CreatedAt})
	require.NoError(t, err)
	require.Len(t, next, 2)
	assert.Equal(t, "2", next[0].Content)
	assert.Equal(t, "1", next[1].Content)

	// the cursor id keeps posts that share the last post's timestamp
	tied := base.Add(10 * time.Hour)
	mem.SetClock(func() time.Time { return tied })
	for i := 0; i < 3; i++ {
		_, err := repo.CreatePost(ctx, NewPost{AuthorID: "c", Content: "tied"})
		require.NoError(t, err)
	}
	page, err := repo.ListPosts(ctx, PostPage{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	rest, err := repo.ListPosts(ctx, PostPage{Limit: 2, Before: page[1].CreatedAt, BeforeID: page[1].ID})
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, "tied", rest[0].Content)
	assert.Equal(t, "4", rest[1].Content)

	byB, err := repo.ListPostsByAuthor(ctx, "b")
	require.NoError(t, err)
	require.Len(t, byB, 2)
	assert.Equal(t, "3", byB[0].Content)
}

func TestRepositoryProfilesAndCredentials(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(store.NewMemory(""))

	require.NoError(t, repo.CreateProfile(ctx, "u1", "Ann", "ann@gmail.com"))
	require.NoError(t, repo.UpdateProfile(ctx, "u1", ProfileUpdate{Name: "Ann B", Email: "ann@gmail.com", Bio: "hi"}))

	p, err := repo.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ann B", p.Name)
	assert.Equal(t, "hi", p.Bio)
	assert.Equal(t, "", p.Username)

	_, err = repo.GetProfile(ctx, "u2")
	assert.True(t, utils.IsErrorCode(err, utils.ErrNotFound))

	require.NoError(t, repo.SaveCredential(ctx, Credential{UserID: "u1", Email: " Ann@Gmail.com ", HashedPassword: "h"}))
	c, err := repo.FindCredentialByEmail(ctx, "ann@gmail.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", c.UserID)
	assert.Equal(t, "h", c.HashedPassword)

	_, err = repo.FindCredentialByEmail(ctx, "bob@gmail.com")
	assert.True(t, utils.IsErrorCode(err, utils.ErrNotFound))

	require.NoError(t, repo.DeleteCredential(ctx, "u1"))
	_, err = repo.FindCredentialByEmail(ctx, "ann@gmail.com")
	assert.True(t, utils.IsErrorCode(err, utils.ErrNotFound))
}

func TestRepositoryPostPrivacy(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(store.NewMemory(""))

	pubID, err := repo.CreatePost(ctx, NewPost{AuthorID: "a", Content: "open"})
	require.NoError(t, err)
	privID, err := repo.CreatePost(ctx, NewPost{AuthorID: "a", Content: "diary", Privacy: models.PrivacyPrivate})
	require.NoError(t, err)

	post, err := repo.GetPost(ctx, pubID)
	require.NoError(t, err)
	assert.Equal(t, models.PrivacyPublic, post.Privacy)

	visible := func(viewerID string) []string {
		posts, err := repo.ListPosts(ctx, PostPage{ViewerID: viewerID})
		require.NoError(t, err)
		var out []string
		for _, p := range posts {
			out = append(out, p.ID)
		}
		return out
	}
	assert.ElementsMatch(t, []string{pubID, privID}, visible("a"))
	assert.Equal(t, []string{pubID}, visible("b"))
	assert.Equal(t, []string{pubID}, visible(""))
}
