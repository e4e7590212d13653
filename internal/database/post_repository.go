// internal/database/post_repository.go
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"social-sync/internal/models"
	"social-sync/internal/store"
	"social-sync/internal/utils"
)

// PostDocument represents the stored schema for a post. Author name and avatar
// are denormalized at creation time and only used as a fallback.
type PostDocument struct {
	AuthorID     string            `bson:"userId"`
	AuthorName   string            `bson:"userName"`
	AuthorAvatar string            `bson:"userAvatar"`
	Content      string            `bson:"content"`
	Images       []string          `bson:"images"`
	Privacy      string            `bson:"privacy"`
	CreatedAt    time.Time         `bson:"createdAt"`
	Likes        int               `bson:"likes"`
	LikedBy      []string          `bson:"likedBy"`
	Comments     []CommentDocument `bson:"comments"`
}

// CommentDocument is a comment embedded in its post.
type CommentDocument struct {
	ID        string    `bson:"id"`
	UserID    string    `bson:"userId"`
	Username  string    `bson:"username"`
	Avatar    string    `bson:"avatar"`
	Text      string    `bson:"text"`
	CreatedAt time.Time `bson:"createdAt"`
}

// Repository maps domain models onto any store.DocumentStore.
type Repository struct {
	docs store.DocumentStore
}

func NewRepository(docs store.DocumentStore) *Repository {
	return &Repository{docs: docs}
}

// Store exposes the underlying document store.
func (r *Repository) Store() store.DocumentStore {
	return r.docs
}

// DocumentToModel converts a stored post into a Post whose author fields hold
// the denormalized values.
func DocumentToModel(id string, doc *PostDocument) *models.Post {
	post := &models.Post{
		ID:           id,
		AuthorID:     doc.AuthorID,
		AuthorName:   doc.AuthorName,
		AuthorAvatar: doc.AuthorAvatar,
		Content:      doc.Content,
		Images:       append([]string{}, doc.Images...),
		Privacy:      models.PrivacyPublic,
		CreatedAt:    doc.CreatedAt,
		LikeCount:    doc.Likes,
		LikedBy:      append([]string{}, doc.LikedBy...),
		Comments:     make([]models.Comment, 0, len(doc.Comments)),
	}
	if p, ok := models.ParsePrivacy(doc.Privacy); ok {
		post.Privacy = p
	}
	for _, c := range doc.Comments {
		post.Comments = append(post.Comments, models.Comment{
			ID:        c.ID,
			UserID:    c.UserID,
			Username:  c.Username,
			Avatar:    c.Avatar,
			Text:      c.Text,
			CreatedAt: c.CreatedAt,
		})
	}
	return post
}

// CommentToDocument converts a comment to its embedded form.
func CommentToDocument(c models.Comment) CommentDocument {
	return CommentDocument{
		ID:        c.ID,
		UserID:    c.UserID,
		Username:  c.Username,
		Avatar:    c.Avatar,
		Text:      c.Text,
		CreatedAt: c.CreatedAt,
	}
}

// GetPost retrieves a post by its ID.
func (r *Repository) GetPost(ctx context.Context, id string) (*models.Post, error) {
	fields, err := r.docs.GetDocument(ctx, PostsCollection, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, utils.NewPostNotFoundError(id)
	}
	if err != nil {
		return nil, err
	}
	var doc PostDocument
	if err := decodeFields(fields, &doc); err != nil {
		return nil, fmt.Errorf("invalid post %s: %w", id, err)
	}
	return DocumentToModel(id, &doc), nil
}

// PostPage selects a page of the newest-first feed as seen by ViewerID. A
// zero Before starts at the newest post; a zero Limit returns everything.
// BeforeID is the id of the post Before was taken from, so posts sharing its
// timestamp are not skipped.
type PostPage struct {
	ViewerID string
	Limit    int
	Before   time.Time
	BeforeID string
}

// ListPosts returns the posts visible to page.ViewerID ordered by createdAt
// then id, both descending. Other authors' private posts are left out.
func (r *Repository) ListPosts(ctx context.Context, page PostPage) ([]*models.Post, error) {
	q := store.Query{
		AnyOf:      visibleTo(page.ViewerID),
		OrderBy:    "createdAt",
		Descending: true,
		Limit:      page.Limit,
	}
	if !page.Before.IsZero() {
		q.StartAfter = page.Before
		q.StartAfterID = page.BeforeID
	}
	return r.queryPosts(ctx, q)
}

// visibleTo matches public and friends posts, posts stored before privacy
// existed, and every post written by viewerID.
func visibleTo(viewerID string) []store.Fields {
	anyOf := []store.Fields{
		{"privacy": string(models.PrivacyPublic)},
		{"privacy": string(models.PrivacyFriends)},
		{"privacy": nil},
	}
	if viewerID != "" {
		anyOf = append(anyOf, store.Fields{"userId": viewerID})
	}
	return anyOf
}

// ListPostsByAuthor returns every post written by authorID, newest first.
func (r *Repository) ListPostsByAuthor(ctx context.Context, authorID string) ([]*models.Post, error) {
	return r.queryPosts(ctx, store.Query{
		Where:      store.Fields{"userId": authorID},
		OrderBy:    "createdAt",
		Descending: true,
	})
}

func (r *Repository) queryPosts(ctx context.Context, q store.Query) ([]*models.Post, error) {
	docs, err := r.docs.QueryCollection(ctx, PostsCollection, q)
	if err != nil {
		return nil, fmt.Errorf("database query failed: %w", err)
	}

	posts := make([]*models.Post, 0, len(docs))
	for _, d := range docs {
		var doc PostDocument
		if err := decodeFields(d.Fields, &doc); err != nil {
			return nil, fmt.Errorf("invalid post %s: %w", d.ID, err)
		}
		posts = append(posts, DocumentToModel(d.ID, &doc))
	}
	return posts, nil
}

// NewPost holds the caller-supplied fields of a post being created.
type NewPost struct {
	AuthorID     string
	AuthorName   string
	AuthorAvatar string
	Content      string
	Images       []string
	Privacy      models.Privacy // empty means public
}

// CreatePost stores a new post with a server-assigned id and timestamp.
func (r *Repository) CreatePost(ctx context.Context, p NewPost) (string, error) {
	images := p.Images
	if images == nil {
		images = []string{}
	}
	privacy := p.Privacy
	if privacy == "" {
		privacy = models.PrivacyPublic
	}
	return r.docs.AddDocument(ctx, PostsCollection, store.Fields{
		"userId":     p.AuthorID,
		"userName":   p.AuthorName,
		"userAvatar": p.AuthorAvatar,
		"content":    p.Content,
		"images":     images,
		"privacy":    string(privacy),
		"createdAt":  store.ServerTimestamp(),
		"likes":      0,
		"likedBy":    []string{},
		"comments":   []CommentDocument{},
	})
}

// SetLike adds or removes userID from the post's liking set and adjusts the
// counter in the same atomic update.
func (r *Repository) SetLike(ctx context.Context, postID, userID string, like bool) error {
	fields := store.Fields{
		"likedBy": store.ArrayRemove(userID),
		"likes":   store.Increment(-1),
	}
	if like {
		fields = store.Fields{
			"likedBy": store.ArrayUnion(userID),
			"likes":   store.Increment(1),
		}
	}
	return r.update(ctx, postID, fields)
}

// AppendComment set-unions the comment into the post's comment list.
func (r *Repository) AppendComment(ctx context.Context, postID string, c models.Comment) error {
	return r.update(ctx, postID, store.Fields{
		"comments": store.ArrayUnion(CommentToDocument(c)),
	})
}

func (r *Repository) update(ctx context.Context, postID string, fields store.Fields) error {
	err := r.docs.UpdateDocument(ctx, PostsCollection, postID, fields)
	if errors.Is(err, store.ErrNotFound) {
		return utils.NewPostNotFoundError(postID)
	}
	return err
}

// decodeFields decodes schema-flexible fields into a typed document.
func decodeFields(fields store.Fields, out any) error {
	data, err := bson.Marshal(fields)
	if err != nil {
		return err
	}
	return bson.Unmarshal(data, out)
}
