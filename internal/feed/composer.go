package feed

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"social-sync/internal/config"
	"social-sync/internal/database"
	"social-sync/internal/models"
	"social-sync/internal/profile"
	"social-sync/internal/store"
	"social-sync/internal/utils"
)

// Image is an uploaded picture attached to a new post.
type Image struct {
	Name string // original file name, used only for its extension
	Data []byte
}

// Draft is the caller's input for a new post.
type Draft struct {
	Content string
	Images  []Image
	Privacy string // public, friends or private; empty means public
}

// Composer creates posts: it uploads images, writes the post document and
// puts the result at the head of the viewer's projection.
type Composer struct {
	repo     *database.Repository
	objects  store.ObjectStore
	resolver *profile.Resolver
	cfg      *config.FeedConfig
	logger   *zap.Logger
}

func NewComposer(repo *database.Repository, objects store.ObjectStore, resolver *profile.Resolver, cfg *config.FeedConfig, logger *zap.Logger) *Composer {
	return &Composer{
		repo:     repo,
		objects:  objects,
		resolver: resolver,
		cfg:      cfg,
		logger:   utils.OrNop(logger),
	}
}

// Submit publishes a post with content, images or both.
func (c *Composer) Submit(ctx context.Context, viewer models.Identity, p *Projector, d Draft) (*models.Post, error) {
	if !viewer.Authenticated() {
		return nil, utils.NewAuthRequiredError("create post")
	}
	content := utils.SanitizeText(d.Content)
	images := d.Images
	if content == "" && len(images) == 0 {
		return nil, utils.NewAppError(utils.ErrInvalidInput, "Post needs content or at least one image", nil)
	}
	privacy, ok := models.ParsePrivacy(d.Privacy)
	if !ok {
		return nil, utils.NewAppError(utils.ErrInvalidInput, "Unknown privacy level: "+d.Privacy, nil)
	}
	if c.cfg.MaxImagesPerPost > 0 && len(images) > c.cfg.MaxImagesPerPost {
		return nil, utils.NewAppError(utils.ErrInvalidInput,
			fmt.Sprintf("At most %d images per post", c.cfg.MaxImagesPerPost), nil)
	}
	for _, img := range images {
		if len(img.Data) == 0 {
			return nil, utils.NewAppError(utils.ErrInvalidInput, "Empty image upload", nil)
		}
		if c.cfg.MaxImageSizeBytes > 0 && len(img.Data) > c.cfg.MaxImageSizeBytes {
			return nil, utils.NewAppError(utils.ErrInvalidInput, "Image too large: "+img.Name, nil)
		}
	}

	urls := make([]string, 0, len(images))
	for _, img := range images {
		objectPath := fmt.Sprintf("posts/%s/%s%s", viewer.ID, uuid.NewString(), strings.ToLower(path.Ext(img.Name)))
		if err := c.objects.Upload(ctx, objectPath, img.Data); err != nil {
			return nil, utils.NewAppError(utils.ErrStorage, "Failed to upload image", err)
		}
		url, err := c.objects.PublicURL(objectPath)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrStorage, "Failed to resolve image URL", err)
		}
		urls = append(urls, url)
	}

	author := c.resolver.Resolve(ctx, viewer.ID)
	name := firstNonEmpty(profileName(author), viewer.DisplayName, viewer.Email, models.UnknownAuthor)
	avatar := firstNonEmpty(profileAvatar(author), c.cfg.DefaultAvatarURL)

	id, err := c.repo.CreatePost(ctx, database.NewPost{
		AuthorID:     viewer.ID,
		AuthorName:   name,
		AuthorAvatar: avatar,
		Content:      content,
		Images:       urls,
		Privacy:      privacy,
	})
	if err != nil {
		return nil, utils.NewAppError(utils.ErrStorage, "Failed to create post", err)
	}

	post, err := c.repo.GetPost(ctx, id)
	if err != nil {
		// the write succeeded; show it with a local timestamp
		c.logger.Warn("created post not readable", zap.String("postId", id), zap.Error(err))
		post = &models.Post{
			ID:        id,
			AuthorID:  viewer.ID,
			Content:   content,
			Images:    urls,
			Privacy:   privacy,
			CreatedAt: time.Now(),
			LikedBy:   []string{},
			Comments:  []models.Comment{},
		}
	}
	post.AuthorName = name
	post.AuthorAvatar = avatar

	if p != nil {
		p.Prepend(*post)
	}
	c.logger.Info("post created",
		zap.String("postId", id), zap.String("authorId", viewer.ID),
		zap.Int("images", len(urls)), zap.String("privacy", string(privacy)))
	return post, nil
}
