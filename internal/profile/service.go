// Package profile resolves author profiles for the feed and serves the
// profile screen.
package profile

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"social-sync/internal/database"
	"social-sync/internal/models"
	"social-sync/internal/utils"
)

// Resolver looks up user profiles, consulting an optional cache first.
type Resolver struct {
	repo   *database.Repository
	cache  Cache
	logger *zap.Logger
}

// NewResolver creates a resolver. cache may be nil.
func NewResolver(repo *database.Repository, cache Cache, logger *zap.Logger) *Resolver {
	r := &Resolver{repo: repo, logger: utils.OrNop(logger)}
	// a typed nil *RedisCache must not become a non-nil interface
	if rc, ok := cache.(*RedisCache); !ok || rc != nil {
		r.cache = cache
	}
	return r
}

// Resolve returns the profile for uid, or nil when it is missing or the
// lookup fails. Callers fall back to denormalized fields on nil.
func (r *Resolver) Resolve(ctx context.Context, uid string) *models.UserProfile {
	if uid == "" {
		return nil
	}
	if r.cache != nil {
		if p, ok := r.cache.Get(ctx, uid); ok {
			return p
		}
	}

	p, err := r.repo.GetProfile(ctx, uid)
	if err != nil {
		if !utils.IsErrorCode(err, utils.ErrNotFound) {
			r.logger.Warn("profile lookup failed", zap.String("uid", uid), zap.Error(err))
		}
		return nil
	}
	if r.cache != nil {
		r.cache.Set(ctx, p)
	}
	return p
}

// Invalidate drops any cached copy of uid's profile.
func (r *Resolver) Invalidate(ctx context.Context, uid string) {
	if r.cache != nil {
		r.cache.Delete(ctx, uid)
	}
}

// Service loads and edits the signed-in user's profile.
type Service struct {
	repo     *database.Repository
	resolver *Resolver
	logger   *zap.Logger
}

func NewService(repo *database.Repository, resolver *Resolver, logger *zap.Logger) *Service {
	return &Service{repo: repo, resolver: resolver, logger: utils.OrNop(logger)}
}

// Load returns uid's profile with PostCount and LikeCount summed over the
// user's own posts.
func (s *Service) Load(ctx context.Context, uid string) (*models.UserProfile, error) {
	if uid == "" {
		return nil, utils.NewAuthRequiredError("load profile")
	}
	p, err := s.repo.GetProfile(ctx, uid)
	if err != nil {
		return nil, err
	}

	posts, err := s.repo.ListPostsByAuthor(ctx, uid)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrFetch, "Failed to load user posts", err)
	}
	p.PostCount = len(posts)
	for _, post := range posts {
		p.LikeCount += post.LikeCount
	}
	return p, nil
}

// Update merges name, email and bio into the viewer's profile. Name and email
// are required after trimming.
func (s *Service) Update(ctx context.Context, viewer models.Identity, name, email, bio string) (*models.UserProfile, error) {
	if !viewer.Authenticated() {
		return nil, utils.NewAuthRequiredError("update profile")
	}
	name = utils.SanitizeText(name)
	email = strings.TrimSpace(email)
	bio = utils.SanitizeText(bio)
	if name == "" || email == "" {
		return nil, utils.NewAppError(utils.ErrInvalidInput, "Name and email are required", nil)
	}

	err := s.repo.UpdateProfile(ctx, viewer.ID, database.ProfileUpdate{Name: name, Email: email, Bio: bio})
	if err != nil {
		return nil, utils.NewAppError(utils.ErrStorage, "Failed to update profile", err)
	}
	s.resolver.Invalidate(ctx, viewer.ID)
	s.logger.Info("profile updated", zap.String("uid", viewer.ID))
	return s.Load(ctx, viewer.ID)
}
