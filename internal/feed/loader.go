package feed

import (
	"context"
	"time"

	"go.uber.org/zap"

	"social-sync/internal/database"
	"social-sync/internal/models"
	"social-sync/internal/profile"
	"social-sync/internal/utils"
)

// Loader reads the newest-first feed and joins author profiles onto it.
type Loader struct {
	repo          *database.Repository
	resolver      *profile.Resolver
	pageSize      int
	defaultAvatar string
	logger        *zap.Logger
	metrics       *utils.MetricsCollector
}

// LoaderOptions tunes a Loader. A zero PageSize loads every post.
type LoaderOptions struct {
	PageSize      int
	DefaultAvatar string
	Logger        *zap.Logger
	Metrics       *utils.MetricsCollector
}

func NewLoader(repo *database.Repository, resolver *profile.Resolver, opts LoaderOptions) *Loader {
	metrics := opts.Metrics
	if metrics == nil {
		metrics = utils.NewMetricsCollector()
	}
	return &Loader{
		repo:          repo,
		resolver:      resolver,
		pageSize:      opts.PageSize,
		defaultAvatar: opts.DefaultAvatar,
		logger:        utils.OrNop(opts.Logger),
		metrics:       metrics,
	}
}

// Load replaces the sink's posts with the first page of the feed. The sink's
// loading flag is true for the duration of the call. On failure the sink
// receives an empty list and a FETCH_FAILED error is returned.
func (l *Loader) Load(ctx context.Context, viewer models.Identity, sink Sink) error {
	sink.SetLoading(true)
	defer sink.SetLoading(false)

	posts, err := l.fetch(ctx, viewer, database.PostPage{ViewerID: viewer.ID, Limit: l.pageSize})
	if err != nil {
		sink.SetPosts([]models.Post{})
		return err
	}
	sink.SetPosts(posts)
	return nil
}

// LoadMore appends the page after the last post held by p. It reports
// whether a further page may exist. A failure leaves p's posts untouched.
func (l *Loader) LoadMore(ctx context.Context, viewer models.Identity, p *Projector) (bool, error) {
	if p.Loading() {
		return true, nil
	}
	current := p.Posts()
	if len(current) == 0 {
		if err := l.Load(ctx, viewer, p); err != nil {
			return false, err
		}
		return l.hasMore(len(p.Posts())), nil
	}
	if l.pageSize <= 0 {
		return false, nil
	}

	p.SetLoading(true)
	defer p.SetLoading(false)

	last := current[len(current)-1]
	posts, err := l.fetch(ctx, viewer, database.PostPage{
		ViewerID: viewer.ID,
		Limit:    l.pageSize,
		Before:   last.CreatedAt,
		BeforeID: last.ID,
	})
	if err != nil {
		return false, err
	}
	p.AppendPosts(posts)
	return l.hasMore(len(posts)), nil
}

func (l *Loader) hasMore(n int) bool {
	return l.pageSize > 0 && n == l.pageSize
}

func (l *Loader) fetch(ctx context.Context, viewer models.Identity, page database.PostPage) ([]models.Post, error) {
	startTime := time.Now()
	defer func() {
		l.metrics.AddOperationLatency("feed_load", time.Since(startTime))
	}()

	raw, err := l.repo.ListPosts(ctx, page)
	if err != nil {
		l.metrics.IncrementErrors()
		l.logger.Warn("feed fetch failed", zap.Error(err))
		return nil, utils.NewAppError(utils.ErrFetch, "Failed to load feed", err)
	}

	// one lookup per unique author per load, including misses
	authors := make(map[string]*models.UserProfile)
	lookup := func(uid string) *models.UserProfile {
		if p, seen := authors[uid]; seen {
			return p
		}
		p := l.resolver.Resolve(ctx, uid)
		authors[uid] = p
		return p
	}

	posts := make([]models.Post, 0, len(raw))
	for _, post := range raw {
		author := lookup(post.AuthorID)
		post.AuthorName = firstNonEmpty(profileName(author), post.AuthorName, models.UnknownAuthor)
		post.AuthorAvatar = firstNonEmpty(profileAvatar(author), post.AuthorAvatar, l.defaultAvatar)

		for i := range post.Comments {
			c := &post.Comments[i]
			commenter := lookup(c.UserID)
			c.Username = firstNonEmpty(profileName(commenter), c.Username, models.UnknownAuthor)
			c.Avatar = firstNonEmpty(profileAvatar(commenter), c.Avatar, l.defaultAvatar)
		}

		post.Liked = viewer.ID != "" && post.HasLiked(viewer.ID)
		posts = append(posts, *post)
	}

	if err := ctx.Err(); err != nil {
		l.metrics.IncrementErrors()
		return nil, utils.NewAppError(utils.ErrFetch, "Feed load cancelled", err)
	}

	l.logger.Debug("feed loaded", zap.Int("posts", len(posts)), zap.Int("authors", len(authors)))
	return posts, nil
}

func profileName(p *models.UserProfile) string {
	if p == nil {
		return ""
	}
	return p.Name
}

func profileAvatar(p *models.UserProfile) string {
	if p == nil {
		return ""
	}
	return p.Avatar
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
