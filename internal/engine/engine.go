// Package engine dispatches optimistic like and comment mutations: the local
// projection changes first, then a per-post actor applies the remote write and
// settles or rolls back the local change.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"

	"social-sync/internal/database"
	"social-sync/internal/engine/actors"
	"social-sync/internal/feed"
	"social-sync/internal/models"
	"social-sync/internal/profile"
	"social-sync/internal/utils"
)

// Options tunes an Engine.
type Options struct {
	// MutationTimeout bounds each remote round-trip made by a post actor.
	MutationTimeout time.Duration
	// RequestTimeout bounds how long a caller waits for a reply. It should
	// not be shorter than MutationTimeout.
	RequestTimeout   time.Duration
	DefaultAvatarURL string
	Logger           *zap.Logger
	Metrics          *utils.MetricsCollector
	// Now overrides the clock used for comment ids and timestamps.
	Now func() time.Time
}

type Engine struct {
	system     *actor.ActorSystem
	supervisor *actor.PID
	resolver   *profile.Resolver
	opts       Options
	logger     *zap.Logger
	metrics    *utils.MetricsCollector

	// mu orders the local change with its enqueue, so the post actor sees
	// mutations in the order they were applied locally.
	mu sync.Mutex
}

func NewEngine(system *actor.ActorSystem, repo *database.Repository, resolver *profile.Resolver, opts Options) *Engine {
	if opts.MutationTimeout <= 0 {
		opts.MutationTimeout = 10 * time.Second
	}
	if opts.RequestTimeout < opts.MutationTimeout {
		opts.RequestTimeout = opts.MutationTimeout + 5*time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = utils.NewMetricsCollector()
	}
	logger := utils.OrNop(opts.Logger)

	props := actor.PropsFromProducer(func() actor.Actor {
		return actors.NewMutationSupervisor(repo, opts.MutationTimeout, opts.Metrics, logger)
	})

	return &Engine{
		system:     system,
		supervisor: system.Root.Spawn(props),
		resolver:   resolver,
		opts:       opts,
		logger:     logger,
		metrics:    opts.Metrics,
	}
}

// ToggleLike flips the viewer's like on postID in p immediately and returns
// once the remote write has settled. On failure p has been reverted and a
// MUTATION_FAILED error is returned.
func (e *Engine) ToggleLike(ctx context.Context, viewer models.Identity, p *feed.Projector, postID string) (models.Post, error) {
	if !viewer.Authenticated() {
		return models.Post{}, utils.NewAuthRequiredError("toggle like")
	}
	e.metrics.IncrementRequests()

	e.mu.Lock()
	if _, ok := p.ToggleLike(postID, viewer.ID); !ok {
		e.mu.Unlock()
		return models.Post{}, utils.NewPostNotFoundError(postID)
	}
	future := e.system.Root.RequestFuture(e.supervisor, &actors.ToggleLikeMsg{
		PostID:     postID,
		UserID:     viewer.ID,
		Projection: p,
	}, e.opts.RequestTimeout)
	e.mu.Unlock()

	if _, err := e.await(ctx, future, "toggle like"); err != nil {
		post, _ := p.Post(postID)
		return post, err
	}
	post, _ := p.Post(postID)
	return post, nil
}

// AddComment appends a comment by the viewer to postID in p immediately and
// returns once the remote write has settled. displayName is used when the
// viewer has no profile name. On failure the comment has been removed from p.
func (e *Engine) AddComment(ctx context.Context, viewer models.Identity, p *feed.Projector, postID, text, displayName string) (models.Comment, error) {
	if !viewer.Authenticated() {
		return models.Comment{}, utils.NewAuthRequiredError("add comment")
	}
	text = utils.SanitizeText(text)
	if text == "" {
		return models.Comment{}, utils.NewAppError(utils.ErrInvalidInput, "Comment text is empty", nil)
	}
	if _, ok := p.Post(postID); !ok {
		return models.Comment{}, utils.NewPostNotFoundError(postID)
	}
	e.metrics.IncrementRequests()

	var name, avatar string
	if prof := e.resolver.Resolve(ctx, viewer.ID); prof != nil {
		name, avatar = prof.Name, prof.Avatar
	}
	if name == "" {
		name = firstNonEmpty(displayName, viewer.DisplayName, viewer.Email, models.UnknownAuthor)
	}
	if avatar == "" {
		avatar = e.opts.DefaultAvatarURL
	}

	now := e.opts.Now()
	comment := models.Comment{
		ID:        models.CommentID(viewer.ID, now),
		UserID:    viewer.ID,
		Username:  name,
		Avatar:    avatar,
		Text:      text,
		CreatedAt: now,
	}

	e.mu.Lock()
	if !p.AppendComment(postID, comment) {
		e.mu.Unlock()
		return models.Comment{}, utils.NewPostNotFoundError(postID)
	}
	future := e.system.Root.RequestFuture(e.supervisor, &actors.AppendCommentMsg{
		PostID:     postID,
		Comment:    comment,
		Projection: p,
	}, e.opts.RequestTimeout)
	e.mu.Unlock()

	if _, err := e.await(ctx, future, "add comment"); err != nil {
		return comment, err
	}
	return comment, nil
}

// Share bumps the post's share count in p. Shares are not synchronized.
func (e *Engine) Share(viewer models.Identity, p *feed.Projector, postID string) (int, error) {
	if !viewer.Authenticated() {
		return 0, utils.NewAuthRequiredError("share")
	}
	shares, ok := p.IncrementShares(postID)
	if !ok {
		return 0, utils.NewPostNotFoundError(postID)
	}
	return shares, nil
}

// ActivePosts reports how many post actors are running.
func (e *Engine) ActivePosts() (int, error) {
	result, err := e.system.Root.RequestFuture(e.supervisor, &actors.GetCountsMsg{}, e.opts.RequestTimeout).Result()
	if err != nil {
		return 0, utils.NewActorTimeoutError("mutation supervisor")
	}
	count, _ := result.(int)
	return count, nil
}

func (e *Engine) Metrics() *utils.MetricsCollector {
	return e.metrics
}

// Shutdown stops the supervisor after the messages already queued to it.
func (e *Engine) Shutdown() error {
	return e.system.Root.PoisonFuture(e.supervisor).Wait()
}

// await waits for a mutation reply. If ctx ends first the mutation still
// completes and settles the projection in the background.
func (e *Engine) await(ctx context.Context, future *actor.Future, operation string) (interface{}, error) {
	type reply struct {
		result interface{}
		err    error
	}
	done := make(chan reply, 1)
	go func() {
		result, err := future.Result()
		done <- reply{result, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			e.metrics.IncrementErrors()
			e.logger.Error("mutation reply timed out", zap.String("operation", operation), zap.Error(r.err))
			return nil, utils.NewActorTimeoutError("post actor")
		}
		if appErr, ok := r.result.(*utils.AppError); ok {
			return nil, appErr
		}
		return r.result, nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
