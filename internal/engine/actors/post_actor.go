package actors

import (
	"time"

	stdctx "context"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"

	"social-sync/internal/database"
	"social-sync/internal/models"
	"social-sync/internal/utils"
)

// Projection is the local view a mutation settles against once its remote
// write has finished.
type Projection interface {
	SettleLike(postID, userID string, serverLiked bool, err error)
	RemoveComment(postID, commentID string) bool
}

// Message types for post mutations
type (
	// ToggleLikeMsg asks the post actor to flip UserID's like on the server.
	// The local flip has already been applied to Projection.
	ToggleLikeMsg struct {
		PostID     string
		UserID     string
		Projection Projection
	}

	// AppendCommentMsg asks the post actor to add Comment on the server. The
	// comment is already in Projection.
	AppendCommentMsg struct {
		PostID     string
		Comment    models.Comment
		Projection Projection
	}

	// LikeResult is the reply to a successful ToggleLikeMsg.
	LikeResult struct {
		PostID string
		Liked  bool // membership on the server after the write
	}

	// CommentResult is the reply to a successful AppendCommentMsg.
	CommentResult struct {
		PostID  string
		Comment models.Comment
	}

	GetCountsMsg struct{}
)

// PostActor serializes the remote writes for one post. Messages are handled
// one at a time, so a second mutation on the same post starts only after the
// first has settled.
type PostActor struct {
	postID  string
	repo    *database.Repository
	timeout time.Duration
	metrics *utils.MetricsCollector
	logger  *zap.Logger
}

// NewPostActor creates the actor owning postID's mutation queue.
//
// Parameters:
//   - postID: the post whose mutations this actor applies.
//   - repo: repository used for the authoritative read and the write.
//   - timeout: bound on each remote round-trip; expiry counts as failure.
func NewPostActor(postID string, repo *database.Repository, timeout time.Duration, metrics *utils.MetricsCollector, logger *zap.Logger) actor.Actor {
	return &PostActor{
		postID:  postID,
		repo:    repo,
		timeout: timeout,
		metrics: metrics,
		logger:  utils.OrNop(logger).With(zap.String("postId", postID)),
	}
}

// Receive handles incoming messages:
//   - ToggleLikeMsg: reads the post, flips the user's membership relative to
//     the server state with one atomic update, then settles the projection.
//   - AppendCommentMsg: set-unions the comment into the post; on failure the
//     comment is removed from the projection by id.
//
// The reply is a *LikeResult, a *CommentResult or a *utils.AppError.
func (a *PostActor) Receive(context actor.Context) {
	switch msg := context.Message().(type) {
	case *actor.Started:
		a.logger.Debug("post actor started")

	case *ToggleLikeMsg:
		startTime := time.Now()

		ctx, cancel := stdctx.WithTimeout(stdctx.Background(), a.timeout)
		liked, err := a.toggleLike(ctx, msg.UserID)
		cancel()

		if msg.Projection != nil {
			msg.Projection.SettleLike(a.postID, msg.UserID, liked, err)
		}
		a.metrics.AddOperationLatency("toggle_like", time.Since(startTime))

		if err != nil {
			a.metrics.IncrementErrors()
			a.logger.Warn("like write failed, local state reverted",
				zap.String("userId", msg.UserID), zap.Error(err))
			context.Respond(utils.NewMutationError("toggle like", a.postID, err))
			return
		}
		context.Respond(&LikeResult{PostID: a.postID, Liked: liked})

	case *AppendCommentMsg:
		startTime := time.Now()

		ctx, cancel := stdctx.WithTimeout(stdctx.Background(), a.timeout)
		err := a.repo.AppendComment(ctx, a.postID, msg.Comment)
		cancel()

		a.metrics.AddOperationLatency("append_comment", time.Since(startTime))
		if err != nil {
			if msg.Projection != nil {
				msg.Projection.RemoveComment(a.postID, msg.Comment.ID)
			}
			a.metrics.IncrementErrors()
			a.logger.Warn("comment write failed, local comment retracted",
				zap.String("commentId", msg.Comment.ID), zap.Error(err))
			context.Respond(utils.NewMutationError("append comment", a.postID, err))
			return
		}
		context.Respond(&CommentResult{PostID: a.postID, Comment: msg.Comment})
	}
}

// toggleLike decides the write from the server's membership, not the local
// one, and reports the membership after the write.
func (a *PostActor) toggleLike(ctx stdctx.Context, userID string) (bool, error) {
	post, err := a.repo.GetPost(ctx, a.postID)
	if err != nil {
		return false, err
	}
	like := !post.HasLiked(userID)
	if err := a.repo.SetLike(ctx, a.postID, userID, like); err != nil {
		return false, err
	}
	return like, nil
}
