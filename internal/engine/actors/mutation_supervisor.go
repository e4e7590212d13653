package actors

import (
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"

	"social-sync/internal/database"
	"social-sync/internal/utils"
)

// MutationSupervisor owns one PostActor per post id and forwards each
// mutation to it, keeping the original sender so the post actor replies to
// the caller directly. Post actors live for the lifetime of the supervisor.
type MutationSupervisor struct {
	postActors map[string]*actor.PID
	repo       *database.Repository
	timeout    time.Duration
	metrics    *utils.MetricsCollector
	logger     *zap.Logger
}

func NewMutationSupervisor(repo *database.Repository, timeout time.Duration, metrics *utils.MetricsCollector, logger *zap.Logger) actor.Actor {
	return &MutationSupervisor{
		postActors: make(map[string]*actor.PID),
		repo:       repo,
		timeout:    timeout,
		metrics:    metrics,
		logger:     utils.OrNop(logger),
	}
}

func (s *MutationSupervisor) Receive(context actor.Context) {
	switch msg := context.Message().(type) {
	case *ToggleLikeMsg:
		context.Forward(s.getOrCreatePostActor(context, msg.PostID))

	case *AppendCommentMsg:
		context.Forward(s.getOrCreatePostActor(context, msg.PostID))

	case *GetCountsMsg:
		context.Respond(len(s.postActors))

	case *actor.Terminated:
		for id, pid := range s.postActors {
			if pid.Equal(msg.Who) {
				delete(s.postActors, id)
				s.logger.Warn("post actor terminated", zap.String("postId", id))
				break
			}
		}
	}
}

func (s *MutationSupervisor) getOrCreatePostActor(context actor.Context, postID string) *actor.PID {
	if pid, exists := s.postActors[postID]; exists {
		return pid
	}

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewPostActor(postID, s.repo, s.timeout, s.metrics, s.logger)
	})
	pid := context.Spawn(props)
	context.Watch(pid)
	s.postActors[postID] = pid
	return pid
}
