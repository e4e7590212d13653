package simulator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"social-sync/internal/models"
	"social-sync/internal/utils"
)

var commentTexts = []string{
	"Nice one!",
	"Totally agree",
	"Where was this taken?",
	"Love it",
	"Haha",
	"Great post",
}

// SimulateActivities runs every user concurrently until ctx ends. Each user
// likes and comments on posts picked by a Zipf distribution, so a few popular
// posts receive most of the concurrent mutations.
func (s *EnhancedSimulator) SimulateActivities(ctx context.Context) {
	s.mu.RLock()
	numPosts := len(s.posts)
	s.mu.RUnlock()
	total := s.config.LikeFrequency + s.config.CommentFrequency
	if numPosts == 0 || total <= 0 {
		s.logger.Warn("nothing to simulate", zap.Int("posts", numPosts), zap.Float64("frequency", total))
		return
	}

	var wg sync.WaitGroup
	for _, user := range s.users {
		wg.Add(1)
		go func(user *SimulatedUser) {
			defer wg.Done()
			s.simulateUser(ctx, user, numPosts, total)
		}(user)
	}
	wg.Wait()

	m := s.GetMetrics()
	s.logger.Info("activities finished",
		zap.Int("likes", m.TotalLikes), zap.Int("comments", m.TotalComments), zap.Int("failedMutations", m.FailedMutations))
}

func (s *EnhancedSimulator) simulateUser(ctx context.Context, user *SimulatedUser, numPosts int, total float64) {
	var zipf *rand.Zipf
	if numPosts > 1 {
		zipf = rand.NewZipf(user.rng, s.config.ZipfS, 1, uint64(numPosts-1))
	}

	for {
		wait := time.Duration(user.rng.ExpFloat64() / total * float64(time.Second))
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		idx := 0
		if zipf != nil {
			idx = int(zipf.Uint64())
		}
		s.mu.RLock()
		postID := s.posts[idx]
		s.mu.RUnlock()

		if user.rng.Float64()*total < s.config.LikeFrequency {
			s.toggleLike(ctx, user, postID)
		} else {
			s.comment(ctx, user, postID)
		}
	}
}

func (s *EnhancedSimulator) toggleLike(ctx context.Context, user *SimulatedUser, postID string) {
	var post models.Post
	err := s.makeRequest(ctx, http.MethodPost, "/posts/"+postID+"/like", user.Token, nil, &post)
	s.recordMutation(ctx, err, func(st *SimulationStats) { st.TotalLikes++ })
	if err == nil && post.LikeCount != len(post.LikedBy) {
		s.logger.Warn("like reply out of sync",
			zap.String("postId", postID), zap.Int("likes", post.LikeCount), zap.Int("likedBy", len(post.LikedBy)))
	}
}

func (s *EnhancedSimulator) comment(ctx context.Context, user *SimulatedUser, postID string) {
	body := map[string]string{"text": commentTexts[user.rng.Intn(len(commentTexts))]}
	err := s.makeRequest(ctx, http.MethodPost, "/posts/"+postID+"/comments", user.Token, body, nil)
	s.recordMutation(ctx, err, func(st *SimulationStats) { st.TotalComments++ })
}

func (s *EnhancedSimulator) recordMutation(ctx context.Context, err error, onSuccess func(*SimulationStats)) {
	if ctx.Err() != nil {
		// the run ended mid-request
		return
	}
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()

	if err == nil {
		onSuccess(s.stats)
		return
	}
	s.stats.FailedMutations++

	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.Code == utils.ErrMutation || apiErr.Code == utils.ErrActorTimeout) {
		// rolled back by the gateway; expected under contention
		return
	}
	s.logger.Debug("mutation request failed", zap.Error(err))
}

// Summary renders metrics for the command line.
func (m SimulationMetrics) Summary() string {
	return fmt.Sprintf("users=%d posts=%d likes=%d comments=%d failedMutations=%d errors=%d avgLatency=%s p99=%s",
		m.TotalUsers, m.TotalPosts, m.TotalLikes, m.TotalComments, m.FailedMutations, m.ErrorCount,
		m.AverageLatency, m.P99Latency)
}
