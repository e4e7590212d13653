package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"social-sync/internal/models"
	"social-sync/internal/utils"
)

type SimConfig struct {
	NumUsers         int
	PostsPerUser     int
	SimulationTime   time.Duration
	LikeFrequency    float64 // likes per user per second
	CommentFrequency float64 // comments per user per second
	ZipfS            float64
	RequestsPerSec   float64 // shared cap across all simulated users
	EmailDomain      string
	EngineURL        string
	Logger           *zap.Logger
}

type SimulationStats struct {
	mu               sync.RWMutex
	StartTime        time.Time
	TotalRequests    int64
	SuccessRequests  int64
	FailedRequests   int64
	TotalPosts       int
	TotalComments    int
	TotalLikes       int
	FailedMutations  int
	RequestLatencies []time.Duration
}

// SimulatedUser is one registered account driving the gateway.
type SimulatedUser struct {
	ID    string
	Name  string
	Email string
	Token string

	rng *rand.Rand
}

// SimulationMetrics summarizes a run.
type SimulationMetrics struct {
	TotalUsers      int
	TotalPosts      int
	TotalLikes      int
	TotalComments   int
	FailedMutations int
	ErrorCount      int64
	AverageLatency  time.Duration
	P99Latency      time.Duration
}

// Violation is a post whose synchronized state broke an invariant.
type Violation struct {
	PostID string
	Reason string
}

type EnhancedSimulator struct {
	config  SimConfig
	stats   *SimulationStats
	users   []*SimulatedUser
	posts   []string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
	mu      sync.RWMutex
}

// APIError is a non-2xx gateway reply.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway returned %d %s: %s", e.Status, e.Code, e.Message)
}

func NewEnhancedSimulator(config SimConfig) *EnhancedSimulator {
	if config.EmailDomain == "" {
		config.EmailDomain = "gmail.com"
	}
	if config.ZipfS <= 1 {
		config.ZipfS = 1.07
	}
	limit := rate.Inf
	if config.RequestsPerSec > 0 {
		limit = rate.Limit(config.RequestsPerSec)
	}
	return &EnhancedSimulator{
		config: config,
		stats: &SimulationStats{
			StartTime:        time.Now(),
			RequestLatencies: make([]time.Duration, 0),
		},
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(limit, max(1, int(config.RequestsPerSec))),
		logger:  utils.OrNop(config.Logger),
	}
}

// Run registers the users, seeds posts, runs concurrent likes and comments
// until ctx ends or SimulationTime elapses, then checks every post.
func (s *EnhancedSimulator) Run(ctx context.Context) ([]Violation, error) {
	s.logger.Info("starting simulation",
		zap.Int("users", s.config.NumUsers), zap.Duration("duration", s.config.SimulationTime))

	if err := s.initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialization failed: %w", err)
	}

	activityCtx, cancel := context.WithTimeout(ctx, s.config.SimulationTime)
	defer cancel()
	s.SimulateActivities(activityCtx)

	return s.Verify(ctx)
}

func (s *EnhancedSimulator) initialize(ctx context.Context) error {
	// Phase 1: Create user base
	s.logger.Info("creating users", zap.Int("count", s.config.NumUsers))
	if err := s.createInitialUsers(ctx); err != nil {
		return fmt.Errorf("failed to create initial users: %w", err)
	}

	// Phase 2: Every user publishes a few posts
	s.logger.Info("creating posts", zap.Int("perUser", s.config.PostsPerUser))
	for _, user := range s.users {
		for i := 0; i < s.config.PostsPerUser; i++ {
			var post models.Post
			body := map[string]string{"content": fmt.Sprintf("post %d by %s", i+1, user.Name)}
			if err := s.makeRequest(ctx, http.MethodPost, "/posts", user.Token, body, &post); err != nil {
				return fmt.Errorf("failed to create post: %w", err)
			}
			s.mu.Lock()
			s.posts = append(s.posts, post.ID)
			s.mu.Unlock()
			s.stats.mu.Lock()
			s.stats.TotalPosts++
			s.stats.mu.Unlock()
		}
	}
	return nil
}

func (s *EnhancedSimulator) createInitialUsers(ctx context.Context) error {
	numWorkers := min(5, max(1, s.config.NumUsers))
	userJobs := make(chan int)
	results := make(chan *SimulatedUser, s.config.NumUsers)
	errs := make(chan error, s.config.NumUsers)

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for userNum := range userJobs {
				user := &SimulatedUser{
					Name:  fmt.Sprintf("user_%d", userNum),
					Email: fmt.Sprintf("sim_%d_%d@%s", s.stats.StartTime.UnixNano(), userNum, s.config.EmailDomain),
					rng:   rand.New(rand.NewSource(time.Now().UnixNano() + int64(userNum))),
				}
				if err := s.registerUserWithRetry(ctx, user); err != nil {
					errs <- err
					continue
				}
				results <- user
			}
		}()
	}

	for i := 0; i < s.config.NumUsers; i++ {
		userJobs <- i
	}
	close(userJobs)
	wg.Wait()
	close(results)
	close(errs)

	for user := range results {
		s.users = append(s.users, user)
	}
	if err, ok := <-errs; ok {
		return err
	}
	return nil
}

func (s *EnhancedSimulator) registerUserWithRetry(ctx context.Context, user *SimulatedUser) error {
	var err error
	for retries := 0; retries < 3; retries++ {
		var session struct {
			Token string          `json:"token"`
			User  models.Identity `json:"user"`
		}
		body := map[string]string{"name": user.Name, "email": user.Email, "password": "sim-password"}
		if err = s.makeRequest(ctx, http.MethodPost, "/auth/register", "", body, &session); err == nil {
			user.ID = session.User.ID
			user.Token = session.Token
			return nil
		}
		backoff := time.Duration(math.Pow(2, float64(retries))) * 100 * time.Millisecond
		s.logger.Warn("register failed, retrying",
			zap.String("user", user.Name), zap.Int("retry", retries+1), zap.Duration("backoff", backoff), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}

// Verify pages through the whole feed as the first user and checks that the
// like count matches the liking set and that no user likes a post twice.
func (s *EnhancedSimulator) Verify(ctx context.Context) ([]Violation, error) {
	if len(s.users) == 0 {
		return nil, nil
	}
	viewer := s.users[0]

	var page struct {
		Posts   []models.Post `json:"posts"`
		HasMore bool          `json:"hasMore"`
	}
	if err := s.makeRequest(ctx, http.MethodGet, "/feed", viewer.Token, nil, &page); err != nil {
		return nil, err
	}
	for page.HasMore {
		if err := s.makeRequest(ctx, http.MethodGet, "/feed?more=1", viewer.Token, nil, &page); err != nil {
			return nil, err
		}
	}

	var violations []Violation
	for _, post := range page.Posts {
		if post.LikeCount != len(post.LikedBy) {
			violations = append(violations, Violation{post.ID,
				fmt.Sprintf("likes %d != len(likedBy) %d", post.LikeCount, len(post.LikedBy))})
		}
		seen := make(map[string]bool, len(post.LikedBy))
		for _, uid := range post.LikedBy {
			if seen[uid] {
				violations = append(violations, Violation{post.ID, "duplicate like by " + uid})
			}
			seen[uid] = true
		}
	}
	s.logger.Info("verification finished", zap.Int("posts", len(page.Posts)), zap.Int("violations", len(violations)))
	return violations, nil
}

func (s *EnhancedSimulator) makeRequest(ctx context.Context, method, endpoint, token string, data, out interface{}) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.EngineURL+endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		s.recordRequestMetrics(start, err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		s.recordRequestMetrics(start, apiErr)
		return apiErr
	}
	s.recordRequestMetrics(start, nil)
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *EnhancedSimulator) recordRequestMetrics(start time.Time, err error) {
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()

	s.stats.TotalRequests++
	s.stats.RequestLatencies = append(s.stats.RequestLatencies, time.Since(start))
	if err != nil {
		s.stats.FailedRequests++
	} else {
		s.stats.SuccessRequests++
	}
}

func (s *EnhancedSimulator) GetMetrics() SimulationMetrics {
	s.stats.mu.RLock()
	defer s.stats.mu.RUnlock()

	m := SimulationMetrics{
		TotalUsers:      len(s.users),
		TotalPosts:      s.stats.TotalPosts,
		TotalLikes:      s.stats.TotalLikes,
		TotalComments:   s.stats.TotalComments,
		FailedMutations: s.stats.FailedMutations,
		ErrorCount:      s.stats.FailedRequests,
	}
	if n := len(s.stats.RequestLatencies); n > 0 {
		sorted := append([]time.Duration(nil), s.stats.RequestLatencies...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		var sum time.Duration
		for _, l := range sorted {
			sum += l
		}
		m.AverageLatency = sum / time.Duration(n)
		m.P99Latency = sorted[(n*99)/100]
	}
	return m
}
