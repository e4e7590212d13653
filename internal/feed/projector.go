// Package feed holds the viewer's local projection of the feed and the
// components that fill it: the loader and the post composer.
package feed

import (
	"sync"

	"social-sync/internal/models"
)

// Sink receives the result of a feed load.
type Sink interface {
	SetPosts(posts []models.Post)
	SetLoading(loading bool)
}

type likeKey struct {
	postID string
	userID string
}

// Projector is one viewer's in-memory list of post view-models. Every change
// publishes a new slice, so a slice returned by Posts is never modified.
//
// Like toggles carry a pending-mutation token per (post, user). A failed
// toggle is undone by flipping membership again; once the last token for a
// pair settles successfully the server-observed membership is adopted.
type Projector struct {
	mu        sync.RWMutex
	viewerID  string
	posts     []models.Post
	loading   bool
	pending   map[likeKey]int
	listeners map[int]func([]models.Post)
	nextSub   int
}

var _ Sink = (*Projector)(nil)

func NewProjector(viewerID string) *Projector {
	return &Projector{
		viewerID:  viewerID,
		posts:     []models.Post{},
		pending:   make(map[likeKey]int),
		listeners: make(map[int]func([]models.Post)),
	}
}

func (p *Projector) Viewer() string {
	return p.viewerID
}

// Posts returns the current snapshot. Callers must not modify it.
func (p *Projector) Posts() []models.Post {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.posts
}

// Post returns a copy of the post with the given id.
func (p *Projector) Post(id string) (models.Post, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if i := p.indexOf(id); i >= 0 {
		return p.posts[i].Clone(), true
	}
	return models.Post{}, false
}

func (p *Projector) Loading() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.loading
}

// SetLoading sets the loading flag. A change is published to subscribers
// with the current posts.
func (p *Projector) SetLoading(loading bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loading == loading {
		return
	}
	p.loading = loading
	p.publish(p.posts)
}

// SetPosts replaces the whole list, as a refresh does.
func (p *Projector) SetPosts(posts []models.Post) {
	next := make([]models.Post, 0, len(posts))
	for _, post := range posts {
		next = append(next, p.withLiked(post.Clone()))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.publish(next)
}

// AppendPosts adds a further page to the end of the list, skipping posts
// already present.
func (p *Projector) AppendPosts(posts []models.Post) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := append([]models.Post(nil), p.posts...)
	for _, post := range posts {
		if p.indexOf(post.ID) >= 0 {
			continue
		}
		next = append(next, p.withLiked(post.Clone()))
	}
	p.publish(next)
}

// Prepend puts a newly created post at the head of the list.
func (p *Projector) Prepend(post models.Post) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := make([]models.Post, 0, len(p.posts)+1)
	next = append(next, p.withLiked(post.Clone()))
	for _, existing := range p.posts {
		if existing.ID != post.ID {
			next = append(next, existing)
		}
	}
	p.publish(next)
}

// ToggleLike flips userID's membership in the post's liking set, sets the
// like count to the set size and takes a pending token. It reports the new
// local membership; ok is false when the post is not in the list.
func (p *Projector) ToggleLike(postID, userID string) (liked, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ok = p.update(postID, func(post *models.Post) {
		liked = flipLike(post, userID)
	})
	if ok {
		p.pending[likeKey{postID, userID}]++
	}
	return liked, ok
}

// SettleLike releases a token taken by ToggleLike. On failure the local
// membership is flipped back. On success, when no other toggle for the pair
// is pending, membership is set to serverLiked.
func (p *Projector) SettleLike(postID, userID string, serverLiked bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	k := likeKey{postID, userID}
	if p.pending[k] > 0 {
		p.pending[k]--
	}
	remaining := p.pending[k]
	if remaining == 0 {
		delete(p.pending, k)
	}

	if err != nil {
		p.update(postID, func(post *models.Post) { flipLike(post, userID) })
		return
	}
	if remaining == 0 {
		p.update(postID, func(post *models.Post) {
			if post.HasLiked(userID) != serverLiked {
				flipLike(post, userID)
			}
		})
	}
}

// PendingLikes reports how many toggles by userID on postID are unsettled.
func (p *Projector) PendingLikes(postID, userID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pending[likeKey{postID, userID}]
}

// AppendComment adds c to the end of the post's comments.
func (p *Projector) AppendComment(postID string, c models.Comment) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.update(postID, func(post *models.Post) {
		post.Comments = append(post.Comments, c)
	})
}

// RemoveComment drops every comment on the post whose id is commentID.
func (p *Projector) RemoveComment(postID, commentID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.update(postID, func(post *models.Post) {
		kept := post.Comments[:0]
		for _, c := range post.Comments {
			if c.ID != commentID {
				kept = append(kept, c)
			}
		}
		post.Comments = kept
	})
}

// IncrementShares bumps the client-local share counter.
func (p *Projector) IncrementShares(postID string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var shares int
	ok := p.update(postID, func(post *models.Post) {
		post.ShareCount++
		shares = post.ShareCount
	})
	return shares, ok
}

// Subscribe registers fn to receive every new snapshot, including changes of
// the loading flag. fn runs with the projector locked and must not block or
// call back into the projector.
func (p *Projector) Subscribe(fn func([]models.Post)) (cancel func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	p.listeners[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

// update replaces the post with a modified clone. Caller holds p.mu.
func (p *Projector) update(postID string, fn func(*models.Post)) bool {
	i := p.indexOf(postID)
	if i < 0 {
		return false
	}
	next := append([]models.Post(nil), p.posts...)
	post := next[i].Clone()
	fn(&post)
	next[i] = p.withLiked(post)
	p.publish(next)
	return true
}

func (p *Projector) publish(next []models.Post) {
	p.posts = next
	for _, fn := range p.listeners {
		fn(next)
	}
}

func (p *Projector) indexOf(id string) int {
	for i := range p.posts {
		if p.posts[i].ID == id {
			return i
		}
	}
	return -1
}

func (p *Projector) withLiked(post models.Post) models.Post {
	post.Liked = p.viewerID != "" && post.HasLiked(p.viewerID)
	return post
}

// flipLike toggles membership and keeps LikeCount equal to the set size.
func flipLike(post *models.Post, userID string) bool {
	liked := !post.HasLiked(userID)
	if liked {
		post.LikedBy = append(post.LikedBy, userID)
	} else {
		kept := make([]string, 0, len(post.LikedBy))
		for _, id := range post.LikedBy {
			if id != userID {
				kept = append(kept, id)
			}
		}
		post.LikedBy = kept
	}
	post.LikeCount = len(post.LikedBy)
	return liked
}
