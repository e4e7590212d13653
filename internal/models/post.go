package models

import (
	"strings"
	"time"
)

// UnknownAuthor is shown when neither a profile nor denormalized author fields exist.
const UnknownAuthor = "Unknown"

// Privacy is the audience a post was published to.
type Privacy string

const (
	PrivacyPublic  Privacy = "public"
	PrivacyFriends Privacy = "friends"
	PrivacyPrivate Privacy = "private"
)

// ParsePrivacy accepts a privacy level case-insensitively. Empty means public.
func ParsePrivacy(s string) (Privacy, bool) {
	switch p := Privacy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PrivacyPublic, true
	case PrivacyPublic, PrivacyFriends, PrivacyPrivate:
		return p, true
	default:
		return "", false
	}
}

// Post is the view-model for one feed entry. AuthorName and AuthorAvatar are
// resolved at read time; Liked is derived for the viewing user.
type Post struct {
	ID           string    `json:"id"`
	AuthorID     string    `json:"authorId"`
	AuthorName   string    `json:"authorName"`
	AuthorAvatar string    `json:"authorAvatar"`
	Content      string    `json:"content"`
	Images       []string  `json:"images"`
	Privacy      Privacy   `json:"privacy"`
	CreatedAt    time.Time `json:"createdAt"`
	LikeCount    int       `json:"likes"`
	LikedBy      []string  `json:"likedBy"`
	Comments     []Comment `json:"comments"`
	ShareCount   int       `json:"shares"` // client-local only
	Liked        bool      `json:"liked"`
}

// HasLiked reports whether userID is in the post's liking set.
func (p *Post) HasLiked(userID string) bool {
	for _, id := range p.LikedBy {
		if id == userID {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no slices with p.
func (p Post) Clone() Post {
	p.Images = append([]string(nil), p.Images...)
	p.LikedBy = append([]string(nil), p.LikedBy...)
	p.Comments = append([]Comment(nil), p.Comments...)
	return p
}
