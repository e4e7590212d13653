package models

import (
	"time"
)

// UserProfile is the public profile stored in the users collection.
// PostCount and LikeCount are derived from the user's posts at load time.
type UserProfile struct {
	ID        string    `json:"uid"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Avatar    string    `json:"avatar"`
	Bio       string    `json:"bio"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
	PostCount int       `json:"postCount"`
	LikeCount int       `json:"likeCount"`
}

// Identity is the authenticated user as reported by the auth provider.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// Authenticated reports whether the identity carries a user id.
func (i Identity) Authenticated() bool {
	return i.ID != ""
}
