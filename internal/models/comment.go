package models

import (
	"fmt"
	"time"
)

type Comment struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Avatar    string    `json:"avatar"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// CommentID builds the client-side comment identifier "<authorID>:<epochMillis>".
// Two comments by the same author in the same millisecond collide.
func CommentID(authorID string, at time.Time) string {
	return fmt.Sprintf("%s:%d", authorID, at.UnixMilli())
}
