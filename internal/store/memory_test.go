package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestMemoryUpdateOperators(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("http://media.test")

	require.NoError(t, m.SetDocument(ctx, "posts", "p1", Fields{
		"likes":   1,
		"likedBy": []string{"u1"},
	}, false))

	require.NoError(t, m.UpdateDocument(ctx, "posts", "p1", Fields{
		"likedBy": ArrayUnion("u2"),
		"likes":   Increment(1),
	}))
	// set-union is idempotent
	require.NoError(t, m.UpdateDocument(ctx, "posts", "p1", Fields{"likedBy": ArrayUnion("u2")}))

	doc, err := m.GetDocument(ctx, "posts", "p1")
	require.NoError(t, err)
	assert.Equal(t, primitive.A{"u1", "u2"}, doc["likedBy"])
	assert.EqualValues(t, 2, doc["likes"])

	require.NoError(t, m.UpdateDocument(ctx, "posts", "p1", Fields{
		"likedBy": ArrayRemove("u1"),
		"likes":   Increment(-1),
	}))
	doc, err = m.GetDocument(ctx, "posts", "p1")
	require.NoError(t, err)
	assert.Equal(t, primitive.A{"u2"}, doc["likedBy"])
	assert.EqualValues(t, 1, doc["likes"])
}

func TestMemoryArrayUnionOfDocuments(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("")
	require.NoError(t, m.SetDocument(ctx, "posts", "p1", Fields{"comments": []any{}}, false))

	comment := map[string]any{"id": "u3:1", "text": "hi"}
	require.NoError(t, m.UpdateDocument(ctx, "posts", "p1", Fields{"comments": ArrayUnion(comment)}))
	require.NoError(t, m.UpdateDocument(ctx, "posts", "p1", Fields{"comments": ArrayUnion(comment)}))

	doc, err := m.GetDocument(ctx, "posts", "p1")
	require.NoError(t, err)
	assert.Len(t, doc["comments"], 1)
}

func TestMemoryUpdateMissingDocument(t *testing.T) {
	m := NewMemory("")
	err := m.UpdateDocument(context.Background(), "posts", "nope", Fields{"likes": Increment(1)})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.GetDocument(context.Background(), "posts", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemorySetMerge(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("")
	require.NoError(t, m.SetDocument(ctx, "users", "u1", Fields{"name": "A", "bio": "x"}, false))
	require.NoError(t, m.SetDocument(ctx, "users", "u1", Fields{"name": "B"}, true))

	doc, err := m.GetDocument(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, "B", doc["name"])
	assert.Equal(t, "x", doc["bio"])

	require.NoError(t, m.SetDocument(ctx, "users", "u1", Fields{"name": "C"}, false))
	doc, err = m.GetDocument(ctx, "users", "u1")
	require.NoError(t, err)
	assert.NotContains(t, doc, "bio")
}

func TestMemoryQueryOrderFilterAndCursor(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("")
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, author := range []string{"a", "b", "a", "a"} {
		require.NoError(t, m.SetDocument(ctx, "posts", string(rune('1'+i)), Fields{
			"userId":    author,
			"createdAt": base.Add(time.Duration(i) * time.Minute),
		}, false))
	}

	docs, err := m.QueryCollection(ctx, "posts", Query{OrderBy: "createdAt", Descending: true})
	require.NoError(t, err)
	require.Len(t, docs, 4)
	assert.Equal(t, []string{"4", "3", "2", "1"}, ids(docs))

	docs, err = m.QueryCollection(ctx, "posts", Query{Where: Fields{"userId": "a"}, OrderBy: "createdAt", Descending: true, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "3"}, ids(docs))

	docs, err = m.QueryCollection(ctx, "posts", Query{OrderBy: "createdAt", Descending: true, StartAfter: base.Add(2 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "1"}, ids(docs))
}

func TestMemoryQueryCursorBreaksTiesById(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("")
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, m.SetDocument(ctx, "posts", id, Fields{"createdAt": at}, false))
	}

	q := Query{OrderBy: "createdAt", Descending: true, Limit: 2}
	docs, err := m.QueryCollection(ctx, "posts", q)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b"}, ids(docs))

	q.StartAfter = at
	q.StartAfterID = "b"
	docs, err = m.QueryCollection(ctx, "posts", q)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(docs))

	// without the id every tied document is skipped
	q.StartAfterID = ""
	docs, err = m.QueryCollection(ctx, "posts", q)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestMemoryQueryAnyOf(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("")
	require.NoError(t, m.SetDocument(ctx, "posts", "1", Fields{"privacy": "public", "userId": "a"}, false))
	require.NoError(t, m.SetDocument(ctx, "posts", "2", Fields{"privacy": "private", "userId": "a"}, false))
	require.NoError(t, m.SetDocument(ctx, "posts", "3", Fields{"privacy": "private", "userId": "b"}, false))
	require.NoError(t, m.SetDocument(ctx, "posts", "4", Fields{"userId": "b"}, false))

	docs, err := m.QueryCollection(ctx, "posts", Query{
		AnyOf:   []Fields{{"privacy": "public"}, {"privacy": nil}, {"userId": "b"}},
		OrderBy: "userId",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3", "4"}, ids(docs))
}

func TestMemoryDeleteDocument(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("")
	require.NoError(t, m.SetDocument(ctx, "users", "u1", Fields{"name": "Ann"}, false))

	require.NoError(t, m.DeleteDocument(ctx, "users", "u1"))
	_, err := m.GetDocument(ctx, "users", "u1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, m.DeleteDocument(ctx, "users", "u1"))
	assert.Equal(t, 2, m.Calls(OpDelete, "users"))
}

func TestMemoryServerTimestamp(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("")
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	m.SetClock(func() time.Time { return fixed })

	id, err := m.AddDocument(ctx, "posts", Fields{"createdAt": ServerTimestamp()})
	require.NoError(t, err)
	doc, err := m.GetDocument(ctx, "posts", id)
	require.NoError(t, err)
	assert.Equal(t, primitive.NewDateTimeFromTime(fixed), doc["createdAt"])
}

func TestMemoryHookFailsAndCounts(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("")
	boom := errors.New("offline")
	m.SetHook(func(ctx context.Context, op Op, collection, id string) error {
		if op == OpUpdate {
			return boom
		}
		return nil
	})

	require.NoError(t, m.SetDocument(ctx, "posts", "p1", Fields{"likes": 0}, false))
	err := m.UpdateDocument(ctx, "posts", "p1", Fields{"likes": Increment(1)})
	assert.ErrorIs(t, err, boom)

	doc, err := m.GetDocument(ctx, "posts", "p1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, doc["likes"])
	assert.Equal(t, 1, m.Calls(OpUpdate, "posts"))
	assert.Equal(t, 1, m.Calls(OpGet, "posts"))
}

func TestMemoryObjects(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("http://media.test/")

	_, err := m.PublicURL("posts/u1/a b.jpg")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Upload(ctx, "posts/u1/a b.jpg", []byte("img")))
	u, err := m.PublicURL("posts/u1/a b.jpg")
	require.NoError(t, err)
	assert.Equal(t, "http://media.test/posts/u1/a%20b.jpg", u)

	data, err := m.Open(ctx, "posts/u1/a b.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("img"), data)
}

func ids(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}
