package store

import (
	"context"
	"fmt"
	"net/url"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Op names a backend call, used by Memory hooks and call counters.
type Op string

const (
	OpGet    Op = "get"
	OpQuery  Op = "query"
	OpSet    Op = "set"
	OpUpdate Op = "update"
	OpAdd    Op = "add"
	OpDelete Op = "delete"
	OpUpload Op = "upload"
	OpOpen   Op = "open"
)

// Hook runs before every Memory call, outside the store lock. A non-nil
// error fails the call. Hooks may block; they should honour ctx.
type Hook func(ctx context.Context, op Op, collection, id string) error

// Memory is an in-process DocumentStore and ObjectStore. Values are stored in
// their BSON-decoded form so documents read back exactly as they would from
// MongoDB.
type Memory struct {
	mu          sync.Mutex
	collections map[string]map[string]bson.M
	objects     map[string][]byte
	baseURL     string
	hook        Hook
	calls       map[string]int
	now         func() time.Time
}

// NewMemory creates an empty store whose public object URLs live under publicBaseURL.
func NewMemory(publicBaseURL string) *Memory {
	return &Memory{
		collections: make(map[string]map[string]bson.M),
		objects:     make(map[string][]byte),
		baseURL:     strings.TrimRight(publicBaseURL, "/"),
		calls:       make(map[string]int),
		now:         time.Now,
	}
}

// SetHook installs h; nil removes it.
func (m *Memory) SetHook(h Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = h
}

// SetClock replaces the clock used for ServerTimestamp.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Calls reports how many times op was invoked against collection.
func (m *Memory) Calls(op Op, collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[string(op)+"/"+collection]
}

func (m *Memory) before(ctx context.Context, op Op, collection, id string) error {
	m.mu.Lock()
	m.calls[string(op)+"/"+collection]++
	hook := m.hook
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if hook != nil {
		return hook(ctx, op, collection, id)
	}
	return nil
}

func (m *Memory) GetDocument(ctx context.Context, collection, id string) (Fields, error) {
	if err := m.before(ctx, OpGet, collection, id); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	out, err := cloneDoc(doc)
	if err != nil {
		return nil, err
	}
	return Fields(out), nil
}

func (m *Memory) QueryCollection(ctx context.Context, collection string, q Query) ([]Document, error) {
	if err := m.before(ctx, OpQuery, collection, ""); err != nil {
		return nil, err
	}

	where := make(map[string]any, len(q.Where))
	for k, v := range q.Where {
		nv, err := normalize(v)
		if err != nil {
			return nil, fmt.Errorf("invalid filter %q: %w", k, err)
		}
		where[k] = nv
	}
	anyOf := make([]map[string]any, 0, len(q.AnyOf))
	for _, alt := range q.AnyOf {
		nf := make(map[string]any, len(alt))
		for k, v := range alt {
			nv, err := normalize(v)
			if err != nil {
				return nil, fmt.Errorf("invalid filter %q: %w", k, err)
			}
			nf[k] = nv
		}
		anyOf = append(anyOf, nf)
	}
	var startAfter any
	if q.StartAfter != nil {
		nv, err := normalize(q.StartAfter)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor: %w", err)
		}
		startAfter = nv
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var docs []Document
	for id, doc := range m.collections[collection] {
		if !matches(doc, where) || !matchesAny(doc, anyOf) {
			continue
		}
		if startAfter != nil && q.OrderBy != "" {
			c := compareValues(doc[q.OrderBy], startAfter)
			if c == 0 && q.StartAfterID != "" {
				c = strings.Compare(id, q.StartAfterID)
			}
			if (q.Descending && c >= 0) || (!q.Descending && c <= 0) {
				continue
			}
		}
		out, err := cloneDoc(doc)
		if err != nil {
			return nil, err
		}
		docs = append(docs, Document{ID: id, Fields: Fields(out)})
	}

	sort.Slice(docs, func(i, j int) bool {
		c := 0
		if q.OrderBy != "" {
			c = compareValues(docs[i].Fields[q.OrderBy], docs[j].Fields[q.OrderBy])
		}
		if c == 0 {
			c = strings.Compare(docs[i].ID, docs[j].ID)
		}
		if q.Descending {
			return c > 0
		}
		return c < 0
	})

	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs, nil
}

func (m *Memory) SetDocument(ctx context.Context, collection, id string, fields Fields, merge bool) error {
	if err := m.before(ctx, OpSet, collection, id); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	base := bson.M{}
	if existing, ok := m.collections[collection][id]; ok && merge {
		base = existing
	}
	doc, err := m.apply(base, fields)
	if err != nil {
		return err
	}
	m.put(collection, id, doc)
	return nil
}

func (m *Memory) UpdateDocument(ctx context.Context, collection, id string, fields Fields) error {
	if err := m.before(ctx, OpUpdate, collection, id); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.collections[collection][id]
	if !ok {
		return ErrNotFound
	}
	doc, err := m.apply(existing, fields)
	if err != nil {
		return err
	}
	m.put(collection, id, doc)
	return nil
}

func (m *Memory) AddDocument(ctx context.Context, collection string, fields Fields) (string, error) {
	id := uuid.NewString()
	if err := m.before(ctx, OpAdd, collection, id); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.apply(bson.M{}, fields)
	if err != nil {
		return "", err
	}
	m.put(collection, id, doc)
	return id, nil
}

func (m *Memory) DeleteDocument(ctx context.Context, collection, id string) error {
	if err := m.before(ctx, OpDelete, collection, id); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections[collection], id)
	return nil
}

func (m *Memory) Upload(ctx context.Context, path string, data []byte) error {
	if err := m.before(ctx, OpUpload, "", path); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = append([]byte(nil), data...)
	return nil
}

func (m *Memory) PublicURL(path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[path]; !ok {
		return "", ErrNotFound
	}
	return JoinURL(m.baseURL, path), nil
}

func (m *Memory) Open(ctx context.Context, path string) ([]byte, error) {
	if err := m.before(ctx, OpOpen, "", path); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.objects[path]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) put(collection, id string, doc bson.M) {
	if m.collections[collection] == nil {
		m.collections[collection] = make(map[string]bson.M)
	}
	m.collections[collection][id] = doc
}

// apply returns a copy of base with fields applied; base itself is untouched
// so a failed write leaves the stored document as it was.
func (m *Memory) apply(base bson.M, fields Fields) (bson.M, error) {
	doc, err := cloneDoc(base)
	if err != nil {
		return nil, err
	}

	for key, value := range fields {
		if key == "_id" {
			continue
		}
		switch op := value.(type) {
		case ArrayUnionOp:
			arr := asArray(doc[key])
			for _, v := range op.Values {
				nv, err := normalize(v)
				if err != nil {
					return nil, fmt.Errorf("field %q: %w", key, err)
				}
				if !containsValue(arr, nv) {
					arr = append(arr, nv)
				}
			}
			doc[key] = arr
		case ArrayRemoveOp:
			arr := asArray(doc[key])
			for _, v := range op.Values {
				nv, err := normalize(v)
				if err != nil {
					return nil, fmt.Errorf("field %q: %w", key, err)
				}
				kept := primitive.A{}
				for _, existing := range arr {
					if !reflect.DeepEqual(existing, nv) {
						kept = append(kept, existing)
					}
				}
				arr = kept
			}
			doc[key] = arr
		case IncrementOp:
			n, ok := asInt64(doc[key])
			if !ok {
				return nil, fmt.Errorf("field %q is not numeric", key)
			}
			doc[key] = n + op.Delta
		case ServerTimestampOp:
			doc[key] = primitive.NewDateTimeFromTime(m.now())
		default:
			nv, err := normalize(value)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", key, err)
			}
			doc[key] = nv
		}
	}
	return doc, nil
}

// JoinURL appends an object path to a base URL, escaping each path segment.
func JoinURL(base, path string) string {
	segments := strings.Split(strings.TrimLeft(path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.TrimRight(base, "/") + "/" + strings.Join(segments, "/")
}

func normalize(v any) (any, error) {
	data, err := bson.Marshal(bson.M{"v": v})
	if err != nil {
		return nil, err
	}
	var out bson.M
	if err := bson.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out["v"], nil
}

func cloneDoc(doc bson.M) (bson.M, error) {
	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, err
	}
	out := bson.M{}
	if err := bson.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func matches(doc bson.M, where map[string]any) bool {
	for k, v := range where {
		if !reflect.DeepEqual(doc[k], v) {
			return false
		}
	}
	return true
}

func matchesAny(doc bson.M, anyOf []map[string]any) bool {
	if len(anyOf) == 0 {
		return true
	}
	for _, where := range anyOf {
		if matches(doc, where) {
			return true
		}
	}
	return false
}

func asArray(v any) primitive.A {
	switch arr := v.(type) {
	case primitive.A:
		return append(primitive.A{}, arr...)
	case []any:
		return append(primitive.A{}, arr...)
	default:
		return primitive.A{}
	}
}

func containsValue(arr primitive.A, v any) bool {
	for _, existing := range arr {
		if reflect.DeepEqual(existing, v) {
			return true
		}
	}
	return false
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func compareValues(a, b any) int {
	switch av := a.(type) {
	case primitive.DateTime:
		if bv, ok := b.(primitive.DateTime); ok {
			return compareOrdered(int64(av), int64(bv))
		}
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	}
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return compareOrdered(af, bf)
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func compareOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
