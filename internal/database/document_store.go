// internal/database/document_store.go
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"social-sync/internal/store"
)

// MongoStore implements store.DocumentStore on top of a MongoDB database.
// Update operators map onto $addToSet, $pull, $inc and $currentDate so each
// UpdateDocument is a single atomic UpdateOne.
type MongoStore struct {
	db *mongo.Database
}

var _ store.DocumentStore = (*MongoStore)(nil)

func NewMongoStore(m *MongoDB) *MongoStore {
	return &MongoStore{db: m.DB}
}

func (s *MongoStore) GetDocument(ctx context.Context, collection, id string) (store.Fields, error) {
	var doc bson.M
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find %s/%s: %w", collection, id, err)
	}
	delete(doc, "_id")
	return store.Fields(doc), nil
}

func (s *MongoStore) QueryCollection(ctx context.Context, collection string, q store.Query) ([]store.Document, error) {
	filter := bson.M{}
	for k, v := range q.Where {
		filter[k] = v
	}

	var clauses bson.A
	if len(q.AnyOf) > 0 {
		alts := make(bson.A, 0, len(q.AnyOf))
		for _, alt := range q.AnyOf {
			alts = append(alts, bson.M(alt))
		}
		clauses = append(clauses, bson.M{"$or": alts})
	}

	opts := options.Find()
	if q.OrderBy != "" {
		dir := 1
		cmp := "$gt"
		if q.Descending {
			dir = -1
			cmp = "$lt"
		}
		opts.SetSort(bson.D{{Key: q.OrderBy, Value: dir}, {Key: "_id", Value: dir}})
		if q.StartAfter != nil {
			cursor := bson.M{q.OrderBy: bson.M{cmp: q.StartAfter}}
			if q.StartAfterID != "" {
				cursor = bson.M{"$or": bson.A{
					bson.M{q.OrderBy: bson.M{cmp: q.StartAfter}},
					bson.M{q.OrderBy: q.StartAfter, "_id": bson.M{cmp: q.StartAfterID}},
				}}
			}
			clauses = append(clauses, cursor)
		}
	}
	if len(clauses) > 0 {
		filter["$and"] = clauses
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cursor, err := s.db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	var docs []store.Document
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", collection, err)
		}
		id := idString(doc["_id"])
		delete(doc, "_id")
		docs = append(docs, store.Document{ID: id, Fields: store.Fields(doc)})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor iteration failed: %w", err)
	}
	return docs, nil
}

func (s *MongoStore) SetDocument(ctx context.Context, collection, id string, fields store.Fields, merge bool) error {
	coll := s.db.Collection(collection)
	if merge {
		update, err := buildUpdate(fields)
		if err != nil {
			return err
		}
		_, err = coll.UpdateOne(ctx, bson.M{"_id": id}, update, options.Update().SetUpsert(true))
		return mapWriteError(collection, id, err)
	}

	doc, err := literalDocument(fields)
	if err != nil {
		return err
	}
	doc["_id"] = id
	_, err = coll.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	return mapWriteError(collection, id, err)
}

func (s *MongoStore) UpdateDocument(ctx context.Context, collection, id string, fields store.Fields) error {
	update, err := buildUpdate(fields)
	if err != nil {
		return err
	}
	result, err := s.db.Collection(collection).UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return mapWriteError(collection, id, err)
	}
	if result.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *MongoStore) AddDocument(ctx context.Context, collection string, fields store.Fields) (string, error) {
	doc, err := literalDocument(fields)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	doc["_id"] = id
	if _, err := s.db.Collection(collection).InsertOne(ctx, doc); err != nil {
		return "", mapWriteError(collection, id, err)
	}
	return id, nil
}

func (s *MongoStore) DeleteDocument(ctx context.Context, collection, id string) error {
	if _, err := s.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// buildUpdate groups fields by operator into a single update document.
func buildUpdate(fields store.Fields) (bson.M, error) {
	set := bson.M{}
	addToSet := bson.M{}
	pull := bson.M{}
	inc := bson.M{}
	currentDate := bson.M{}

	for key, value := range fields {
		if key == "_id" {
			continue
		}
		switch op := value.(type) {
		case store.ArrayUnionOp:
			addToSet[key] = bson.M{"$each": op.Values}
		case store.ArrayRemoveOp:
			pull[key] = bson.M{"$in": op.Values}
		case store.IncrementOp:
			inc[key] = op.Delta
		case store.ServerTimestampOp:
			currentDate[key] = true
		default:
			set[key] = value
		}
	}

	update := bson.M{}
	for name, part := range map[string]bson.M{
		"$set":         set,
		"$addToSet":    addToSet,
		"$pull":        pull,
		"$inc":         inc,
		"$currentDate": currentDate,
	} {
		if len(part) > 0 {
			update[name] = part
		}
	}
	if len(update) == 0 {
		return nil, errors.New("empty update")
	}
	return update, nil
}

// literalDocument resolves server timestamps for inserts and replacements,
// where MongoDB does not accept update operators.
func literalDocument(fields store.Fields) (bson.M, error) {
	doc := bson.M{}
	for key, value := range fields {
		switch value.(type) {
		case store.ServerTimestampOp:
			doc[key] = time.Now().UTC()
		case store.ArrayUnionOp, store.ArrayRemoveOp, store.IncrementOp:
			return nil, fmt.Errorf("field %q: update operator not allowed in a full write", key)
		default:
			doc[key] = value
		}
	}
	return doc, nil
}

func mapWriteError(collection, id string, err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("write %s/%s: %w", collection, id, store.ErrAlreadyExists)
	}
	return fmt.Errorf("write %s/%s: %w", collection, id, err)
}

func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case primitive.ObjectID:
		return id.Hex()
	default:
		return fmt.Sprint(id)
	}
}
