package database

import (
	"context"

	"github.com/juju/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/isdelr/winepair-be/internal/models"
)

// InternalIDField is the database-internal identifier that never leaves the store.
const InternalIDField = "_id"

// MongoStore exposes MongoDB collections as plain document lists.
type MongoStore struct {
	db *mongo.Database
}

// NewMongoStore creates a new MongoStore over the given database.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{db: db}
}

// ListDocuments returns every document of a collection with the internal id stripped.
// It fails with a NotFound error when the collection does not exist.
func (s *MongoStore) ListDocuments(ctx context.Context, collection string) ([]models.Document, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: collection}})
	if err != nil {
		return nil, errors.Annotatef(err, "listing collections")
	}
	if len(names) == 0 {
		return nil, errors.NotFoundf("collection %q", collection)
	}

	opts := options.Find().SetProjection(bson.D{{Key: InternalIDField, Value: 0}})
	cursor, err := s.db.Collection(collection).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, errors.Annotatef(err, "reading collection %q", collection)
	}
	defer cursor.Close(ctx)

	docs := make([]models.Document, 0)
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, errors.Annotatef(err, "decoding document of %q", collection)
		}
		docs = append(docs, FromBSON(raw))
	}
	if err := cursor.Err(); err != nil {
		return nil, errors.Annotatef(err, "reading collection %q", collection)
	}
	return docs, nil
}

// DeleteAll removes every document of a collection.
func (s *MongoStore) DeleteAll(ctx context.Context, collection string) (int64, error) {
	res, err := s.db.Collection(collection).DeleteMany(ctx, bson.D{})
	if err != nil {
		return 0, errors.Annotatef(err, "clearing collection %q", collection)
	}
	return res.DeletedCount, nil
}

// InsertMany bulk-inserts documents into a collection.
func (s *MongoStore) InsertMany(ctx context.Context, collection string, docs []models.Document) (int64, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	batch := make([]interface{}, len(docs))
	for i, doc := range docs {
		batch[i] = map[string]any(doc)
	}
	res, err := s.db.Collection(collection).InsertMany(ctx, batch)
	if err != nil {
		return 0, errors.Annotatef(err, "inserting into collection %q", collection)
	}
	return int64(len(res.InsertedIDs)), nil
}

// Ping checks that the database answers.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}
