package db

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Repository provides generic CRUD operations for MongoDB
type Repository[T any] struct {
	collection *mongo.Collection
}

// NewRepository creates a new generic repository
func NewRepository[T any](db *mongo.Database, collectionName string) *Repository[T] {
	return &Repository[T]{
		collection: db.Collection(collectionName),
	}
}

func OpenConnection(uri string, database string) (*mongo.Database, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, err
	}

	err = client.Ping(ctx, nil)
	if err != nil {
		return nil, err
	}

	return client.Database(database), nil
}

// Create inserts a new document
func (r *Repository[T]) Create(ctx context.Context, document T) (*mongo.InsertOneResult, error) {
	return r.collection.InsertOne(ctx, document)
}

// FindAll finds all documents matching the filter
func (r *Repository[T]) FindAll(ctx context.Context, filter bson.M, opts ...*options.FindOptions) ([]T, error) {
	cursor, err := r.collection.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	results := make([]T, 0)
	if err = cursor.All(ctx, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// UpdateMany updates multiple documents matching the filter
func (r *Repository[T]) UpdateMany(ctx context.Context, filter bson.M, update bson.M) (*mongo.UpdateResult, error) {
	return r.collection.UpdateMany(ctx, filter, bson.M{"$set": update})
}

// CreateIndexes creates the given indexes, ignoring ones that already exist
func (r *Repository[T]) CreateIndexes(ctx context.Context, models []mongo.IndexModel) ([]string, error) {
	return r.collection.Indexes().CreateMany(ctx, models)
}

// Sorted returns find options sorting by field, ascending unless desc
func Sorted(field string, desc bool) *options.FindOptions {
	order := 1
	if desc {
		order = -1
	}
	return options.Find().SetSort(bson.D{{Key: field, Value: order}})
}
