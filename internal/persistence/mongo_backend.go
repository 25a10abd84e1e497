package persistence

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoBackend is a Backend storing each document in a MongoDB collection:
//
//	{ _id: <id>, revision: <int64>, body: <json text> }
type MongoBackend struct {
	client *mongo.Client
	coll   *mongo.Collection
}

var _ Backend = (*MongoBackend)(nil)

type mongoDoc struct {
	ID       string `bson:"_id"`
	Revision int64  `bson:"revision"`
	Body     string `bson:"body"`
}

// NewMongoBackend creates a MongoBackend using the given client, database and
// collection names.
func NewMongoBackend(client *mongo.Client, dbName, collName string) *MongoBackend {
	if collName == "" {
		collName = DefaultIndex
	}
	return &MongoBackend{
		client: client,
		coll:   client.Database(dbName).Collection(collName),
	}
}

func (b *MongoBackend) Load(ctx context.Context, id string) (Document, error) {
	var d mongoDoc
	err := b.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	return Document{ID: d.ID, Revision: uint64(d.Revision), Body: []byte(d.Body)}, nil
}

func (b *MongoBackend) Insert(ctx context.Context, id string, body []byte) (uint64, error) {
	_, err := b.coll.InsertOne(ctx, mongoDoc{ID: id, Revision: 1, Body: string(body)})
	if mongo.IsDuplicateKeyError(err) {
		return 0, ErrExists
	}
	if err != nil {
		return 0, err
	}
	return 1, nil
}

func (b *MongoBackend) Replace(ctx context.Context, id string, rev uint64, body []byte) (uint64, error) {
	res, err := b.coll.UpdateOne(ctx,
		bson.M{"_id": id, "revision": int64(rev)},
		bson.M{"$set": bson.M{"revision": int64(rev + 1), "body": string(body)}},
	)
	if err != nil {
		return 0, err
	}
	if res.MatchedCount == 0 {
		if _, lerr := b.Load(ctx, id); errors.Is(lerr, ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, ErrConflict
	}
	return rev + 1, nil
}

func (b *MongoBackend) Remove(ctx context.Context, id string) error {
	res, err := b.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *MongoBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx, nil)
}

func (b *MongoBackend) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.client.Disconnect(ctx)
}
