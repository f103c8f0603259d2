package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoCollection is the collection remote cache entries live in.
const MongoCollection = "cache_entries"

// mongoConnect is swapped in tests.
var mongoConnect = mongo.Connect

// MongoStore is a RemoteStore backed by a MongoDB collection. Expiry is
// enforced by a TTL index on expiresAt and, because the TTL monitor runs
// only periodically, by the read filter as well.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	now    func() time.Time
}

type mongoEntry struct {
	Key       string     `bson:"_id"`
	Value     []byte     `bson:"value"`
	CreatedAt time.Time  `bson:"createdAt"`
	ExpiresAt *time.Time `bson:"expiresAt,omitempty"`
}

// ConnectMongo connects to uri, verifies the connection and prepares the
// cache collection in database.
func ConnectMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("cache: mongo uri is empty")
	}
	client, err := mongoConnect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cache: connect mongodb: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("cache: ping mongodb: %w", err)
	}

	m := &MongoStore{client: client, coll: client.Database(database).Collection(MongoCollection), now: time.Now}
	if err := m.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return m, nil
}

// EnsureIndexes creates the TTL index. It is idempotent.
func (m *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := m.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expiresAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0).SetName("cache_ttl"),
	})
	if err != nil {
		return fmt.Errorf("cache: create ttl index: %w", err)
	}
	return nil
}

// liveFilter matches key when it has no expiry or has not expired yet.
func liveFilter(key string, now time.Time) bson.D {
	return bson.D{
		{Key: "_id", Value: key},
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "expiresAt", Value: bson.D{{Key: "$exists", Value: false}}}},
			bson.D{{Key: "expiresAt", Value: bson.D{{Key: "$gt", Value: now}}}},
		}},
	}
}

// GetCache implements RemoteStore.
func (m *MongoStore) GetCache(ctx context.Context, key string) ([]byte, bool, error) {
	var doc mongoEntry
	err := m.coll.FindOne(ctx, liveFilter(key, m.now())).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: mongo get: %w", err)
	}
	return doc.Value, true, nil
}

// SetCache implements RemoteStore. A zero ttl stores the entry without
// expiry.
func (m *MongoStore) SetCache(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := m.now()
	doc := mongoEntry{Key: key, Value: value, CreatedAt: now}
	if ttl > 0 {
		exp := now.Add(ttl)
		doc.ExpiresAt = &exp
	}
	_, err := m.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: key}}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("cache: mongo set: %w", err)
	}
	return nil
}

// Ping checks the connection for readiness probes.
func (m *MongoStore) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (m *MongoStore) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
