package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const dataField = "data"

func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(100).
		SetMinPoolSize(10)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(database), nil
}

// MongoBackend keeps one document per session; session paths map onto
// MongoDB dotted field paths below the data field.
type MongoBackend struct {
	collection *mongo.Collection
	ttl        time.Duration
}

func NewMongoBackend(db *mongo.Database, ttl time.Duration) *MongoBackend {
	return &MongoBackend{
		collection: db.Collection("sessions"),
		ttl:        ttl,
	}
}

func (m *MongoBackend) Session(id string) Store {
	return &mongoStore{collection: m.collection, id: id}
}

func (m *MongoBackend) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.collection.Database().Client().Disconnect(ctx)
}

// CreateIndexes installs the idle-session expiry index.
func (m *MongoBackend) CreateIndexes(ctx context.Context) error {
	if m.ttl <= 0 {
		return nil
	}
	index := mongo.IndexModel{
		Keys:    bson.D{{Key: "updated_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(int32(m.ttl.Seconds())),
	}

	if _, err := m.collection.Indexes().CreateOne(ctx, index); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

type mongoStore struct {
	collection *mongo.Collection
	id         string
}

func (s *mongoStore) Get(ctx context.Context, path string, def any) (any, error) {
	segments, err := Split(path)
	if err != nil {
		return nil, err
	}

	field := Join(dataField, path)
	opts := options.FindOne().SetProjection(bson.M{field: 1})

	var doc bson.M
	err = s.collection.FindOne(ctx, bson.M{"_id": s.id}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return def, nil
		}
		return nil, fmt.Errorf("failed to get session value: %w", err)
	}

	tree, _ := fromBSON(doc).(map[string]any)
	value, ok := lookup(tree, append([]string{dataField}, segments...))
	if !ok {
		return def, nil
	}
	return value, nil
}

func (s *mongoStore) Put(ctx context.Context, path string, value any) error {
	if _, err := Split(path); err != nil {
		return err
	}

	update := bson.M{
		"$set": bson.M{
			Join(dataField, path): value,
			"updated_at":          time.Now(),
		},
	}
	opts := options.Update().SetUpsert(true)

	if _, err := s.collection.UpdateOne(ctx, bson.M{"_id": s.id}, update, opts); err != nil {
		return fmt.Errorf("failed to put session value: %w", err)
	}
	return nil
}

func (s *mongoStore) Forget(ctx context.Context, path string) (bool, error) {
	if _, err := Split(path); err != nil {
		return false, err
	}

	field := Join(dataField, path)
	filter := bson.M{
		"_id": s.id,
		field: bson.M{"$exists": true},
	}
	update := bson.M{
		"$unset": bson.M{field: ""},
		"$set":   bson.M{"updated_at": time.Now()},
	}

	result, err := s.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to forget session value: %w", err)
	}
	return result.ModifiedCount > 0, nil
}

// fromBSON converts decoded BSON containers into plain maps and slices.
func fromBSON(value any) any {
	switch v := value.(type) {
	case bson.M:
		return fromBSON(map[string]any(v))
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			out[k] = fromBSON(child)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(v))
		for _, e := range v {
			out[e.Key] = fromBSON(e.Value)
		}
		return out
	case bson.A:
		return fromBSON([]any(v))
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = fromBSON(child)
		}
		return out
	default:
		return v
	}
}
