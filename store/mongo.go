package store

import (
	"context"
	"errors"
	"fmt"

	"callpipe/config"
	"callpipe/logger"
	"callpipe/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Mongo stores routed calls in one collection.
type Mongo struct {
	client *mongo.Client
	calls  *mongo.Collection
}

// NewMongo connects to MongoDB, pings, ensures indexes and prepares the collection.
func NewMongo(ctx context.Context, cfg config.SinkConfig) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	db, coll := cfg.Database, cfg.Collection
	if db == "" {
		db = "callpipe"
	}
	if coll == "" {
		coll = "calls"
	}
	m := &Mongo{client: client, calls: client.Database(db).Collection(coll)}
	if err := m.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	logger.Info("mongo sink initialized", logger.FieldKV("database", db), logger.FieldKV("collection", coll))
	return m, nil
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	return m.client.Disconnect(ctx)
}

// Ping health check.
func (m *Mongo) Ping(ctx context.Context) error {
	if m.client == nil {
		return fmt.Errorf("mongo client not initialized")
	}
	return m.client.Ping(ctx, readpref.Primary())
}

// Save performs idempotent insert (upsert ignoring duplicates).
func (m *Mongo) Save(ctx context.Context, call models.NormalizedCall) error {
	if m.calls == nil {
		return fmt.Errorf("calls collection not initialized")
	}
	filter := bson.M{"source": call.Source, "call_id": call.CallID}
	update := bson.M{"$setOnInsert": call}
	opts := options.Update().SetUpsert(true)
	_, err := m.calls.UpdateOne(ctx, filter, update, opts)
	return ignoreDuplicate(err)
}

// ignoreDuplicate treats a unique-index race between concurrent upserts of
// the same call as success; the first copy is already stored.
func ignoreDuplicate(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

func (m *Mongo) Get(ctx context.Context, source, callID string) (models.NormalizedCall, error) {
	var call models.NormalizedCall
	if m.calls == nil {
		return call, fmt.Errorf("calls collection not initialized")
	}
	err := m.calls.FindOne(ctx, bson.M{"source": source, "call_id": callID}).Decode(&call)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return call, fmt.Errorf("%s/%s: %w", source, callID, ErrNotFound)
	}
	return call, err
}

// List returns stored calls, newest-routed first.
func (m *Mongo) List(ctx context.Context, source string, limit int) ([]models.NormalizedCall, error) {
	if m.calls == nil {
		return nil, fmt.Errorf("calls collection not initialized")
	}
	filter := bson.M{}
	if source != "" {
		filter["source"] = source
	}
	opts := options.Find().SetSort(bson.D{{Key: "routed_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := m.calls.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []models.NormalizedCall{}
	for cur.Next(ctx) {
		var c models.NormalizedCall
		if err := cur.Decode(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, cur.Err()
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	if m.calls == nil {
		return fmt.Errorf("calls collection not initialized")
	}
	_, err := m.calls.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "source", Value: 1}, {Key: "call_id", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_source_call_id")},
		{Keys: bson.D{{Key: "start_time", Value: 1}}, Options: options.Index().SetName("idx_start_time")},
		{Keys: bson.D{{Key: "routed_at", Value: -1}}, Options: options.Index().SetName("idx_routed_at")},
	})
	return err
}
