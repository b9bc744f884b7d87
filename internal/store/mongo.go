package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pumprelay/relay-server/internal/model"
)

type mongoLogEntry struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	MAC       string             `bson:"mac"`
	OnTime    string             `bson:"onTime"`
	OffTime   string             `bson:"offTime"`
	Duration  string             `bson:"duration"`
	Timestamp time.Time          `bson:"timestamp"`
}

// MongoBackend stores entries in a MongoDB collection.
type MongoBackend struct {
	client    *mongo.Client
	coll      *mongo.Collection
	logger    *slog.Logger
	connected atomic.Bool
}

// OpenMongo creates a client for uri. The driver connects lazily, so this
// succeeds even when the server is down; availability then follows the
// driver's heartbeats.
func OpenMongo(ctx context.Context, uri, database, collection string, logger *slog.Logger) (*MongoBackend, error) {
	b := &MongoBackend{logger: logger}

	monitor := &event.ServerMonitor{
		ServerHeartbeatSucceeded: func(*event.ServerHeartbeatSucceededEvent) {
			if !b.connected.Swap(true) {
				b.logger.Info("mongo connection established")
			}
		},
		ServerHeartbeatFailed: func(e *event.ServerHeartbeatFailedEvent) {
			if b.connected.Swap(false) {
				b.logger.Warn("mongo connection lost", "error", e.Failure)
			}
		},
	}

	opts := options.Client().
		ApplyURI(uri).
		SetServerMonitor(monitor).
		SetServerSelectionTimeout(5 * time.Second).
		SetConnectTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	b.client = client
	b.coll = client.Database(database).Collection(collection)

	go b.ensureIndex()

	return b, nil
}

func (b *MongoBackend) ensureIndex() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := b.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "timestamp", Value: -1}},
	})
	if err != nil {
		b.logger.Warn("mongo index creation failed", "error", err)
	}
}

func (b *MongoBackend) Available() bool {
	return b.client != nil && b.connected.Load()
}

func (b *MongoBackend) Close(ctx context.Context) error {
	if b.client == nil {
		return nil
	}
	return b.client.Disconnect(ctx)
}

func (b *MongoBackend) Create(ctx context.Context, e model.LogEntry) error {
	doc := mongoLogEntry{
		MAC:       e.MAC,
		OnTime:    e.OnTime,
		OffTime:   e.OffTime,
		Duration:  e.Duration,
		Timestamp: e.Timestamp.UTC(),
	}
	if _, err := b.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert duty cycle log: %w", err)
	}
	return nil
}

func (b *MongoBackend) Find(ctx context.Context, r model.DateRange, limit int) ([]model.LogEntry, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(limit))

	cur, err := b.coll.Find(ctx, mongoRangeFilter(r), opts)
	if err != nil {
		return nil, fmt.Errorf("find duty cycle logs: %w", err)
	}

	var docs []mongoLogEntry
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode duty cycle logs: %w", err)
	}

	entries := make([]model.LogEntry, 0, len(docs))
	for _, d := range docs {
		entries = append(entries, model.LogEntry{
			ID:        d.ID.Hex(),
			MAC:       d.MAC,
			OnTime:    d.OnTime,
			OffTime:   d.OffTime,
			Duration:  d.Duration,
			Timestamp: d.Timestamp,
		})
	}
	return entries, nil
}

func (b *MongoBackend) DeleteMany(ctx context.Context, r model.DateRange) (int64, error) {
	res, err := b.coll.DeleteMany(ctx, mongoRangeFilter(r))
	if err != nil {
		return 0, fmt.Errorf("delete duty cycle logs: %w", err)
	}
	return res.DeletedCount, nil
}

func mongoRangeFilter(r model.DateRange) bson.M {
	bounds := bson.M{}
	if r.Start != nil {
		bounds["$gte"] = r.Start.UTC()
	}
	if r.End != nil {
		bounds["$lt"] = r.End.UTC()
	}
	if len(bounds) == 0 {
		return bson.M{}
	}
	return bson.M{"timestamp": bounds}
}
