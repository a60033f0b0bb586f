package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig configures the document-store sink.
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
	// Timeout bounds connect and insert operations.
	Timeout time.Duration
}

// Mongo stores each payload as one document. The payload envelope already
// carries the type discriminator and tenant-bucketed data, so one
// collection holds logs and traces side by side, distinguishable by the
// Type field.
type Mongo struct {
	client     *mongo.Client
	collection *mongo.Collection
	timeout    time.Duration
}

// NewMongo connects to the document store and verifies the connection.
func NewMongo(ctx context.Context, cfg MongoConfig) (*Mongo, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongo sink: no uri configured")
	}
	if cfg.Database == "" {
		cfg.Database = "Telemetry"
	}
	if cfg.Collection == "" {
		cfg.Collection = "Batches"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo sink: connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo sink: ping: %w", err)
	}
	return &Mongo{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		timeout:    cfg.Timeout,
	}, nil
}

// Transmit inserts the payload as a document, with the correlation id and
// receipt time added alongside the envelope fields.
func (m *Mongo) Transmit(ctx context.Context, payload []byte, correlationID string) error {
	var doc map[string]interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("mongo sink: decode payload: %w", err)
	}
	doc["CorrelationId"] = correlationID
	doc["ReceivedAt"] = time.Now().UTC()

	insertCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if _, err := m.collection.InsertOne(insertCtx, doc); err != nil {
		return fmt.Errorf("mongo sink: insert: %w", err)
	}
	return nil
}

// Close disconnects from the document store.
func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}
