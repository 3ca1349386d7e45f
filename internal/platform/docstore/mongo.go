// Package docstore connects to the MongoDB deployment used as the alternative
// cohort store.
package docstore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/neurobd/neurobd/internal/platform/db"
)

// Stats describes the connected deployment for the health endpoint.
type Stats struct {
	Database      string `json:"database"`
	SessionsInUse int    `json:"sessions_in_use"`
}

// Connect opens a client for uri and verifies it with a primary ping.
func Connect(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(timeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// Ping adapts the client to the shared health handler.
func Ping(client *mongo.Client, database string) db.PingFunc {
	return func(ctx context.Context) (interface{}, error) {
		err := client.Ping(ctx, readpref.Primary())
		return &Stats{
			Database:      database,
			SessionsInUse: client.NumberSessionsInProgress(),
		}, err
	}
}
