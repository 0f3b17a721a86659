// Package mongo implements the order and counter repositories on MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/framecraft/api/internal/repositories"
)

const (
	ordersCollection   = "orders"
	countersCollection = "counters"
	connectTimeout     = 10 * time.Second
)

// Connect dials MongoDB and verifies the primary is reachable.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, errors.New("mongo: uri is required")
	}
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo: ping: %w", err)
	}
	return client, nil
}

func wrapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, mongo.ErrNoDocuments):
		return repositories.NewStoreError(op, repositories.StoreErrorNotFound, err)
	case mongo.IsDuplicateKeyError(err):
		return repositories.NewStoreError(op, repositories.StoreErrorConflict, err)
	case mongo.IsNetworkError(err), mongo.IsTimeout(err):
		return repositories.NewStoreError(op, repositories.StoreErrorUnavailable, err)
	default:
		return repositories.NewStoreError(op, repositories.StoreErrorUnknown, err)
	}
}
