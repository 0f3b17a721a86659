package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/framecraft/api/internal/platform/firestore"
	"github.com/framecraft/api/internal/repositories"
)

const countersCollection = "counters"

type counterDocument struct {
	Seq       int64     `firestore:"seq"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// CounterRepository implements repositories.CounterRepository backed by Firestore transactions.
type CounterRepository struct {
	provider *pfirestore.Provider
	now      func() time.Time
}

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{provider: provider, now: time.Now}, nil
}

// Next increments the counter document inside a transaction, creating it when absent. Concurrent
// callers contend on the same document and Firestore retries the losers.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id, step, err := repositories.NormalizeIncrement(counterID, step)
	if err != nil {
		return 0, err
	}

	collection, err := r.provider.Collection(ctx, countersCollection)
	if err != nil {
		return 0, err
	}
	ref := collection.Doc(id)

	var next int64
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		now := r.now().UTC()
		snapshot, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			next = step
			return tx.Create(ref, counterDocument{Seq: next, UpdatedAt: now})
		}
		if err != nil {
			return err
		}

		var doc counterDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return fmt.Errorf("decode counter %s: %w", id, err)
		}
		next = doc.Seq + step
		return tx.Set(ref, counterDocument{Seq: next, UpdatedAt: now})
	})
	if err != nil {
		return 0, pfirestore.WrapError("counters.next", err)
	}
	return next, nil
}
