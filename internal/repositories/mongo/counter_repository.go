package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/framecraft/api/internal/repositories"
)

type counterDocument struct {
	ID        string    `bson:"_id"`
	Seq       int64     `bson:"seq"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

// CounterRepository issues sequence numbers with a single FindOneAndUpdate $inc upsert.
type CounterRepository struct {
	counters *mongo.Collection
	now      func() time.Time
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

func NewCounterRepository(db *mongo.Database) *CounterRepository {
	return &CounterRepository{counters: db.Collection(countersCollection), now: time.Now}
}

func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id, step, err := repositories.NormalizeIncrement(counterID, step)
	if err != nil {
		return 0, err
	}

	update := bson.M{
		"$inc": bson.M{"seq": step},
		"$set": bson.M{"updatedAt": r.now().UTC()},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc counterDocument
	err = r.counters.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&doc)
	if err != nil {
		// Two concurrent upserts of a fresh counter can race on _id; the loser retries once
		// against the now-existing document.
		if mongo.IsDuplicateKeyError(err) {
			err = r.counters.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&doc)
		}
		if err != nil {
			return 0, wrapError("counters.next", err)
		}
	}
	return doc.Seq, nil
}
