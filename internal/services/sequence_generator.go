package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/framecraft/api/internal/repositories"
)

const orderNumberPrefix = "FR"

// SequenceGeneratorDeps bundles collaborators for the order number generator.
type SequenceGeneratorDeps struct {
	Counters repositories.CounterRepository
	Clock    func() time.Time
	// Location fixes the calendar day boundaries. Defaults to UTC.
	Location *time.Location
}

// SequenceGenerator issues day-scoped order numbers of the form FR<YYYYMMDD><seq4>. The sequence
// comes from a single atomic increment on the day's counter and never from counting orders.
type SequenceGenerator struct {
	counters repositories.CounterRepository
	clock    func() time.Time
	location *time.Location
}

func NewSequenceGenerator(deps SequenceGeneratorDeps) (*SequenceGenerator, error) {
	if deps.Counters == nil {
		return nil, errors.New("sequence generator: counter repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	location := deps.Location
	if location == nil {
		location = time.UTC
	}
	return &SequenceGenerator{counters: deps.Counters, clock: clock, location: location}, nil
}

// NextOrderNumber reserves the next number for the current calendar day.
func (g *SequenceGenerator) NextOrderNumber(ctx context.Context) (string, error) {
	dayKey := g.clock().In(g.location).Format("20060102")
	seq, err := g.counters.Next(ctx, "orderNumber_"+dayKey, 1)
	if err != nil {
		return "", fmt.Errorf("order number: %w", mapRepositoryError(err))
	}
	return fmt.Sprintf("%s%s%04d", orderNumberPrefix, dayKey, seq), nil
}
