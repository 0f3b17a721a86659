//go:build integration

package firestore

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	domain "github.com/framecraft/api/internal/domain"
	pconfig "github.com/framecraft/api/internal/platform/config"
	pfirestore "github.com/framecraft/api/internal/platform/firestore"
	"github.com/framecraft/api/internal/repositories"
)

func newEmulatorProvider(t *testing.T) *pfirestore.Provider {
	t.Helper()
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    fmt.Sprintf("orders-test-%d", time.Now().UnixNano()),
		EmulatorHost: host,
	})
	t.Cleanup(func() { _ = provider.Close() })
	return provider
}

func TestCounterRepositoryConcurrentIncrements(t *testing.T) {
	provider := newEmulatorProvider(t)
	repo, err := NewCounterRepository(provider)
	if err != nil {
		t.Fatalf("new counter repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	const workers = 16
	results := make([]int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			value, err := repo.Next(ctx, "orderNumber_20240601", 1)
			if err != nil {
				t.Errorf("next(%d): %v", idx, err)
				return
			}
			results[idx] = value
		}(i)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
	for i, val := range results {
		if val != int64(i+1) {
			t.Fatalf("expected sequence %d at position %d, got %d", i+1, i, val)
		}
	}
}

func TestOrderRepositoryRoundTrip(t *testing.T) {
	provider := newEmulatorProvider(t)
	repo, err := NewOrderRepository(provider)
	if err != nil {
		t.Fatalf("new order repository: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	order := domain.Order{
		ID:            "ord_1",
		OrderNumber:   "FR202406010001",
		UserID:        "user-1",
		TransactionID: "txn_1",
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		TotalAmount:   582,
		Items:         []domain.OrderItem{{ProductID: "p1", Quantity: 1, Price: 582, Size: "9x12"}},
		StatusHistory: []domain.StatusHistoryEntry{{Status: domain.OrderStatusPending, Timestamp: now}},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := repo.Insert(ctx, order); err != nil {
		t.Fatalf("insert: %v", err)
	}

	duplicate := order
	duplicate.ID = "ord_2"
	err = repo.Insert(ctx, duplicate)
	repoErr, ok := err.(repositories.RepositoryError)
	if !ok || !repoErr.IsConflict() {
		t.Fatalf("expected conflict on duplicate order number, got %v", err)
	}

	found, err := repo.FindByTransactionID(ctx, "txn_1")
	if err != nil {
		t.Fatalf("find by transaction: %v", err)
	}
	if found.ID != "ord_1" || found.Items[0].Size != "9x12" {
		t.Fatalf("unexpected order %+v", found)
	}

	found.Status = domain.OrderStatusConfirmed
	saved, err := repo.Update(ctx, found, 0)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if saved.Version != 1 {
		t.Fatalf("expected version 1, got %d", saved.Version)
	}
	_, err = repo.Update(ctx, found, 0)
	repoErr, ok = err.(repositories.RepositoryError)
	if !ok || !repoErr.IsConflict() {
		t.Fatalf("expected stale version conflict, got %v", err)
	}
}
