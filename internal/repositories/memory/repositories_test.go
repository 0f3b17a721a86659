package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	domain "github.com/framecraft/api/internal/domain"
	"github.com/framecraft/api/internal/repositories"
)

func isConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func TestCounterRepositoryConcurrentNext(t *testing.T) {
	repo := NewCounterRepository()
	ctx := context.Background()

	const workers = 64
	results := make([]int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			value, err := repo.Next(ctx, "orderNumber_20240601", 1)
			if err != nil {
				t.Errorf("next: %v", err)
				return
			}
			results[idx] = value
		}(i)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
	for i, value := range results {
		if value != int64(i+1) {
			t.Fatalf("expected gap-free sequence, got %v", results)
		}
	}

	if _, err := repo.Next(ctx, " ", 1); !errors.Is(err, repositories.ErrInvalidCounter) {
		t.Fatalf("expected ErrInvalidCounter for empty counter id, got %v", err)
	}
	if _, err := repo.Next(ctx, "orderNumber_20240601", -1); !errors.Is(err, repositories.ErrInvalidCounter) {
		t.Fatalf("expected ErrInvalidCounter for negative step, got %v", err)
	}
	if value, err := repo.Next(ctx, "orderNumber_20240601", 0); err != nil || value != workers+1 {
		t.Fatalf("expected zero step to advance by one, got %d, %v", value, err)
	}
}

func TestOrderRepositoryUniquenessAndVersioning(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	order := domain.Order{
		ID:            "ord_1",
		OrderNumber:   "FR202406010001",
		TransactionID: "txn_1",
		Status:        domain.OrderStatusPending,
		CreatedAt:     now,
	}
	if err := repo.Insert(ctx, order); err != nil {
		t.Fatalf("insert: %v", err)
	}

	dupNumber := order
	dupNumber.ID = "ord_2"
	dupNumber.TransactionID = "txn_2"
	if err := repo.Insert(ctx, dupNumber); !isConflict(err) {
		t.Fatalf("expected conflict for duplicate order number, got %v", err)
	}

	dupTxn := order
	dupTxn.ID = "ord_3"
	dupTxn.OrderNumber = "FR202406010002"
	if err := repo.Insert(ctx, dupTxn); !isConflict(err) {
		t.Fatalf("expected conflict for duplicate transaction id, got %v", err)
	}

	found, err := repo.FindByTransactionID(ctx, "txn_1")
	if err != nil || found.ID != "ord_1" {
		t.Fatalf("find by transaction: %v %+v", err, found)
	}

	found.Status = domain.OrderStatusConfirmed
	saved, err := repo.Update(ctx, found, found.Version)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if saved.Version != 1 {
		t.Fatalf("expected version 1, got %d", saved.Version)
	}
	if _, err := repo.Update(ctx, found, 0); !isConflict(err) {
		t.Fatalf("expected stale write to conflict, got %v", err)
	}

	saved.TransactionID = "txn_other"
	if _, err := repo.Update(ctx, saved, saved.Version); !isConflict(err) {
		t.Fatalf("expected transaction id change to conflict, got %v", err)
	}

	_, err = repo.FindByID(ctx, "missing")
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOrderRepositoryReturnsCopies(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()
	order := domain.Order{
		ID:            "ord_1",
		OrderNumber:   "FR202406010001",
		StatusHistory: []domain.StatusHistoryEntry{{Status: domain.OrderStatusPending}},
	}
	if err := repo.Insert(ctx, order); err != nil {
		t.Fatalf("insert: %v", err)
	}
	found, _ := repo.FindByID(ctx, "ord_1")
	found.StatusHistory[0].Status = domain.OrderStatusCancelled

	again, _ := repo.FindByID(ctx, "ord_1")
	if again.StatusHistory[0].Status != domain.OrderStatusPending {
		t.Fatal("mutating a returned order must not affect the store")
	}
}

func TestOrderRepositoryListScopesOwner(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	for i, owner := range []string{"user-1", "user-2", "user-1"} {
		order := domain.Order{
			ID:          "ord_" + string(rune('a'+i)),
			OrderNumber: "FR2024060100" + string(rune('0'+i)),
			UserID:      owner,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.Insert(ctx, order); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	page, err := repo.List(ctx, repositories.OrderListFilter{UserID: "user-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Pagination.Total != 2 || page.Items[0].ID != "ord_c" {
		t.Fatalf("unexpected page %+v", page)
	}
}
