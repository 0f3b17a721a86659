package repositories

import (
	"slices"
	"strings"
	"time"

	domain "github.com/framecraft/api/internal/domain"
	"github.com/framecraft/api/internal/platform/textutil"
)

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// NormalizePage applies default and maximum bounds to a page request.
func NormalizePage(req domain.PageRequest) domain.PageRequest {
	if req.Page < 1 {
		req.Page = 1
	}
	switch {
	case req.Limit <= 0:
		req.Limit = DefaultPageLimit
	case req.Limit > MaxPageLimit:
		req.Limit = MaxPageLimit
	}
	return req
}

// EndOfDay returns the last representable millisecond of t's calendar day.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), t.Location())
}

// Matches reports whether order satisfies every populated criterion of the filter.
func (f OrderListFilter) Matches(order domain.Order) bool {
	if f.UserID != "" && order.UserID != f.UserID {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, order.Status) {
		return false
	}
	if len(f.PaymentStatuses) > 0 && !slices.Contains(f.PaymentStatuses, order.PaymentStatus) {
		return false
	}
	if from := f.CreatedRange.From; from != nil && order.CreatedAt.Before(*from) {
		return false
	}
	if to := f.CreatedRange.To; to != nil && order.CreatedAt.After(*to) {
		return false
	}
	if min := f.AmountRange.From; min != nil && order.TotalAmount < *min {
		return false
	}
	if max := f.AmountRange.To; max != nil && order.TotalAmount > *max {
		return false
	}
	addr := order.ShippingAddress
	if !textutil.ContainsFold(order.OrderNumber, f.OrderNumber) ||
		!textutil.ContainsFold(addr.Email, f.Email) ||
		!textutil.ContainsFold(addr.Phone, f.Phone) ||
		!textutil.ContainsFold(order.TrackingNumber, f.TrackingNumber) {
		return false
	}
	if name := strings.TrimSpace(f.Name); name != "" {
		if !textutil.ContainsFold(addr.FirstName, name) && !textutil.ContainsFold(addr.LastName, name) {
			return false
		}
	}
	return true
}

// Paginate sorts orders newest first and slices out the requested page.
func Paginate(orders []domain.Order, req domain.PageRequest) domain.Page[domain.Order] {
	req = NormalizePage(req)
	slices.SortStableFunc(orders, func(a, b domain.Order) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	total := int64(len(orders))
	start := (req.Page - 1) * req.Limit
	items := []domain.Order{}
	if start < len(orders) {
		end := min(start+req.Limit, len(orders))
		items = append(items, orders[start:end]...)
	}
	return domain.Page[domain.Order]{
		Items:      items,
		Pagination: domain.NewPagination(req.Page, req.Limit, total),
	}
}
