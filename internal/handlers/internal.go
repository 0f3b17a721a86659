package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/framecraft/api/internal/services"
)

// InternalHandlers serves fulfilment systems calling with a service OIDC token. Token checks are
// applied by the router's internal middleware chain.
type InternalHandlers struct {
	bulk services.BulkOperationCoordinator
}

func NewInternalHandlers(bulk services.BulkOperationCoordinator) *InternalHandlers {
	return &InternalHandlers{bulk: bulk}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Put("/orders/bulk-update", h.bulkUpdate)
}

func (h *InternalHandlers) bulkUpdate(w http.ResponseWriter, r *http.Request) {
	serveBulkUpdate(w, r, h.bulk)
}
