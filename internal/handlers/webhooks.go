package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/framecraft/api/internal/payments"
	"github.com/framecraft/api/internal/platform/httpx"
	"github.com/framecraft/api/internal/platform/textutil"
	"github.com/framecraft/api/internal/services"
)

const (
	maxStripeWebhookBody = 512 * 1024
	maxPayUCallbackBody  = 64 * 1024

	paymentSuccessPage = "/payment-success.html"
	paymentFailurePage = "/payment-failure.html"
)

// WebhookHandlers receives provider-pushed payment callbacks. Authentication is the provider's
// signature or hash, checked by the reconciler.
type WebhookHandlers struct {
	reconciler  services.PaymentReconciler
	frontendURL string
}

// NewWebhookHandlers constructs webhook handlers. PayU redirects are resolved against frontendURL;
// an empty value yields host-relative redirects.
func NewWebhookHandlers(reconciler services.PaymentReconciler, frontendURL string) *WebhookHandlers {
	return &WebhookHandlers{
		reconciler:  reconciler,
		frontendURL: strings.TrimRight(strings.TrimSpace(frontendURL), "/"),
	}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.stripe)
	r.Get("/payu", h.payu)
	r.Post("/payu", h.payu)
}

type webhookAck struct {
	Received bool `json:"received"`
}

func (h *WebhookHandlers) stripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciler == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}
	body, err := readLimitedBody(r, maxStripeWebhookBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}
	signature := strings.TrimSpace(r.Header.Get("Stripe-Signature"))
	if signature == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "missing Stripe-Signature header", http.StatusBadRequest))
		return
	}

	result := h.reconciler.Reconcile(ctx, payments.ProviderStripe, payments.StripeWebhook{
		Payload:   body,
		Signature: signature,
	})
	if result.Rejected {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", result.Message, http.StatusBadRequest))
		return
	}
	writeJSONResponse(w, http.StatusOK, webhookAck{Received: true})
}

// payu handles the browser return from the hosted page. The customer always lands on the
// success or failure page.
func (h *WebhookHandlers) payu(w http.ResponseWriter, r *http.Request) {
	values, err := payuCallbackValues(w, r)
	if err != nil {
		h.redirectFailure(w, r, "", "error", "callback could not be read")
		return
	}
	txnID := strings.TrimSpace(values["txnid"])
	status := strings.TrimSpace(values["status"])

	callback, err := payments.ParsePayUCallback(values)
	if err != nil {
		h.redirectFailure(w, r, txnID, "error", err.Error())
		return
	}
	if h.reconciler == nil {
		h.redirectFailure(w, r, txnID, "error", "payment service unavailable")
		return
	}

	result := h.reconciler.Reconcile(r.Context(), payments.ProviderPayU, callback)
	if !result.Success {
		h.redirectFailure(w, r, txnID, status, result.Message)
		return
	}
	query := url.Values{}
	query.Set("txnid", txnID)
	query.Set("status", status)
	query.Set("orderId", result.OrderID)
	http.Redirect(w, r, h.frontendURL+paymentSuccessPage+"?"+query.Encode(), http.StatusSeeOther)
}

func (h *WebhookHandlers) redirectFailure(w http.ResponseWriter, r *http.Request, txnID, status, message string) {
	query := url.Values{}
	query.Set("txnid", txnID)
	query.Set("status", status)
	query.Set("error", message)
	http.Redirect(w, r, h.frontendURL+paymentFailurePage+"?"+query.Encode(), http.StatusSeeOther)
}

func payuCallbackValues(w http.ResponseWriter, r *http.Request) (map[string]string, error) {
	if r.Method == http.MethodGet {
		return textutil.FlattenValues(r.URL.Query()), nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxPayUCallbackBody)
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	return textutil.FlattenValues(r.PostForm), nil
}
