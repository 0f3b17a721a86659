package payments

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"golang.org/x/text/currency"
)

// Provider tags used to select a gateway.
const (
	ProviderStripe   = "stripe"
	ProviderRazorpay = "razorpay"
	ProviderPayU     = "payu"
)

var (
	// ErrProviderNotConfigured is returned when no gateway is registered for a tag.
	ErrProviderNotConfigured = errors.New("payments: provider not configured")
	// ErrCallbackNotAuthentic is returned when a signature, HMAC or hash does not match.
	ErrCallbackNotAuthentic = errors.New("payments: callback not authentic")
	// ErrInvalidRequest is returned for malformed initiate or verification input.
	ErrInvalidRequest = errors.New("payments: invalid request")
	// ErrEvidenceMismatch is returned when evidence for one provider reaches another.
	ErrEvidenceMismatch = errors.New("payments: evidence does not belong to provider")
)

// Outcome is the normalised result a provider reports for a payment.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	// OutcomePending means the payment is still in flight and no state change is warranted.
	OutcomePending Outcome = "pending"
	// OutcomeIgnored means the callback carries an event the reconciler does not act on.
	OutcomeIgnored Outcome = "ignored"
)

// Customer identifies the payer for providers that need contact details.
type Customer struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

// InitiateRequest describes a payment request for an order.
type InitiateRequest struct {
	OrderID       string
	TransactionID string
	Amount        float64
	Currency      string
	ProductInfo   string
	Customer      Customer
	UDF           [5]string
}

// Session is the provider-specific material the client needs to complete payment.
type Session struct {
	Provider string
	// Stripe
	ClientSecret    string
	PaymentIntentID string
	// Razorpay
	ProviderOrderID string
	AmountMinor     int64
	Currency        string
	KeyID           string
	// PayU
	Redirect *RedirectForm
}

// RedirectForm is an auto-submitting form that sends the customer to a hosted payment page.
type RedirectForm struct {
	Action string
	Fields map[string]string
	Hash   string
	HTML   string
}

// Reference correlates evidence with an order. Either field may be empty.
type Reference struct {
	OrderID       string
	TransactionID string
}

// Evidence is a provider-specific proof of payment: a client-submitted verification request or a
// provider-pushed callback. Implementations are the typed structs in this package.
type Evidence interface {
	Provider() string
	Reference() Reference
}

// Verification is the uniform outcome of checking a client-submitted proof.
type Verification struct {
	OK        bool
	PaymentID string
}

// CallbackResult is the authenticated interpretation of a callback.
type CallbackResult struct {
	Outcome        Outcome
	PaymentID      string
	ProviderStatus string
	ErrorMessage   string
	// Reference carries correlation data recovered from the authenticated payload.
	Reference Reference
	// AmountMinor is the amount the provider settled, in minor units. Only meaningful when
	// HasAmount is set.
	AmountMinor int64
	HasAmount   bool
}

// AmountMatches reports whether the settled amount equals total. Results that carry no amount
// match any total.
func (r CallbackResult) AmountMatches(total float64) bool {
	return !r.HasAmount || r.AmountMinor == MinorUnits(total)
}

// Gateway is implemented once per payment provider.
type Gateway interface {
	Provider() string
	Initiate(ctx context.Context, req InitiateRequest) (Session, error)
	Verify(ctx context.Context, proof Evidence) (Verification, error)
	AuthenticateCallback(ctx context.Context, evidence Evidence) (CallbackResult, error)
}

// Manager resolves gateways by provider tag.
type Manager struct {
	gateways map[string]Gateway
}

// NewManager registers the supplied gateways under their own provider tags.
func NewManager(gateways ...Gateway) (*Manager, error) {
	if len(gateways) == 0 {
		return nil, errors.New("payments: at least one gateway is required")
	}
	registry := make(map[string]Gateway, len(gateways))
	for _, gw := range gateways {
		if gw == nil {
			return nil, errors.New("payments: nil gateway")
		}
		key := normalizeProvider(gw.Provider())
		if key == "" {
			return nil, errors.New("payments: gateway reported an empty provider tag")
		}
		if _, dup := registry[key]; dup {
			return nil, fmt.Errorf("payments: duplicate gateway for provider %q", key)
		}
		registry[key] = gw
	}
	return &Manager{gateways: registry}, nil
}

// Gateway returns the gateway registered for provider.
func (m *Manager) Gateway(provider string) (Gateway, error) {
	if m == nil {
		return nil, ErrProviderNotConfigured
	}
	gw, ok := m.gateways[normalizeProvider(provider)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotConfigured, provider)
	}
	return gw, nil
}

// Providers lists the registered provider tags in sorted order.
func (m *Manager) Providers() []string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m.gateways))
	for key := range m.gateways {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

// NormalizeCurrency validates an ISO 4217 code and returns it upper-cased.
func NormalizeCurrency(code string) (string, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return "", fmt.Errorf("%w: unsupported currency %q", ErrInvalidRequest, code)
	}
	return unit.String(), nil
}

// MinorUnits converts a decimal major-unit amount to the provider's smallest unit.
func MinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func validateInitiate(req InitiateRequest) error {
	if strings.TrimSpace(req.OrderID) == "" {
		return fmt.Errorf("%w: order id is required", ErrInvalidRequest)
	}
	if req.Amount <= 0 || math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	return nil
}
