package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
)

const testWebhookSecret = "whsec_test_secret"

type stubIntentAPI struct {
	newFn func(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	getFn func(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

func (s *stubIntentAPI) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if s.newFn == nil {
		return nil, errors.New("unexpected New call")
	}
	return s.newFn(params)
}

func (s *stubIntentAPI) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if s.getFn == nil {
		return nil, errors.New("unexpected Get call")
	}
	return s.getFn(id, params)
}

func newTestStripeGateway(t *testing.T, api *stubIntentAPI) *StripeGateway {
	t.Helper()
	gw, err := NewStripeGateway(StripeConfig{WebhookSecret: testWebhookSecret, intents: api})
	if err != nil {
		t.Fatalf("new stripe gateway: %v", err)
	}
	return gw
}

func signStripePayload(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func stripeEventPayload(eventType, intentID, status, orderID string) []byte {
	return []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","type":%q,"api_version":"2024-04-10","data":{"object":{"id":%q,"object":"payment_intent","status":%q,"amount":58200,"amount_received":58200,"metadata":{"orderId":%q}}}}`,
		eventType, intentID, status, orderID))
}

func TestStripeInitiateCreatesIntentWithMetadata(t *testing.T) {
	var captured *stripe.PaymentIntentParams
	gw := newTestStripeGateway(t, &stubIntentAPI{
		newFn: func(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
			captured = params
			return &stripe.PaymentIntent{ID: "pi_123", ClientSecret: "pi_123_secret"}, nil
		},
	})

	session, err := gw.Initiate(context.Background(), InitiateRequest{
		OrderID:       "ord_1",
		TransactionID: "txn_1",
		Amount:        1499.5,
		Currency:      "INR",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if session.ClientSecret != "pi_123_secret" || session.PaymentIntentID != "pi_123" {
		t.Fatalf("unexpected session %+v", session)
	}
	if captured == nil {
		t.Fatalf("expected intent creation")
	}
	if got := stripe.Int64Value(captured.Amount); got != 149950 {
		t.Fatalf("expected amount 149950, got %d", got)
	}
	if got := stripe.StringValue(captured.Currency); got != "inr" {
		t.Fatalf("expected currency inr, got %q", got)
	}
	if captured.Metadata["orderId"] != "ord_1" {
		t.Fatalf("expected order metadata, got %v", captured.Metadata)
	}
	if stripe.StringValue(captured.IdempotencyKey) != "intent-txn_1" {
		t.Fatalf("expected idempotency key, got %q", stripe.StringValue(captured.IdempotencyKey))
	}
}

func TestStripeInitiateRejectsInvalidAmount(t *testing.T) {
	gw := newTestStripeGateway(t, &stubIntentAPI{})
	_, err := gw.Initiate(context.Background(), InitiateRequest{OrderID: "ord_1", Amount: 0, Currency: "INR"})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestStripeVerifyRequiresSucceededIntent(t *testing.T) {
	status := stripe.PaymentIntentStatusProcessing
	gw := newTestStripeGateway(t, &stubIntentAPI{
		getFn: func(id string, _ *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
			return &stripe.PaymentIntent{ID: id, Status: status, Metadata: map[string]string{"orderId": "ord_1"}}, nil
		},
	})
	proof := StripeIntentProof{OrderID: "ord_1", PaymentIntentID: "pi_1"}

	v, err := gw.Verify(context.Background(), proof)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if v.OK {
		t.Fatalf("expected processing intent to fail verification")
	}

	status = stripe.PaymentIntentStatusSucceeded
	v, err = gw.Verify(context.Background(), proof)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !v.OK || v.PaymentID != "pi_1" {
		t.Fatalf("expected succeeded verification, got %+v", v)
	}
}

func TestStripeVerifyRejectsIntentOfAnotherOrder(t *testing.T) {
	gw := newTestStripeGateway(t, &stubIntentAPI{
		getFn: func(id string, _ *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
			return &stripe.PaymentIntent{ID: id, Status: stripe.PaymentIntentStatusSucceeded, Metadata: map[string]string{"orderId": "ord_other"}}, nil
		},
	})
	_, err := gw.Verify(context.Background(), StripeIntentProof{OrderID: "ord_1", PaymentIntentID: "pi_1"})
	if !errors.Is(err, ErrCallbackNotAuthentic) {
		t.Fatalf("expected ErrCallbackNotAuthentic, got %v", err)
	}
}

func TestStripeVerifyRejectsIntentWithoutOrderMetadata(t *testing.T) {
	gw := newTestStripeGateway(t, &stubIntentAPI{
		getFn: func(id string, _ *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
			return &stripe.PaymentIntent{ID: id, Status: stripe.PaymentIntentStatusSucceeded, AmountReceived: 100}, nil
		},
	})
	_, err := gw.AuthenticateCallback(context.Background(), StripeIntentProof{OrderID: "ord_1", PaymentIntentID: "pi_foreign"})
	if !errors.Is(err, ErrCallbackNotAuthentic) {
		t.Fatalf("expected ErrCallbackNotAuthentic, got %v", err)
	}
}

func TestStripeWebhookSucceeded(t *testing.T) {
	gw := newTestStripeGateway(t, &stubIntentAPI{})
	payload := stripeEventPayload("payment_intent.succeeded", "pi_9", "succeeded", "ord_9")

	result, err := gw.AuthenticateCallback(context.Background(), StripeWebhook{
		Payload:   payload,
		Signature: signStripePayload(payload, testWebhookSecret, time.Now()),
	})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if result.Outcome != OutcomeSucceeded {
		t.Fatalf("expected succeeded outcome, got %q", result.Outcome)
	}
	if result.PaymentID != "pi_9" || result.Reference.OrderID != "ord_9" {
		t.Fatalf("unexpected result %+v", result)
	}
	if !result.HasAmount || result.AmountMinor != 58200 {
		t.Fatalf("expected amount_received to be reported, got %+v", result)
	}
}

func TestStripeWebhookFailedAndIgnoredEvents(t *testing.T) {
	gw := newTestStripeGateway(t, &stubIntentAPI{})

	failed := stripeEventPayload("payment_intent.payment_failed", "pi_2", "requires_payment_method", "ord_2")
	result, err := gw.AuthenticateCallback(context.Background(), StripeWebhook{
		Payload:   failed,
		Signature: signStripePayload(failed, testWebhookSecret, time.Now()),
	})
	if err != nil {
		t.Fatalf("authenticate failed event: %v", err)
	}
	if result.Outcome != OutcomeFailed || result.Reference.OrderID != "ord_2" {
		t.Fatalf("unexpected failed result %+v", result)
	}

	other := stripeEventPayload("payment_intent.created", "pi_3", "requires_payment_method", "ord_3")
	result, err = gw.AuthenticateCallback(context.Background(), StripeWebhook{
		Payload:   other,
		Signature: signStripePayload(other, testWebhookSecret, time.Now()),
	})
	if err != nil {
		t.Fatalf("authenticate ignored event: %v", err)
	}
	if result.Outcome != OutcomeIgnored {
		t.Fatalf("expected ignored outcome, got %q", result.Outcome)
	}
}

func TestStripeWebhookRejectsTamperedPayload(t *testing.T) {
	gw := newTestStripeGateway(t, &stubIntentAPI{})
	payload := stripeEventPayload("payment_intent.succeeded", "pi_9", "succeeded", "ord_9")
	signature := signStripePayload(payload, testWebhookSecret, time.Now())
	tampered := stripeEventPayload("payment_intent.succeeded", "pi_9", "succeeded", "ord_other")

	_, err := gw.AuthenticateCallback(context.Background(), StripeWebhook{Payload: tampered, Signature: signature})
	if !errors.Is(err, ErrCallbackNotAuthentic) {
		t.Fatalf("expected ErrCallbackNotAuthentic, got %v", err)
	}

	_, err = gw.AuthenticateCallback(context.Background(), StripeWebhook{
		Payload:   payload,
		Signature: signStripePayload(payload, "whsec_wrong", time.Now()),
	})
	if !errors.Is(err, ErrCallbackNotAuthentic) {
		t.Fatalf("expected ErrCallbackNotAuthentic for wrong secret, got %v", err)
	}
}

func TestStripeRejectsForeignEvidence(t *testing.T) {
	gw := newTestStripeGateway(t, &stubIntentAPI{})
	_, err := gw.AuthenticateCallback(context.Background(), RazorpayProof{OrderID: "ord_1"})
	if !errors.Is(err, ErrEvidenceMismatch) {
		t.Fatalf("expected ErrEvidenceMismatch, got %v", err)
	}
}
