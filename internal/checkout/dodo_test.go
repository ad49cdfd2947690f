package checkout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/skechum/internal/config"
	"github.com/digkill/skechum/internal/models"
)

func newTestDodo(t *testing.T, handler http.Handler) *DodoClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewDodoClient(config.Config{
		DodoAPIKey:        "dodo-key",
		DodoBaseURL:       srv.URL,
		DodoWebhookSecret: testSecret,
	}, nil)
}

func TestDodoFetchPayment(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/payments/pay_123", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer dodo-key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{
			"payment_id": "pay_123",
			"status": "succeeded",
			"total_amount": 1500,
			"currency": "usd",
			"metadata": {"user_id": "7d0c1f4e-4c2b-4f7e-9a55-0c7d4b1b2f10"},
			"customer": {"customer_id": "cus_1", "email": "ada@example.com"},
			"product_cart": [{"product_id": "pdt_creator", "quantity": 1}]
		}`))
	})

	p, err := newTestDodo(t, mux).FetchPayment(context.Background(), "pay_123")
	require.NoError(t, err)
	assert.Equal(t, "pay_123", p.ID)
	assert.Equal(t, models.PaymentSucceeded, p.Status)
	assert.Equal(t, "pdt_creator", p.ProductID)
	assert.EqualValues(t, 1500, p.Amount)
	assert.Equal(t, "USD", p.Currency)
	assert.Equal(t, "7d0c1f4e-4c2b-4f7e-9a55-0c7d4b1b2f10", p.UserID)
	assert.Equal(t, "ada@example.com", p.CustomerEmail)
}

func TestDodoFetchPaymentNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/payments/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := newTestDodo(t, mux).FetchPayment(context.Background(), "pay_missing")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestMapDodoStatus(t *testing.T) {
	assert.Equal(t, models.PaymentSucceeded, mapDodoStatus("succeeded"))
	assert.Equal(t, models.PaymentFailed, mapDodoStatus("failed"))
	assert.Equal(t, models.PaymentFailed, mapDodoStatus("cancelled"))
	assert.Equal(t, models.PaymentPending, mapDodoStatus("processing"))
	assert.Equal(t, models.PaymentPending, mapDodoStatus("requires_customer_action"))
	assert.Equal(t, models.PaymentPending, mapDodoStatus(""))
}

func TestDodoCreateCheckout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/checkouts", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		cart := body["product_cart"].([]any)[0].(map[string]any)
		assert.Equal(t, "pdt_starter", cart["product_id"])
		assert.Equal(t, "user-1", body["metadata"].(map[string]any)["user_id"])
		assert.Equal(t, "https://skechum.com/payment/success", body["return_url"])
		_, _ = w.Write([]byte(`{"session_id":"cks_1","checkout_url":"https://checkout.dodopayments.com/session/cks_1"}`))
	})

	sess, err := newTestDodo(t, mux).CreateCheckout(context.Background(), CheckoutRequest{
		UserID:    "user-1",
		Plan:      models.Plan{ID: 1, ProductID: "pdt_starter"},
		ReturnURL: "https://skechum.com/payment/success",
	})
	require.NoError(t, err)
	assert.Equal(t, "cks_1", sess.ID)
	assert.Equal(t, "https://checkout.dodopayments.com/session/cks_1", sess.URL)
}

func TestDodoParseWebhook(t *testing.T) {
	client := newTestDodo(t, http.NewServeMux())
	now := time.Unix(1_700_000_000, 0)
	client.now = func() time.Time { return now }

	payload := []byte(`{"type":"payment.succeeded","data":{"payment_id":"pay_9","status":"succeeded","metadata":{"user_id":"user-9"}}}`)
	evt, err := client.ParseWebhook(payload, signedHeader(t, "msg_9", now, payload))
	require.NoError(t, err)
	assert.Equal(t, "msg_9", evt.ID)
	assert.Equal(t, "payment.succeeded", evt.Type)
	assert.Equal(t, "pay_9", evt.PaymentID)
	assert.Equal(t, "user-9", evt.UserID)

	_, err = client.ParseWebhook(payload, http.Header{})
	assert.ErrorIs(t, err, ErrInvalidSignature)
}
