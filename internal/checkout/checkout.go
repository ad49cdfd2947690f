// Package checkout wraps payment providers behind a common reconciliation API.
package checkout

import (
	"context"
	"errors"
	"net/http"

	"github.com/digkill/skechum/internal/models"
)

var (
	ErrPaymentNotFound  = errors.New("payment not found at provider")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Payment is the provider's view of a payment, normalised.
type Payment struct {
	ID            string
	Status        models.PaymentStatus
	RawStatus     string
	ProductID     string
	Amount        int64
	Currency      string
	UserID        string
	CustomerEmail string
	Raw           []byte
}

type CheckoutRequest struct {
	UserID    string
	Email     string
	Plan      models.Plan
	ReturnURL string
}

type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Event is a verified webhook delivery. PaymentID is empty for events that do
// not concern a payment.
type Event struct {
	ID        string
	Type      string
	PaymentID string
	UserID    string
}

type Provider interface {
	Name() string
	FetchPayment(ctx context.Context, paymentID string) (*Payment, error)
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*Session, error)
	ParseWebhook(payload []byte, header http.Header) (*Event, error)
}
