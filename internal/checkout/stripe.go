package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/digkill/skechum/internal/config"
	"github.com/digkill/skechum/internal/models"
)

// StripeClient reconciles Stripe Checkout sessions. Plans store the Stripe
// price id in product_id.
type StripeClient struct {
	webhookSecret string
	log           *slog.Logger
}

func NewStripeClient(cfg config.Config, log *slog.Logger) *StripeClient {
	stripe.Key = cfg.StripeSecretKey
	return &StripeClient{
		webhookSecret: cfg.StripeWebhookSecret,
		log:           log,
	}
}

func (c *StripeClient) Name() string { return "stripe" }

func (c *StripeClient) FetchPayment(ctx context.Context, sessionID string) (*Payment, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("line_items")

	sess, err := session.Get(sessionID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get checkout session: %w", err)
	}
	return sessionToPayment(sess), nil
}

func sessionToPayment(sess *stripe.CheckoutSession) *Payment {
	raw, _ := json.Marshal(sess)
	out := &Payment{
		ID:        sess.ID,
		Status:    mapStripeStatus(sess),
		RawStatus: string(sess.PaymentStatus),
		Amount:    sess.AmountTotal,
		Currency:  strings.ToUpper(string(sess.Currency)),
		UserID:    sess.Metadata["user_id"],
		Raw:       raw,
	}
	if out.UserID == "" {
		out.UserID = sess.ClientReferenceID
	}
	if sess.CustomerDetails != nil {
		out.CustomerEmail = sess.CustomerDetails.Email
	}
	if sess.LineItems != nil && len(sess.LineItems.Data) > 0 {
		if price := sess.LineItems.Data[0].Price; price != nil {
			out.ProductID = price.ID
		}
	}
	return out
}

func mapStripeStatus(sess *stripe.CheckoutSession) models.PaymentStatus {
	switch {
	case sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		return models.PaymentSucceeded
	case sess.Status == stripe.CheckoutSessionStatusExpired:
		return models.PaymentFailed
	default:
		return models.PaymentPending
	}
}

func (c *StripeClient) CreateCheckout(ctx context.Context, in CheckoutRequest) (*Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(in.Plan.ProductID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(successURL(in.ReturnURL)),
		CancelURL:         stripe.String(in.ReturnURL),
		ClientReferenceID: stripe.String(in.UserID),
	}
	if in.Email != "" {
		params.CustomerEmail = stripe.String(in.Email)
	}
	params.Context = ctx
	params.AddMetadata("user_id", in.UserID)
	params.AddMetadata("plan_id", strconv.FormatInt(in.Plan.ID, 10))

	sess, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &Session{ID: sess.ID, URL: sess.URL}, nil
}

// successURL appends the session placeholder Stripe substitutes on redirect.
func successURL(returnURL string) string {
	sep := "?"
	if strings.Contains(returnURL, "?") {
		sep = "&"
	}
	return returnURL + sep + "payment_id={CHECKOUT_SESSION_ID}&status=succeeded"
}

func (c *StripeClient) ParseWebhook(payload []byte, header http.Header) (*Event, error) {
	if c.webhookSecret == "" {
		return nil, fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}
	evt, err := webhook.ConstructEventWithOptions(payload, header.Get("Stripe-Signature"), c.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &Event{ID: evt.ID, Type: string(evt.Type)}
	if strings.HasPrefix(out.Type, "checkout.session.") && evt.Data != nil {
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("parse checkout session: %w", err)
		}
		out.PaymentID = sess.ID
		out.UserID = sess.Metadata["user_id"]
		if out.UserID == "" {
			out.UserID = sess.ClientReferenceID
		}
	}
	return out, nil
}
