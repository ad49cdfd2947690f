package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/digkill/skechum/internal/config"
	"github.com/digkill/skechum/internal/models"
)

// DodoClient talks to the Dodo Payments REST API.
type DodoClient struct {
	apiKey        string
	baseURL       string
	webhookSecret string
	client        *http.Client
	log           *slog.Logger
	now           func() time.Time
}

func NewDodoClient(cfg config.Config, log *slog.Logger) *DodoClient {
	return &DodoClient{
		apiKey:        cfg.DodoAPIKey,
		baseURL:       strings.TrimRight(cfg.DodoBaseURL, "/"),
		webhookSecret: cfg.DodoWebhookSecret,
		client:        &http.Client{Timeout: 30 * time.Second},
		log:           log,
		now:           time.Now,
	}
}

func (c *DodoClient) Name() string { return "dodo" }

type dodoPayment struct {
	PaymentID   string            `json:"payment_id"`
	Status      *string           `json:"status"`
	TotalAmount int64             `json:"total_amount"`
	Currency    string            `json:"currency"`
	Metadata    map[string]string `json:"metadata"`
	Customer    struct {
		CustomerID string `json:"customer_id"`
		Email      string `json:"email"`
	} `json:"customer"`
	ProductCart []struct {
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
	} `json:"product_cart"`
}

func (c *DodoClient) FetchPayment(ctx context.Context, paymentID string) (*Payment, error) {
	endpoint := c.baseURL + "/payments/" + url.PathEscape(paymentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build dodo request: %w", err)
	}

	raw, status, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, ErrPaymentNotFound
	}
	if status >= 300 {
		return nil, fmt.Errorf("dodo error: status=%d body=%s", status, truncate(raw))
	}

	var parsed dodoPayment
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode dodo payment: %w", err)
	}
	return parsed.toPayment(raw), nil
}

func (p dodoPayment) toPayment(raw []byte) *Payment {
	rawStatus := ""
	if p.Status != nil {
		rawStatus = *p.Status
	}
	out := &Payment{
		ID:            p.PaymentID,
		Status:        mapDodoStatus(rawStatus),
		RawStatus:     rawStatus,
		Amount:        p.TotalAmount,
		Currency:      strings.ToUpper(p.Currency),
		UserID:        p.Metadata["user_id"],
		CustomerEmail: p.Customer.Email,
		Raw:           raw,
	}
	if len(p.ProductCart) > 0 {
		out.ProductID = p.ProductCart[0].ProductID
	}
	return out
}

func mapDodoStatus(status string) models.PaymentStatus {
	switch strings.ToLower(status) {
	case "succeeded":
		return models.PaymentSucceeded
	case "failed", "cancelled", "canceled":
		return models.PaymentFailed
	default:
		return models.PaymentPending
	}
}

func (c *DodoClient) CreateCheckout(ctx context.Context, in CheckoutRequest) (*Session, error) {
	payload := map[string]any{
		"product_cart": []map[string]any{
			{"product_id": in.Plan.ProductID, "quantity": 1},
		},
		"return_url": in.ReturnURL,
		"metadata": map[string]string{
			"user_id": in.UserID,
			"plan_id": strconv.FormatInt(in.Plan.ID, 10),
		},
	}
	if in.Email != "" {
		payload["customer"] = map[string]string{"email": in.Email}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal dodo checkout: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/checkouts", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build dodo request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	raw, status, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, fmt.Errorf("dodo checkout error: status=%d body=%s", status, truncate(raw))
	}

	var parsed struct {
		SessionID   string `json:"session_id"`
		CheckoutURL string `json:"checkout_url"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode dodo checkout: %w", err)
	}
	if parsed.CheckoutURL == "" {
		return nil, fmt.Errorf("invalid dodo checkout response (missing checkout_url)")
	}
	return &Session{ID: parsed.SessionID, URL: parsed.CheckoutURL}, nil
}

func (c *DodoClient) ParseWebhook(payload []byte, header http.Header) (*Event, error) {
	if c.webhookSecret == "" {
		return nil, fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}
	if err := VerifyStandardWebhook(c.webhookSecret, header, payload, c.now()); err != nil {
		return nil, err
	}

	var evt struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("parse webhook: %w", err)
	}

	out := &Event{ID: header.Get("webhook-id"), Type: evt.Type}
	if strings.HasPrefix(evt.Type, "payment.") {
		var p dodoPayment
		if err := json.Unmarshal(evt.Data, &p); err != nil {
			return nil, fmt.Errorf("parse webhook payment: %w", err)
		}
		out.PaymentID = p.PaymentID
		out.UserID = p.Metadata["user_id"]
	}
	return out, nil
}

func (c *DodoClient) do(req *http.Request) ([]byte, int, error) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("dodo request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read dodo response: %w", err)
	}
	if resp.StatusCode >= 300 && c.log != nil {
		c.log.Warn("dodo request failed", "status", resp.StatusCode, "url", req.URL.String(), "body", truncate(raw))
	}
	return raw, resp.StatusCode, nil
}

func truncate(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
