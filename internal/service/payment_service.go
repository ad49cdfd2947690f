package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/digkill/skechum/internal/checkout"
	"github.com/digkill/skechum/internal/metrics"
	"github.com/digkill/skechum/internal/models"
	"github.com/digkill/skechum/internal/notify"
)

type PaymentService struct {
	provider  checkout.Provider
	payments  PaymentStore
	plans     PlanStore
	credits   *CreditService
	webhooks  WebhookStore
	notifier  notify.Notifier
	returnURL string
	log       *slog.Logger
}

type PaymentDeps struct {
	Provider checkout.Provider
	Payments PaymentStore
	Plans    PlanStore
	Credits  *CreditService
	Webhooks WebhookStore
	Notifier notify.Notifier
}

func NewPaymentService(deps PaymentDeps, returnURL string, log *slog.Logger) *PaymentService {
	n := deps.Notifier
	if n == nil {
		n = notify.Nop{}
	}
	return &PaymentService{
		provider:  deps.Provider,
		payments:  deps.Payments,
		plans:     deps.Plans,
		credits:   deps.Credits,
		webhooks:  deps.Webhooks,
		notifier:  n,
		returnURL: returnURL,
		log:       log,
	}
}

type ConfirmRequest struct {
	PaymentID string `json:"payment_id" validate:"required,max=255"`
	Status    string `json:"status" validate:"omitempty,max=64"`
}

type ConfirmResult struct {
	Payment      *models.Payment `json:"payment"`
	CreditsAdded int             `json:"credits_added"`
	Balance      int             `json:"balance"`
}

// Confirm reconciles a payment the user was redirected back with. Calling it
// again for the same payment id returns the stored payment.
func (s *PaymentService) Confirm(ctx context.Context, userID string, req ConfirmRequest) (*ConfirmResult, error) {
	req.PaymentID = strings.TrimSpace(req.PaymentID)
	if err := Validate(req); err != nil {
		return nil, err
	}
	payment, err := s.reconcile(ctx, req.PaymentID, userID, normalizeStatus(req.Status))
	if err != nil {
		return nil, err
	}
	balance, err := s.credits.current(ctx, payment.UserID)
	if err != nil {
		return nil, err
	}
	return &ConfirmResult{Payment: payment, CreditsAdded: payment.CreditsAdded, Balance: balance}, nil
}

func (s *PaymentService) reconcile(ctx context.Context, paymentID, userID string, hint models.PaymentStatus) (*models.Payment, error) {
	existing, err := s.payments.FindByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if userID != "" && existing.UserID != userID {
			return nil, ErrPaymentMismatch
		}
		return s.refresh(ctx, existing)
	}

	remote, err := s.fetch(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		userID = remote.UserID
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: payment %s carries no user", ErrInvalidRequest, paymentID)
	}
	if remote.UserID != "" && remote.UserID != userID {
		s.log.Warn("payment user mismatch", "payment_id", paymentID, "user_id", userID, "metadata_user_id", remote.UserID)
		s.notifier.Notify(ctx, notify.Event{
			Kind:    notify.KindPaymentMismatch,
			UserID:  userID,
			Message: "payment metadata belongs to another user",
			Fields:  map[string]string{"payment_id": paymentID, "metadata_user_id": remote.UserID},
		})
		return nil, ErrPaymentMismatch
	}

	plan, err := s.plans.GetByProductID(ctx, remote.ProductID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProduct, remote.ProductID)
	}

	status := remote.Status
	if status == "" {
		status = hint
	}
	planID := plan.ID
	payment := &models.Payment{
		PaymentID:  paymentID,
		UserID:     userID,
		Provider:   s.provider.Name(),
		Amount:     remote.Amount,
		Currency:   remote.Currency,
		Status:     status,
		PlanID:     &planID,
		ProductID:  plan.ProductID,
		PlanName:   plan.Name,
		RawPayload: string(remote.Raw),
	}
	if payment.Currency == "" {
		payment.Currency = plan.Currency
	}
	if status == models.PaymentSucceeded {
		payment.CreditsAdded = plan.Credits
	}

	created, err := s.payments.Create(ctx, payment)
	if err != nil {
		return nil, err
	}
	if !created {
		// A concurrent confirmation inserted it first.
		stored, err := s.payments.FindByPaymentID(ctx, paymentID)
		if err != nil {
			return nil, err
		}
		if stored == nil {
			return nil, fmt.Errorf("payment %s vanished after conflict", paymentID)
		}
		return stored, nil
	}
	metrics.PaymentsTotal.WithLabelValues(payment.Provider, string(status)).Inc()

	if status == models.PaymentSucceeded {
		if err := s.grant(ctx, payment); err != nil {
			return nil, err
		}
	}
	return payment, nil
}

// refresh re-checks a stored, not yet succeeded payment with the provider and
// settles it when the provider now reports success.
func (s *PaymentService) refresh(ctx context.Context, payment *models.Payment) (*models.Payment, error) {
	if payment.Status == models.PaymentSucceeded {
		return payment, s.grant(ctx, payment)
	}

	remote, err := s.fetch(ctx, payment.PaymentID)
	if err != nil {
		return nil, err
	}
	if remote.Status == payment.Status {
		return payment, nil
	}
	if remote.Status != models.PaymentSucceeded {
		if err := s.payments.UpdateStatus(ctx, payment.ID, remote.Status, string(remote.Raw)); err != nil {
			return nil, err
		}
		payment.Status = remote.Status
		return payment, nil
	}

	var plan *models.Plan
	if payment.PlanID != nil {
		plan, err = s.plans.GetByID(ctx, *payment.PlanID)
	} else {
		plan, err = s.plans.GetByProductID(ctx, payment.ProductID)
	}
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProduct, payment.ProductID)
	}

	updated, err := s.payments.MarkSucceeded(ctx, payment.ID, plan.Credits, string(remote.Raw))
	if err != nil {
		return nil, err
	}
	payment.Status = models.PaymentSucceeded
	payment.CreditsAdded = plan.Credits
	if updated {
		metrics.PaymentsTotal.WithLabelValues(payment.Provider, string(payment.Status)).Inc()
	}
	return payment, s.grant(ctx, payment)
}

// grant writes the purchase ledger entry for a succeeded payment unless it
// already exists.
func (s *PaymentService) grant(ctx context.Context, payment *models.Payment) error {
	if payment.CreditsAdded <= 0 {
		return nil
	}
	prior, err := s.credits.credits.FindByReference(ctx, payment.UserID, models.CreditPurchase, payment.PaymentID)
	if err != nil {
		return err
	}
	if prior != nil {
		return nil
	}
	if err := s.credits.Ensure(ctx, payment.UserID); err != nil {
		return err
	}
	entry, err := s.credits.purchase(ctx, payment.UserID, payment.CreditsAdded, payment.PaymentID)
	if err != nil {
		return err
	}
	s.log.Info("credits purchased", "user_id", payment.UserID, "payment_id", payment.PaymentID, "credits", payment.CreditsAdded, "balance", entry.BalanceAfter)
	s.notifier.Notify(ctx, notify.Event{
		Kind:    notify.KindPurchase,
		UserID:  payment.UserID,
		Message: "payment succeeded",
		Fields: map[string]string{
			"payment_id": payment.PaymentID,
			"plan":       payment.PlanName,
			"credits":    strconv.Itoa(payment.CreditsAdded),
			"amount":     fmt.Sprintf("%d %s", payment.Amount, payment.Currency),
		},
	})
	return nil
}

func (s *PaymentService) fetch(ctx context.Context, paymentID string) (*checkout.Payment, error) {
	remote, err := s.provider.FetchPayment(ctx, paymentID)
	if err != nil {
		if errors.Is(err, checkout.ErrPaymentNotFound) {
			return nil, fmt.Errorf("%w: payment %s", ErrNotFound, paymentID)
		}
		return nil, fmt.Errorf("fetch payment: %w", err)
	}
	return remote, nil
}

type CheckoutInput struct {
	PlanID int64 `json:"plan_id" validate:"required,min=1"`
}

// CreateCheckout opens a provider checkout for plan, tagged with the user id.
func (s *PaymentService) CreateCheckout(ctx context.Context, userID, email string, in CheckoutInput) (*checkout.Session, error) {
	if err := Validate(in); err != nil {
		return nil, err
	}
	plan, err := s.plans.GetByID(ctx, in.PlanID)
	if err != nil {
		return nil, err
	}
	if plan == nil || !plan.IsActive {
		return nil, fmt.Errorf("%w: plan %d", ErrNotFound, in.PlanID)
	}
	sess, err := s.provider.CreateCheckout(ctx, checkout.CheckoutRequest{
		UserID:    userID,
		Email:     email,
		Plan:      *plan,
		ReturnURL: s.returnURL,
	})
	if err != nil {
		return nil, fmt.Errorf("create checkout: %w", err)
	}
	return sess, nil
}

// HandleWebhook verifies and applies a provider webhook. Redelivered events
// are acknowledged without side effects.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, header http.Header) error {
	ev, err := s.provider.ParseWebhook(payload, header)
	if err != nil {
		return err
	}
	provider := s.provider.Name()

	fresh, err := s.webhooks.Record(ctx, provider, ev.ID, ev.Type)
	if err != nil {
		return err
	}
	if !fresh {
		s.log.Info("duplicate webhook ignored", "provider", provider, "event_id", ev.ID)
		return nil
	}
	if ev.PaymentID == "" {
		return nil
	}

	if _, err := s.reconcile(ctx, ev.PaymentID, ev.UserID, ""); err != nil {
		if rejectedForGood(err) {
			// Redelivery cannot change the outcome, so the event stays recorded.
			s.log.Error("webhook payment rejected", "provider", provider, "event_id", ev.ID, "payment_id", ev.PaymentID, "err", err)
			return nil
		}
		if ferr := s.webhooks.Forget(context.WithoutCancel(ctx), provider, ev.ID); ferr != nil {
			s.log.Error("forget webhook event", "event_id", ev.ID, "err", ferr)
		}
		return fmt.Errorf("reconcile webhook payment: %w", err)
	}
	return nil
}

func rejectedForGood(err error) bool {
	return errors.Is(err, ErrUnknownProduct) ||
		errors.Is(err, ErrPaymentMismatch) ||
		errors.Is(err, ErrInvalidRequest)
}

func normalizeStatus(s string) models.PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "succeeded", "success", "paid", "complete", "completed":
		return models.PaymentSucceeded
	case "failed", "cancelled", "canceled", "expired":
		return models.PaymentFailed
	default:
		return models.PaymentPending
	}
}
