package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/digkill/skechum/internal/export"
	"github.com/digkill/skechum/internal/metrics"
	"github.com/digkill/skechum/internal/models"
)

// maxExportRows caps a single ledger export.
const maxExportRows = 10000

type CreditService struct {
	credits     CreditStore
	images      ImageLookup
	signupBonus int
	log         *slog.Logger
}

// NewCreditService builds the ledger service. images may be nil when no
// generation can produce a spend reference.
func NewCreditService(credits CreditStore, images ImageLookup, signupBonus int, log *slog.Logger) *CreditService {
	return &CreditService{credits: credits, images: images, signupBonus: signupBonus, log: log}
}

// Ensure creates the balance row on first access and grants the signup bonus.
func (s *CreditService) Ensure(ctx context.Context, userID string) error {
	created, err := s.credits.Create(ctx, userID)
	if err != nil {
		return err
	}
	if !created || s.signupBonus <= 0 {
		return nil
	}
	if _, err := s.apply(ctx, &models.CreditLog{
		UserID:    userID,
		Amount:    s.signupBonus,
		Type:      models.CreditBonus,
		Reference: "signup",
	}); err != nil {
		return fmt.Errorf("grant signup bonus: %w", err)
	}
	s.log.Info("signup bonus granted", "user_id", userID, "credits", s.signupBonus)
	return nil
}

func (s *CreditService) Balance(ctx context.Context, userID string) (int, error) {
	if err := s.Ensure(ctx, userID); err != nil {
		return 0, err
	}
	return s.current(ctx, userID)
}

// current reads the balance without creating the row. Unknown users have 0.
func (s *CreditService) current(ctx context.Context, userID string) (int, error) {
	c, err := s.credits.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	if c == nil {
		return 0, nil
	}
	return c.Balance, nil
}

type DeductRequest struct {
	Amount    int    `json:"amount" validate:"required,min=1,max=10000"`
	Reference string `json:"reference" validate:"omitempty,max=255"`
}

func (s *CreditService) Deduct(ctx context.Context, userID string, req DeductRequest) (*models.CreditLog, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	if err := s.Ensure(ctx, userID); err != nil {
		return nil, err
	}
	return s.spend(ctx, userID, req.Amount, req.Reference)
}

type RefundRequest struct {
	Reference string `json:"reference" validate:"required,max=255"`
}

// Refund returns the credits of an earlier spend identified by reference.
// Refunding the same reference twice returns the first refund. Spends behind a
// stored image were delivered and are never refunded.
func (s *CreditService) Refund(ctx context.Context, userID string, req RefundRequest) (*models.CreditLog, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	if _, perr := uuid.Parse(req.Reference); perr == nil && s.images != nil {
		img, err := s.images.GetByID(ctx, req.Reference)
		if err != nil {
			return nil, fmt.Errorf("look up image %s: %w", req.Reference, err)
		}
		if img != nil {
			return nil, ErrRefundNotAllowed
		}
	}
	spent, err := s.credits.FindByReference(ctx, userID, models.CreditSpend, req.Reference)
	if err != nil {
		return nil, err
	}
	if spent == nil {
		return nil, fmt.Errorf("%w: no spend with reference %q", ErrNotFound, req.Reference)
	}
	prior, err := s.credits.FindByReference(ctx, userID, models.CreditRefund, req.Reference)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return prior, nil
	}
	return s.refund(ctx, userID, -spent.Amount, req.Reference)
}

func (s *CreditService) Logs(ctx context.Context, userID string, page Page) ([]models.CreditLog, error) {
	logs, err := s.credits.Logs(ctx, userID, page.Limit, page.Offset())
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []models.CreditLog{}
	}
	return logs, nil
}

// Export writes the user's ledger, newest first, as an XLSX workbook.
func (s *CreditService) Export(ctx context.Context, userID string, w io.Writer) error {
	logs, err := s.credits.Logs(ctx, userID, maxExportRows, 0)
	if err != nil {
		return err
	}
	return export.WriteCreditLogs(w, logs)
}

func (s *CreditService) spend(ctx context.Context, userID string, amount int, reference string) (*models.CreditLog, error) {
	return s.apply(ctx, &models.CreditLog{
		UserID:    userID,
		Amount:    -amount,
		Type:      models.CreditSpend,
		Reference: reference,
	})
}

func (s *CreditService) refund(ctx context.Context, userID string, amount int, reference string) (*models.CreditLog, error) {
	return s.apply(ctx, &models.CreditLog{
		UserID:    userID,
		Amount:    amount,
		Type:      models.CreditRefund,
		Reference: reference,
	})
}

func (s *CreditService) purchase(ctx context.Context, userID string, amount int, paymentID string) (*models.CreditLog, error) {
	return s.apply(ctx, &models.CreditLog{
		UserID:    userID,
		Amount:    amount,
		Type:      models.CreditPurchase,
		PaymentID: paymentID,
		Reference: paymentID,
	})
}

func (s *CreditService) apply(ctx context.Context, entry *models.CreditLog) (*models.CreditLog, error) {
	if err := s.credits.Apply(ctx, entry); err != nil {
		if errors.Is(err, ErrInsufficientCredits) {
			return nil, err
		}
		return nil, fmt.Errorf("apply %s credits: %w", entry.Type, err)
	}
	amount := entry.Amount
	if amount < 0 {
		amount = -amount
	}
	metrics.CreditsMoved.WithLabelValues(string(entry.Type)).Add(float64(amount))
	return entry, nil
}
