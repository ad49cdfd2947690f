// Package service holds the business flows behind the HTTP API: generation,
// credits, payments, plans and the image gallery.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/digkill/skechum/internal/models"
	"github.com/digkill/skechum/internal/repository"
	"github.com/digkill/skechum/internal/storage"
)

var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrInsufficientCredits  = repository.ErrInsufficientCredits
	ErrGenerationTimeout    = errors.New("image generation timed out")
	ErrGenerationInProgress = errors.New("a generation is already in progress")
	ErrUnknownProduct       = errors.New("unknown product")
	ErrPaymentMismatch      = errors.New("payment belongs to another user")
	ErrNotFound             = errors.New("not found")
	ErrRefundNotAllowed     = errors.New("spend was delivered and cannot be refunded")
)

type CreditStore interface {
	Get(ctx context.Context, userID string) (*models.UserCredits, error)
	Create(ctx context.Context, userID string) (bool, error)
	Apply(ctx context.Context, entry *models.CreditLog) error
	Logs(ctx context.Context, userID string, limit, offset int) ([]models.CreditLog, error)
	FindByReference(ctx context.Context, userID string, typ models.CreditLogType, reference string) (*models.CreditLog, error)
}

// ImageLookup resolves a stored image by id. Nil means not found.
type ImageLookup interface {
	GetByID(ctx context.Context, id string) (*models.UserImage, error)
}

type ImageStore interface {
	Create(ctx context.Context, img *models.UserImage) error
	GetByID(ctx context.Context, id string) (*models.UserImage, error)
	List(ctx context.Context, f repository.ImageFilter) ([]models.UserImage, error)
	AddDownloads(ctx context.Context, counts map[string]int64) error
}

type PaymentStore interface {
	Create(ctx context.Context, payment *models.Payment) (bool, error)
	MarkSucceeded(ctx context.Context, id int64, creditsAdded int, payload string) (bool, error)
	UpdateStatus(ctx context.Context, id int64, status models.PaymentStatus, payload string) error
	FindByPaymentID(ctx context.Context, paymentID string) (*models.Payment, error)
}

type PlanStore interface {
	ListActive(ctx context.Context) ([]models.Plan, error)
	GetByID(ctx context.Context, id int64) (*models.Plan, error)
	GetByProductID(ctx context.Context, productID string) (*models.Plan, error)
}

type WebhookStore interface {
	Record(ctx context.Context, provider, eventID, eventType string) (bool, error)
	Forget(ctx context.Context, provider, eventID string) error
}

// Locker guards a named critical section across instances.
type Locker interface {
	Acquire(ctx context.Context, name string) (release func(), ok bool, err error)
}

type Mirror interface {
	Upload(ctx context.Context, owner string, data []byte, contentType string) (*storage.Object, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

type ExploreCache interface {
	Get(ctx context.Context, page string, dest any) (bool, error)
	Set(ctx context.Context, page string, value any) error
	Invalidate(ctx context.Context) error
}

type DownloadCounter interface {
	Add(ctx context.Context, imageID string) error
	Drain(ctx context.Context) (map[string]int64, error)
	Restore(ctx context.Context, counts map[string]int64) error
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks v's struct tags and reports failures as ErrInvalidRequest.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeField(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(msgs, "; "))
}

func describeField(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// Page is a normalised pagination window. Page numbers start at 1.
type Page struct {
	Page  int
	Limit int
}

const (
	defaultPageSize = 20
	maxPageSize     = 100

	// maxPage keeps Offset within an int32 for any page size.
	maxPage = math.MaxInt32 / maxPageSize
)

func NewPage(page, limit int) Page {
	if page < 1 {
		page = 1
	}
	if page > maxPage {
		page = maxPage
	}
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return Page{Page: page, Limit: limit}
}

func (p Page) Offset() int {
	return (p.Page - 1) * p.Limit
}
