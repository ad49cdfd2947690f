package models

import "time"

// Style is the rendering style requested for a generation.
type Style string

const (
	StyleRealistic Style = "realistic_image"
	StyleDigital   Style = "digital_illustration"
	StyleVector    Style = "vector_illustration"
	StyleIcon      Style = "icon"
)

const DefaultImageSize = "1024x1024"

// IsVector reports whether the style produces SVG output.
func (s Style) IsVector() bool {
	return s == StyleVector || s == StyleIcon
}

type ImageFormat string

const (
	FormatPNG ImageFormat = "PNG"
	FormatSVG ImageFormat = "SVG"
	FormatJPG ImageFormat = "JPG"
)

// GenerationStatus mirrors the UI state machine for a single generation.
type GenerationStatus string

const (
	StatusIdle       GenerationStatus = "idle"
	StatusQueued     GenerationStatus = "queued"
	StatusGenerating GenerationStatus = "generating"
	StatusCompleted  GenerationStatus = "completed"
	StatusFailed     GenerationStatus = "failed"
)

type ImageSettings struct {
	Model string `json:"model"`
	Size  string `json:"size"`
	Steps int    `json:"steps,omitempty"`
}

type UserImage struct {
	ID               string        `json:"id"`
	UserID           string        `json:"user_id"`
	ImageURL         string        `json:"image_url"`
	Prompt           string        `json:"prompt"`
	Style            Style         `json:"style"`
	Format           ImageFormat   `json:"format"`
	Settings         ImageSettings `json:"settings"`
	Provider         string        `json:"provider"`
	StorageKey       string        `json:"-"`
	GenerationTimeMs int64         `json:"generation_time_ms"`
	Downloads        int64         `json:"downloads"`
	CreatedAt        time.Time     `json:"created_at"`
}

type PaymentStatus string

const (
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentPending   PaymentStatus = "pending"
	PaymentFailed    PaymentStatus = "failed"
)

type Payment struct {
	ID           int64         `json:"id"`
	PaymentID    string        `json:"payment_id"`
	UserID       string        `json:"user_id"`
	Provider     string        `json:"provider"`
	Amount       int64         `json:"amount"`
	Currency     string        `json:"currency"`
	Status       PaymentStatus `json:"status"`
	CreditsAdded int           `json:"credits_added"`
	PlanID       *int64        `json:"plan_id,omitempty"`
	ProductID    string        `json:"product_id,omitempty"`
	PlanName     string        `json:"plan_name,omitempty"`
	RawPayload   string        `json:"-"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

type CreditLogType string

const (
	CreditPurchase CreditLogType = "purchase"
	CreditSpend    CreditLogType = "spend"
	CreditRefund   CreditLogType = "refund"
	CreditBonus    CreditLogType = "bonus"
)

// CreditLog is one ledger entry. Amount is signed: negative for spends.
type CreditLog struct {
	ID            int64         `json:"id"`
	UserID        string        `json:"user_id"`
	Amount        int           `json:"amount"`
	Type          CreditLogType `json:"type"`
	BalanceBefore int           `json:"balance_before"`
	BalanceAfter  int           `json:"balance_after"`
	PaymentID     string        `json:"payment_id,omitempty"`
	Reference     string        `json:"reference,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

type UserCredits struct {
	UserID    string    `json:"user_id"`
	Balance   int       `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Plan struct {
	ID              int64     `json:"id"`
	ProductID       string    `json:"product_id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	Credits         int       `json:"credits"`
	PriceMinorUnits int       `json:"price_minor_units"`
	Currency        string    `json:"currency"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type WebhookEvent struct {
	Provider   string
	EventID    string
	EventType  string
	ReceivedAt time.Time
}
