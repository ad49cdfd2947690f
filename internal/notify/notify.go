// Package notify delivers operator alerts about purchases and failures.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/skechum/internal/worker"
)

type Kind string

const (
	KindPurchase         Kind = "purchase"
	KindGenerationFailed Kind = "generation_failed"
	KindPaymentMismatch  Kind = "payment_mismatch"
)

type Event struct {
	Kind    Kind
	UserID  string
	Message string
	Fields  map[string]string
}

// Text renders the event as a plain Telegram message.
func (e Event) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Kind, e.Message)
	if e.UserID != "" {
		fmt.Fprintf(&b, "\nuser: %s", e.UserID)
	}
	for _, k := range slices.Sorted(maps.Keys(e.Fields)) {
		fmt.Fprintf(&b, "\n%s: %s", k, e.Fields[k])
	}
	return b.String()
}

type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// Nop drops every event. Used when no bot token is configured.
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts events to an admin chat through the worker pool so request
// handlers never wait on the Bot API.
type Telegram struct {
	api    sender
	chatID int64
	pool   *worker.Pool
	log    *slog.Logger
}

func NewTelegram(token string, chatID int64, pool *worker.Pool, log *slog.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return newTelegram(api, chatID, pool, log), nil
}

func newTelegram(api sender, chatID int64, pool *worker.Pool, log *slog.Logger) *Telegram {
	return &Telegram{api: api, chatID: chatID, pool: pool, log: log}
}

func (t *Telegram) Notify(_ context.Context, e Event) {
	text := e.Text()
	err := t.pool.Submit(func(context.Context) {
		msg := tgbotapi.NewMessage(t.chatID, text)
		msg.DisableWebPagePreview = true
		if _, err := t.api.Send(msg); err != nil {
			t.log.Error("send telegram notification", "kind", e.Kind, "err", err)
		}
	})
	if err != nil {
		t.log.Warn("notification dropped", "kind", e.Kind, "err", err)
	}
}
