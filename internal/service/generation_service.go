package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/skechum/internal/imagegen"
	"github.com/digkill/skechum/internal/metrics"
	"github.com/digkill/skechum/internal/models"
	"github.com/digkill/skechum/internal/notify"
	"github.com/digkill/skechum/pkg/format"
)

type GenerationSettings struct {
	Model string `json:"model" validate:"omitempty,max=64"`
	Size  string `json:"size" validate:"omitempty,oneof=1024x1024 1365x1024 1024x1365 1536x1024 1024x1536 1820x1024 1024x1820 1024x2048 2048x1024 1434x1024 1024x1434 1024x1280 1280x1024 1024x1707 1707x1024"`
	Steps int    `json:"steps" validate:"omitempty,min=1,max=100"`
}

type GenerateRequest struct {
	Prompt   string              `json:"prompt" validate:"required,min=1,max=1000"`
	Style    models.Style        `json:"style" validate:"required,oneof=realistic_image digital_illustration vector_illustration icon"`
	Settings *GenerationSettings `json:"settings" validate:"omitempty"`
}

type GenerationResult struct {
	Status         models.GenerationStatus `json:"status"`
	Image          *models.UserImage       `json:"image"`
	GenerationTime string                  `json:"generation_time"`
	Balance        int                     `json:"balance"`
}

type GenerationOptions struct {
	Cost    int
	Timeout time.Duration
	Model   string
}

type GenerationService struct {
	opts      GenerationOptions
	log       *slog.Logger
	generator imagegen.Generator
	credits   *CreditService
	images    ImageStore
	locker    Locker
	mirror    Mirror
	fetcher   Fetcher
	explore   ExploreCache
	notifier  notify.Notifier
	now       func() time.Time
}

type GenerationDeps struct {
	Generator imagegen.Generator
	Credits   *CreditService
	Images    ImageStore
	// Optional.
	Locker   Locker
	Mirror   Mirror
	Fetcher  Fetcher
	Explore  ExploreCache
	Notifier notify.Notifier
}

func NewGenerationService(opts GenerationOptions, log *slog.Logger, deps GenerationDeps) *GenerationService {
	if opts.Cost <= 0 {
		opts.Cost = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 90 * time.Second
	}
	n := deps.Notifier
	if n == nil {
		n = notify.Nop{}
	}
	return &GenerationService{
		opts:      opts,
		log:       log,
		generator: deps.Generator,
		credits:   deps.Credits,
		images:    deps.Images,
		locker:    deps.Locker,
		mirror:    deps.Mirror,
		fetcher:   deps.Fetcher,
		explore:   deps.Explore,
		notifier:  n,
		now:       time.Now,
	}
}

func (s *GenerationService) Generate(ctx context.Context, userID string, req GenerateRequest) (*GenerationResult, error) {
	req.Prompt = strings.TrimSpace(req.Prompt)
	if err := Validate(req); err != nil {
		return nil, err
	}

	if s.locker != nil {
		release, ok, err := s.locker.Acquire(ctx, "generate:"+userID)
		switch {
		case err != nil:
			s.log.Warn("generation lock unavailable, continuing without it", "user_id", userID, "err", err)
		case !ok:
			return nil, ErrGenerationInProgress
		default:
			defer release()
		}
	}

	if err := s.credits.Ensure(ctx, userID); err != nil {
		return nil, err
	}

	imageID := uuid.NewString()
	if _, err := s.credits.spend(ctx, userID, s.opts.Cost, imageID); err != nil {
		return nil, err
	}

	genOpts := imagegen.Options{
		Prompt: req.Prompt,
		Style:  req.Style,
		Model:  s.opts.Model,
		Size:   models.DefaultImageSize,
	}
	if req.Settings != nil {
		if req.Settings.Model != "" {
			genOpts.Model = req.Settings.Model
		}
		if req.Settings.Size != "" {
			genOpts.Size = req.Settings.Size
		}
		genOpts.Steps = req.Settings.Steps
	}

	provider := s.generator.Name()
	start := s.now()
	genCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	result, err := s.generator.Generate(genCtx, genOpts)
	timedOut := errors.Is(genCtx.Err(), context.DeadlineExceeded)
	cancel()
	elapsed := s.now().Sub(start)
	metrics.GenerationDuration.WithLabelValues(provider).Observe(elapsed.Seconds())

	if err != nil {
		outcome := "failed"
		if timedOut || errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		metrics.GenerationsTotal.WithLabelValues(provider, outcome).Inc()
		s.refundGeneration(ctx, userID, imageID)
		s.log.Error("image generation failed", "user_id", userID, "provider", provider, "outcome", outcome, "err", err)
		s.notifier.Notify(ctx, notify.Event{
			Kind:    notify.KindGenerationFailed,
			UserID:  userID,
			Message: err.Error(),
			Fields:  map[string]string{"provider": provider, "outcome": outcome},
		})
		if outcome == "timeout" {
			return nil, ErrGenerationTimeout
		}
		return nil, fmt.Errorf("generate image: %w", err)
	}

	img := &models.UserImage{
		ID:       imageID,
		UserID:   userID,
		ImageURL: result.URL,
		Prompt:   req.Prompt,
		Style:    req.Style,
		Format:   result.Format,
		Settings: models.ImageSettings{
			Model: genOpts.Model,
			Size:  genOpts.Size,
			Steps: genOpts.Steps,
		},
		Provider:         provider,
		GenerationTimeMs: elapsed.Milliseconds(),
	}
	if img.Format == "" {
		img.Format = imagegen.DetectFormat(result.URL, req.Style)
	}
	s.mirrorImage(ctx, img)

	if err := s.images.Create(ctx, img); err != nil {
		s.refundGeneration(ctx, userID, imageID)
		metrics.GenerationsTotal.WithLabelValues(provider, "failed").Inc()
		return nil, fmt.Errorf("save image: %w", err)
	}
	metrics.GenerationsTotal.WithLabelValues(provider, "completed").Inc()

	if s.explore != nil {
		if err := s.explore.Invalidate(ctx); err != nil {
			s.log.Warn("invalidate explore cache", "err", err)
		}
	}

	balance, err := s.credits.Balance(ctx, userID)
	if err != nil {
		s.log.Warn("read balance after generation", "user_id", userID, "err", err)
	}

	s.log.Info("image generated", "user_id", userID, "image_id", img.ID, "provider", provider, "elapsed_ms", img.GenerationTimeMs)
	return &GenerationResult{
		Status:         models.StatusCompleted,
		Image:          img,
		GenerationTime: format.Elapsed(img.GenerationTimeMs),
		Balance:        balance,
	}, nil
}

// mirrorImage copies the provider image into our bucket. Failures keep the
// provider URL.
func (s *GenerationService) mirrorImage(ctx context.Context, img *models.UserImage) {
	if s.mirror == nil || s.fetcher == nil {
		return
	}
	data, contentType, err := s.fetcher.Fetch(ctx, img.ImageURL)
	if err != nil {
		s.log.Warn("fetch provider image", "image_id", img.ID, "err", err)
		return
	}
	obj, err := s.mirror.Upload(ctx, img.UserID, data, contentType)
	if err != nil {
		s.log.Warn("mirror image", "image_id", img.ID, "err", err)
		return
	}
	img.ImageURL = obj.URL
	img.StorageKey = obj.Key
	if strings.HasPrefix(contentType, "image/svg") {
		img.Format = models.FormatSVG
	}
}

func (s *GenerationService) refundGeneration(ctx context.Context, userID, imageID string) {
	// Refund even when the request context is already cancelled.
	ctx = context.WithoutCancel(ctx)
	if _, err := s.credits.refund(ctx, userID, s.opts.Cost, imageID); err != nil {
		s.log.Error("refund generation cost", "user_id", userID, "reference", imageID, "err", err)
	}
}

type ProbeRequest struct {
	Prompt string       `json:"prompt" validate:"required,max=1000"`
	Style  models.Style `json:"style" validate:"omitempty,oneof=realistic_image digital_illustration vector_illustration icon"`
}

// Probe calls the provider directly. Nothing is charged or stored.
func (s *GenerationService) Probe(ctx context.Context, req ProbeRequest) (*imagegen.Image, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	if req.Style == "" {
		req.Style = models.StyleDigital
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	img, err := s.generator.Generate(ctx, imagegen.Options{
		Prompt: req.Prompt,
		Style:  req.Style,
		Model:  s.opts.Model,
		Size:   models.DefaultImageSize,
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrGenerationTimeout
		}
		return nil, fmt.Errorf("probe provider: %w", err)
	}
	return img, nil
}
