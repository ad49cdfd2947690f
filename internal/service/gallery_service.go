package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/skechum/internal/imageconv"
	"github.com/digkill/skechum/internal/metrics"
	"github.com/digkill/skechum/internal/models"
	"github.com/digkill/skechum/internal/repository"
	"github.com/digkill/skechum/pkg/format"
)

type ListQuery struct {
	Page  Page
	Style string
	Query string
}

type ImagePage struct {
	Images  []models.UserImage `json:"images"`
	Page    int                `json:"page"`
	Limit   int                `json:"limit"`
	HasMore bool               `json:"has_more"`
}

type Download struct {
	Data        []byte
	ContentType string
	FileName    string
}

type GalleryService struct {
	images  ImageStore
	fetcher Fetcher
	cache   ExploreCache
	counter DownloadCounter
	convert imageconv.Options
	log     *slog.Logger
}

func NewGalleryService(images ImageStore, fetcher Fetcher, cache ExploreCache, counter DownloadCounter, convert imageconv.Options, log *slog.Logger) *GalleryService {
	return &GalleryService{
		images:  images,
		fetcher: fetcher,
		cache:   cache,
		counter: counter,
		convert: convert,
		log:     log,
	}
}

// Explore lists everyone's images, newest first.
func (s *GalleryService) Explore(ctx context.Context, q ListQuery) (*ImagePage, error) {
	filter, err := s.filter("", q)
	if err != nil {
		return nil, err
	}
	key := cacheKey(q)
	if s.cache != nil {
		var cached ImagePage
		found, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			s.log.Warn("read explore cache", "err", err)
		} else if found {
			return &cached, nil
		}
	}

	page, err := s.list(ctx, filter, q.Page)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, page); err != nil {
			s.log.Warn("write explore cache", "err", err)
		}
	}
	return page, nil
}

// History lists the user's own images, newest first.
func (s *GalleryService) History(ctx context.Context, userID string, q ListQuery) (*ImagePage, error) {
	filter, err := s.filter(userID, q)
	if err != nil {
		return nil, err
	}
	return s.list(ctx, filter, q.Page)
}

func (s *GalleryService) filter(userID string, q ListQuery) (repository.ImageFilter, error) {
	style := models.Style(strings.TrimSpace(q.Style))
	switch style {
	case "", models.StyleRealistic, models.StyleDigital, models.StyleVector, models.StyleIcon:
	default:
		return repository.ImageFilter{}, fmt.Errorf("%w: unknown style %q", ErrInvalidRequest, q.Style)
	}
	query := strings.TrimSpace(q.Query)
	if len(query) > 200 {
		return repository.ImageFilter{}, fmt.Errorf("%w: search query too long", ErrInvalidRequest)
	}
	return repository.ImageFilter{
		UserID: userID,
		Style:  style,
		Query:  query,
		Limit:  q.Page.Limit + 1,
		Offset: q.Page.Offset(),
	}, nil
}

func (s *GalleryService) list(ctx context.Context, filter repository.ImageFilter, page Page) (*ImagePage, error) {
	images, err := s.images.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	hasMore := len(images) > page.Limit
	if hasMore {
		images = images[:page.Limit]
	}
	if images == nil {
		images = []models.UserImage{}
	}
	return &ImagePage{Images: images, Page: page.Page, Limit: page.Limit, HasMore: hasMore}, nil
}

func cacheKey(q ListQuery) string {
	v := url.Values{}
	v.Set("p", strconv.Itoa(q.Page.Page))
	v.Set("l", strconv.Itoa(q.Page.Limit))
	if q.Style != "" {
		v.Set("s", q.Style)
	}
	if q.Query != "" {
		v.Set("q", strings.ToLower(strings.TrimSpace(q.Query)))
	}
	return v.Encode()
}

func (s *GalleryService) Get(ctx context.Context, id string) (*models.UserImage, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: image %s", ErrNotFound, id)
	}
	img, err := s.images.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, fmt.Errorf("%w: image %s", ErrNotFound, id)
	}
	return img, nil
}

// Download fetches the stored image and re-encodes it as the requested format.
func (s *GalleryService) Download(ctx context.Context, id, rawFormat string) (*Download, error) {
	if rawFormat == "" {
		rawFormat = string(imageconv.PNG)
	}
	target, err := imageconv.ParseFormat(rawFormat)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	img, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	data, _, err := s.fetcher.Fetch(ctx, img.ImageURL)
	if err != nil {
		return nil, fmt.Errorf("fetch stored image: %w", err)
	}
	out, err := imageconv.Convert(data, target, s.convert)
	if err != nil {
		if errors.Is(err, imageconv.ErrVectorSource) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return nil, fmt.Errorf("convert image: %w", err)
	}

	metrics.DownloadsTotal.WithLabelValues(string(target)).Inc()
	if s.counter != nil {
		if err := s.counter.Add(ctx, img.ID); err != nil {
			s.log.Warn("count download", "image_id", img.ID, "err", err)
		}
	}
	return &Download{
		Data:        out,
		ContentType: target.ContentType(),
		FileName:    format.FileName(img.Prompt) + target.Ext(),
	}, nil
}

// FlushDownloads moves pending download counts into Postgres. Counts are put
// back when the write fails.
func (s *GalleryService) FlushDownloads(ctx context.Context) error {
	if s.counter == nil {
		return nil
	}
	counts, err := s.counter.Drain(ctx)
	if err != nil {
		return err
	}
	if len(counts) == 0 {
		return nil
	}
	if err := s.images.AddDownloads(ctx, counts); err != nil {
		if rerr := s.counter.Restore(context.WithoutCancel(ctx), counts); rerr != nil {
			s.log.Error("restore download counters", "err", rerr)
		}
		return fmt.Errorf("flush downloads: %w", err)
	}
	s.log.Debug("download counters flushed", "images", len(counts))
	return nil
}

// RunCounterFlusher flushes download counters every interval until ctx is
// done, then flushes once more.
func (s *GalleryService) RunCounterFlusher(ctx context.Context, interval time.Duration) {
	if s.counter == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if err := s.FlushDownloads(finalCtx); err != nil {
				s.log.Error("final download flush", "err", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := s.FlushDownloads(ctx); err != nil {
				s.log.Error("download flush", "err", err)
			}
		}
	}
}
