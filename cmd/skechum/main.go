package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/digkill/skechum/internal/auth"
	"github.com/digkill/skechum/internal/cache"
	"github.com/digkill/skechum/internal/checkout"
	"github.com/digkill/skechum/internal/config"
	"github.com/digkill/skechum/internal/database"
	"github.com/digkill/skechum/internal/imageconv"
	"github.com/digkill/skechum/internal/imagegen"
	"github.com/digkill/skechum/internal/metrics"
	"github.com/digkill/skechum/internal/notify"
	"github.com/digkill/skechum/internal/repository"
	"github.com/digkill/skechum/internal/server"
	"github.com/digkill/skechum/internal/service"
	"github.com/digkill/skechum/internal/storage"
	"github.com/digkill/skechum/internal/worker"
	"github.com/digkill/skechum/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.AppEnv, cfg.LogLevel)
	metrics.Init()

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.RunMigrations {
		if err := database.Migrate(db); err != nil {
			log.Fatalf("database migrate: %v", err)
		}
	}

	var verifier auth.Verifier
	if cfg.SupabaseJWTKey != "" {
		verifier = auth.NewJWTVerifier(cfg.SupabaseJWTKey, cfg.SupabaseJWTAud)
	} else {
		verifier, err = auth.NewRemoteVerifier(cfg.SupabaseURL, cfg.SupabaseKey)
		if err != nil {
			log.Fatalf("supabase auth: %v", err)
		}
	}

	var generator imagegen.Generator
	switch cfg.ImageProvider {
	case "kie":
		generator = imagegen.NewKIEClient(cfg, logr)
	default:
		generator = imagegen.NewRecraftClient(cfg, logr)
	}

	var provider checkout.Provider
	switch cfg.PaymentProvider {
	case "stripe":
		provider = checkout.NewStripeClient(cfg, logr)
	default:
		provider = checkout.NewDodoClient(cfg, logr)
	}

	pool := worker.NewPool(2, 256, logr)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pool.Stop(stopCtx)
	}()

	var notifier notify.Notifier = notify.Nop{}
	if cfg.TelegramBotToken != "" {
		tg, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramAdminChatID, pool, logr)
		if err != nil {
			logr.Error("telegram notifications disabled", "err", err)
		} else {
			notifier = tg
		}
	}

	var (
		locker  service.Locker
		explore service.ExploreCache
		counter service.DownloadCounter
	)
	if cfg.RedisURL != "" {
		rdb, err := cache.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer rdb.Close()
		locker = cache.NewLocker(rdb, cfg.GenerationLockTTL)
		explore = cache.NewExploreCache(rdb, cfg.ExploreCacheTTL)
		counter = cache.NewDownloadCounter(rdb)
	} else {
		logr.Warn("REDIS_URL not set: generation locks, explore cache and download counters are disabled")
	}

	fetcher := storage.NewFetcher(cfg.RequestTimeout)
	var mirror service.Mirror
	if cfg.StorageEnabled() {
		uploader, err := storage.NewUploader(storage.Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicBaseURL,
			UsePathStyle:  cfg.S3UsePathStyle,
			Prefix:        cfg.S3Prefix,
			PublicACL:     cfg.S3PublicACL,
		})
		if err != nil {
			log.Fatalf("storage uploader: %v", err)
		}
		mirror = uploader
	}

	creditRepo := repository.NewCreditRepository(db)
	imageRepo := repository.NewImageRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	planRepo := repository.NewPlanRepository(db)
	webhookRepo := repository.NewWebhookEventRepository(db)

	creditService := service.NewCreditService(creditRepo, imageRepo, cfg.SignupBonus, logr)
	planService := service.NewPlanService(planRepo)
	generationService := service.NewGenerationService(
		service.GenerationOptions{
			Cost:    cfg.GenerationCost,
			Timeout: cfg.GenerationTimeout,
			Model:   defaultModel(cfg),
		},
		logr,
		service.GenerationDeps{
			Generator: generator,
			Credits:   creditService,
			Images:    imageRepo,
			Locker:    locker,
			Mirror:    mirror,
			Fetcher:   fetcher,
			Explore:   explore,
			Notifier:  notifier,
		},
	)
	paymentService := service.NewPaymentService(service.PaymentDeps{
		Provider: provider,
		Payments: paymentRepo,
		Plans:    planRepo,
		Credits:  creditService,
		Webhooks: webhookRepo,
		Notifier: notifier,
	}, cfg.CheckoutReturnURL, logr)
	galleryService := service.NewGalleryService(imageRepo, fetcher, explore, counter, imageconv.Options{JPEGQuality: 90, WebPQuality: 85}, logr)

	stopFlusher := background(ctx, func(ctx context.Context) {
		galleryService.RunCounterFlusher(ctx, cfg.CounterFlushInterval)
	})

	srv := server.NewServer(
		server.Options{
			Addr:             cfg.HTTPAddr,
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			EnableTestRoutes: cfg.EnableTestRoutes,
		},
		logr,
		server.Deps{
			Verifier:   verifier,
			Generation: generationService,
			Credits:    creditService,
			Payments:   paymentService,
			Plans:      planService,
			Gallery:    galleryService,
			DB:         db,
		},
	)

	logr.Info("skechum starting", "env", cfg.AppEnv, "image_provider", generator.Name(), "payment_provider", provider.Name())
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("http server stopped", "err", err)
	}
	// Redis and the database are closed by the deferred calls above, so the
	// final counter flush has to finish first.
	stopFlusher()
}

// background runs fn in its own goroutine. The returned stop cancels fn's
// context and blocks until fn has returned.
func background(ctx context.Context, fn func(ctx context.Context)) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		fn(ctx)
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

func defaultModel(cfg config.Config) string {
	if cfg.ImageProvider == "kie" {
		return cfg.KIEModel
	}
	return cfg.RecraftModel
}
