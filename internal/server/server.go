// Package server exposes the JSON HTTP API consumed by the web front end.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/digkill/skechum/internal/auth"
	"github.com/digkill/skechum/internal/checkout"
	"github.com/digkill/skechum/internal/imagegen"
	"github.com/digkill/skechum/internal/metrics"
	"github.com/digkill/skechum/internal/models"
	"github.com/digkill/skechum/internal/service"
)

type Generator interface {
	Generate(ctx context.Context, userID string, req service.GenerateRequest) (*service.GenerationResult, error)
	Probe(ctx context.Context, req service.ProbeRequest) (*imagegen.Image, error)
}

type Credits interface {
	Balance(ctx context.Context, userID string) (int, error)
	Deduct(ctx context.Context, userID string, req service.DeductRequest) (*models.CreditLog, error)
	Refund(ctx context.Context, userID string, req service.RefundRequest) (*models.CreditLog, error)
	Logs(ctx context.Context, userID string, page service.Page) ([]models.CreditLog, error)
	Export(ctx context.Context, userID string, w io.Writer) error
}

type Payments interface {
	Confirm(ctx context.Context, userID string, req service.ConfirmRequest) (*service.ConfirmResult, error)
	CreateCheckout(ctx context.Context, userID, email string, in service.CheckoutInput) (*checkout.Session, error)
	HandleWebhook(ctx context.Context, payload []byte, header http.Header) error
}

type Plans interface {
	List(ctx context.Context) ([]models.Plan, error)
}

type Gallery interface {
	Explore(ctx context.Context, q service.ListQuery) (*service.ImagePage, error)
	History(ctx context.Context, userID string, q service.ListQuery) (*service.ImagePage, error)
	Get(ctx context.Context, id string) (*models.UserImage, error)
	Download(ctx context.Context, id, format string) (*service.Download, error)
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

type Options struct {
	Addr             string
	AllowedOrigins   []string
	EnableTestRoutes bool
}

type Deps struct {
	Verifier   auth.Verifier
	Generation Generator
	Credits    Credits
	Payments   Payments
	Plans      Plans
	Gallery    Gallery
	DB         Pinger
}

type Server struct {
	opts   Options
	log    *slog.Logger
	deps   Deps
	router *chi.Mux
}

func NewServer(opts Options, log *slog.Logger, deps Deps) *Server {
	s := &Server{opts: opts, log: log, deps: deps, router: chi.NewRouter()}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(metrics.HTTPMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/plans", s.handleListPlans)
		r.Get("/explore", s.handleExplore)
		r.Get("/images/{id}", s.handleGetImage)
		r.Get("/images/{id}/download", s.handleDownload)
		r.Post("/payments/webhook", s.handleWebhook)

		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)
			r.Post("/generate", s.handleGenerate)
			if s.opts.EnableTestRoutes {
				r.Post("/test-recraft", s.handleProbe)
			}
			r.Get("/me", s.handleMe)
			r.Get("/images", s.handleHistory)

			r.Get("/credits", s.handleBalance)
			r.Post("/credits/deduct", s.handleDeduct)
			r.Post("/credits/refund", s.handleRefund)
			r.Get("/credits/logs", s.handleCreditLogs)
			r.Get("/credits/export", s.handleCreditExport)

			r.Post("/payments/checkout", s.handleCheckout)
			r.Post("/payments/success", s.handlePaymentSuccess)
		})
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, "route not found")
	})
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Generation waits on the provider for up to GENERATION_TIMEOUT.
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("http shutdown error", "err", err)
		}
	}()

	s.log.Info("http server listening", "addr", s.opts.Addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}
