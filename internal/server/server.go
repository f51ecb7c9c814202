// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It decides:
// - Which URL patterns map to which handler functions
// - What middleware runs on which routes
// - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
// main.go loads config.Config and the logger and passes them here.
// New() builds everything else, bottom-up:
//
//	sqlite.DB, local stores, razorpay client, signature verifier, locker
//	  → services (accounts, catalog, orders, downloads, payouts)
//	    → handlers
//	      → routes
//
// This is the "composition root" pattern: all dependencies are wired in
// one place rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/notesfy/internal/auth"
	"github.com/sakif/notesfy/internal/config"
	"github.com/sakif/notesfy/internal/gateway"
	"github.com/sakif/notesfy/internal/gateway/razorpay"
	"github.com/sakif/notesfy/internal/handler"
	"github.com/sakif/notesfy/internal/lock"
	"github.com/sakif/notesfy/internal/middleware"
	"github.com/sakif/notesfy/internal/money"
	sqliteRepo "github.com/sakif/notesfy/internal/repository/sqlite"
	"github.com/sakif/notesfy/internal/service"
	"github.com/sakif/notesfy/internal/storage/local"
)

const (
	// shutdownTimeout is how long in-flight requests get to finish.
	shutdownTimeout = 30 * time.Second
	redisDialWait   = 5 * time.Second
)

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection and, when configured, the Redis
// client. Close releases both; Start calls it on shutdown.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB

	imagesDir string
	passwords *auth.PasswordService
	closers   []func() error
}

// Option customises New. Tests use it to swap in cheaper collaborators.
type Option func(*Server)

// WithPasswordService replaces the bcrypt service, e.g. with a low-cost one.
func WithPasswordService(p *auth.PasswordService) Option {
	return func(s *Server) { s.passwords = p }
}

// New creates a Server from validated configuration.
//
// Upload layout under cfg.UploadDir:
//
//	images/  profile pictures, served publicly at /uploads/<name>
//	pdfs/    uploaded notes, only ever streamed through /downloadPdf
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router:    chi.NewRouter(),
		config:    cfg,
		logger:    logger,
		db:        db,
		imagesDir: filepath.Join(cfg.UploadDir, "images"),
		passwords: auth.NewPasswordService(),
		closers:   []func() error{db.Close},
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.setupRoutes(); err != nil {
		s.Close() // Clean up DB (and Redis) if wiring fails
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database and Redis connections.
func (s *Server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// newLocker picks the per-user lock: Redis when REDIS_URL is set, so
// several instances exclude each other, otherwise in-process.
func (s *Server) newLocker() (lock.Locker, error) {
	if s.config.RedisURL == "" {
		s.logger.Info("using in-process withdrawal locks")
		return lock.NewMemory(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisDialWait)
	defer cancel()

	client, err := lock.NewRedisClient(ctx, s.config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	s.closers = append(s.closers, client.Close)
	s.logger.Info("using redis withdrawal locks")
	return lock.NewRedis(client, lock.DefaultTTL, s.logger), nil
}

// setupRoutes builds the services and handlers and registers every route.
//
// ROUTE STRUCTURE (paths match the existing web client):
// POST   / and /register         → register
// POST   /login, /logout         → session
// GET    /me                     → current user                  [auth]
// GET    /getuser/{userId}       → user profile
// POST   /profileUpdate          → profile image upload          [auth]
// POST   /uploadPdf              → publish notes                 [auth]
// GET    /pdfDetails/{postId}    → one post
// POST   /likePdf, /deletePdf    → like toggle, delete           [auth]
// GET    /getSubjects            → subjects
// GET    /getChapters/{chapter}  → chapter suggestions
// GET    /getSubjectPdfs, /getChapterPdfs → browse
// POST   /create-order           → checkout order
// POST   /downloadPdf?id=        → verify payment, stream PDF
// POST   /withdraw               → payout                        [auth]
// GET    /withdrawals            → payout history                [auth]
// GET    /uploads/*              → profile images
// GET    /healthz, /metrics      → operations
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns the id the logger and error responses use
// 2. RealIP: extracts real client IP from proxy headers
// 3. Logger, Metrics: see the final status of every request
// 4. Recoverer: turns panics into 500s (inside Logger so they are logged)
func (s *Server) setupRoutes() error {
	cfg := s.config

	// === Infrastructure ===
	images, err := local.New(s.imagesDir)
	if err != nil {
		return err
	}
	pdfs, err := local.New(filepath.Join(cfg.UploadDir, "pdfs"))
	if err != nil {
		return err
	}

	gw, err := razorpay.New(razorpay.Config{
		BaseURL:   cfg.RazorpayBaseURL,
		KeyID:     cfg.RazorpayKeyID,
		KeySecret: cfg.RazorpayKeySecret,
		Timeout:   cfg.GatewayTimeout,
	}, s.logger)
	if err != nil {
		return err
	}

	verifier, err := gateway.NewVerifier(cfg.RazorpaySigningSecret)
	if err != nil {
		return err
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret)
	if err != nil {
		return err
	}

	locker, err := s.newLocker()
	if err != nil {
		return err
	}

	// === Services ===
	// s.db implements every repository interface; each service only sees
	// the ones it needs.
	accounts := service.NewAccountService(s.db, tokens, s.passwords, images, cfg.PublicBaseURL+"/uploads", s.logger)
	catalog := service.NewCatalogService(s.db, s.db, s.db, pdfs, s.logger)
	orders := service.NewOrderService(gw, money.Amount(cfg.OrderAmountPaise), s.logger)
	downloads := service.NewDownloadService(verifier, s.db, s.db, s.db, pdfs, money.Amount(cfg.DownloadRewardPaise), s.logger)
	payouts := service.NewPayoutService(s.db, s.db, gw, locker, service.PayoutConfig{
		SourceAccount: cfg.RazorpayXAccountNumber,
		Mode:          cfg.PayoutMode,
	}, s.logger)

	// === Handlers ===
	secureCookie := strings.HasPrefix(cfg.PublicBaseURL, "https://")
	accountHandler := handler.NewAccountHandler(accounts, tokens.TTL(), secureCookie, s.logger)
	catalogHandler := handler.NewCatalogHandler(catalog, s.logger)
	paymentHandler := handler.NewPaymentHandler(orders, downloads, payouts, s.logger)
	healthHandler := handler.NewHealthHandler(s.db, s.logger)

	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Metrics(nil))
	s.router.Use(chimiddleware.Recoverer)

	// === Operations ===
	s.router.Get("/healthz", healthHandler.HandleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	// === Static Files ===
	// GET /uploads/abc.png → serves {UPLOAD_DIR}/images/abc.png
	fileServer := http.FileServer(http.Dir(images.Dir()))
	s.router.Handle("/uploads/*", http.StripPrefix("/uploads/", fileServer))

	// === Public API ===
	s.router.Group(func(r chi.Router) {
		r.Use(auth.OptionalAuth(tokens))

		r.Post("/", accountHandler.HandleRegister)
		r.Post("/register", accountHandler.HandleRegister)
		r.Post("/login", accountHandler.HandleLogin)
		r.Post("/logout", accountHandler.HandleLogout)
		r.Get("/getuser/{userId}", accountHandler.HandleGetUser)

		r.Get("/pdfDetails/{postId}", catalogHandler.HandlePostDetails)
		r.Get("/getSubjects", catalogHandler.HandleSubjects)
		r.Get("/getChapters/", catalogHandler.HandleChapters)
		r.Get("/getChapters/{chapter}", catalogHandler.HandleChapters)
		r.Get("/getSubjectPdfs", catalogHandler.HandleSubjectPosts)
		r.Get("/getChapterPdfs", catalogHandler.HandleChapterPosts)

		r.Post("/create-order", paymentHandler.HandleCreateOrder)
		r.Post("/downloadPdf", paymentHandler.HandleDownload)
	})

	// === Authenticated API ===
	s.router.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(tokens))

		r.Get("/me", accountHandler.HandleMe)
		r.Post("/profileUpdate", accountHandler.HandleProfileUpdate)
		r.Post("/uploadPdf", catalogHandler.HandleUploadPDF)
		r.Post("/likePdf", catalogHandler.HandleLike)
		r.Post("/deletePdf", catalogHandler.HandleDelete)
		r.Post("/withdraw", paymentHandler.HandleWithdraw)
		r.Get("/withdrawals", paymentHandler.HandleWithdrawals)
	})

	return nil
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (30s timeout), so a withdrawal
//     mid-way through its gateway calls gets to record its state
//  3. Close the database and Redis connections
func (s *Server) Start() error {
	defer s.Close()

	// WriteTimeout stays unset: PDF downloads stream for as long as the
	// client needs. ReadTimeout covers the largest upload.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", s.config.PublicBaseURL),
			slog.String("database", s.config.DBPath),
			slog.String("uploads", s.config.UploadDir),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
