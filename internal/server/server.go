package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/reelsmith/internal/billing/checkout"
	"github.com/dukerupert/reelsmith/internal/billing/reconcile"
	billingstripe "github.com/dukerupert/reelsmith/internal/billing/stripe"
	"github.com/dukerupert/reelsmith/internal/email"
	"github.com/dukerupert/reelsmith/internal/events"
	"github.com/dukerupert/reelsmith/internal/handler"
	"github.com/dukerupert/reelsmith/internal/middleware"
	"github.com/dukerupert/reelsmith/internal/plan"
	"github.com/dukerupert/reelsmith/internal/quota"
	"github.com/dukerupert/reelsmith/internal/store"
)

type Config struct {
	Stripe      billingstripe.Config
	Prices      plan.PriceConfig
	AdminEmails []string
	EmailClient *email.Client
}

type Server struct {
	db            *sql.DB
	sessionStore  *store.SessionStore
	magicLinks    *store.MagicLinkStore
	usageStore    *store.UsageStore
	hub           *events.Hub
	authH         *handler.AuthHandler
	usageH        *handler.UsageHandler
	contentH      *handler.ContentHandler
	billingH      *handler.BillingHandler
	rateLimiter   *middleware.RateLimiter
	logger        *slog.Logger
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	userStore := store.NewUserStore(db)
	entitlementStore := store.NewEntitlementStore(db)
	usageStore := store.NewUsageStore(db)
	itemStore := store.NewContentItemStore(db)
	metadataStore := store.NewBillingMetadataStore(db)
	sessionStore := store.NewSessionStore(db)
	magicLinkStore := store.NewMagicLinkStore(db)

	hub := events.NewHub(logger.With("component", "events"))
	catalog := plan.NewCatalog(cfg.Prices)

	ledger := quota.NewLedger(entitlementStore, usageStore, hub, logger.With("component", "ledger"))
	rewrites := quota.NewRewrites(itemStore, entitlementStore, hub, logger.With("component", "rewrites"))

	var stripeClient *billingstripe.Client
	if cfg.Stripe.SecretKey != "" {
		stripeClient = billingstripe.NewClient(cfg.Stripe)
	}

	var reconciler *reconcile.Reconciler
	var issuer *checkout.Issuer
	if stripeClient != nil {
		reconciler = reconcile.New(stripeClient, catalog, userStore, entitlementStore, metadataStore, hub, logger.With("component", "reconciler"))
		issuer = checkout.NewIssuer(stripeClient, catalog, userStore, metadataStore, logger.With("component", "checkout"))
	}

	authH := handler.NewAuthHandler(userStore, sessionStore, magicLinkStore, cfg.EmailClient, reconciler, logger.With("component", "auth"))
	usageH := handler.NewUsageHandler(ledger, userStore, cfg.AdminEmails, logger.With("component", "usage"))
	contentH := handler.NewContentHandler(itemStore, rewrites, logger.With("component", "content"))

	var billingH *handler.BillingHandler
	if issuer != nil && reconciler != nil {
		billingH = handler.NewBillingHandler(issuer, reconciler, logger.With("component", "billing"))
	}

	return &Server{
		db:           db,
		sessionStore: sessionStore,
		magicLinks:   magicLinkStore,
		usageStore:   usageStore,
		hub:          hub,
		authH:        authH,
		usageH:       usageH,
		contentH:     contentH,
		billingH:     billingH,
		rateLimiter:  middleware.NewRateLimiter(),
		logger:       logger,
	}
}

// SessionStore returns the session store for cleanup tasks.
func (s *Server) SessionStore() *store.SessionStore {
	return s.sessionStore
}

// MagicLinkStore returns the magic link store for cleanup tasks.
func (s *Server) MagicLinkStore() *store.MagicLinkStore {
	return s.magicLinks
}

// UsageStore returns the usage store for the report exporter.
func (s *Server) UsageStore() *store.UsageStore {
	return s.usageStore
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthCheck)

	// Auth (public, rate-limited)
	mux.HandleFunc("POST /api/auth/login", s.rateLimitedHandler(s.authH.Login))
	mux.HandleFunc("POST /api/auth/verify", s.rateLimitedHandler(s.authH.Verify))

	authMw := middleware.RequireAuth(s.sessionStore)
	mux.Handle("POST /api/auth/logout", authMw(http.HandlerFunc(s.authH.Logout)))

	// Quota ledger
	mux.Handle("POST /api/usage/reserve", authMw(http.HandlerFunc(s.usageH.Reserve)))
	mux.Handle("GET /api/usage", authMw(http.HandlerFunc(s.usageH.Current)))
	mux.Handle("POST /api/admin/usage/reset", authMw(http.HandlerFunc(s.usageH.Reset)))

	// Content items and rewrites
	mux.Handle("POST /api/items", authMw(http.HandlerFunc(s.contentH.Create)))
	mux.Handle("GET /api/items", authMw(http.HandlerFunc(s.contentH.List)))
	mux.Handle("POST /api/items/{id}/rewrite", authMw(http.HandlerFunc(s.contentH.Rewrite)))
	mux.Handle("POST /api/items/{id}/duplicate", authMw(http.HandlerFunc(s.contentH.Duplicate)))

	// Billing (registered only when Stripe is configured)
	if s.billingH != nil {
		mux.Handle("POST /api/checkout", authMw(http.HandlerFunc(s.billingH.CreateCheckoutSession)))
		mux.Handle("POST /api/billing-portal", authMw(http.HandlerFunc(s.billingH.BillingPortal)))
		mux.Handle("POST /api/subscription/reconcile", authMw(http.HandlerFunc(s.billingH.Reconcile)))
	}

	// Event feed (authenticates before the upgrade)
	mux.HandleFunc("GET /api/events", events.Handler(s.hub, middleware.SessionUserID(s.sessionStore), s.logger.With("component", "events")))

	return middleware.RequestLogger(s.logger)(mux)
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	rl := middleware.RateLimit(s.rateLimiter, middleware.RealIP, 10, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
