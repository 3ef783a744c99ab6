package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	billingstripe "github.com/dukerupert/reelsmith/internal/billing/stripe"
	"github.com/dukerupert/reelsmith/internal/database"
	"github.com/dukerupert/reelsmith/internal/email"
	"github.com/dukerupert/reelsmith/internal/export"
	"github.com/dukerupert/reelsmith/internal/logging"
	"github.com/dukerupert/reelsmith/internal/plan"
	"github.com/dukerupert/reelsmith/internal/server"
)

func main() {
	logger := logging.Setup(os.Getenv("REELSMITH_LOG_LEVEL"))

	port := os.Getenv("REELSMITH_PORT")
	if port == "" {
		port = "8080"
	}

	dbPath := os.Getenv("REELSMITH_DB_PATH")
	if dbPath == "" {
		dbPath = "reelsmith.db"
	}

	baseURL := os.Getenv("REELSMITH_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:" + port
	}

	db, err := database.Open(dbPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	emailClient := email.NewClient(
		os.Getenv("REELSMITH_POSTMARK_TOKEN"),
		os.Getenv("REELSMITH_FROM_EMAIL"),
	)

	cfg := server.Config{
		Stripe: billingstripe.Config{
			SecretKey:  os.Getenv("STRIPE_SECRET_KEY"),
			SuccessURL: baseURL + "/account?session_id={CHECKOUT_SESSION_ID}",
			CancelURL:  baseURL + "/pricing",
			ReturnURL:  baseURL + "/account",
		},
		Prices: plan.PriceConfig{
			CreatorPriceID:       os.Getenv("STRIPE_CREATOR_PRICE_ID"),
			CreatorAnnualPriceID: os.Getenv("STRIPE_CREATOR_ANNUAL_PRICE_ID"),
			ProPriceID:           os.Getenv("STRIPE_PRO_PRICE_ID"),
			ProAnnualPriceID:     os.Getenv("STRIPE_PRO_ANNUAL_PRICE_ID"),
		},
		AdminEmails: splitList(os.Getenv("REELSMITH_ADMIN_EMAILS")),
		EmailClient: emailClient,
	}

	srv := server.New(db, cfg, logger)

	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Background cleanup goroutine
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := srv.SessionStore().DeleteExpired(); err != nil {
					slog.Error("cleanup expired sessions", "error", err)
				} else if n > 0 {
					slog.Info("cleaned up expired sessions", "count", n)
				}
				if _, err := srv.MagicLinkStore().DeleteExpired(); err != nil {
					slog.Error("cleanup expired login codes", "error", err)
				}
				srv.RateLimiter().Cleanup()
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	// Monthly usage report export
	exportCfg := export.Config{
		Bucket:     os.Getenv("REELSMITH_EXPORT_BUCKET"),
		Prefix:     os.Getenv("REELSMITH_EXPORT_PREFIX"),
		Region:     os.Getenv("REELSMITH_EXPORT_REGION"),
		Endpoint:   os.Getenv("REELSMITH_EXPORT_ENDPOINT"),
		AccessKey:  os.Getenv("REELSMITH_EXPORT_ACCESS_KEY"),
		SecretKey:  os.Getenv("REELSMITH_EXPORT_SECRET_KEY"),
		Passphrase: os.Getenv("REELSMITH_EXPORT_PASSPHRASE"),
	}
	if exportCfg.Enabled() {
		exporter := export.NewExporter(exportCfg, srv.UsageStore(), logger.With("component", "export"))
		go exporter.Start(cleanupCtx)
	}

	go func() {
		slog.Info("reelsmith starting", "addr", ":"+port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	cleanupCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
