// Package main is the entry point for the Aldari SSO gateway.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/aldari-app/sso-gateway/internal/auth"
	"github.com/aldari-app/sso-gateway/internal/config"
	ssoerrors "github.com/aldari-app/sso-gateway/internal/errors"
	"github.com/aldari-app/sso-gateway/internal/gate"
	ssohttp "github.com/aldari-app/sso-gateway/internal/http"
	"github.com/aldari-app/sso-gateway/internal/metrics"
	"github.com/aldari-app/sso-gateway/internal/security"
	"github.com/aldari-app/sso-gateway/internal/store/file"
	"github.com/aldari-app/sso-gateway/internal/token"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if cfg.SecretsGenerated {
		logger.Warn("secrets were auto-generated; sessions will not survive restarts")
	}

	store, err := file.NewStore(cfg.DataDir)
	if err != nil {
		logger.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	logger.Info("initialized file store", "data_dir", cfg.DataDir)

	prom := metrics.NewPrometheus()
	recorder := metrics.NewRecorder(prom)

	ledger := security.NewLedger(
		store.SecurityEvents(), store.IPReputations(), store.Sessions(),
		recorder, security.WithLogger(logger),
	)

	sessions := auth.NewSessionService(store.Sessions(), cfg.CookieDomain,
		auth.WithCookieSecure(cfg.CookieSecure),
		auth.WithSessionTTL(cfg.SessionTTL),
	)

	csrf := auth.NewCSRFService(cfg.CSRFSecret, cfg.CookieSecure, cfg.CookieDomain,
		auth.WithCSRFTTL(cfg.CSRFTTL),
	)

	origins := auth.NewOriginValidator(cfg.Origins())

	limiter := auth.NewRateLimiter(cfg.RateLimitWindow, map[string]int{
		auth.ActionTokenIssue:    cfg.TokenIssueLimit,
		auth.ActionTokenValidate: cfg.TokenValidateLimit,
		auth.ActionTokenRevoke:   cfg.TokenRevokeLimit,
		auth.ActionSignIn:        cfg.SignInLimit,
		auth.ActionCSRF:          cfg.CSRFLimit,
		auth.ActionGeneral:       cfg.GeneralRequestLimit,
	})

	tokens := token.NewService(
		store.Tokens(), store.Sessions(), ledger, recorder,
		cfg.SigningSecret, cfg.AuthDomain, cfg.Domains(),
		token.WithLogger(logger),
		token.WithTokenTTL(cfg.TokenTTL),
	)

	authService := auth.NewService(store.Users(), sessions, csrf, ledger, recorder,
		auth.WithLogger(logger),
	)

	if err := bootstrapUsers(cfg, authService, logger); err != nil {
		logger.Error("failed to bootstrap users", "error", err)
		os.Exit(1)
	}

	edge := gate.New(
		gate.Config{
			AuthDomain:           cfg.AuthDomain,
			AppDomain:            cfg.AppDomain,
			SignInPath:           cfg.SignInPath,
			LandingPath:          cfg.LandingPath,
			SessionLookupTimeout: cfg.SessionLookupTime,
		},
		tokens, sessions, limiter, origins, ledger, recorder,
		gate.WithLogger(logger),
	)

	server := ssohttp.NewServer(cfg.Addr(), edge, prom, ssohttp.WithLogger(logger))

	authHandler := ssohttp.NewAuthHandler(authService, tokens, origins, cfg.AppDomain, cfg.LandingPath, logger)
	authHandler.Routes(server.Router())

	monitoring := ssohttp.NewMonitoringHandler(recorder, ledger, cfg.AdminToken, cfg.IsDevelopment(), logger)
	server.Router().Get("/monitoring", monitoring.Get)
	server.Router().Post("/monitoring", monitoring.Post)

	// Background maintenance: expired rows, stale low-severity events, and
	// stale limiter windows.
	maintenanceCtx, stopMaintenance := context.WithCancel(context.Background())
	defer stopMaintenance()
	go runMaintenance(maintenanceCtx, store, ledger, limiter, cfg.EventRetention, logger)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("server started",
		"addr", cfg.Addr(),
		"auth_domain", cfg.AuthDomain,
		"app_domain", cfg.AppDomain,
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func newLogger(cfg *config.Config) *slog.Logger {
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.LogLevel),
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.LogLevel),
		})
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func bootstrapUsers(cfg *config.Config, authService *auth.Service, logger *slog.Logger) error {
	ctx := context.Background()
	for _, u := range cfg.ParseBootstrapUsers() {
		_, err := authService.CreateUser(ctx, u.Email, u.Password, u.Name)
		if err != nil {
			if ssoerrors.IsCode(err, ssoerrors.CodeAlreadyExists) {
				continue
			}
			return err
		}
		logger.Info("bootstrapped user", "email", u.Email)
	}
	return nil
}

func runMaintenance(ctx context.Context, store *file.Store, ledger *security.Ledger, limiter *auth.RateLimiter, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.Tokens().DeleteExpired(ctx); err != nil {
				logger.Warn("token cleanup failed", "error", err)
			}
			if err := store.Sessions().DeleteExpired(ctx); err != nil {
				logger.Warn("session cleanup failed", "error", err)
			}
			if count, err := ledger.ResolveStale(ctx, retention); err == nil && count > 0 {
				logger.Info("resolved stale security events", "count", count)
			}
			limiter.Prune()
		}
	}
}
