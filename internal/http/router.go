// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - The payment webhook is exempt from rate limiting: the gateway's retry
//     schedule is not ours to throttle, and its deliveries are already
//     authenticated by signature.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/averos/go-chatpay-backend/internal/cache"
	"github.com/averos/go-chatpay-backend/internal/config"
	"github.com/averos/go-chatpay-backend/internal/gateway"
	"github.com/averos/go-chatpay-backend/internal/http/handlers"
	"github.com/averos/go-chatpay-backend/internal/http/middleware"
	"github.com/averos/go-chatpay-backend/internal/provider"
	"github.com/averos/go-chatpay-backend/internal/repo"
	"github.com/averos/go-chatpay-backend/internal/services"
)

// Deps carries the externally constructed dependencies for route wiring.
type Deps struct {
	DB    *gorm.DB
	Cache *cache.Cache
	// Provider completes chat turns; nil selects the configured HTTP client.
	Provider provider.Completer
	// Orders registers gateway orders; nil selects LocalOrders or the
	// configured HTTP client depending on cfg.Gateway.BaseURL.
	Orders gateway.OrderCreator
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), idempotency and rate
// limiting, CORS and security headers, health and metrics endpoints, and then
// mounts the versioned public API under /api/v*.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with secret scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Idempotency validator (before rate limiter to allow bypass on replay)
//  8. Rate limiter (per session/IP, bypass on replay and on the webhook path)
//  9. CORS and Security headers
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction (signature header is masked by default)
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, sessionID, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, deps.DB, sessionID, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))

	// 8) Token-bucket rate limiter per session/IP. The webhook path is exempt:
	// throttling the gateway's retries would only delay state convergence.
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyBySessionOrIP())
	webhookPath := joinPath(cfg.APIBasePath, "/payments/webhook")
	limit := rl.Handler()
	r.Use(func(c *gin.Context) {
		if c.FullPath() == webhookPath {
			c.Next()
			return
		}
		limit(c)
	})

	// 9) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health: report component reachability without failing liveness
	// for a degraded cache.
	r.GET("/health", healthHandler(deps.DB, deps.Cache))

	// Dependency injection: services ← repo/db/cache/clients
	completer := deps.Provider
	if completer == nil {
		completer = provider.New(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Provider.Model, cfg.Provider.Timeout)
	}
	orders := deps.Orders
	if orders == nil {
		if cfg.Gateway.BaseURL != "" {
			orders = gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.KeyID, cfg.Gateway.KeySecret, 15*time.Second)
		} else {
			orders = gateway.LocalOrders{}
		}
	}

	sessionSvc := services.NewSessionService(deps.DB, deps.Cache, cfg.SessionTTL)
	chatSvc := &services.ChatService{
		DB:              deps.DB,
		Sessions:        sessionSvc,
		Provider:        completer,
		MaxMessageRunes: cfg.MaxMessageRunes,
	}
	paySvc := &services.PaymentService{
		DB:            deps.DB,
		WebhookSecret: cfg.Gateway.WebhookSecret,
		Gateway:       orders,
		Cache:         deps.Cache,
	}
	walletSvc := &services.WalletService{DB: deps.DB, Payments: paySvc}
	h := handlers.New(sessionSvc, chatSvc, paySvc, walletSvc, handlers.Options{
		MaxMessageRunes: cfg.MaxMessageRunes,
		History:         chatSvc,
		IdempotencyTTL:  cfg.IdempotencyTTL,
	})

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Sessions
		api.POST("/sessions", h.CreateSession)
		api.GET("/sessions/:id", h.GetSession)
		api.DELETE("/sessions/:id", h.DeleteSession)

		// Messages
		api.GET("/sessions/:id/messages", h.ListMessages)
		api.POST("/sessions/:id/messages", h.PostMessage)

		// Payments
		api.POST("/payments/orders", h.CreateOrder)
		api.GET("/payments/:order_id", h.GetPayment)
		api.POST("/payments/webhook", h.HandleWebhook)

		// Wallet
		api.GET("/wallet/:wallet_id", h.GetWallet)
		api.GET("/wallet/:wallet_id/transactions", h.GetWalletTransactions)
		api.POST("/wallet/:wallet_id/add", h.AddMoney)
	}
}

// healthHandler reports liveness plus per-component status. The database is
// load-bearing; a cache outage degrades performance but not correctness, so it
// never fails the check.
func healthHandler(db *gorm.DB, c *cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		status := http.StatusOK
		dbStatus := "ok"
		if db != nil {
			if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(ctx.Request.Context()) != nil {
				dbStatus = "down"
				status = http.StatusServiceUnavailable
			}
		}
		cacheStatus := "disabled"
		if c.Enabled() {
			cacheStatus = "ok"
			if err := c.Ping(ctx.Request.Context()); err != nil {
				cacheStatus = "down"
			}
		}
		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}
		ctx.JSON(status, gin.H{
			"status": overall,
			"db":     dbStatus,
			"cache":  cacheStatus,
		})
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

// joinPath concatenates the API base path and a route suffix the way Gin
// registers them, treating "/" (or empty) as root.
func joinPath(base, suffix string) string {
	if base == "" || base == "/" {
		return suffix
	}
	return base + suffix
}
