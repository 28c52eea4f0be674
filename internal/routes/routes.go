package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/agentpay/internal/auth"
	"github.com/congo-pay/agentpay/internal/bootstrap"
	"github.com/congo-pay/agentpay/internal/config"
	"github.com/congo-pay/agentpay/internal/ledger"
	"github.com/congo-pay/agentpay/internal/middleware"
	"github.com/congo-pay/agentpay/internal/payments"
	"github.com/congo-pay/agentpay/internal/telemetry"
	"github.com/congo-pay/agentpay/internal/tools"
	"github.com/congo-pay/agentpay/internal/wallet"
	"github.com/congo-pay/agentpay/internal/webhook"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg        config.Config
	DB         *pgxpool.Pool
	Cache      *redis.Client
	Logger     *slog.Logger
	Components *bootstrap.Components
	Version    string
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(telemetry.Middleware())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	comps := d.Components
	mcpServer, err := tools.NewServer(comps.Payments, d.Version)
	if err != nil {
		return err
	}

	RegisterWebhookRoutes(app, webhook.NewHandler(comps.Payments, d.Cfg.WebhookSecret, d.Logger))

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Token exchange is public but throttled per client IP.
	RegisterAuthRoutes(api, auth.NewHandler(comps.Auth), middleware.RateLimit(d.Cache, "auth", 10, d.Logger))

	protected := api.Group("",
		middleware.BearerAuth(comps.Auth),
		middleware.RateLimit(d.Cache, "api", d.Cfg.APIRateLimit, d.Logger),
	)
	if d.Cache != nil {
		protected.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	paymentHandler := payments.NewHandler(comps.Payments)
	RegisterWalletRoutes(protected, paymentHandler, wallet.NewHandler(wallet.NewService(comps.Wallets)), ledger.NewHandler(comps.Ledger))
	RegisterPaymentRoutes(protected, paymentHandler)
	RegisterMCPRoutes(app, mcpServer, middleware.BearerAuth(comps.Auth))

	return nil
}
