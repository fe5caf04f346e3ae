package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/coolbits-dm/stripe-billing/internal/billing"
	"github.com/coolbits-dm/stripe-billing/internal/config"
	"github.com/coolbits-dm/stripe-billing/internal/events"
	"github.com/coolbits-dm/stripe-billing/internal/ledger"
	"github.com/coolbits-dm/stripe-billing/internal/middleware"
	"github.com/coolbits-dm/stripe-billing/internal/stripe"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though config also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	var store ledger.Store
	if d.DB != nil {
		pgStore := ledger.NewPostgresStore(d.DB)
		if err := pgStore.EnsureSchema(context.Background()); err != nil {
			return err
		}
		store = pgStore
	} else {
		store = ledger.NewInMemory()
	}

	var publisher events.Publisher
	if len(d.Cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(d.Cfg.KafkaBrokers, d.Cfg.KafkaTopic)
	} else {
		publisher = events.NewLogPublisher(d.Logger)
	}

	verifier := stripe.NewVerifier(d.Cfg.StripeWebhookSecret)
	billingSvc := billing.NewService(store, publisher, d.Logger)
	billingHandler := billing.NewHandler(billingSvc, verifier)

	// The webhook route stays outside the idempotency guard: processor
	// redeliveries are part of the observed, non-deduplicated baseline.
	RegisterWebhookRoutes(app, billingHandler)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
	if d.Cache != nil {
		api.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	RegisterWalletRoutes(api, billingHandler)

	return nil
}
