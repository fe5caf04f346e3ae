package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/coolbits-dm/stripe-billing/internal/billing"
)

// RegisterWebhookRoutes wires the payment-processor webhook endpoint.
func RegisterWebhookRoutes(app *fiber.App, h *billing.Handler) {
	app.Post("/webhook/stripe", h.Webhook)
}
