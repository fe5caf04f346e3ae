package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/coolbits-dm/stripe-billing/internal/billing"
)

// RegisterWalletRoutes wires the internal wallet endpoints.
func RegisterWalletRoutes(r fiber.Router, h *billing.Handler) {
	r.Post("/wallet/usage", h.Usage)
	r.Post("/wallet/topup", h.TopUp)
	r.Get("/wallet/balance/:walletId", h.WalletBalance)
}
