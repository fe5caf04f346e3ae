package billing

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/coolbits-dm/stripe-billing/internal/ledger"
	"github.com/coolbits-dm/stripe-billing/internal/stripe"
)

const stripeSignatureHeader = "Stripe-Signature"

// Handler exposes the billing HTTP endpoints.
type Handler struct {
	service  *Service
	verifier *stripe.Verifier
}

// NewHandler constructs a billing handler.
func NewHandler(service *Service, verifier *stripe.Verifier) *Handler {
	return &Handler{service: service, verifier: verifier}
}

type usageRequest struct {
	WalletID string          `json:"wallet_id"`
	Amount   decimal.Decimal `json:"amount_credits"`
	Reason   string          `json:"reason"`
	Meta     map[string]any  `json:"meta"`
}

type topUpRequest struct {
	WalletID string          `json:"wallet_id"`
	Amount   decimal.Decimal `json:"amount_credits"`
	Reason   string          `json:"reason"`
	Meta     map[string]any  `json:"meta"`
}

// Webhook verifies and routes an inbound Stripe delivery.
func (h *Handler) Webhook(c *fiber.Ctx) error {
	event, err := h.verifier.VerifyAndParse(c.Body(), c.Get(stripeSignatureHeader))
	if err != nil {
		return fiber.NewError(http.StatusUnauthorized, err.Error())
	}

	outcome, err := h.service.HandleStripeEvent(c.UserContext(), event)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, "billing error")
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{"ok": true, "result": outcomeResponse(outcome)})
}

// Usage records an internal usage charge against a wallet.
func (h *Handler) Usage(c *fiber.Ctx) error {
	var req usageRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	entryID, err := h.service.RecordUsage(c.UserContext(), UsageInput{
		WalletID: req.WalletID,
		Amount:   req.Amount,
		Reason:   req.Reason,
		Metadata: req.Meta,
	})
	if err != nil {
		if errors.Is(err, ErrValidation) {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, "failed to write usage event")
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{"ok": true, "entry_id": entryID.String()})
}

// TopUp records a manual credit outside the webhook flow.
func (h *Handler) TopUp(c *fiber.Ctx) error {
	var req topUpRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	entryID, err := h.service.RecordTopUp(c.UserContext(), TopUpInput{
		WalletID: req.WalletID,
		Amount:   req.Amount,
		Reason:   req.Reason,
		Metadata: req.Meta,
	})
	if err != nil {
		if errors.Is(err, ErrValidation) {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, "top-up error")
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{"ok": true, "entry_id": entryID.String()})
}

// WalletBalance returns the current credit balance for a wallet. A ledger
// read failure maps to 503 so callers can tell it from an empty wallet.
func (h *Handler) WalletBalance(c *fiber.Ctx) error {
	walletID := c.Params("walletId")

	balance, err := h.service.Balance(c.UserContext(), walletID)
	if err != nil {
		if errors.Is(err, ledger.ErrPersistence) {
			return fiber.NewError(http.StatusServiceUnavailable, "ledger unavailable")
		}
		return fiber.NewError(http.StatusInternalServerError, "balance error")
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{
		"wallet_id":   walletID,
		"balance_cbT": balance,
	})
}

func outcomeResponse(outcome Outcome) fiber.Map {
	if outcome.Status == StatusIgnored {
		return fiber.Map{"status": StatusIgnored, "type": outcome.IgnoredType}
	}
	return fiber.Map{
		"status":         outcome.Status,
		"wallet_id":      outcome.WalletID,
		"amount_credits": outcome.Credits,
		"amount_eur":     outcome.AmountMajor,
	}
}
