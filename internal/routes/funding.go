package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/escrowpay/internal/funding"
)

// RegisterFundingRoutes wires card funding/withdrawal endpoints.
func RegisterFundingRoutes(r fiber.Router, h *funding.Handler, idem fiber.Handler) {
	r.Post("/wallets/:walletId/fund/card", idem, h.CardIn)
	r.Post("/wallets/:walletId/withdraw/card", idem, h.CardOut)
}
