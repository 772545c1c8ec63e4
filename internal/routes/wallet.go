package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/escrowpay/internal/wallet"
)

// RegisterWalletRoutes wires wallet-related endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler, idem fiber.Handler) {
	r.Post("/wallets", idem, h.Create)
	r.Get("/wallet", h.Me)
	r.Get("/wallets/:walletId/balance", h.Balance)
}
