package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/escrowpay/internal/escrow"
	"github.com/congo-pay/escrowpay/internal/venue"
)

// RegisterEscrowRoutes wires the escrow send/redeem/cancel surface. Redeem
// carries its own durable idempotency and is rate limited per user instead
// of going through the response cache.
func RegisterEscrowRoutes(r fiber.Router, h *escrow.Handler, idem, redeemLimiter fiber.Handler) {
	group := r.Group("/escrow")
	group.Post("/send", idem, h.Send)
	group.Post("/redeem", redeemLimiter, h.Redeem)
	group.Post("/cancel", idem, h.Cancel)
	group.Get("/outgoing", h.Outgoing)
	group.Get("/incoming", h.Incoming)
	group.Get("/records/:recordId", h.Get)
}

// RegisterVenueRoutes wires venue registration and lookup.
func RegisterVenueRoutes(r fiber.Router, h *venue.Handler, idem fiber.Handler) {
	r.Post("/venues", idem, h.Register)
	r.Get("/venues/:venueId", h.Get)
}
