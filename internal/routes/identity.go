package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/escrowpay/internal/identity"
)

// RegisterIdentityRoutes wires public registration.
func RegisterIdentityRoutes(r fiber.Router, h *identity.Handler) {
	r.Post("/identity/register", h.Register)
}

// RegisterProfileRoutes wires endpoints for the authenticated user.
func RegisterProfileRoutes(r fiber.Router, h *identity.Handler) {
	r.Get("/me", h.Me)
	r.Post("/identity/placeholders/claim", h.ClaimPlaceholders)
}
