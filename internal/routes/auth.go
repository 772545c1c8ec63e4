package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/escrowpay/internal/auth"
)

// RegisterAuthRoutes wires authentication endpoints. logout sits behind the
// auth middleware.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler, loginLimiter, authRequired fiber.Handler) {
	group := r.Group("/auth")
	group.Post("/login", loginLimiter, h.Login)
	group.Post("/refresh", h.Refresh)
	group.Post("/logout", authRequired, h.Logout)
}
