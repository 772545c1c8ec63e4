package venue

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes venue registration and lookup.
type Handler struct {
	service *Service
}

// NewHandler builds a venue HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type registerRequest struct {
	Name          string `json:"name"`
	CommissionBps int    `json:"commission_bps"`
}

type venueResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	WalletID      string `json:"wallet_id"`
	CommissionBps int    `json:"commission_bps"`
}

func toResponse(v Venue) venueResponse {
	return venueResponse{ID: v.ID, Name: v.Name, WalletID: v.WalletID, CommissionBps: v.CommissionBps}
}

// Register creates a venue.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	v, err := h.service.Register(c.UserContext(), RegisterInput{Name: req.Name, CommissionBps: req.CommissionBps})
	if errors.Is(err, ErrInvalidVenue) || errors.Is(err, ErrInvalidCommission) {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, "venue registration failed")
	}
	return c.Status(http.StatusCreated).JSON(toResponse(v))
}

// Get returns a venue by id.
func (h *Handler) Get(c *fiber.Ctx) error {
	v, err := h.service.Get(c.UserContext(), c.Params("venueId"))
	if err != nil {
		return fiber.NewError(http.StatusNotFound, ErrVenueNotFound.Error())
	}
	return c.JSON(toResponse(v))
}
