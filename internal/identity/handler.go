package identity

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// WalletProvisioner creates the wallet a newly registered user receives.
type WalletProvisioner func(ctx context.Context, userID string) (walletID string, err error)

// Handler exposes identity endpoints.
type Handler struct {
	service   *Service
	provision WalletProvisioner
	logger    *slog.Logger
}

// NewHandler constructs an identity HTTP handler. provision may be nil.
func NewHandler(service *Service, provision WalletProvisioner, logger *slog.Logger) *Handler {
	return &Handler{service: service, provision: provision, logger: logger}
}

type registerRequest struct {
	Phone       string `json:"phone"`
	PIN         string `json:"pin"`
	DeviceID    string `json:"device_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

type registerResponse struct {
	UserID       string   `json:"user_id"`
	Phone        string   `json:"phone"`
	Tier         string   `json:"tier"`
	DeviceID     string   `json:"device_id"`
	WalletID     string   `json:"wallet_id,omitempty"`
	Placeholders []string `json:"claimed_placeholders,omitempty"`
}

type profileResponse struct {
	UserID       string     `json:"user_id"`
	Phone        string     `json:"phone"`
	Email        string     `json:"email,omitempty"`
	DisplayName  string     `json:"display_name,omitempty"`
	Tier         string     `json:"tier"`
	DeviceID     string     `json:"device_id"`
	TokenVersion int        `json:"token_version"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

func callerID(c *fiber.Ctx) string {
	uid, _ := c.Locals("user_id").(string)
	return uid
}

// Register onboards a user, provisions their wallet and claims any
// placeholder that was holding codes for their phone or email.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	user, err := h.service.Register(c.UserContext(), Credentials{
		Phone:       req.Phone,
		PIN:         req.PIN,
		DeviceID:    req.DeviceID,
		Email:       req.Email,
		DisplayName: req.DisplayName,
	})
	if errors.Is(err, ErrUserExists) {
		return fiber.NewError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	resp := registerResponse{UserID: user.ID, Phone: user.Phone, Tier: user.Tier, DeviceID: user.DeviceID}
	if h.provision != nil {
		if resp.WalletID, err = h.provision(c.UserContext(), user.ID); err != nil {
			h.logger.Warn("wallet provisioning deferred to first login", slog.String("user_id", user.ID), slog.Any("error", err))
		}
	}
	claimed, err := h.service.ClaimPending(c.UserContext(), user.ID)
	if err != nil {
		h.logger.Warn("placeholder claim failed", slog.String("user_id", user.ID), slog.Any("error", err))
	}
	for _, p := range claimed {
		resp.Placeholders = append(resp.Placeholders, p.ID)
	}

	h.logger.Info("identity.register completed",
		slog.String("user_id", user.ID),
		slog.String("wallet_id", resp.WalletID),
		slog.Int("claimed_placeholders", len(claimed)),
	)
	return c.Status(http.StatusCreated).JSON(resp)
}

// Me returns the caller's profile.
func (h *Handler) Me(c *fiber.Ctx) error {
	user, err := h.service.Get(c.UserContext(), callerID(c))
	if err != nil {
		return fiber.NewError(http.StatusUnauthorized, "user not found")
	}
	return c.JSON(profileResponse{
		UserID:       user.ID,
		Phone:        user.Phone,
		Email:        user.Email,
		DisplayName:  user.DisplayName,
		Tier:         user.Tier,
		DeviceID:     user.DeviceID,
		TokenVersion: user.TokenVersion,
		CreatedAt:    user.CreatedAt,
		LastLogin:    user.LastLogin,
	})
}

type claimRequest struct {
	PlaceholderID string `json:"placeholder_id"`
}

// ClaimPlaceholders links placeholders to the caller. With a placeholder_id
// only that placeholder is claimed; otherwise every pending one matching the
// caller's contact is.
func (h *Handler) ClaimPlaceholders(c *fiber.Ctx) error {
	var req claimRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}

	var (
		claimed []User
		err     error
	)
	if req.PlaceholderID != "" {
		var u User
		u, err = h.service.ClaimPlaceholder(c.UserContext(), req.PlaceholderID, callerID(c))
		claimed = []User{u}
	} else {
		claimed, err = h.service.ClaimPending(c.UserContext(), callerID(c))
	}
	switch {
	case errors.Is(err, ErrUserNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotPlaceholder):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrPlaceholderClaimed):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrContactMismatch):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case err != nil:
		return fiber.NewError(http.StatusInternalServerError, "claim failed")
	}

	ids := make([]string, 0, len(claimed))
	for _, u := range claimed {
		ids = append(ids, u.ID)
	}
	return c.JSON(fiber.Map{"claimed": ids})
}
