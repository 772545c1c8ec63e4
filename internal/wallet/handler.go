package wallet

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/escrowpay/internal/money"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	Currency string `json:"currency"`
}

type walletResponse struct {
	ID          string `json:"id"`
	OwnerID     string `json:"owner_id"`
	AccountCode string `json:"account_code"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
}

type balanceResponse struct {
	WalletID  string    `json:"wallet_id"`
	Currency  string    `json:"currency"`
	Available string    `json:"available"`
	Escrow    string    `json:"escrow"`
	Payout    string    `json:"payout"`
	AsOf      time.Time `json:"as_of"`
}

func callerID(c *fiber.Ctx) string {
	uid, _ := c.Locals("user_id").(string)
	return uid
}

// Create provisions a wallet for the authenticated owner.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	wallet, err := h.service.Create(c.UserContext(), CreateInput{OwnerID: callerID(c), Currency: req.Currency})
	if errors.Is(err, ErrWalletExists) {
		return fiber.NewError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return c.Status(http.StatusCreated).JSON(walletResponse{
		ID:          wallet.ID,
		OwnerID:     wallet.OwnerID,
		AccountCode: wallet.AccountCode,
		Currency:    wallet.Currency,
		Status:      wallet.Status,
	})
}

// Me returns the caller's wallet with its balances.
func (h *Handler) Me(c *fiber.Ctx) error {
	w, err := h.service.GetByOwner(c.UserContext(), callerID(c))
	if err != nil {
		return fiber.NewError(http.StatusNotFound, err.Error())
	}
	return h.respondBalance(c, w)
}

// Balance returns the balances of a wallet owned by the caller.
func (h *Handler) Balance(c *fiber.Ctx) error {
	w, err := h.service.Get(c.UserContext(), c.Params("walletId"))
	if err != nil || w.OwnerID != callerID(c) {
		return fiber.NewError(http.StatusNotFound, ErrWalletNotFound.Error())
	}
	return h.respondBalance(c, w)
}

func (h *Handler) respondBalance(c *fiber.Ctx, w Wallet) error {
	bal, err := h.service.balanceOf(c.UserContext(), w)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, "balance unavailable")
	}
	return c.Status(http.StatusOK).JSON(balanceResponse{
		WalletID:  w.ID,
		Currency:  w.Currency,
		Available: money.Format(bal.Available),
		Escrow:    money.Format(bal.Escrow),
		Payout:    money.Format(bal.Payout),
		AsOf:      bal.AsOf,
	})
}
