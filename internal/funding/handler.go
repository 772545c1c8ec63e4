package funding

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/escrowpay/internal/ledger"
	"github.com/congo-pay/escrowpay/internal/money"
	"github.com/congo-pay/escrowpay/internal/wallet"
)

// Handler exposes HTTP endpoints for card funding flows.
type Handler struct {
	service *Service
}

// NewHandler constructs a funding handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func callerID(c *fiber.Ctx) string {
	uid, _ := c.Locals("user_id").(string)
	return uid
}

// CardIn processes wallet top-ups funded by cards.
func (h *Handler) CardIn(c *fiber.Ctx) error {
	var req cardInRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := money.FromDecimal(req.Amount)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	result, err := h.service.CardIn(c.UserContext(), CardInInput{
		OwnerID:    callerID(c),
		WalletID:   c.Params("walletId"),
		Amount:     amount,
		ClientTxID: req.ClientTxID,
		CardNumber: req.CardNumber,
		Expiry:     req.Expiry,
		CVV:        req.CVV,
	})
	if err != nil {
		return mapError(err)
	}
	return respond(c, result)
}

// CardOut processes wallet withdrawals to cards.
func (h *Handler) CardOut(c *fiber.Ctx) error {
	var req cardOutRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := money.FromDecimal(req.Amount)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	result, err := h.service.CardOut(c.UserContext(), CardOutInput{
		OwnerID:    callerID(c),
		WalletID:   c.Params("walletId"),
		Amount:     amount,
		ClientTxID: req.ClientTxID,
		CardNumber: req.CardNumber,
	})
	if err != nil {
		return mapError(err)
	}
	return respond(c, result)
}

func respond(c *fiber.Ctx, result Result) error {
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	return c.Status(status).JSON(fundingResponse{
		TransactionID:     result.TransactionID,
		Status:            result.Status,
		Replayed:          result.Replayed,
		Available:         money.Format(result.Available),
		AcquirerReference: result.AcquirerReference,
	})
}

func mapError(err error) error {
	switch {
	case errors.Is(err, wallet.ErrWalletNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDeclined):
		return fiber.NewError(http.StatusPaymentRequired, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidCard):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	default:
		return fiber.NewError(http.StatusServiceUnavailable, "funding temporarily unavailable")
	}
}
