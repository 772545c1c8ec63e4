package escrow

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/escrowpay/internal/identity"
	"github.com/congo-pay/escrowpay/internal/money"
)

// IdempotencyHeader carries the client's redemption attempt key.
const IdempotencyHeader = "Idempotency-Key"

// Handler exposes escrow HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds an escrow HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type claimantRequest struct {
	AccountID string `json:"account_id"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
}

type sendRequest struct {
	Claimant  claimantRequest `json:"claimant"`
	Amount    decimal.Decimal `json:"amount"`
	VenueHint string          `json:"venue_hint"`
	VenueOnly bool            `json:"venue_only"`
	Message   string          `json:"message"`
	Anonymous bool            `json:"anonymous"`
}

type sendResponse struct {
	RecordID  string    `json:"record_id"`
	Code      string    `json:"code"`
	Amount    string    `json:"amount"`
	ExpiresAt time.Time `json:"expires_at"`
}

type redeemRequest struct {
	Code           string `json:"code"`
	RecordID       string `json:"record_id"`
	VenueID        string `json:"venue_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

type redeemResponse struct {
	RecordID               string    `json:"record_id"`
	Amount                 string    `json:"amount"`
	Commission             string    `json:"commission"`
	NetAmount              string    `json:"net_amount"`
	Currency               string    `json:"currency"`
	Destination            string    `json:"destination"`
	DestinationDescription string    `json:"destination_description"`
	VenueID                string    `json:"venue_id,omitempty"`
	RedeemedAt             time.Time `json:"redeemed_at"`
}

type cancelRequest struct {
	RecordID string `json:"record_id"`
}

type recordResponse struct {
	ID         string     `json:"id"`
	SenderID   string     `json:"sender_id,omitempty"`
	ClaimantID string     `json:"claimant_id"`
	Amount     string     `json:"amount"`
	Currency   string     `json:"currency"`
	Code       string     `json:"code,omitempty"`
	VenueHint  string     `json:"venue_hint,omitempty"`
	VenueOnly  bool       `json:"venue_only"`
	Message    string     `json:"message,omitempty"`
	Anonymous  bool       `json:"anonymous"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	RedeemedAt *time.Time `json:"redeemed_at,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

func callerID(c *fiber.Ctx) string {
	uid, _ := c.Locals("user_id").(string)
	return uid
}

// Send places funds in escrow for a recipient and returns the code.
func (h *Handler) Send(c *fiber.Ctx) error {
	var req sendRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, http.StatusBadRequest, codeInvalidRequest, err.Error())
	}
	amount, err := money.FromDecimal(req.Amount)
	if err != nil {
		return respondError(c, http.StatusBadRequest, codeInvalidRequest, err.Error())
	}
	res, err := h.service.Send(c.UserContext(), SendInput{
		SenderID: callerID(c),
		Claimant: identity.Contact{
			AccountID: req.Claimant.AccountID,
			Phone:     req.Claimant.Phone,
			Email:     req.Claimant.Email,
		},
		Amount:    amount,
		VenueHint: req.VenueHint,
		VenueOnly: req.VenueOnly,
		Message:   req.Message,
		Anonymous: req.Anonymous,
	})
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.Status(http.StatusCreated).JSON(sendResponse{
		RecordID:  res.RecordID,
		Code:      res.Code,
		Amount:    money.Format(res.Amount),
		ExpiresAt: res.ExpiresAt,
	})
}

// Redeem claims an escrowed transfer by code or record id.
func (h *Handler) Redeem(c *fiber.Ctx) error {
	var req redeemRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, http.StatusBadRequest, codeInvalidRequest, err.Error())
	}
	key := strings.TrimSpace(c.Get(IdempotencyHeader))
	if key == "" {
		key = req.IdempotencyKey
	}
	res, err := h.service.Redeem(c.UserContext(), RedeemInput{
		ClaimantID:     callerID(c),
		Code:           req.Code,
		RecordID:       req.RecordID,
		VenueID:        req.VenueID,
		IdempotencyKey: key,
	})
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.Status(http.StatusOK).JSON(redeemResponse{
		RecordID:               res.RecordID,
		Amount:                 money.Format(res.Amount),
		Commission:             money.Format(res.Commission),
		NetAmount:              money.Format(res.NetAmount),
		Currency:               res.Currency,
		Destination:            res.Destination,
		DestinationDescription: res.DestinationDescription,
		VenueID:                res.VenueID,
		RedeemedAt:             res.RedeemedAt,
	})
}

// Cancel returns an active transfer to its sender.
func (h *Handler) Cancel(c *fiber.Ctx) error {
	var req cancelRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, http.StatusBadRequest, codeInvalidRequest, err.Error())
	}
	if req.RecordID == "" {
		return respondError(c, http.StatusBadRequest, codeInvalidRequest, "record_id is required")
	}
	rec, err := h.service.Cancel(c.UserContext(), callerID(c), req.RecordID)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.Status(http.StatusOK).JSON(toRecordResponse(rec, callerID(c)))
}

// Get returns a record visible to the caller as sender or claimant.
func (h *Handler) Get(c *fiber.Ctx) error {
	uid := callerID(c)
	rec, err := h.service.Get(c.UserContext(), c.Params("recordId"))
	if err != nil {
		return respondServiceError(c, err)
	}
	if !h.service.visibleTo(c.UserContext(), rec, uid) {
		return respondServiceError(c, ErrNotFound)
	}
	return c.Status(http.StatusOK).JSON(toRecordResponse(rec, uid))
}

// Outgoing lists transfers the caller sent.
func (h *Handler) Outgoing(c *fiber.Ctx) error {
	uid := callerID(c)
	recs, err := h.service.Outgoing(c.UserContext(), uid, c.QueryInt("limit"))
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"records": toRecordResponses(recs, uid)})
}

// Incoming lists transfers addressed to the caller.
func (h *Handler) Incoming(c *fiber.Ctx) error {
	uid := callerID(c)
	recs, err := h.service.Incoming(c.UserContext(), uid, c.QueryInt("limit"))
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"records": toRecordResponses(recs, uid)})
}

// toRecordResponse hides the code from everyone but the sender and the
// sender's identity from recipients of anonymous transfers.
func toRecordResponse(rec Record, viewer string) recordResponse {
	out := recordResponse{
		ID:         rec.ID,
		SenderID:   rec.SenderID,
		ClaimantID: rec.ClaimantID,
		Amount:     money.Format(rec.Amount),
		Currency:   rec.Currency,
		VenueHint:  rec.VenueHint,
		VenueOnly:  rec.VenueOnly,
		Message:    rec.Message,
		Anonymous:  rec.Anonymous,
		Status:     rec.Status,
		CreatedAt:  rec.CreatedAt,
		ExpiresAt:  rec.ExpiresAt,
		RedeemedAt: rec.RedeemedAt,
		ResolvedAt: rec.ResolvedAt,
	}
	if rec.SenderID == viewer {
		out.Code = rec.Code
	} else if rec.Anonymous {
		out.SenderID = ""
	}
	return out
}

func toRecordResponses(recs []Record, viewer string) []recordResponse {
	out := make([]recordResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toRecordResponse(rec, viewer))
	}
	return out
}

func respondError(c *fiber.Ctx, status int, code, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg, "code": code})
}

// StatusFor maps a service error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInsufficientFunds):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnknownVenue):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyResolved), errors.Is(err, ErrInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrExpired):
		return http.StatusGone
	case errors.Is(err, ErrVenueMismatch):
		return http.StatusForbidden
	case errors.Is(err, ErrIdempotencyConflict):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrLedgerFailure), errors.Is(err, ErrCodeGenerationExhausted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondServiceError(c *fiber.Ctx, err error) error {
	status := StatusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		// Storage details stay in the logs.
		msg = http.StatusText(status)
		if errors.Is(err, ErrCodeGenerationExhausted) || errors.Is(err, ErrLedgerFailure) {
			msg = "temporarily unavailable, retry later"
		}
	}
	return respondError(c, status, ErrorCode(err), msg)
}
