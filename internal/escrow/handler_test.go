package escrow

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(h *harness) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", c.Get("X-Test-User"))
		return c.Next()
	})
	handler := NewHandler(h.svc)
	app.Post("/escrow/send", handler.Send)
	app.Post("/escrow/redeem", handler.Redeem)
	app.Post("/escrow/cancel", handler.Cancel)
	app.Get("/escrow/records/:recordId", handler.Get)
	app.Get("/escrow/outgoing", handler.Outgoing)
	app.Get("/escrow/incoming", handler.Incoming)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path, user string, body any, headers map[string]string) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", user)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestHandlerSendRedeemFlow(t *testing.T) {
	h := newHarness(t)
	app := newTestApp(h)
	sender := h.user(t, "+242060000001", 10_000)
	claimant := h.user(t, "+242060000002", 0)

	status, body := doJSON(t, app, http.MethodPost, "/escrow/send", sender.ID, map[string]any{
		"claimant":  map[string]string{"phone": claimant.Phone},
		"amount":    "40.00",
		"anonymous": true,
	}, nil)
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "40.00", body["amount"])
	code, _ := body["code"].(string)
	recordID, _ := body["record_id"].(string)
	require.True(t, ValidCode(code))

	status, body = doJSON(t, app, http.MethodGet, "/escrow/records/"+recordID, claimant.ID, nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.NotContains(t, body, "code", "code is only shown to the sender")
	assert.NotContains(t, body, "sender_id", "anonymous sender is hidden")

	status, body = doJSON(t, app, http.MethodGet, "/escrow/records/"+recordID, sender.ID, nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, code, body["code"])

	stranger := h.user(t, "+242060000003", 0)
	status, _ = doJSON(t, app, http.MethodGet, "/escrow/records/"+recordID, stranger.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = doJSON(t, app, http.MethodPost, "/escrow/redeem", claimant.ID,
		map[string]string{"code": code}, map[string]string{IdempotencyHeader: "attempt-1"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "40.00", body["net_amount"])
	assert.Equal(t, DestinationWallet, body["destination"])

	status, body = doJSON(t, app, http.MethodPost, "/escrow/redeem", claimant.ID,
		map[string]string{"code": code, "idempotency_key": "attempt-2"}, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, codeAlreadyRedeemed, body["code"])

	status, body = doJSON(t, app, http.MethodGet, "/escrow/outgoing", sender.ID, nil, nil)
	require.Equal(t, http.StatusOK, status)
	records, _ := body["records"].([]any)
	assert.Len(t, records, 1)

	status, body = doJSON(t, app, http.MethodGet, "/escrow/incoming", claimant.ID, nil, nil)
	require.Equal(t, http.StatusOK, status)
	records, _ = body["records"].([]any)
	assert.Len(t, records, 1)
}

func TestHandlerErrorMapping(t *testing.T) {
	h := newHarness(t)
	app := newTestApp(h)
	sender := h.user(t, "+242060000001", 1_000)
	claimant := h.user(t, "+242060000002", 0)

	status, body := doJSON(t, app, http.MethodPost, "/escrow/send", sender.ID, map[string]any{
		"claimant": map[string]string{"phone": claimant.Phone},
		"amount":   "0.001",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, codeInvalidRequest, body["code"])

	status, body = doJSON(t, app, http.MethodPost, "/escrow/send", sender.ID, map[string]any{
		"claimant": map[string]string{"phone": claimant.Phone},
		"amount":   500,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, codeInsufficient, body["code"])

	status, body = doJSON(t, app, http.MethodPost, "/escrow/redeem", claimant.ID,
		map[string]string{"code": "ABCDEFGH"}, map[string]string{IdempotencyHeader: "k"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, codeNotFound, body["code"])

	sent := h.send(t, sender, claimant.Phone, 500)
	h.clock.Advance(DefaultTTL + time.Second)
	status, body = doJSON(t, app, http.MethodPost, "/escrow/redeem", claimant.ID,
		map[string]string{"code": sent.Code}, map[string]string{IdempotencyHeader: "late"})
	assert.Equal(t, http.StatusGone, status)
	assert.Equal(t, codeExpired, body["code"])

	status, _ = doJSON(t, app, http.MethodPost, "/escrow/cancel", sender.ID, map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		ErrInvalidRequest:          http.StatusBadRequest,
		ErrInsufficientFunds:       http.StatusBadRequest,
		ErrNotFound:                http.StatusNotFound,
		ErrUnknownVenue:            http.StatusNotFound,
		ErrAlreadyRedeemed:         http.StatusConflict,
		ErrNoLongerValid:           http.StatusConflict,
		ErrInProgress:              http.StatusConflict,
		ErrExpired:                 http.StatusGone,
		ErrVenueMismatch:           http.StatusForbidden,
		ErrIdempotencyConflict:     http.StatusUnprocessableEntity,
		ErrLedgerFailure:           http.StatusServiceUnavailable,
		ErrCodeGenerationExhausted: http.StatusServiceUnavailable,
		assert.AnError:             http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, StatusFor(err), err.Error())
	}
}
