package funding

import "github.com/shopspring/decimal"

type cardInRequest struct {
	CardNumber string          `json:"card_number"`
	Expiry     string          `json:"expiry"`
	CVV        string          `json:"cvv"`
	Amount     decimal.Decimal `json:"amount"`
	ClientTxID string          `json:"client_tx_id"`
}

type cardOutRequest struct {
	CardNumber string          `json:"card_number"`
	Amount     decimal.Decimal `json:"amount"`
	ClientTxID string          `json:"client_tx_id"`
}

type fundingResponse struct {
	TransactionID     string `json:"transaction_id"`
	Status            string `json:"status"`
	Replayed          bool   `json:"replayed,omitempty"`
	Available         string `json:"available"`
	AcquirerReference string `json:"acquirer_reference,omitempty"`
}
