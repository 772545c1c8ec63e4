package notification

import (
	"context"
	"log/slog"

	"github.com/congo-pay/escrowpay/internal/money"
)

const (
	// KindCodeIssued tells a recipient that money is waiting for them.
	KindCodeIssued = "escrow_code_issued"
	// KindRedeemed tells a sender that their transfer was redeemed.
	KindRedeemed = "escrow_redeemed"
	// KindRefunded tells a sender that an unredeemed transfer came back.
	KindRefunded = "escrow_refunded"
)

// Message describes a notification payload.
type Message struct {
	Kind        string `json:"kind"`
	RecordID    string `json:"record_id"`
	Destination string `json:"destination"`
	Code        string `json:"code,omitempty"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency,omitempty"`
	SenderName  string `json:"sender_name,omitempty"`
	Body        string `json:"body,omitempty"`
	VenueName   string `json:"venue_name,omitempty"`
}

// Notifier delivers notifications to downstream systems. Delivery is best
// effort; a returned error only means the attempt failed.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger. The redemption code is
// never logged.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		slog.String("kind", message.Kind),
		slog.String("record_id", message.RecordID),
		slog.String("destination", message.Destination),
		slog.String("amount", money.Format(message.Amount)),
		slog.String("sender", message.SenderName),
		slog.String("venue", message.VenueName),
	)
	return nil
}
