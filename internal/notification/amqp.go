package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rabbitmq/amqp091-go"
)

const (
	// Exchange is the durable topic exchange escrow events are published to.
	Exchange = "escrow_events"

	publishRetries = 3
)

// RoutingKey maps a message kind to its topic.
func RoutingKey(kind string) string {
	switch kind {
	case KindCodeIssued:
		return "escrow.code.issued"
	case KindRedeemed:
		return "escrow.redeemed"
	case KindRefunded:
		return "escrow.refunded"
	default:
		return "escrow." + strings.ReplaceAll(kind, "_", ".")
	}
}

// AMQPNotifier hands messages to the delivery service over RabbitMQ.
type AMQPNotifier struct {
	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
	logger  *slog.Logger
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewAMQPNotifier dials the broker and declares the exchange.
func NewAMQPNotifier(amqpURL string, logger *slog.Logger) (*AMQPNotifier, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}
	n := &AMQPNotifier{conn: conn, logger: logger}
	if err := n.reopen(); err != nil {
		conn.Close()
		return nil, err
	}
	return n, nil
}

// reopen replaces the channel; callers hold mu or own n exclusively.
func (n *AMQPNotifier) reopen() error {
	ch, err := n.conn.Channel()
	if err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return err
	}
	if n.channel != nil {
		n.channel.Close()
	}
	n.channel = ch
	return nil
}

// Send publishes the message as JSON, retrying with exponential backoff and
// reopening the channel between attempts.
func (n *AMQPNotifier) Send(ctx context.Context, message Message) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    message.RecordID + ":" + message.Kind,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	routingKey := RoutingKey(message.Kind)

	attempt := 0
	op := func() error {
		n.mu.Lock()
		defer n.mu.Unlock()
		attempt++
		if attempt > 1 || n.channel == nil || n.channel.IsClosed() {
			if err := n.reopen(); err != nil {
				return err
			}
		}
		return n.channel.PublishWithContext(ctx, Exchange, routingKey, false, false, publishing)
	}
	notify := func(err error, wait time.Duration) {
		n.logger.Warn("notification publish failed; retrying",
			slog.String("routing_key", routingKey),
			slog.Duration("backoff", wait),
			slog.Any("error", err))
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), publishRetries), ctx)
	return backoff.RetryNotify(op, policy, notify)
}

// Close releases the channel and connection.
func (n *AMQPNotifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.channel != nil {
		n.channel.Close()
	}
	if n.conn != nil {
		n.conn.Close()
	}
}
