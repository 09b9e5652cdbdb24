package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	exchangeName = "labdesk.events"
	exchangeType = "topic"

	EventLoanCreated       = "loan.created"
	EventLoanReturned      = "loan.returned"
	EventPaymentCreated    = "payment.created"
	EventPaymentPaid       = "payment.paid"
	EventPaymentReconciled = "payment.reconciled"

	maxRetries     = 3
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 2 * time.Second
	confirmTimeout = 5 * time.Second
	confirmBuffer  = 16
)

var (
	errConfirmTimeout = errors.New("confirmation timeout")
	errChannelClosed  = errors.New("publisher channel closed")
)

// Publisher sends domain events after the corresponding change committed.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload map[string]interface{}) error
}

type Event struct {
	EventID      string                 `json:"event_id"`
	EventType    string                 `json:"event_type"`
	EventVersion string                 `json:"event_version"`
	Timestamp    string                 `json:"timestamp"`
	Payload      map[string]interface{} `json:"payload"`
}

func NewEvent(eventType string, payload map[string]interface{}) Event {
	return Event{
		EventID:      uuid.New().String(),
		EventType:    eventType,
		EventVersion: "1.0.0",
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		Payload:      payload,
	}
}

// NopPublisher drops events; used when RABBITMQ_URL is empty.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, map[string]interface{}) error { return nil }

// AMQPPublisher publishes to a durable topic exchange with publisher
// confirms. The event type is the routing key.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	confirms chan amqp.Confirmation
	log      *zap.Logger
}

func NewAMQPPublisher(url string, log *zap.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := channel.ExchangeDeclare(
		exchangeName,
		exchangeType,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	if err := channel.Confirm(false); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	log.Info("Connected to RabbitMQ", zap.String("exchange", exchangeName))

	return &AMQPPublisher{
		conn:     conn,
		channel:  channel,
		confirms: channel.NotifyPublish(make(chan amqp.Confirmation, confirmBuffer)),
		log:      log,
	}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, eventType string, payload map[string]interface{}) error {
	return p.publishWithRetry(ctx, NewEvent(eventType, payload))
}

func (p *AMQPPublisher) publishWithRetry(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// One publish in flight at a time; confirmations are matched by tag.
	p.mu.Lock()
	defer p.mu.Unlock()

	backoff := initialBackoff
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
		}

		tag := p.channel.GetNextPublishSeqNo()
		err := p.channel.PublishWithContext(
			ctx,
			exchangeName,
			event.EventType,
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Timestamp:    time.Now(),
				MessageId:    event.EventID,
				Body:         body,
				Headers: amqp.Table{
					"event_type":    event.EventType,
					"event_version": event.EventVersion,
				},
			},
		)
		if err != nil {
			lastErr = err
			p.log.Warn("Failed to publish event, retrying",
				zap.Int("attempt", attempt+1),
				zap.String("event_type", event.EventType),
				zap.Error(err),
			)
			continue
		}

		ack, err := awaitConfirm(ctx, p.confirms, tag, confirmTimeout)
		switch {
		case errors.Is(err, errConfirmTimeout):
			lastErr = err
		case err != nil:
			return err
		case ack:
			p.log.Debug("Event published",
				zap.String("event_id", event.EventID),
				zap.String("event_type", event.EventType),
			)
			return nil
		default:
			lastErr = fmt.Errorf("event not acknowledged")
		}
	}

	return fmt.Errorf("failed to publish event after %d attempts: %w", maxRetries, lastErr)
}

// awaitConfirm waits for the confirmation carrying tag. Confirmations of
// earlier publishes that arrived after their wait timed out are skipped.
func awaitConfirm(ctx context.Context, confirms <-chan amqp.Confirmation, tag uint64, timeout time.Duration) (bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case confirm, ok := <-confirms:
			if !ok {
				return false, errChannelClosed
			}
			if confirm.DeliveryTag < tag {
				continue
			}
			return confirm.Ack, nil
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
			return false, errConfirmTimeout
		}
	}
}

func (p *AMQPPublisher) IsHealthy() bool {
	return p.conn != nil && !p.conn.IsClosed()
}

func (p *AMQPPublisher) Close() error {
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.log.Error("Failed to close channel", zap.Error(err))
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			return err
		}
	}
	p.log.Info("Publisher closed")
	return nil
}
