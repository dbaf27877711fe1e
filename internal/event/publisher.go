// Package event publishes payment lifecycle events for downstream
// consumers (communications, reporting).
package event

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"payment-service/internal/config"
)

const (
	TypePaymentCompleted = "payment.completed"
	TypePaymentFailed    = "payment.failed"
	TypePaymentRefunded  = "payment.refunded"
)

type PaymentEvent struct {
	ID         uuid.UUID `json:"id"`
	Type       string    `json:"type"`
	PaymentID  uuid.UUID `json:"paymentId"`
	BookingID  uuid.UUID `json:"bookingId"`
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency"`
	OccurredAt time.Time `json:"occurredAt"`
}

func NewWriter(cfg config.Kafka) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.BrokerURL),
		Topic:                  cfg.PaymentEventsTopic,
		Balancer:               &kafka.ReferenceHash{},
		BatchSize:              cfg.Writer.BatchSize,
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           time.Duration(cfg.Writer.BatchTimeoutMs) * time.Millisecond,
		Async:                  false,
		AllowAutoTopicCreation: false,
	}
}

type Publisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewPublisher(writer *kafka.Writer, logger *slog.Logger) *Publisher {
	return &Publisher{writer: writer, logger: logger}
}

// Publish writes the event keyed by booking id so events for one booking
// keep their order. Publishing is best effort: a broker failure is logged
// and must not fail the payment transition that produced the event.
func (p *Publisher) Publish(ctx context.Context, e PaymentEvent) {
	if p == nil || p.writer == nil {
		return
	}

	e.ID = uuid.New()
	e.OccurredAt = time.Now().UTC()

	value, err := json.Marshal(e)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error marshalling payment event", "error", err)
		return
	}

	msg := kafka.Message{
		Key:   []byte(e.BookingID.String()),
		Value: value,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.ErrorContext(ctx, "Error publishing payment event", "type", e.Type, "paymentId", e.PaymentID, "error", err)
		return
	}

	p.logger.InfoContext(ctx, "Published payment event", "type", e.Type, "paymentId", e.PaymentID)
}
