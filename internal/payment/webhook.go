package payment

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/stripe/stripe-go/v81"

	"payment-service/internal/db"
	"payment-service/internal/event"
)

var (
	webhookCompletedCounter = metrics.GetOrCreateCounter(`payment_webhook_events_total{result="completed"}`)
	webhookFailedCounter    = metrics.GetOrCreateCounter(`payment_webhook_events_total{result="failed"}`)
	webhookRefundedCounter  = metrics.GetOrCreateCounter(`payment_webhook_events_total{result="refunded"}`)
	webhookUnmatchedCounter = metrics.GetOrCreateCounter(`payment_webhook_events_total{result="unmatched"}`)
	webhookIgnoredCounter   = metrics.GetOrCreateCounter(`payment_webhook_events_total{result="ignored"}`)
	webhookErrorCounter     = metrics.GetOrCreateCounter(`payment_webhook_events_total{result="error"}`)
)

// WebhookProcessor applies verified provider events to local state. The
// provider redelivers events, so every transition here is a conditional
// write that no-ops once the row has left the source state.
type WebhookProcessor struct {
	payments  PaymentStore
	projector *Projector
	publisher EventPublisher
	logger    *slog.Logger
}

func NewWebhookProcessor(payments PaymentStore, projector *Projector, publisher EventPublisher, logger *slog.Logger) *WebhookProcessor {
	return &WebhookProcessor{payments: payments, projector: projector, publisher: publisher, logger: logger}
}

func (w *WebhookProcessor) Process(ctx context.Context, ev stripe.Event) error {
	w.logger.InfoContext(ctx, "Processing webhook event", "eventId", ev.ID, "type", ev.Type)

	var err error
	switch ev.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		err = w.handleIntentSucceeded(ctx, ev)
	case stripe.EventTypePaymentIntentPaymentFailed:
		err = w.handleIntentFailed(ctx, ev)
	case stripe.EventTypeRefundCreated:
		err = w.handleRefundCreated(ctx, ev)
	default:
		w.logger.InfoContext(ctx, "Ignoring webhook event type", "type", ev.Type)
		webhookIgnoredCounter.Inc()
		return nil
	}

	if err != nil {
		webhookErrorCounter.Inc()
	}
	return err
}

func (w *WebhookProcessor) handleIntentSucceeded(ctx context.Context, ev stripe.Event) error {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
		return err
	}
	return w.SettleSucceeded(ctx, pi.ID)
}

// SettleSucceeded is shared by the webhook path and the reconciler: both
// observe provider success and converge the local pair to
// completed/confirmed.
func (w *WebhookProcessor) SettleSucceeded(ctx context.Context, providerRef string) error {
	p, found, err := w.findByRef(ctx, providerRef)
	if err != nil || !found {
		return err
	}

	bookingID, transitioned, err := w.payments.MarkCompleted(ctx, providerRef, time.Now())
	if err != nil {
		return err
	}
	if !transitioned {
		w.logger.InfoContext(ctx, "Payment already settled, skipping", "intentId", providerRef)
		return nil
	}

	if err := w.projector.OnPaymentCompleted(ctx, bookingID); err != nil {
		return err
	}
	w.publisher.Publish(ctx, event.PaymentEvent{
		Type:      event.TypePaymentCompleted,
		PaymentID: p.ID,
		BookingID: bookingID,
		Amount:    p.Amount,
		Currency:  p.Currency,
	})
	webhookCompletedCounter.Inc()
	return nil
}

func (w *WebhookProcessor) handleIntentFailed(ctx context.Context, ev stripe.Event) error {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
		return err
	}
	return w.SettleFailed(ctx, pi.ID)
}

// SettleFailed marks the payment failed. The booking stays pending so
// the parent can try again with a fresh intent.
func (w *WebhookProcessor) SettleFailed(ctx context.Context, providerRef string) error {
	p, found, err := w.findByRef(ctx, providerRef)
	if err != nil || !found {
		return err
	}

	transitioned, err := w.payments.MarkFailed(ctx, providerRef)
	if err != nil {
		return err
	}
	if !transitioned {
		return nil
	}

	w.publisher.Publish(ctx, event.PaymentEvent{
		Type:      event.TypePaymentFailed,
		PaymentID: p.ID,
		BookingID: p.BookingID,
		Amount:    p.Amount,
		Currency:  p.Currency,
	})
	webhookFailedCounter.Inc()
	return nil
}

func (w *WebhookProcessor) handleRefundCreated(ctx context.Context, ev stripe.Event) error {
	var refund stripe.Refund
	if err := json.Unmarshal(ev.Data.Raw, &refund); err != nil {
		return err
	}
	if refund.PaymentIntent == nil {
		w.logger.WarnContext(ctx, "Refund event without originating intent", "eventId", ev.ID)
		webhookUnmatchedCounter.Inc()
		return nil
	}

	providerRef := refund.PaymentIntent.ID
	p, found, err := w.findByRef(ctx, providerRef)
	if err != nil || !found {
		return err
	}

	bookingID, transitioned, err := w.payments.MarkRefunded(ctx, providerRef, time.Now())
	if err != nil {
		return err
	}
	if !transitioned {
		return nil
	}

	if err := w.projector.OnPaymentRefunded(ctx, bookingID); err != nil {
		return err
	}
	w.publisher.Publish(ctx, event.PaymentEvent{
		Type:      event.TypePaymentRefunded,
		PaymentID: p.ID,
		BookingID: bookingID,
		Amount:    p.Amount,
		Currency:  p.Currency,
	})
	webhookRefundedCounter.Inc()
	return nil
}

// findByRef looks up the active payment for a provider reference. A
// missing row is not an error: the provider retries on non-2xx and a
// retry cannot make the row appear.
func (w *WebhookProcessor) findByRef(ctx context.Context, providerRef string) (*db.PaymentEntity, bool, error) {
	p, err := w.payments.GetActiveByProviderRef(ctx, providerRef)
	if errors.Is(err, pgx.ErrNoRows) {
		w.logger.WarnContext(ctx, "No active payment for provider reference", "intentId", providerRef)
		webhookUnmatchedCounter.Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}
