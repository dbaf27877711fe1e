package payment

import (
	"context"
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"

	"payment-service/internal/config"
	"payment-service/internal/logcontext"
)

var (
	reconcilerErrorFetchingCounter = metrics.GetOrCreateCounter(`payment_reconciler_total{result="fetching_failed"}`)
	reconcilerSuccessCounter       = metrics.GetOrCreateCounter(`payment_reconciler_total{result="success"}`)

	reconcilerSweepDurationHistogram = metrics.GetOrCreateHistogram(`payment_reconciler_duration_milliseconds`)

	reconcilerSettledCounter   = metrics.GetOrCreateCounter(`payment_reconciler_payments_total{result="settled"}`)
	reconcilerFailedCounter    = metrics.GetOrCreateCounter(`payment_reconciler_payments_total{result="failed"}`)
	reconcilerStillOpenCounter = metrics.GetOrCreateCounter(`payment_reconciler_payments_total{result="still_open"}`)
	reconcilerLookupErrCounter = metrics.GetOrCreateCounter(`payment_reconciler_payments_total{result="lookup_failed"}`)
)

// Reconciler periodically re-reads open provider intents for stale
// pending payments and converges the local rows to provider truth. It
// covers the gap where a webhook was lost or the payment row was written
// after a success notification had already been delivered.
type Reconciler struct {
	payments        PaymentStore
	gateway         Gateway
	webhooks        *WebhookProcessor
	pollingInterval time.Duration
	staleAfter      time.Duration
	fetchSize       int
	logger          *slog.Logger
}

func NewReconciler(payments PaymentStore, gw Gateway, webhooks *WebhookProcessor, cfg config.Reconciler, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		payments:        payments,
		gateway:         gw,
		webhooks:        webhooks,
		pollingInterval: time.Duration(cfg.PollingIntervalMs) * time.Millisecond,
		staleAfter:      time.Duration(cfg.StaleAfterMs) * time.Millisecond,
		fetchSize:       cfg.FetchSize,
		logger:          logger,
	}
}

func (r *Reconciler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.pollingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.Sweep(ctx)
			case <-ctx.Done():
				r.logger.InfoContext(ctx, "Context done, stopping reconciler")
				return
			}
		}
	}()
}

// Sweep runs a single reconciliation pass. Start calls it on the
// polling interval; tests call it directly.
func (r *Reconciler) Sweep(ctx context.Context) {
	startTime := time.Now()

	// runId correlates all logs of one sweep
	ctx = logcontext.AppendCtx(ctx, slog.String("runId", uuid.New().String()))

	cutoff := time.Now().Add(-r.staleAfter)
	payments, err := r.payments.GetStalePending(ctx, cutoff, r.fetchSize)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error fetching stale pending payments", "error", err)
		reconcilerErrorFetchingCounter.Inc()
		return
	}

	if len(payments) == 0 {
		reconcilerSuccessCounter.Inc()
		return
	}

	r.logger.InfoContext(ctx, "Reconciling stale pending payments", "count", len(payments))

	for _, p := range payments {
		paymentCtx := logcontext.AppendCtx(ctx, slog.String("intentId", p.ProviderRef))

		intent, err := r.gateway.GetIntent(paymentCtx, p.ProviderRef)
		if err != nil {
			r.logger.WarnContext(paymentCtx, "Error retrieving intent", "error", err)
			reconcilerLookupErrCounter.Inc()
			continue
		}

		switch intent.Status {
		case "succeeded":
			if err := r.webhooks.SettleSucceeded(paymentCtx, p.ProviderRef); err != nil {
				r.logger.ErrorContext(paymentCtx, "Error settling payment", "error", err)
				continue
			}
			reconcilerSettledCounter.Inc()
		case "canceled":
			if err := r.webhooks.SettleFailed(paymentCtx, p.ProviderRef); err != nil {
				r.logger.ErrorContext(paymentCtx, "Error failing payment", "error", err)
				continue
			}
			reconcilerFailedCounter.Inc()
		default:
			// still open on the provider side, leave it alone
			reconcilerStillOpenCounter.Inc()
		}
	}

	reconcilerSuccessCounter.Inc()
	reconcilerSweepDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
}
