// Package gateway wraps the Stripe API behind the operations the payment
// service needs: intent create/confirm/retrieve, refunds and webhook
// signature verification.
package gateway

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"

	"payment-service/internal/config"
	"payment-service/internal/fee"
)

type Intent struct {
	ID           string
	ClientSecret string
	Status       string
}

type Refund struct {
	ID     string
	Status string
}

// Error marks a failure reported by Stripe. Declined failures are safe to
// surface to the caller; the rest map to an internal error response.
type Error struct {
	Declined bool
	err      error
}

func (e *Error) Error() string { return fmt.Sprintf("stripe: %v", e.err) }
func (e *Error) Unwrap() error { return e.err }

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if stripeErr, ok := err.(*stripe.Error); ok {
		declined := stripeErr.Type == stripe.ErrorTypeCard || stripeErr.Type == stripe.ErrorTypeInvalidRequest
		return &Error{Declined: declined, err: err}
	}
	return &Error{err: err}
}

// minorUnits converts a major-unit amount to the provider's minor units.
// Rounding matters: truncation would shave a unit off amounts like 19.99
// whose float representation sits just below the exact value.
func minorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

type StripeGateway struct {
	api           *client.API
	fees          *fee.Calculator
	webhookSecret string
}

func NewStripeGateway(cfg config.Stripe, fees *fee.Calculator) *StripeGateway {
	httpClient := &http.Client{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond}

	api := &client.API{}
	api.Init(cfg.SecretKey, stripe.NewBackends(httpClient))

	return &StripeGateway{
		api:           api,
		fees:          fees,
		webhookSecret: cfg.WebhookSecret,
	}
}

type CreateIntentInput struct {
	BookingID string
	// Amount is in major currency units; Stripe is called in minor units.
	Amount   float64
	Currency string
	// DestinationAccount, when set, routes the charge to a connected
	// account net of the platform fee.
	DestinationAccount string
}

func (g *StripeGateway) CreateIntent(ctx context.Context, in CreateIntentInput) (*Intent, error) {
	platformFee, err := g.fees.Compute(in.Amount)
	if err != nil {
		return nil, err
	}

	params := &stripe.PaymentIntentParams{
		Params:   stripe.Params{Context: ctx},
		Amount:   stripe.Int64(minorUnits(in.Amount)),
		Currency: stripe.String(in.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.AddMetadata("booking_id", in.BookingID)
	params.AddMetadata("platform_fee", strconv.FormatInt(platformFee, 10))

	if in.DestinationAccount != "" {
		params.ApplicationFeeAmount = stripe.Int64(platformFee)
		params.TransferData = &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(in.DestinationAccount),
		}
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, wrapErr(err)
	}

	return &Intent{ID: pi.ID, ClientSecret: pi.ClientSecret, Status: string(pi.Status)}, nil
}

// ConfirmIntent confirms an intent that still requires confirmation.
// An already-succeeded intent is returned as-is; any other state cannot
// be confirmed and is a declined error.
func (g *StripeGateway) ConfirmIntent(ctx context.Context, intentID string) (*Intent, error) {
	pi, err := g.api.PaymentIntents.Get(intentID, &stripe.PaymentIntentParams{Params: stripe.Params{Context: ctx}})
	if err != nil {
		return nil, wrapErr(err)
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return &Intent{ID: pi.ID, ClientSecret: pi.ClientSecret, Status: string(pi.Status)}, nil
	case stripe.PaymentIntentStatusRequiresConfirmation:
		confirmed, err := g.api.PaymentIntents.Confirm(intentID, &stripe.PaymentIntentConfirmParams{
			Params: stripe.Params{Context: ctx},
		})
		if err != nil {
			return nil, wrapErr(err)
		}
		return &Intent{ID: confirmed.ID, ClientSecret: confirmed.ClientSecret, Status: string(confirmed.Status)}, nil
	default:
		return nil, &Error{Declined: true, err: fmt.Errorf("intent %s cannot be confirmed from state %s", intentID, pi.Status)}
	}
}

func (g *StripeGateway) GetIntent(ctx context.Context, intentID string) (*Intent, error) {
	pi, err := g.api.PaymentIntents.Get(intentID, &stripe.PaymentIntentParams{Params: stripe.Params{Context: ctx}})
	if err != nil {
		return nil, wrapErr(err)
	}
	return &Intent{ID: pi.ID, ClientSecret: pi.ClientSecret, Status: string(pi.Status)}, nil
}

type CreateRefundInput struct {
	IntentID string
	// Amount in major units; zero means a full refund.
	Amount float64
	Reason string
	// ConnectAccount issues the refund against the connected account the
	// charge was routed to.
	ConnectAccount string
}

func (g *StripeGateway) CreateRefund(ctx context.Context, in CreateRefundInput) (*Refund, error) {
	params := &stripe.RefundParams{
		Params:        stripe.Params{Context: ctx},
		PaymentIntent: stripe.String(in.IntentID),
	}
	if in.Amount > 0 {
		params.Amount = stripe.Int64(minorUnits(in.Amount))
	}
	reason := in.Reason
	if reason == "" {
		reason = "requested_by_customer"
	}
	params.AddMetadata("reason", reason)

	if in.ConnectAccount != "" {
		params.SetStripeAccount(in.ConnectAccount)
	}

	r, err := g.api.Refunds.New(params)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &Refund{ID: r.ID, Status: string(r.Status)}, nil
}

// VerifyWebhook checks the payload signature before anything in it is
// trusted. An unverified payload must never reach the event handlers.
func (g *StripeGateway) VerifyWebhook(payload []byte, sigHeader string) (stripe.Event, error) {
	if g.webhookSecret == "" {
		return stripe.Event{}, fmt.Errorf("webhook endpoint secret is not configured")
	}
	return webhook.ConstructEvent(payload, sigHeader, g.webhookSecret)
}
