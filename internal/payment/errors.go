package payment

// Error is a domain-state or validation failure with a machine-readable
// code surfaced to API clients.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

var (
	ErrBookingNotFound           = &Error{Code: "BOOKING_NOT_FOUND", Message: "booking not found"}
	ErrBookingNotPending         = &Error{Code: "BOOKING_NOT_PENDING", Message: "booking is not awaiting payment"}
	ErrPaymentAlreadyExists      = &Error{Code: "PAYMENT_ALREADY_EXISTS", Message: "an active payment already exists for this booking"}
	ErrPaymentNotFound           = &Error{Code: "PAYMENT_NOT_FOUND", Message: "payment not found"}
	ErrPaymentConfirmationFailed = &Error{Code: "PAYMENT_CONFIRMATION_FAILED", Message: "payment could not be confirmed"}
	ErrPaymentNotRefundable      = &Error{Code: "PAYMENT_NOT_REFUNDABLE", Message: "payment is not in a refundable state"}
	ErrRefundWindowExpired       = &Error{Code: "REFUND_WINDOW_EXPIRED", Message: "refund window has expired"}
	ErrStripeRefund              = &Error{Code: "STRIPE_REFUND_ERROR", Message: "refund could not be processed"}
	ErrInvalidCurrency           = &Error{Code: "VALIDATION_ERROR", Message: "currency must be one of gbp, usd, eur"}
	ErrInvalidAmount             = &Error{Code: "VALIDATION_ERROR", Message: "amount must be greater than zero"}
)
