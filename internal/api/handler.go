package api

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stripe/stripe-go/v81"

	"payment-service/internal/gateway"
	"payment-service/internal/payment"
)

// WebhookVerifier validates an inbound provider payload before any of
// its contents are trusted.
type WebhookVerifier interface {
	VerifyWebhook(payload []byte, sigHeader string) (stripe.Event, error)
}

type Handler struct {
	service  *payment.Service
	webhooks *payment.WebhookProcessor
	verifier WebhookVerifier
	// ackOnError acknowledges webhook events whose handling failed so the
	// provider does not retry; false surfaces a 500 instead.
	ackOnError bool
	logger     *slog.Logger
}

func NewHandler(service *payment.Service, webhooks *payment.WebhookProcessor, verifier WebhookVerifier, ackOnError bool, logger *slog.Logger) *Handler {
	return &Handler{
		service:    service,
		webhooks:   webhooks,
		verifier:   verifier,
		ackOnError: ackOnError,
		logger:     logger,
	}
}

func (h *Handler) Register(r *gin.Engine, auth gin.HandlerFunc) {
	payments := r.Group("/payments")
	payments.POST("/webhook", h.Webhook)

	authed := payments.Group("", auth)
	authed.POST("/create-intent", h.CreateIntent)
	authed.POST("/confirm", h.Confirm)
	authed.GET("", h.List)
	authed.GET("/:id/status", h.Status)
	authed.POST("/:id/refund", h.Refund)
}

func okBody(data any) gin.H {
	return gin.H{"success": true, "data": data}
}

func errorBody(code, message string) gin.H {
	return gin.H{"success": false, "code": code, "message": message}
}

// respondError maps domain and gateway errors onto the API error shape.
func (h *Handler) respondError(c *gin.Context, err error) {
	var domainErr *payment.Error
	if errors.As(err, &domainErr) {
		c.JSON(statusFor(domainErr.Code), errorBody(domainErr.Code, domainErr.Message))
		return
	}

	var gatewayErr *gateway.Error
	if errors.As(err, &gatewayErr) {
		if gatewayErr.Declined {
			c.JSON(http.StatusBadRequest, errorBody("GATEWAY_ERROR", "payment provider declined the request"))
		} else {
			c.JSON(http.StatusInternalServerError, errorBody("GATEWAY_ERROR", "payment provider is unavailable"))
		}
		return
	}

	h.logger.ErrorContext(c.Request.Context(), "Unhandled error", "error", err)
	c.JSON(http.StatusInternalServerError, errorBody("INTERNAL_ERROR", "internal server error"))
}

func statusFor(code string) int {
	switch code {
	case "BOOKING_NOT_FOUND", "PAYMENT_NOT_FOUND":
		return http.StatusNotFound
	case "STRIPE_REFUND_ERROR":
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

type createIntentRequest struct {
	BookingID string  `json:"bookingId" binding:"required,uuid"`
	Amount    float64 `json:"amount" binding:"required,gt=0"`
	Currency  string  `json:"currency" binding:"required"`
	VenueID   string  `json:"venueId" binding:"omitempty,uuid"`
}

func (h *Handler) CreateIntent(c *gin.Context) {
	var req createIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("VALIDATION_ERROR", err.Error()))
		return
	}

	in := payment.CreateIntentInput{
		BookingID: uuid.MustParse(req.BookingID),
		Amount:    req.Amount,
		Currency:  req.Currency,
	}
	if req.VenueID != "" {
		venueID := uuid.MustParse(req.VenueID)
		in.VenueID = &venueID
	}

	result, err := h.service.CreateIntent(c.Request.Context(), callerID(c), in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, okBody(result))
}

type confirmRequest struct {
	PaymentIntentID string `json:"paymentIntentId" binding:"required"`
}

func (h *Handler) Confirm(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("VALIDATION_ERROR", err.Error()))
		return
	}

	result, err := h.service.Confirm(c.Request.Context(), req.PaymentIntentID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, okBody(result))
}

func (h *Handler) Status(c *gin.Context) {
	paymentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("VALIDATION_ERROR", "invalid payment id"))
		return
	}

	result, err := h.service.GetStatus(c.Request.Context(), callerID(c), paymentID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, okBody(result))
}

type listQuery struct {
	Page   int    `form:"page,default=1"`
	Limit  int    `form:"limit,default=20"`
	Status string `form:"status"`
}

func (h *Handler) List(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("VALIDATION_ERROR", err.Error()))
		return
	}

	result, err := h.service.List(c.Request.Context(), callerID(c), q.Status, q.Page, q.Limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, okBody(result))
}

type refundRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Refund(c *gin.Context) {
	paymentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("VALIDATION_ERROR", "invalid payment id"))
		return
	}

	// The body is optional and its length may be unknown (chunked
	// requests report -1), so bind regardless and treat an empty body as
	// no reason.
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, errorBody("VALIDATION_ERROR", err.Error()))
		return
	}

	result, err := h.service.Refund(c.Request.Context(), callerID(c), paymentID, req.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, okBody(result))
}

// Webhook ingests provider notifications. The signature check gates
// everything; once it passes, handling failures are acknowledged or
// surfaced according to ackOnError.
func (h *Handler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.String(http.StatusBadRequest, "invalid body")
		return
	}

	sig := c.GetHeader("Stripe-Signature")
	if sig == "" {
		c.String(http.StatusBadRequest, "missing signature")
		return
	}

	ev, err := h.verifier.VerifyWebhook(body, sig)
	if err != nil {
		h.logger.WarnContext(c.Request.Context(), "Webhook signature verification failed", "error", err)
		c.String(http.StatusBadRequest, "signature verification failed")
		return
	}

	if err := h.webhooks.Process(c.Request.Context(), ev); err != nil {
		h.logger.ErrorContext(c.Request.Context(), "Webhook event handling failed", "eventId", ev.ID, "type", ev.Type, "error", err)
		if !h.ackOnError {
			c.String(http.StatusInternalServerError, "event handling failed")
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
