package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/companion/internal/auth"
	"github.com/smallbiznis/companion/internal/chat"
	paymentdomain "github.com/smallbiznis/companion/internal/payment/domain"
	"github.com/smallbiznis/companion/internal/speech"
	usagedomain "github.com/smallbiznis/companion/internal/usage/domain"
	usageservice "github.com/smallbiznis/companion/internal/usage/service"
)

// APIError is an error with a fixed HTTP rendering.
type APIError struct {
	Status  int
	Code    string
	Message string
	Field   string
}

func (e *APIError) Error() string { return e.Code }

var (
	ErrUnauthorized = &APIError{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "Authentication required"}
	ErrNotFound     = &APIError{Status: http.StatusNotFound, Code: "not_found", Message: "Not found"}
	ErrTooManyCalls = &APIError{Status: http.StatusTooManyRequests, Code: "too_many_requests", Message: "Too many requests, please wait a moment and try again."}
	errInternal     = &APIError{Status: http.StatusInternalServerError, Code: "internal_error", Message: "Internal server error"}
)

func invalidRequestError() error {
	return &APIError{Status: http.StatusBadRequest, Code: "invalid_request", Message: "Invalid request body"}
}

func newValidationError(field, code, message string) error {
	return &APIError{Status: http.StatusBadRequest, Code: code, Message: message, Field: field}
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// AbortWithError renders err and stops the handler chain. Unknown errors
// become a generic 500; their text only reaches the access log.
func AbortWithError(c *gin.Context, err error) {
	apiErr := resolveError(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(apiErr.Status, errorResponse{
		Success: false,
		Error:   apiErr.Code,
		Message: apiErr.Message,
		Field:   apiErr.Field,
	})
}

func resolveError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case errors.Is(err, usagedomain.ErrMissingDeviceID):
		return &APIError{Status: http.StatusBadRequest, Code: "missing_device_id", Message: "Missing device identifier, refresh the page and retry"}
	case usageservice.IsStorageError(err):
		return errInternal

	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, paymentdomain.ErrUnauthorized):
		return ErrUnauthorized

	case errors.Is(err, paymentdomain.ErrInvalidRequest):
		return &APIError{Status: http.StatusBadRequest, Code: "invalid_request", Message: "Product ID and User ID are required"}
	case errors.Is(err, paymentdomain.ErrInvalidPayload), errors.Is(err, paymentdomain.ErrInvalidEvent):
		return &APIError{Status: http.StatusBadRequest, Code: "invalid_payload", Message: "Invalid webhook payload"}
	case errors.Is(err, paymentdomain.ErrInvalidSignature):
		return &APIError{Status: http.StatusUnauthorized, Code: "invalid_signature", Message: "Invalid signature"}
	case errors.Is(err, paymentdomain.ErrPaymentNotFound):
		return &APIError{Status: http.StatusNotFound, Code: "payment_not_found", Message: "Payment not found"}
	case errors.Is(err, paymentdomain.ErrAmbiguousPayment):
		return &APIError{Status: http.StatusNotFound, Code: "payment_ambiguous", Message: "Payment could not be matched to a single order"}
	case errors.Is(err, paymentdomain.ErrProviderNotFound), errors.Is(err, paymentdomain.ErrInvalidProvider):
		return &APIError{Status: http.StatusNotFound, Code: "provider_not_found", Message: "Unknown payment provider"}
	case errors.Is(err, paymentdomain.ErrActivationFailed):
		return &APIError{Status: http.StatusInternalServerError, Code: "activation_failed", Message: "Failed to activate subscription"}
	case errors.Is(err, paymentdomain.ErrProviderUnavailable), errors.Is(err, paymentdomain.ErrInvalidConfig):
		return &APIError{Status: http.StatusInternalServerError, Code: "payment_unavailable", Message: "Payment system is unavailable"}

	case errors.Is(err, chat.ErrEmptyMessage):
		return &APIError{Status: http.StatusBadRequest, Code: "empty_message", Message: "Message is required", Field: "message"}
	case errors.Is(err, chat.ErrInvalidPersonality):
		return &APIError{Status: http.StatusBadRequest, Code: "invalid_personality", Message: "Unknown personality", Field: "personality"}
	case errors.Is(err, chat.ErrRateLimited):
		return &APIError{Status: http.StatusTooManyRequests, Code: "upstream_rate_limited", Message: "请求过于频繁，请稍等片刻再试。 / Too many requests, please wait a moment and try again."}
	case errors.Is(err, chat.ErrUpstream):
		return &APIError{Status: http.StatusInternalServerError, Code: "chat_unavailable", Message: "抱歉，我现在无法回复。请稍后再试。 / Sorry, I cannot reply right now. Please try again later."}

	case errors.Is(err, speech.ErrEmptyText):
		return &APIError{Status: http.StatusBadRequest, Code: "empty_text", Message: "Text is required", Field: "text"}
	case errors.Is(err, speech.ErrSynthesis), errors.Is(err, speech.ErrUnavailable):
		return &APIError{Status: http.StatusInternalServerError, Code: "speech_failed", Message: "Failed to generate speech"}
	}
	return errInternal
}
