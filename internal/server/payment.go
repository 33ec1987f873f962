package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/companion/internal/observability/logger"
	paymentdomain "github.com/smallbiznis/companion/internal/payment/domain"
	"go.uber.org/zap"
)

// maxWebhookBody bounds a webhook delivery read into memory.
const maxWebhookBody = 1 << 20

type checkoutRequest struct {
	ProductID string `json:"productId"`
	UserID    string `json:"userId"`
	// PlanType is sent by the pricing page; the plan is derived from the
	// product catalog.
	PlanType string `json:"planType"`
}

type confirmRequest struct {
	OrderID string `json:"orderId"`
}

// CreateCheckout serves both the checkout route and the pricing page's
// create route.
func (s *Server) CreateCheckout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.ProductID) == "" {
		AbortWithError(c, newValidationError("productId", "required", "Product ID and User ID are required"))
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		AbortWithError(c, newValidationError("userId", "required", "Product ID and User ID are required"))
		return
	}

	principal, _ := principalFromGin(c)
	result, err := s.payments.InitiateCheckout(c.Request.Context(), paymentdomain.InitiateCheckoutRequest{
		ProductID:    req.ProductID,
		UserID:       req.UserID,
		BearerUserID: principal.UserID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"checkoutUrl": result.CheckoutURL,
		"orderId":     result.OrderID,
		"paymentId":   result.PaymentID,
		"sessionId":   result.SessionID,
	})
}

func (s *Server) ConfirmPayment(c *gin.Context) {
	var req confirmRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	if req.OrderID == "" {
		req.OrderID = c.Query("order_id")
	}

	principal, _ := principalFromGin(c)
	payment, err := s.payments.ConfirmPayment(c.Request.Context(), principal.UserID, req.OrderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": payment.Status == paymentdomain.StatusCompleted,
		"status":  payment.Status,
		"payment": payment,
	})
}

func (s *Server) ListPayments(c *gin.Context) {
	principal, _ := principalFromGin(c)
	payments, err := s.payments.ListPayments(c.Request.Context(), principal.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "payments": payments})
}

// PaymentWebhook hands the raw body to the reconciler. The signature covers
// the exact bytes, so the body is never re-encoded.
func (s *Server) PaymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.payments.IngestWebhook(c.Request.Context(), c.Query("provider"), payload, c.Request.Header)
	if err != nil {
		s.log.Warn("payment webhook failed",
			zap.Any("request", logger.SafeFieldsFromRequest(c.Request)),
			zap.Error(err),
		)
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"outcome": result.Outcome,
		"message": result.Message,
	})
}

// PaymentWebhookChallenge answers the processor's endpoint verification.
func (s *Server) PaymentWebhookChallenge(c *gin.Context) {
	if challenge := c.Query("challenge"); challenge != "" {
		c.JSON(http.StatusOK, gin.H{"challenge": challenge})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Webhook endpoint is active"})
}
