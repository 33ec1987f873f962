package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/companion/internal/audit/domain"
	paymentdomain "github.com/smallbiznis/companion/internal/payment/domain"
	"go.uber.org/zap"
)

const auditTrailLimit = 50

// DebugPayments lists payments by order, by user, or the most recent ones.
// An order lookup also returns the audit trail of every matching payment.
// It does not exist in production.
func (s *Server) DebugPayments(c *gin.Context) {
	if s.cfg.IsProduction() {
		AbortWithError(c, ErrNotFound)
		return
	}

	ctx := c.Request.Context()
	filter := paymentdomain.DebugFilter{
		OrderID: strings.TrimSpace(c.Query("orderId")),
		UserID:  strings.TrimSpace(c.Query("userId")),
	}
	payments, err := s.payments.DebugListPayments(ctx, filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	switch {
	case filter.OrderID != "":
		c.JSON(http.StatusOK, gin.H{
			"orderId":    filter.OrderID,
			"payments":   payments,
			"auditTrail": s.auditTrail(ctx, payments),
		})
	case filter.UserID != "":
		c.JSON(http.StatusOK, gin.H{"userId": filter.UserID, "payments": payments})
	default:
		c.JSON(http.StatusOK, gin.H{"recentPayments": payments})
	}
}

func (s *Server) auditTrail(ctx context.Context, payments []paymentdomain.Payment) []*auditdomain.AuditLog {
	trail := []*auditdomain.AuditLog{}
	if s.audit == nil {
		return trail
	}
	for _, payment := range payments {
		entries, err := s.audit.List(ctx, auditdomain.ListFilter{
			TargetType: "payment",
			TargetID:   payment.ID.String(),
			Limit:      auditTrailLimit,
		})
		if err != nil {
			s.log.Warn("failed to load audit trail", zap.String("order_id", payment.OrderID), zap.Error(err))
			continue
		}
		trail = append(trail, entries...)
	}
	return trail
}
