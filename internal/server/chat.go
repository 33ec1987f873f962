package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/companion/internal/chat"
	"github.com/smallbiznis/companion/internal/observability/logger"
	usagedomain "github.com/smallbiznis/companion/internal/usage/domain"
	"go.uber.org/zap"
)

type chatRequest struct {
	Message             string              `json:"message"`
	Personality         string              `json:"personality"`
	Language            string              `json:"language"`
	ConversationHistory []chat.HistoryEntry `json:"conversationHistory"`
	Stream              bool                `json:"stream"`
}

type limitReachedResponse struct {
	Success      bool   `json:"success"`
	Error        string `json:"error"`
	Message      string `json:"message"`
	LimitReached bool   `json:"limitReached"`
	Remaining    int    `json:"remaining"`
	Limit        int    `json:"limit"`
	IsGuest      bool   `json:"isGuest"`
}

// Chat admits the request against the daily quota and relays it to the
// model. The prompt is validated before any quota is consumed.
func (s *Server) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	language := chat.NormalizeLanguage(req.Language)
	messages, err := chat.BuildMessages(chat.Request{
		Message:     req.Message,
		Personality: req.Personality,
		Language:    language,
		History:     req.ConversationHistory,
	}, s.relay.HistoryLimit())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	who := caller(c)
	decision, err := s.usage.Consume(ctx, who)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !decision.Allowed {
		s.log.Info("chat quota exhausted",
			zap.String("tracking", decision.TrackingMethod),
			zap.String("device_id", logger.MaskDeviceID(who.DeviceID)),
			zap.Bool("guest", decision.IsGuest),
		)
		c.AbortWithStatusJSON(http.StatusTooManyRequests, limitReached(decision))
		return
	}

	if req.Stream {
		s.streamChat(c, messages, decision)
		return
	}

	reply, err := s.relay.Complete(ctx, messages, language)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"response":  reply,
		"remaining": decision.Remaining,
		"limit":     decision.Limit,
	})
}

func limitReached(decision usagedomain.Decision) limitReachedResponse {
	return limitReachedResponse{
		Success:      false,
		Error:        "limit_reached",
		Message:      decision.Message,
		LimitReached: true,
		Remaining:    decision.Remaining,
		Limit:        decision.Limit,
		IsGuest:      decision.IsGuest,
	}
}

// streamChat writes the reply as server-sent events. Headers are sent with
// the first delta, so failures while opening the upstream still get a JSON
// error status.
func (s *Server) streamChat(c *gin.Context, messages []chat.Message, decision usagedomain.Decision) {
	ctx := c.Request.Context()
	started := false
	start := func() {
		if started {
			return
		}
		started = true
		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)
		_ = writeEvent(c, "meta", gin.H{"remaining": decision.Remaining, "limit": decision.Limit})
	}

	err := s.relay.Stream(ctx, messages, func(delta string) error {
		start()
		return writeEvent(c, "", gin.H{"content": delta})
	})
	switch {
	case err != nil && ctx.Err() != nil:
		return
	case err != nil && !started:
		AbortWithError(c, err)
		return
	case err != nil:
		s.log.Warn("chat stream interrupted", zap.Error(err))
		apiErr := resolveError(err)
		_ = writeEvent(c, "error", gin.H{"error": apiErr.Code, "message": apiErr.Message})
		return
	}

	start()
	_, _ = fmt.Fprint(c.Writer, "data: [DONE]\n\n")
	c.Writer.Flush()
}

func writeEvent(c *gin.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if event != "" {
		if _, err := fmt.Fprintf(c.Writer, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}
