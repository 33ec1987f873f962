package server

import (
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/companion/internal/auditcontext"
	"github.com/smallbiznis/companion/internal/auth"
	obscontext "github.com/smallbiznis/companion/internal/observability/context"
	usagedomain "github.com/smallbiznis/companion/internal/usage/domain"
	"go.uber.org/zap"
)

const (
	headerDeviceID    = "X-Device-Id"
	headerFingerprint = "X-Device-Fingerprint"

	contextPrincipalKey = "principal"
	contextClientIPKey  = "client_ip"

	// seenUserTTL limits how often an active account is written back to the
	// users table.
	seenUserTTL = 10 * time.Minute
	// maxFingerprintLen caps the audit copy of the fingerprint header.
	maxFingerprintLen = 4096
)

// clientIP prefers the edge headers in the order cf-connecting-ip, the first
// x-forwarded-for hop, x-real-ip, then the socket peer.
func clientIP(c *gin.Context) string {
	if ip := strings.TrimSpace(c.GetHeader("Cf-Connecting-Ip")); ip != "" {
		return ip
	}
	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(c.GetHeader("X-Real-Ip")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(c.Request.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(c.Request.RemoteAddr)
	}
	return host
}

// identify attaches the caller to the request context. A missing or invalid
// bearer leaves the request anonymous; routes that need a user add
// requireUser.
func (s *Server) identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		ip := clientIP(c)
		deviceID := strings.TrimSpace(c.GetHeader(headerDeviceID))
		c.Set(contextClientIPKey, ip)

		origin := auditcontext.Origin{
			RequestID: obscontext.RequestIDFromGin(c),
			IPAddress: ip,
			UserAgent: c.Request.UserAgent(),
			DeviceID:  deviceID,
			ActorType: obscontext.ActorGuest,
			ActorID:   deviceID,
		}
		if header := c.GetHeader("Authorization"); strings.TrimSpace(header) != "" {
			principal, err := s.auth.Authenticate(ctx, header)
			if err == nil {
				c.Set(contextPrincipalKey, principal)
				origin.ActorType, origin.ActorID = obscontext.ActorUser, principal.UserID
				s.mirrorUser(c, principal)
			} else {
				s.log.Debug("bearer rejected, continuing anonymously", zap.Error(err))
			}
		}

		ctx = auditcontext.WithOrigin(ctx, origin)
		ctx = obscontext.WithDeviceID(ctx, deviceID)
		ctx = obscontext.WithActor(ctx, origin.ActorType, origin.ActorID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := principalFromGin(c); !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

func (s *Server) burstGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, retryAfter := s.burst.Allow(c.FullPath() + "|" + c.GetString(contextClientIPKey))
		if !ok {
			s.log.Warn("burst limit exceeded",
				zap.String("route", c.FullPath()),
				zap.String("client_ip", c.GetString(contextClientIPKey)),
			)
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			AbortWithError(c, ErrTooManyCalls)
			return
		}
		c.Next()
	}
}

// mirrorUser keeps the users table in step with the identity provider so
// checkout can verify the account and receipts can find an email.
func (s *Server) mirrorUser(c *gin.Context, principal auth.Principal) {
	if s.users == nil {
		return
	}
	key := principal.UserID + "|" + principal.Email
	if _, ok := s.seenUsers.Get(key); ok {
		return
	}
	err := s.users.UpsertUser(c.Request.Context(), auth.User{
		ID:        principal.UserID,
		Email:     principal.Email,
		CreatedAt: s.clock.Now().UTC(),
	})
	if err != nil {
		s.log.Warn("failed to mirror user", zap.String("user_id", principal.UserID), zap.Error(err))
		return
	}
	s.seenUsers.Set(key, struct{}{}, seenUserTTL)
}

func principalFromGin(c *gin.Context) (auth.Principal, bool) {
	value, ok := c.Get(contextPrincipalKey)
	if !ok {
		return auth.Principal{}, false
	}
	principal, ok := value.(auth.Principal)
	return principal, ok && principal.UserID != ""
}

// caller builds the quota identity for the request.
func caller(c *gin.Context) usagedomain.Caller {
	fingerprint := strings.TrimSpace(c.GetHeader(headerFingerprint))
	if len(fingerprint) > maxFingerprintLen {
		fingerprint = fingerprint[:maxFingerprintLen]
	}
	out := usagedomain.Caller{
		DeviceID:    strings.TrimSpace(c.GetHeader(headerDeviceID)),
		IP:          c.GetString(contextClientIPKey),
		UserAgent:   c.Request.UserAgent(),
		Fingerprint: fingerprint,
		Signals:     requestSignals(c),
	}
	if principal, ok := principalFromGin(c); ok {
		out.UserID = principal.UserID
	}
	return out
}

func requestSignals(c *gin.Context) map[string]any {
	signals := map[string]any{}
	for key, header := range map[string]string{
		"accept_language": "Accept-Language",
		"forwarded_for":   "X-Forwarded-For",
		"ua_platform":     "Sec-Ch-Ua-Platform",
	} {
		if value := strings.TrimSpace(c.GetHeader(header)); value != "" {
			signals[key] = value
		}
	}
	if len(signals) == 0 {
		return nil
	}
	return signals
}
