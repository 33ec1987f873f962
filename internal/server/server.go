package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/companion/internal/audit/domain"
	"github.com/smallbiznis/companion/internal/auth"
	"github.com/smallbiznis/companion/internal/cache"
	"github.com/smallbiznis/companion/internal/chat"
	"github.com/smallbiznis/companion/internal/clock"
	"github.com/smallbiznis/companion/internal/config"
	"github.com/smallbiznis/companion/internal/entitlement"
	"github.com/smallbiznis/companion/internal/observability/logger"
	"github.com/smallbiznis/companion/internal/observability/metrics"
	"github.com/smallbiznis/companion/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/companion/internal/payment/domain"
	"github.com/smallbiznis/companion/internal/speech"
	usagedomain "github.com/smallbiznis/companion/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Authenticator resolves a bearer credential to a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, bearer string) (auth.Principal, error)
}

// UserMirror records authenticated accounts locally so payments can be
// attributed to them.
type UserMirror interface {
	UpsertUser(ctx context.Context, user auth.User) error
}

type PlanReader interface {
	Get(ctx context.Context, userID string) (entitlement.View, error)
}

type ChatRelay interface {
	Complete(ctx context.Context, messages []chat.Message, language string) (string, error)
	Stream(ctx context.Context, messages []chat.Message, onDelta func(string) error) error
	HistoryLimit() int
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string) (*speech.Result, error)
}

// AuditReader exposes the audit trail of a payment.
type AuditReader interface {
	List(ctx context.Context, filter auditdomain.ListFilter) ([]*auditdomain.AuditLog, error)
}

type Params struct {
	fx.In

	Config   config.Config
	Log      *zap.Logger
	DB       *gorm.DB
	Engine   *gin.Engine
	Clock    clock.Clock
	Auth     Authenticator
	Users    UserMirror
	Usage    usagedomain.Service
	Payments paymentdomain.Service
	Plans    PlanReader
	Relay    ChatRelay
	Speech   Synthesizer
	Audit    AuditReader `optional:"true"`
}

type Server struct {
	cfg      config.Config
	log      *zap.Logger
	db       *gorm.DB
	engine   *gin.Engine
	clock    clock.Clock
	auth     Authenticator
	users    UserMirror
	usage    usagedomain.Service
	payments paymentdomain.Service
	plans    PlanReader
	relay    ChatRelay
	speech   Synthesizer
	audit    AuditReader

	seenUsers cache.Cache[string, struct{}]
	burst     *rateLimiter
}

func NewServer(p Params) *Server {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	requests := p.Config.RateLimit.Requests
	if requests <= 0 {
		requests = 20
	}
	window := p.Config.RateLimit.Window
	if window <= 0 {
		window = time.Minute
	}
	return &Server{
		cfg:       p.Config,
		log:       p.Log.Named("server"),
		db:        p.DB,
		engine:    p.Engine,
		clock:     clk,
		auth:      p.Auth,
		users:     p.Users,
		usage:     p.Usage,
		payments:  p.Payments,
		plans:     p.Plans,
		relay:     p.Relay,
		speech:    p.Speech,
		audit:     p.Audit,
		seenUsers: cache.NewTTLCacheWithClock[string, struct{}](clk.Now),
		burst:     newRateLimiter(requests, window, clk.Now),
	}
}

type EngineParams struct {
	fx.In

	Config      config.Config
	Log         *zap.Logger
	HTTPMetrics *metrics.HTTPMetrics `optional:"true"`
}

func NewEngine(p EngineParams) *gin.Engine {
	if p.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware(p.Config.HTTP.CORSOrigins))
	engine.Use(tracing.GinMiddleware("/health", "/metrics"))
	engine.Use(logger.GinMiddleware(logger.MiddlewareConfig{
		Logger:    p.Log.Named("http"),
		SkipPaths: []string{"/health", "/metrics"},
	}))
	engine.Use(metrics.GinMiddleware(p.HTTPMetrics))
	return engine
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	return cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization",
			headerDeviceID, headerFingerprint, logger.HeaderRequestID,
			"Traceparent", "Tracestate", "Baggage",
		},
		AllowCredentials: true,
		ExposeHeaders:    []string{"Content-Type", logger.HeaderRequestID},
		MaxAge:           12 * time.Hour,
	})
}

func (s *Server) RegisterAPIRoutes() {
	s.engine.GET("/health", s.Health)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api")
	api.Use(s.identify())

	api.GET("/usage", s.GetUsage)
	api.POST("/chat", s.burstGuard(), s.Chat)
	api.POST("/tts", s.burstGuard(), s.TextToSpeech)

	api.POST("/payment/checkout", s.burstGuard(), s.CreateCheckout)
	api.POST("/payment/create", s.burstGuard(), s.CreateCheckout)
	api.POST("/payment/confirm", s.requireUser(), s.ConfirmPayment)
	api.POST("/payment/webhook", s.PaymentWebhook)
	api.GET("/payment/webhook", s.PaymentWebhookChallenge)
	api.GET("/payments", s.requireUser(), s.ListPayments)
	api.GET("/entitlement", s.requireUser(), s.GetEntitlement)

	api.GET("/debug/payments", s.DebugPayments)
}

func (s *Server) Health(c *gin.Context) {
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err == nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			s.log.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RunHTTP binds the listener on start so a busy port fails the app instead
// of a background goroutine.
func RunHTTP(lc fx.Lifecycle, cfg config.Config, engine *gin.Engine, log *zap.Logger) {
	log = log.Named("server")
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}
	shutdownTimeout := cfg.HTTP.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			log.Info("http server listening", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	})
}
