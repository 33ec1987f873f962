package service

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/companion/internal/audit/domain"
	"github.com/smallbiznis/companion/internal/auth"
	"github.com/smallbiznis/companion/internal/clock"
	"github.com/smallbiznis/companion/internal/config"
	"github.com/smallbiznis/companion/internal/entitlement"
	"github.com/smallbiznis/companion/internal/events"
	"github.com/smallbiznis/companion/internal/observability/metrics"
	"github.com/smallbiznis/companion/internal/observability/tracing"
	"github.com/smallbiznis/companion/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/companion/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Activator applies the plan bought by a completed payment.
type Activator interface {
	Activate(ctx context.Context, req entitlement.ActivateRequest) (entitlement.ActivateResult, error)
}

// UserDirectory resolves registered users.
type UserDirectory interface {
	FindUser(ctx context.Context, id string) (auth.User, error)
}

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Config       config.Config
	Clock        clock.Clock
	Repo         paymentdomain.Repository
	Adapters     *adapters.Registry
	Entitlements Activator
	Users        UserDirectory
	Outbox       *events.Outbox
	AuditSvc     auditdomain.Service
	Metrics      *metrics.DomainMetrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	repo         paymentdomain.Repository
	entitlements Activator
	users        UserDirectory
	outbox       *events.Outbox
	auditSvc     auditdomain.Service
	metrics      *metrics.DomainMetrics

	providerName  string
	provider      paymentdomain.Provider
	catalog       *paymentdomain.Catalog
	appURL        string
	confirmWindow time.Duration
}

func NewService(p Params) (paymentdomain.Service, error) {
	cfg := p.Config.Payment
	providerName := strings.ToLower(strings.TrimSpace(cfg.Provider))
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	provider, err := p.Adapters.NewAdapter(providerName, paymentdomain.AdapterConfig{
		APIBaseURL:    cfg.APIBaseURL,
		APIKey:        cfg.APIKey,
		WebhookSecret: cfg.WebhookSecret,
		HTTPClient:    tracing.WrapHTTPClient(&http.Client{Timeout: timeout}),
	})
	if err != nil {
		return nil, err
	}

	window := cfg.ConfirmWindow
	if window <= 0 {
		window = 10 * time.Minute
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}

	return &Service{
		db:           p.DB,
		log:          p.Log.Named("payment.service"),
		genID:        p.GenID,
		clock:        clk,
		repo:         p.Repo,
		entitlements: p.Entitlements,
		users:        p.Users,
		outbox:       p.Outbox,
		auditSvc:     p.AuditSvc,
		metrics:      p.Metrics,

		providerName: providerName,
		provider:     provider,
		catalog: paymentdomain.NewCatalog(cfg.Currency,
			paymentdomain.Product{ID: cfg.MonthlyProductID, PlanType: entitlement.PlanMonthly, Amount: cfg.MonthlyAmount},
			paymentdomain.Product{ID: cfg.LifetimeProductID, PlanType: entitlement.PlanLifetime, Amount: cfg.LifetimeAmount},
		),
		appURL:        strings.TrimRight(strings.TrimSpace(p.Config.AppURL), "/"),
		confirmWindow: window,
	}, nil
}

func (s *Service) ListPayments(ctx context.Context, userID string) ([]paymentdomain.Payment, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, paymentdomain.ErrUnauthorized
	}
	return s.repo.ListByUser(ctx, s.db, userID, 50)
}

// DebugListPayments looks up by order id, then user id, else lists the most
// recent payments.
func (s *Service) DebugListPayments(ctx context.Context, filter paymentdomain.DebugFilter) ([]paymentdomain.Payment, error) {
	if orderID := strings.TrimSpace(filter.OrderID); orderID != "" {
		payment, err := s.repo.FindByOrderRef(ctx, s.db, orderID)
		if err != nil {
			return nil, err
		}
		if payment == nil {
			return []paymentdomain.Payment{}, nil
		}
		return []paymentdomain.Payment{*payment}, nil
	}
	if userID := strings.TrimSpace(filter.UserID); userID != "" {
		return s.repo.ListByUser(ctx, s.db, userID, 10)
	}
	return s.repo.ListRecent(ctx, s.db, 20)
}

func (s *Service) writeAuditLog(ctx context.Context, action string, payment *paymentdomain.Payment, extra map[string]any) {
	if s.auditSvc == nil {
		return
	}
	metadata := map[string]any{}
	var targetID *string
	if payment != nil {
		id := payment.ID.String()
		targetID = &id
		metadata["order_id"] = payment.OrderID
		metadata["user_id"] = payment.UserID
		metadata["plan_type"] = payment.PlanType
		metadata["amount"] = payment.Amount
		metadata["currency"] = payment.Currency
		metadata["provider"] = payment.Provider
	}
	for key, value := range extra {
		if key == "" {
			continue
		}
		metadata[key] = value
	}
	if err := s.auditSvc.AuditLog(ctx, action, "payment", targetID, metadata); err != nil {
		s.log.Warn("failed to write payment audit log", zap.String("action", action), zap.Error(err))
	}
}
