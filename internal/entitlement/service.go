// Package entitlement turns completed payments into plan upgrades.
package entitlement

import (
	"context"
	"strings"
	"time"

	"github.com/smallbiznis/companion/internal/clock"
	"github.com/smallbiznis/companion/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Config config.Config
	Clock  clock.Clock
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	clock         clock.Clock
	freeLimit     int
	paidLimit     int
	monthlyPeriod time.Duration
}

func NewService(p Params) *Service {
	period := p.Config.Payment.MonthlyPeriod
	if period <= 0 {
		period = 30 * 24 * time.Hour
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("entitlement.service"),
		clock:         clk,
		freeLimit:     p.Config.Usage.FreeDailyLimit,
		paidLimit:     p.Config.Usage.PaidDailyLimit,
		monthlyPeriod: period,
	}
}

// Activate applies a purchased plan in one transaction. The grant row is
// written first with ON CONFLICT DO NOTHING, so replaying an order is a no-op.
func (s *Service) Activate(ctx context.Context, req ActivateRequest) (ActivateResult, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.OrderID = strings.TrimSpace(req.OrderID)
	if req.UserID == "" || req.OrderID == "" {
		return ActivateResult{}, ErrInvalidGrant
	}
	switch req.PlanType {
	case PlanFree, PlanMonthly, PlanLifetime:
	default:
		return ActivateResult{}, ErrUnknownPlan
	}

	now := s.clock.Now().UTC()
	var result ActivateResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted := tx.Exec(
			`INSERT INTO entitlement_grants (order_id, user_id, plan_type, product_id, granted_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (order_id) DO NOTHING`,
			req.OrderID, req.UserID, req.PlanType, req.ProductID, now,
		)
		if inserted.Error != nil {
			return inserted.Error
		}
		if inserted.RowsAffected == 0 {
			return nil
		}
		result.Applied = true

		if req.PlanType == PlanFree {
			return nil
		}

		// Seed then lock the profile row so concurrent grants for one user
		// extend the expiry one after another.
		if err := tx.Exec(
			`INSERT INTO profiles (user_id, plan_type, daily_limit, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (user_id) DO NOTHING`,
			req.UserID, PlanFree, s.freeLimit, now, now,
		).Error; err != nil {
			return err
		}
		current, err := findProfile(tx.Clauses(clause.Locking{Strength: "UPDATE"}), req.UserID)
		if err != nil {
			return err
		}
		next := s.upgrade(current, req, now)
		if err := tx.Exec(
			`UPDATE profiles SET plan_type = ?, daily_limit = ?, expires_at = ?, updated_at = ?
			 WHERE user_id = ?`,
			next.PlanType, next.DailyLimit, next.ExpiresAt, next.UpdatedAt, next.UserID,
		).Error; err != nil {
			return err
		}
		result.Profile = &next
		return nil
	})
	if err != nil {
		s.log.Error("entitlement activation failed",
			zap.String("order_id", req.OrderID),
			zap.String("plan_type", req.PlanType),
			zap.Error(err),
		)
		return ActivateResult{}, err
	}
	if result.Applied {
		s.log.Info("entitlement activated",
			zap.String("order_id", req.OrderID),
			zap.String("plan_type", req.PlanType),
		)
	}
	return result, nil
}

// upgrade extends a monthly plan from the later of now and its current
// expiry. A lifetime plan is never replaced by a monthly one.
func (s *Service) upgrade(current *Profile, req ActivateRequest, now time.Time) Profile {
	next := Profile{
		UserID:     req.UserID,
		PlanType:   req.PlanType,
		DailyLimit: s.paidLimit,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if current != nil {
		next.CreatedAt = current.CreatedAt
	}

	if req.PlanType == PlanLifetime || (current != nil && current.PlanType == PlanLifetime) {
		next.PlanType = PlanLifetime
		next.ExpiresAt = nil
		return next
	}

	base := now
	if current != nil && current.PlanType == PlanMonthly && current.ExpiresAt != nil && current.ExpiresAt.After(now) {
		base = *current.ExpiresAt
	}
	expires := base.Add(s.monthlyPeriod)
	next.ExpiresAt = &expires
	return next
}

// Get returns the caller's plan. Users without a profile are on free.
func (s *Service) Get(ctx context.Context, userID string) (View, error) {
	profile, err := findProfile(s.db.WithContext(ctx), userID)
	if err != nil {
		return View{}, err
	}
	return s.view(profile), nil
}

// EffectivePlan resolves an expired monthly plan to free.
func (s *Service) EffectivePlan(ctx context.Context, userID string) (string, error) {
	view, err := s.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	return view.PlanType, nil
}

func (s *Service) view(profile *Profile) View {
	if profile == nil || profile.PlanType == PlanFree || profile.PlanType == "" {
		return View{PlanType: PlanFree, DailyLimit: s.freeLimit}
	}
	if profile.PlanType == PlanMonthly && (profile.ExpiresAt == nil || !profile.ExpiresAt.After(s.clock.Now())) {
		return View{PlanType: PlanFree, DailyLimit: s.freeLimit, ExpiresAt: profile.ExpiresAt}
	}
	return View{
		PlanType:   profile.PlanType,
		DailyLimit: s.paidLimit,
		ExpiresAt:  profile.ExpiresAt,
		Active:     true,
	}
}

func findProfile(db *gorm.DB, userID string) (*Profile, error) {
	var profiles []Profile
	if err := db.Where("user_id = ?", userID).Limit(1).Find(&profiles).Error; err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, nil
	}
	return &profiles[0], nil
}
