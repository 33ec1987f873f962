package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/companion/internal/clock"
	"github.com/smallbiznis/companion/internal/config"
	"github.com/smallbiznis/companion/internal/observability/logger"
	"github.com/smallbiznis/companion/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/companion/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Config   config.Config
	Log      *zap.Logger
	Clock    clock.Clock
	Counters usagedomain.CounterStore
	Guests   usagedomain.GuestRegistry
	Plans    usagedomain.PlanResolver
	Metrics  *metrics.DomainMetrics `optional:"true"`
}

type Service struct {
	log      *zap.Logger
	clock    clock.Clock
	counters usagedomain.CounterStore
	guests   usagedomain.GuestRegistry
	plans    usagedomain.PlanResolver
	metrics  *metrics.DomainMetrics

	location   *time.Location
	guestLimit int
	freeLimit  int
	paidLimit  int
}

func NewService(p ServiceParam) usagedomain.Service {
	loc, err := time.LoadLocation(p.Config.Usage.Timezone)
	if err != nil {
		loc = time.UTC
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		log:      p.Log.Named("usage.service"),
		clock:    clk,
		counters: p.Counters,
		guests:   p.Guests,
		plans:    p.Plans,
		metrics:  p.Metrics,

		location:   loc,
		guestLimit: p.Config.Usage.GuestDailyLimit,
		freeLimit:  p.Config.Usage.FreeDailyLimit,
		paidLimit:  p.Config.Usage.PaidDailyLimit,
	}
}

func (s *Service) Check(ctx context.Context, caller usagedomain.Caller) (usagedomain.Decision, error) {
	return s.decide(ctx, caller, false)
}

func (s *Service) Consume(ctx context.Context, caller usagedomain.Caller) (usagedomain.Decision, error) {
	return s.decide(ctx, caller, true)
}

func (s *Service) decide(ctx context.Context, caller usagedomain.Caller, consume bool) (usagedomain.Decision, error) {
	day := s.clock.Now().In(s.location).Format(usagedomain.DayLayout)

	if userID := strings.TrimSpace(caller.UserID); userID != "" {
		return s.decideUser(ctx, userID, day, consume)
	}

	deviceID := strings.TrimSpace(caller.DeviceID)
	if deviceID == "" {
		return usagedomain.Decision{}, usagedomain.ErrMissingDeviceID
	}

	decision, err := s.decideDevice(ctx, caller, deviceID, day, consume)
	if err == nil {
		return decision, nil
	}
	s.log.Warn("device quota lookup failed, falling back to ip",
		zap.String("device_id", logger.MaskDeviceID(deviceID)),
		zap.Error(err),
	)
	return s.decideIP(ctx, caller, day, consume)
}

func (s *Service) decideUser(ctx context.Context, userID, day string, consume bool) (usagedomain.Decision, error) {
	plan, err := s.plans.EffectivePlan(ctx, userID)
	if err != nil {
		s.log.Error("plan lookup failed", zap.Error(err))
		return usagedomain.Decision{}, fmt.Errorf("%w: %v", usagedomain.ErrStorageUnavailable, err)
	}
	limit := s.limitFor(plan)
	key := usagedomain.CounterKey{Kind: usagedomain.KindUser, Subject: userID, Day: day}
	decision, err := s.apply(ctx, key, limit, consume)
	if err != nil {
		s.log.Error("user quota lookup failed", zap.Error(err))
		return usagedomain.Decision{}, fmt.Errorf("%w: %v", usagedomain.ErrStorageUnavailable, err)
	}
	s.record(usagedomain.TrackingUser, decision, consume)
	return decision, nil
}

func (s *Service) decideDevice(ctx context.Context, caller usagedomain.Caller, deviceID, day string, consume bool) (usagedomain.Decision, error) {
	if err := s.guests.Touch(ctx, usagedomain.GuestDevice{
		DeviceID:    deviceID,
		IPAddress:   caller.IP,
		UserAgent:   caller.UserAgent,
		Fingerprint: caller.Fingerprint,
		Signals:     caller.Signals,
	}); err != nil {
		return usagedomain.Decision{}, err
	}

	key := usagedomain.CounterKey{Kind: usagedomain.KindGuestDevice, Subject: deviceID, Day: day}
	decision, err := s.apply(ctx, key, s.guestLimit, consume)
	if err != nil {
		return usagedomain.Decision{}, err
	}
	decision.IsGuest = true
	decision.TrackingMethod = usagedomain.TrackingDeviceFingerprint
	s.record(usagedomain.TrackingDeviceFingerprint, decision, consume)
	return decision, nil
}

func (s *Service) decideIP(ctx context.Context, caller usagedomain.Caller, day string, consume bool) (usagedomain.Decision, error) {
	ip := strings.TrimSpace(caller.IP)
	if ip == "" {
		s.log.Error("ip fallback without client ip")
		return usagedomain.Decision{}, usagedomain.ErrMissingClientIP
	}
	key := usagedomain.CounterKey{Kind: usagedomain.KindGuestIP, Subject: ip, Day: day}
	decision, err := s.apply(ctx, key, s.guestLimit, consume)
	if err != nil {
		s.log.Error("ip quota lookup failed", zap.Error(err))
		return usagedomain.Decision{}, fmt.Errorf("%w: %v", usagedomain.ErrStorageUnavailable, err)
	}
	decision.IsGuest = true
	decision.TrackingMethod = usagedomain.TrackingIPFallback
	s.record(usagedomain.TrackingIPFallback, decision, consume)
	return decision, nil
}

func (s *Service) apply(ctx context.Context, key usagedomain.CounterKey, limit int, consume bool) (usagedomain.Decision, error) {
	decision := usagedomain.Decision{Limit: limit}

	if !consume {
		count, err := s.counters.Peek(ctx, key)
		if err != nil {
			return decision, err
		}
		decision.Remaining = remaining(limit, count)
		decision.Allowed = decision.Remaining > 0
		decision.Message = message(decision.Allowed, decision.Remaining)
		return decision, nil
	}

	count, admitted, err := s.counters.Consume(ctx, key, limit)
	if err != nil {
		return decision, err
	}
	decision.Allowed = admitted
	if admitted {
		decision.Remaining = remaining(limit, count)
	}
	decision.Message = message(admitted, decision.Remaining)
	return decision, nil
}

func (s *Service) limitFor(plan string) int {
	switch plan {
	case usagedomain.PlanMonthly, usagedomain.PlanLifetime:
		return s.paidLimit
	default:
		return s.freeLimit
	}
}

func (s *Service) record(tracking string, decision usagedomain.Decision, consume bool) {
	if !consume {
		return
	}
	result := "admitted"
	if !decision.Allowed {
		result = "denied"
	}
	s.metrics.IncQuotaDecision(tracking, result)
}

func remaining(limit, count int) int {
	if count >= limit {
		return 0
	}
	return limit - count
}

func message(allowed bool, remaining int) string {
	if !allowed {
		return "You have reached today's conversation limit. Sign in or upgrade to keep chatting."
	}
	return fmt.Sprintf("You have %d conversations left today.", remaining)
}

// IsStorageError reports whether err should surface as an internal error
// rather than a client error.
func IsStorageError(err error) bool {
	return errors.Is(err, usagedomain.ErrStorageUnavailable) || errors.Is(err, usagedomain.ErrMissingClientIP)
}
