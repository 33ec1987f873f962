package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/smallbiznis/companion/internal/clock"
	"github.com/smallbiznis/companion/internal/config"
	usagedomain "github.com/smallbiznis/companion/internal/usage/domain"
	"github.com/smallbiznis/companion/internal/usage/repository"
	"github.com/smallbiznis/companion/pkg/db"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type staticPlans map[string]string

func (p staticPlans) EffectivePlan(_ context.Context, userID string) (string, error) {
	if plan, ok := p[userID]; ok {
		return plan, nil
	}
	return usagedomain.PlanFree, nil
}

type failingPlans struct{}

func (failingPlans) EffectivePlan(context.Context, string) (string, error) {
	return "", errors.New("connection refused")
}

type failingRegistry struct{}

func (failingRegistry) Touch(context.Context, usagedomain.GuestDevice) error {
	return errors.New("function get_guest_conversation_status_v2 does not exist")
}

type failingCounters struct{}

func (failingCounters) Consume(context.Context, usagedomain.CounterKey, int) (int, bool, error) {
	return 0, false, errors.New("connection reset")
}

func (failingCounters) Peek(context.Context, usagedomain.CounterKey) (int, error) {
	return 0, errors.New("connection reset")
}

type fixture struct {
	counters usagedomain.CounterStore
	guests   usagedomain.GuestRegistry
	plans    usagedomain.PlanResolver
	clock    *clock.Fixed
	log      *zap.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := db.Open(db.Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "usage.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(&usagedomain.UsageCounter{}, &usagedomain.GuestDevice{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return &fixture{
		counters: repository.NewSQLCounterStore(conn),
		guests:   repository.NewSQLGuestRegistry(conn),
		plans:    staticPlans{},
		clock:    &clock.Fixed{At: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)},
		log:      zap.NewNop(),
	}
}

func (f *fixture) service() usagedomain.Service {
	cfg := config.Config{Usage: config.UsageConfig{
		GuestDailyLimit: 3,
		FreeDailyLimit:  10,
		PaidDailyLimit:  100,
		Timezone:        "UTC",
	}}
	return NewService(ServiceParam{
		Config:   cfg,
		Log:      f.log,
		Clock:    f.clock,
		Counters: f.counters,
		Guests:   f.guests,
		Plans:    f.plans,
	})
}

func TestGuestDeviceDailyLimit(t *testing.T) {
	svc := newFixture(t).service()
	ctx := context.Background()
	caller := usagedomain.Caller{DeviceID: "guest_0abc1234", IP: "203.0.113.7"}

	for _, want := range []int{2, 1, 0} {
		decision, err := svc.Consume(ctx, caller)
		if err != nil {
			t.Fatalf("consume: %v", err)
		}
		if !decision.Allowed || decision.Remaining != want {
			t.Fatalf("expected admit with remaining %d, got %+v", want, decision)
		}
		if !decision.IsGuest || decision.Limit != 3 || decision.TrackingMethod != usagedomain.TrackingDeviceFingerprint {
			t.Fatalf("unexpected decision shape %+v", decision)
		}
	}

	decision, err := svc.Consume(ctx, caller)
	if err != nil {
		t.Fatalf("denial must not be an error: %v", err)
	}
	if decision.Allowed || decision.Remaining != 0 {
		t.Fatalf("expected denial with remaining 0, got %+v", decision)
	}
	if decision.Message == "" {
		t.Fatalf("denial must carry a message")
	}
}

func TestCheckDoesNotConsume(t *testing.T) {
	svc := newFixture(t).service()
	ctx := context.Background()
	caller := usagedomain.Caller{DeviceID: "guest_0abc1234"}

	for i := 0; i < 3; i++ {
		decision, err := svc.Check(ctx, caller)
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if decision.Remaining != 3 || !decision.Allowed {
			t.Fatalf("check must not consume, got %+v", decision)
		}
	}
}

func TestNewDayResetsQuota(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	ctx := context.Background()
	caller := usagedomain.Caller{DeviceID: "guest_0abc1234"}

	for i := 0; i < 3; i++ {
		if _, err := svc.Consume(ctx, caller); err != nil {
			t.Fatalf("consume: %v", err)
		}
	}
	f.clock.Advance(24 * time.Hour)
	decision, err := svc.Consume(ctx, caller)
	if err != nil || !decision.Allowed || decision.Remaining != 2 {
		t.Fatalf("expected fresh quota on a new day, got %+v (%v)", decision, err)
	}
}

func TestAuthenticatedTierCaps(t *testing.T) {
	f := newFixture(t)
	f.plans = staticPlans{"paid-user": usagedomain.PlanMonthly, "lifer": usagedomain.PlanLifetime}
	svc := f.service()
	ctx := context.Background()

	cases := map[string]int{"free-user": 10, "paid-user": 100, "lifer": 100}
	for user, limit := range cases {
		decision, err := svc.Consume(ctx, usagedomain.Caller{UserID: user, DeviceID: "ignored"})
		if err != nil {
			t.Fatalf("consume: %v", err)
		}
		if decision.Limit != limit || decision.Remaining != limit-1 || decision.IsGuest {
			t.Fatalf("%s: unexpected decision %+v", user, decision)
		}
		if decision.TrackingMethod != "" {
			t.Fatalf("authenticated decisions carry no tracking method, got %q", decision.TrackingMethod)
		}
	}
}

func TestFreeUserDeniedAfterTen(t *testing.T) {
	svc := newFixture(t).service()
	ctx := context.Background()
	caller := usagedomain.Caller{UserID: "free-user"}
	for i := 0; i < 10; i++ {
		if decision, err := svc.Consume(ctx, caller); err != nil || !decision.Allowed {
			t.Fatalf("attempt %d: %+v (%v)", i+1, decision, err)
		}
	}
	decision, err := svc.Consume(ctx, caller)
	if err != nil || decision.Allowed || decision.Remaining != 0 {
		t.Fatalf("expected denial, got %+v (%v)", decision, err)
	}
}

func TestMissingDeviceIDIsMalformed(t *testing.T) {
	svc := newFixture(t).service()
	_, err := svc.Consume(context.Background(), usagedomain.Caller{IP: "203.0.113.7"})
	if !errors.Is(err, usagedomain.ErrMissingDeviceID) {
		t.Fatalf("expected ErrMissingDeviceID, got %v", err)
	}
}

func TestDeviceFailureFallsBackToIP(t *testing.T) {
	f := newFixture(t)
	core, logs := observer.New(zapcore.WarnLevel)
	f.log = zap.New(core)
	f.guests = failingRegistry{}
	svc := f.service()
	ctx := context.Background()

	caller := usagedomain.Caller{DeviceID: "guest_0abc1234", IP: "203.0.113.7"}
	decision, err := svc.Consume(ctx, caller)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if decision.TrackingMethod != usagedomain.TrackingIPFallback || decision.Remaining != 2 {
		t.Fatalf("expected ip fallback decision, got %+v", decision)
	}
	if logs.FilterMessage("device quota lookup failed, falling back to ip").Len() != 1 {
		t.Fatalf("expected fallback warning to be logged")
	}

	// Other devices behind the same address share the fallback counter.
	other := usagedomain.Caller{DeviceID: "guest_ffff0000", IP: "203.0.113.7"}
	decision, err = svc.Consume(ctx, other)
	if err != nil || decision.Remaining != 1 {
		t.Fatalf("expected shared ip counter, got %+v (%v)", decision, err)
	}
}

func TestFallbackWithoutIPIsInternalError(t *testing.T) {
	f := newFixture(t)
	f.guests = failingRegistry{}
	_, err := f.service().Consume(context.Background(), usagedomain.Caller{DeviceID: "guest_0abc1234"})
	if !errors.Is(err, usagedomain.ErrMissingClientIP) || !IsStorageError(err) {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestStorageFailureIsNotADenial(t *testing.T) {
	f := newFixture(t)
	f.counters = failingCounters{}
	svc := f.service()
	ctx := context.Background()

	_, err := svc.Consume(ctx, usagedomain.Caller{UserID: "free-user"})
	if !errors.Is(err, usagedomain.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable for user path, got %v", err)
	}
	_, err = svc.Consume(ctx, usagedomain.Caller{DeviceID: "guest_0abc1234", IP: "203.0.113.7"})
	if !errors.Is(err, usagedomain.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable after failed fallback, got %v", err)
	}

	f.plans = failingPlans{}
	if _, err := f.service().Check(ctx, usagedomain.Caller{UserID: "u"}); !IsStorageError(err) {
		t.Fatalf("expected plan lookup failure to be internal, got %v", err)
	}
}

func TestUsageDayFollowsConfiguredTimezone(t *testing.T) {
	f := newFixture(t)
	f.clock.At = time.Date(2025, 3, 1, 23, 30, 0, 0, time.UTC)
	cfg := config.Config{Usage: config.UsageConfig{GuestDailyLimit: 1, FreeDailyLimit: 10, PaidDailyLimit: 100, Timezone: "Asia/Shanghai"}}
	svc := NewService(ServiceParam{Config: cfg, Log: f.log, Clock: f.clock, Counters: f.counters, Guests: f.guests, Plans: f.plans})
	ctx := context.Background()
	caller := usagedomain.Caller{DeviceID: "guest_0abc1234"}

	if d, _ := svc.Consume(ctx, caller); !d.Allowed {
		t.Fatalf("first call must be admitted")
	}
	remaining, err := f.counters.Peek(ctx, usagedomain.CounterKey{Kind: usagedomain.KindGuestDevice, Subject: "guest_0abc1234", Day: "2025-03-02"})
	if err != nil || remaining != 1 {
		t.Fatalf("expected counter on the Shanghai calendar day, got %d (%v)", remaining, err)
	}
}
