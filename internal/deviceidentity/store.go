// Package deviceidentity keeps a guest device id stable across visits.
package deviceidentity

import (
	"context"
	"encoding/json"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/smallbiznis/companion/internal/fingerprint"
)

// maxTimezoneDrift tolerates DST shifts and travel of up to one hour.
const maxTimezoneDrift = 60

type Options struct {
	// Storage may be nil, in which case ids live only as long as the Store.
	Storage     Storage
	Environment fingerprint.Environment
	Logger      *zap.Logger
	Now         func() time.Time
	Rand        *rand.Rand
}

type Store struct {
	storage Storage
	env     fingerprint.Environment
	log     *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	rng     *rand.Rand
	session string
}

func NewStore(opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Store{
		storage: opts.Storage,
		env:     opts.Environment,
		log:     opts.Logger.Named("deviceidentity.store"),
		now:     opts.Now,
		rng:     opts.Rand,
	}
}

// Info is a debug view of the current identity.
type Info struct {
	DeviceID    string                        `json:"device_id"`
	Fingerprint fingerprint.DeviceFingerprint `json:"fingerprint"`
	CreatedAt   *time.Time                    `json:"created_at,omitempty"`
	Persistent  bool                          `json:"persistent"`
}

// GetOrCreate returns the stored id when the device still looks the same,
// otherwise derives and persists a new one. It never fails: unexpected errors
// yield a one-off fallback id.
func (s *Store) GetOrCreate(ctx context.Context) (id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.log.Warn("device identity panicked, using fallback id", zap.Any("panic", r))
			id = fingerprint.FallbackID(s.now(), s.rng)
		}
	}()

	current := fingerprint.Collect(s.env)

	if s.storage == nil {
		if s.session == "" {
			s.session = fingerprint.DeriveDeviceID(current)
		}
		return s.session
	}

	storedID, err := s.storage.Get(KeyDeviceID)
	if err != nil {
		return s.fallback(err)
	}
	storedFP, err := s.storage.Get(KeyFingerprint)
	if err != nil {
		return s.fallback(err)
	}

	if storedID != "" && storedFP != "" {
		var previous fingerprint.DeviceFingerprint
		if err := json.Unmarshal([]byte(storedFP), &previous); err != nil {
			s.log.Warn("stored fingerprint unreadable, regenerating", zap.Error(err))
		} else if SameDevice(previous, current) {
			return storedID
		}
	}

	id = fingerprint.DeriveDeviceID(current)
	snapshot, err := json.Marshal(current)
	if err != nil {
		return s.fallback(err)
	}
	err = s.storage.Put(map[string]string{
		KeyDeviceID:    id,
		KeyFingerprint: string(snapshot),
		KeyCreatedAt:   strconv.FormatInt(s.now().UnixMilli(), 10),
	})
	if err != nil {
		return s.fallback(err)
	}
	s.log.Debug("device identity created", zap.String("device_id", id))
	return id
}

// Clear forgets the persisted identity; the next GetOrCreate derives afresh.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = ""
	if s.storage == nil {
		return nil
	}
	return s.storage.Delete(KeyDeviceID, KeyFingerprint, KeyCreatedAt)
}

func (s *Store) Info(ctx context.Context) Info {
	id := s.GetOrCreate(ctx)
	info := Info{
		DeviceID:    id,
		Fingerprint: fingerprint.Collect(s.env),
		Persistent:  s.storage != nil && !fingerprint.IsFallbackID(id),
	}
	if s.storage != nil {
		if raw, err := s.storage.Get(KeyCreatedAt); err == nil && raw != "" {
			if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
				created := time.UnixMilli(ms).UTC()
				info.CreatedAt = &created
			}
		}
	}
	return info
}

// SameDevice tolerates canvas, font and user agent drift; screen, language
// and platform must match exactly.
func SameDevice(previous, current fingerprint.DeviceFingerprint) bool {
	if previous.Screen != current.Screen ||
		previous.Language != current.Language ||
		previous.Platform != current.Platform {
		return false
	}
	drift := previous.Timezone - current.Timezone
	if drift < 0 {
		drift = -drift
	}
	return drift <= maxTimezoneDrift
}

func (s *Store) fallback(err error) string {
	s.log.Warn("device identity storage failed, using fallback id", zap.Error(err))
	return fingerprint.FallbackID(s.now(), s.rng)
}
