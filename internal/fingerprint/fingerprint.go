// Package fingerprint derives a stable pseudo-identity for an anonymous
// visitor from passively observable device characteristics.
//
// Collection is a pure function of an Environment: no network I/O and no
// persisted side effects. Every probe degrades to a fixed sentinel string
// instead of failing, so collection never aborts.
package fingerprint

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable is returned by Environment probe factories when the
// capability does not exist on the device.
var ErrUnavailable = errors.New("probe_unavailable")

const (
	SentinelNoCanvas    = "no-canvas"
	SentinelCanvasError = "canvas-error"
	SentinelNoWebGL     = "no-webgl"
	SentinelWebGLError  = "webgl-error"
	SentinelNoFonts     = "no-fonts"
	SentinelFontsError  = "fonts-error"
)

// DeviceFingerprint is an ephemeral snapshot of device traits. Only the id
// derived from it is meant to be persisted, plus the snapshot used for drift
// matching.
type DeviceFingerprint struct {
	UserAgent     string  `json:"userAgent"`
	Screen        string  `json:"screen"`
	Timezone      int     `json:"timezone"`
	Language      string  `json:"language"`
	Platform      string  `json:"platform"`
	ColorDepth    int     `json:"colorDepth"`
	CookieEnabled bool    `json:"cookieEnabled"`
	DoNotTrack    *string `json:"doNotTrack"`
	Canvas        string  `json:"canvas"`
	WebGL         string  `json:"webgl"`
	Fonts         string  `json:"fonts"`
	Timestamp     int64   `json:"timestamp"`
}

type Navigator struct {
	UserAgent     string
	Language      string
	Platform      string
	CookieEnabled bool
	// DoNotTrack is nil when the device does not expose the flag.
	DoNotTrack *string
}

type Screen struct {
	Width      int
	Height     int
	ColorDepth int
}

func (s Screen) String() string {
	return fmt.Sprintf("%dx%dx%d", s.Width, s.Height, s.ColorDepth)
}

// Environment is the execution environment the probes observe.
type Environment interface {
	Navigator() Navigator
	Screen() Screen
	// TimezoneOffset follows the browser convention: minutes to add to local
	// time to reach UTC (UTC+8 is -480).
	TimezoneOffset() int
	Now() time.Time
	Canvas() (Canvas, error)
	WebGL() (WebGL, error)
	Fonts() (FontMeasurer, error)
}

// Collect snapshots env. It never fails.
func Collect(env Environment) DeviceFingerprint {
	nav := env.Navigator()
	screen := env.Screen()
	return DeviceFingerprint{
		UserAgent:     nav.UserAgent,
		Screen:        screen.String(),
		Timezone:      env.TimezoneOffset(),
		Language:      nav.Language,
		Platform:      nav.Platform,
		ColorDepth:    screen.ColorDepth,
		CookieEnabled: nav.CookieEnabled,
		DoNotTrack:    nav.DoNotTrack,
		Canvas:        CanvasProbe(env),
		WebGL:         WebGLProbe(env),
		Fonts:         FontsProbe(env),
		Timestamp:     env.Now().UnixMilli(),
	}
}
