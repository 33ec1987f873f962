package fingerprint

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"
)

// HostOptions describes traits a non-browser client has to supply itself.
type HostOptions struct {
	AgentName    string
	AgentVersion string
	Screen       Screen
	FontDirs     []string
	Now          func() time.Time
}

// HostEnvironment observes the machine running a Go client agent. WebGL is
// never available, so the probe reports its sentinel.
type HostEnvironment struct {
	opts HostOptions
}

func NewHostEnvironment(opts HostOptions) *HostEnvironment {
	if opts.AgentName == "" {
		opts.AgentName = "companion-agent"
	}
	if opts.AgentVersion == "" {
		opts.AgentVersion = "dev"
	}
	if opts.Screen.ColorDepth == 0 {
		opts.Screen.ColorDepth = 24
	}
	if opts.FontDirs == nil {
		opts.FontDirs = DefaultFontDirs()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &HostEnvironment{opts: opts}
}

func (h *HostEnvironment) Navigator() Navigator {
	nav := Navigator{
		UserAgent:     fmt.Sprintf("%s/%s (%s; %s) %s", h.opts.AgentName, h.opts.AgentVersion, runtime.GOOS, runtime.GOARCH, runtime.Version()),
		Language:      hostLanguage(),
		Platform:      hostPlatform(runtime.GOOS, runtime.GOARCH),
		CookieEnabled: true,
	}
	if dnt := strings.TrimSpace(os.Getenv("DNT")); dnt != "" {
		nav.DoNotTrack = &dnt
	}
	return nav
}

func (h *HostEnvironment) Screen() Screen { return h.opts.Screen }

func (h *HostEnvironment) TimezoneOffset() int {
	_, offset := h.opts.Now().Zone()
	return -offset / 60
}

func (h *HostEnvironment) Now() time.Time { return h.opts.Now() }

func (h *HostEnvironment) Canvas() (Canvas, error) { return GGCanvas{}, nil }

func (h *HostEnvironment) WebGL() (WebGL, error) { return nil, ErrUnavailable }

func (h *HostEnvironment) Fonts() (FontMeasurer, error) {
	return NewGGFontMeasurer(h.opts.FontDirs), nil
}

// hostLanguage converts a POSIX locale such as en_US.UTF-8 to a BCP 47 tag.
func hostLanguage() string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if tag := localeToTag(os.Getenv(key)); tag != "" {
			return tag
		}
	}
	return "en-US"
}

func localeToTag(locale string) string {
	locale = strings.TrimSpace(locale)
	if idx := strings.IndexAny(locale, ".@"); idx >= 0 {
		locale = locale[:idx]
	}
	if locale == "" || locale == "C" || locale == "POSIX" {
		return ""
	}
	return strings.ReplaceAll(locale, "_", "-")
}

// hostPlatform mirrors the values browsers report in navigator.platform.
func hostPlatform(goos, goarch string) string {
	switch goos {
	case "windows":
		return "Win32"
	case "darwin":
		return "MacIntel"
	case "linux":
		switch goarch {
		case "amd64":
			return "Linux x86_64"
		case "arm64":
			return "Linux aarch64"
		default:
			return "Linux " + goarch
		}
	default:
		return goos
	}
}
