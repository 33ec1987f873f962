package fingerprint

import (
	"errors"
	"regexp"
	"strings"
)

const canvasSuffixLength = 50

// CanvasScene is the fixed drawing rendered by the canvas probe. Coordinates
// assume a top text baseline.
type CanvasScene struct {
	Font      string
	RectColor string
	Rect      [4]float64
	Texts     []CanvasText
	Width     int
	Height    int
}

type CanvasText struct {
	Text  string
	X, Y  float64
	Color string
	Alpha float64
}

// ProbeScene must never change: any change moves every derived device id.
var ProbeScene = CanvasScene{
	Font:      "14px Arial",
	RectColor: "#f60",
	Rect:      [4]float64{125, 1, 62, 20},
	Texts: []CanvasText{
		{Text: "Device fingerprint 🔐", X: 2, Y: 2, Color: "#069", Alpha: 1},
		{Text: "AI Companion", X: 4, Y: 15, Color: "#66cc00", Alpha: 0.7},
	},
	Width:  300,
	Height: 150,
}

type Canvas interface {
	// Render draws scene and returns the serialized image as a data URL.
	Render(scene CanvasScene) (string, error)
}

const (
	WebGLDebugRendererInfo = "WEBGL_debug_renderer_info"
	WebGLUnmaskedVendor    = "UNMASKED_VENDOR_WEBGL"
	WebGLUnmaskedRenderer  = "UNMASKED_RENDERER_WEBGL"
	WebGLVersion           = "VERSION"
)

type WebGL interface {
	HasExtension(name string) bool
	Parameter(name string) (string, error)
}

// FontMeasurer renders text in a CSS-style font family list and reports the
// rendered box.
type FontMeasurer interface {
	Measure(family string, sizePx float64, text string) (width, height float64, err error)
}

var (
	// CandidateFonts and BaselineFamilies are part of the id contract.
	CandidateFonts   = []string{"Arial", "Times", "Helvetica", "Courier", "Verdana", "Georgia", "Palatino", "Garamond", "Bookman", "Tahoma", "Impact", "Comic Sans MS"}
	BaselineFamilies = []string{"monospace", "sans-serif", "serif"}
)

const (
	fontTestString = "mmmmmmmmmmlli"
	fontTestSizePx = 72
	maxFonts       = 5
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// CanvasProbe keeps the last 50 characters of the rendered data URL. The
// suffix is a best-effort signal and collisions are tolerated.
func CanvasProbe(env Environment) (out string) {
	defer recoverTo(&out, SentinelCanvasError)

	canvas, err := env.Canvas()
	if err != nil || canvas == nil {
		if err == nil || errors.Is(err, ErrUnavailable) {
			return SentinelNoCanvas
		}
		return SentinelCanvasError
	}
	dataURL, err := canvas.Render(ProbeScene)
	if err != nil {
		return SentinelCanvasError
	}
	return tailUTF16(dataURL, canvasSuffixLength)
}

// WebGLProbe prefers the unmasked vendor/renderer pair and falls back to the
// raw version string.
func WebGLProbe(env Environment) (out string) {
	defer recoverTo(&out, SentinelWebGLError)

	gl, err := env.WebGL()
	if err != nil || gl == nil {
		if err == nil || errors.Is(err, ErrUnavailable) {
			return SentinelNoWebGL
		}
		return SentinelWebGLError
	}

	if gl.HasExtension(WebGLDebugRendererInfo) {
		vendor, err := gl.Parameter(WebGLUnmaskedVendor)
		if err != nil {
			return SentinelWebGLError
		}
		renderer, err := gl.Parameter(WebGLUnmaskedRenderer)
		if err != nil {
			return SentinelWebGLError
		}
		return headUTF16(whitespaceRun.ReplaceAllString(vendor+"_"+renderer, "_"), 30)
	}

	version, err := gl.Parameter(WebGLVersion)
	if err != nil {
		return SentinelWebGLError
	}
	return headUTF16(whitespaceRun.ReplaceAllString(version, "_"), 20)
}

// FontsProbe reports a candidate font as present when its rendered box
// differs from the baseline of any generic family.
func FontsProbe(env Environment) (out string) {
	defer recoverTo(&out, SentinelFontsError)

	measurer, err := env.Fonts()
	if err != nil || measurer == nil {
		if err == nil || errors.Is(err, ErrUnavailable) {
			return SentinelNoFonts
		}
		return SentinelFontsError
	}

	type box struct{ w, h float64 }
	baselines := make(map[string]box, len(BaselineFamilies))
	for _, base := range BaselineFamilies {
		w, h, err := measurer.Measure(base, fontTestSizePx, fontTestString)
		if err != nil {
			return SentinelFontsError
		}
		baselines[base] = box{w, h}
	}

	var detected []string
	for _, font := range CandidateFonts {
		for _, base := range BaselineFamilies {
			w, h, err := measurer.Measure(font+", "+base, fontTestSizePx, fontTestString)
			if err != nil {
				return SentinelFontsError
			}
			if w != baselines[base].w || h != baselines[base].h {
				detected = append(detected, font)
				break
			}
		}
	}

	if len(detected) == 0 {
		return SentinelNoFonts
	}
	if len(detected) > maxFonts {
		detected = detected[:maxFonts]
	}
	return strings.Join(detected, ",")
}

func recoverTo(out *string, sentinel string) {
	if r := recover(); r != nil {
		*out = sentinel
	}
}
