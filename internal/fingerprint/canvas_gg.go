package fingerprint

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/fogleman/gg"
)

// GGCanvas renders probe scenes with the gg 2D rasterizer and its built-in
// bitmap face, so output depends on the rasterizer build rather than on
// installed fonts.
type GGCanvas struct{}

func (GGCanvas) Render(scene CanvasScene) (string, error) {
	dc := gg.NewContext(scene.Width, scene.Height)

	dc.SetHexColor(scene.RectColor)
	dc.DrawRectangle(scene.Rect[0], scene.Rect[1], scene.Rect[2], scene.Rect[3])
	dc.Fill()

	ascent := dc.FontHeight()
	for _, text := range scene.Texts {
		r, g, b, ok := parseHex(text.Color)
		if !ok {
			dc.SetHexColor(text.Color)
		} else {
			dc.SetRGBA(r, g, b, text.Alpha)
		}
		dc.DrawString(text.Text, text.X, text.Y+ascent)
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// GGFontMeasurer measures text with TrueType files found under a set of font
// directories. Generic families and missing fonts use the default face, so
// they all measure the same.
type GGFontMeasurer struct {
	index map[string]string
}

func NewGGFontMeasurer(dirs []string) *GGFontMeasurer {
	return &GGFontMeasurer{index: indexFonts(dirs)}
}

func (m *GGFontMeasurer) Measure(family string, sizePx float64, text string) (float64, float64, error) {
	dc := gg.NewContext(1, 1)
	for _, name := range strings.Split(family, ",") {
		path, ok := m.index[normalizeFontName(name)]
		if !ok {
			continue
		}
		if err := dc.LoadFontFace(path, sizePx); err != nil {
			return 0, 0, err
		}
		break
	}
	w, h := dc.MeasureString(text)
	return w, h, nil
}

func DefaultFontDirs() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{filepath.Join(os.Getenv("WINDIR"), "Fonts")}
	case "darwin":
		home, _ := os.UserHomeDir()
		return []string{"/System/Library/Fonts", "/Library/Fonts", filepath.Join(home, "Library", "Fonts")}
	default:
		home, _ := os.UserHomeDir()
		return []string{"/usr/share/fonts", "/usr/local/share/fonts", filepath.Join(home, ".fonts")}
	}
}

func indexFonts(dirs []string) map[string]string {
	index := make(map[string]string)
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".ttf" {
				return nil
			}
			name := normalizeFontName(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
			if _, exists := index[name]; !exists {
				index[name] = path
			}
			return nil
		})
	}
	return index
}

func normalizeFontName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.Trim(name, `"'`)
	return strings.NewReplacer(" ", "", "-", "", "_", "").Replace(name)
}

func parseHex(hex string) (float64, float64, float64, bool) {
	hex = strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(hex) != 6 {
		return 0, 0, 0, false
	}
	value, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	return float64(value>>16&0xff) / 255, float64(value>>8&0xff) / 255, float64(value&0xff) / 255, true
}
