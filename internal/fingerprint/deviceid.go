package fingerprint

import (
	"math/rand"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"
	"unicode/utf8"
)

const (
	GuestPrefix    = "guest_"
	FallbackPrefix = "guest_fallback_"

	maxUserAgentLen = 100
	maxFontsLen     = 50
	deviceIDDigits  = 8
)

// DeriveDeviceID maps a fingerprint to "guest_" plus 8 base-36 digits.
//
// The hash is the classic 31-multiplier string hash over UTF-16 code units
// with 32-bit wraparound. It is fast, deterministic and collision tolerant.
// It is not a security mechanism: ids are trivially forgeable and only feed
// quota bookkeeping.
func DeriveDeviceID(fp DeviceFingerprint) string {
	canonical := CanonicalJSON(fp)
	hash := StringHash(canonical)

	abs := int64(hash)
	if abs < 0 {
		abs = -abs
	}
	digits := strconv.FormatInt(abs, 36)
	if len(digits) < deviceIDDigits {
		digits = strings.Repeat("0", deviceIDDigits-len(digits)) + digits
	}
	return GuestPrefix + digits
}

// CanonicalJSON renders the stable field subset the id is derived from.
// Field order is part of the id contract. Timezone and timestamp are
// excluded so a DST shift or a revisit regenerates the same id.
// Strings use JSON.stringify escaping. Invalid UTF-8 is written as U+FFFD,
// the same value a JSON decoder would have produced for it.
func CanonicalJSON(fp DeviceFingerprint) string {
	fields := []struct {
		key     string
		value   string
		literal bool
	}{
		{key: "userAgent", value: headUTF16(fp.UserAgent, maxUserAgentLen)},
		{key: "screen", value: fp.Screen},
		{key: "language", value: fp.Language},
		{key: "platform", value: fp.Platform},
		{key: "cookieEnabled", value: strconv.FormatBool(fp.CookieEnabled), literal: true},
		{key: "canvas", value: fp.Canvas},
		{key: "webgl", value: fp.WebGL},
		{key: "fonts", value: headUTF16(fp.Fonts, maxFontsLen)},
	}

	buf := make([]byte, 0, 256)
	buf = append(buf, '{')
	for i, field := range fields {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = appendJSString(buf, field.key)
		buf = append(buf, ':')
		if field.literal {
			buf = append(buf, field.value...)
			continue
		}
		buf = appendJSString(buf, field.value)
	}
	buf = append(buf, '}')
	return string(buf)
}

// appendJSString quotes s the way JSON.stringify does. U+2028 and U+2029
// stay verbatim.
func appendJSString(buf []byte, s string) []byte {
	const hex = "0123456789abcdef"
	buf = append(buf, '"')
	for _, r := range s {
		switch r {
		case '"':
			buf = append(buf, '\\', '"')
		case '\\':
			buf = append(buf, '\\', '\\')
		case '\b':
			buf = append(buf, '\\', 'b')
		case '\f':
			buf = append(buf, '\\', 'f')
		case '\n':
			buf = append(buf, '\\', 'n')
		case '\r':
			buf = append(buf, '\\', 'r')
		case '\t':
			buf = append(buf, '\\', 't')
		default:
			if r < 0x20 {
				buf = append(buf, '\\', 'u', '0', '0', hex[r>>4], hex[r&0xf])
				continue
			}
			buf = utf8.AppendRune(buf, r)
		}
	}
	return append(buf, '"')
}

// StringHash computes h = h*31 + unit over the UTF-16 encoding of s, wrapping
// at 32 bits.
func StringHash(s string) int32 {
	var h int32
	for _, unit := range utf16.Encode([]rune(s)) {
		h = h*31 + int32(unit)
	}
	return h
}

// FallbackID is used when identity derivation fails unexpectedly. It is
// unique per call and therefore never stable across visits.
func FallbackID(now time.Time, rng *rand.Rand) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	suffix := make([]byte, 6)
	for i := range suffix {
		if rng != nil {
			suffix[i] = alphabet[rng.Intn(len(alphabet))]
		} else {
			suffix[i] = alphabet[rand.Intn(len(alphabet))]
		}
	}
	return FallbackPrefix + strconv.FormatInt(now.UnixMilli(), 36) + "_" + string(suffix)
}

// IsFallbackID reports whether id came from FallbackID.
func IsFallbackID(id string) bool {
	return strings.HasPrefix(id, FallbackPrefix)
}

// headUTF16 keeps the first n UTF-16 code units of s without splitting a
// surrogate pair.
func headUTF16(s string, n int) string {
	units := 0
	for i, r := range s {
		width := utf16.RuneLen(r)
		if width < 0 {
			width = 1
		}
		if units+width > n {
			return s[:i]
		}
		units += width
	}
	return s
}

// tailUTF16 keeps the last n UTF-16 code units of s without splitting a
// surrogate pair.
func tailUTF16(s string, n int) string {
	runes := []rune(s)
	units := 0
	start := len(runes)
	for start > 0 {
		width := utf16.RuneLen(runes[start-1])
		if width < 0 {
			width = 1
		}
		if units+width > n {
			break
		}
		units += width
		start--
	}
	return string(runes[start:])
}
