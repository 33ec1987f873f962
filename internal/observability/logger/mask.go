package logger

import (
	"net/http"
	"strings"
)

var sensitiveKeys = []string{
	"password",
	"secret",
	"token",
	"api_key",
	"apikey",
	"authorization",
	"signature",
	"fingerprint",
}

// headerMaskers lists request headers whose values never reach the logs in clear.
var headerMaskers = map[string]func(string) string{
	"authorization":        MaskAuthorization,
	"cookie":               MaskCookie,
	"x-api-key":            MaskSecret,
	"x-creem-signature":    MaskSecret,
	"creem-signature":      MaskSecret,
	"x-signature":          MaskSecret,
	"x-device-fingerprint": MaskSecret,
}

// MaskAuthorization keeps the bearer scheme and the last 4 token characters.
func MaskAuthorization(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	scheme, token, found := strings.Cut(value, " ")
	if found && strings.EqualFold(scheme, "Bearer") && strings.TrimSpace(token) != "" {
		return "Bearer " + maskLast4(token)
	}
	return maskLast4(value)
}

func MaskCookie(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	var masked []string
	for _, part := range strings.Split(value, ";") {
		segment := strings.TrimSpace(part)
		if segment == "" {
			continue
		}
		if name, val, ok := strings.Cut(segment, "="); ok {
			masked = append(masked, strings.TrimSpace(name)+"="+maskLast4(val))
			continue
		}
		masked = append(masked, maskLast4(segment))
	}
	return strings.Join(masked, "; ")
}

// MaskSecret masks API keys, signatures and device fingerprints.
func MaskSecret(value string) string {
	return maskLast4(value)
}

// MaskDeviceID keeps the guest prefix so log readers can still tell
// fingerprint ids from fallback ids.
func MaskDeviceID(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if idx := strings.LastIndex(value, "_"); idx >= 0 && idx < len(value)-1 {
		return value[:idx+1] + maskLast4(value[idx+1:])
	}
	return maskLast4(value)
}

func MaskHeaders(headers http.Header) map[string]string {
	masked := make(map[string]string, len(headers))
	for key, values := range headers {
		joined := strings.Join(values, ",")
		if mask, ok := headerMaskers[strings.ToLower(strings.TrimSpace(key))]; ok {
			masked[key] = mask(joined)
			continue
		}
		masked[key] = joined
	}
	return masked
}

// MaskJSON returns a deep copy of input with sensitive fields masked.
func MaskJSON(input map[string]any) map[string]any {
	if input == nil {
		return nil
	}
	out := make(map[string]any, len(input))
	for key, value := range input {
		if isSensitiveKey(key) {
			out[key] = maskValue(value)
			continue
		}
		out[key] = maskJSONValue(value)
	}
	return out
}

func SafeFieldsFromRequest(req *http.Request) map[string]any {
	if req == nil {
		return map[string]any{}
	}
	contentLength := req.ContentLength
	if contentLength < 0 {
		contentLength = 0
	}
	return map[string]any{
		"method":         req.Method,
		"path":           req.URL.Path,
		"content_length": contentLength,
		"headers":        MaskHeaders(req.Header),
	}
}

func maskJSONValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return MaskJSON(typed)
	case []any:
		items := make([]any, 0, len(typed))
		for _, entry := range typed {
			items = append(items, maskJSONValue(entry))
		}
		return items
	default:
		return value
	}
}

func maskValue(value any) any {
	switch typed := value.(type) {
	case string:
		return maskLast4(typed)
	case []byte:
		return maskLast4(string(typed))
	default:
		return "****"
	}
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, needle := range sensitiveKeys {
		if strings.Contains(key, needle) {
			return true
		}
	}
	return false
}

func maskLast4(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if len(value) <= 4 {
		return "****" + value
	}
	return "****" + value[len(value)-4:]
}
