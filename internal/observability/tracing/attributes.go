package tracing

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Keys containing these never reach a span.
var droppedAttributeKeys = []string{
	"password",
	"secret",
	"token",
	"api_key",
	"authorization",
	"signature",
	"fingerprint",
	"email",
	"message",
}

// SafeAttributes drops credentials and user content. Device ids are kept with
// only their last four characters.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		key := strings.ToLower(string(attr.Key))
		switch {
		case containsAny(key, droppedAttributeKeys):
			continue
		case strings.Contains(key, "device_id"):
			filtered = append(filtered, attribute.String(string(attr.Key), maskTail(attr.Value.Emit())))
		default:
			filtered = append(filtered, attr)
		}
	}
	return filtered
}

// SafeError keeps only the error type so upstream bodies never reach spans.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%T", err)
}

// EndSpan closes span, marking it failed when err is set.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(SafeError(err))
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func containsAny(key string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(key, needle) {
			return true
		}
	}
	return false
}

func maskTail(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	return "****" + value[len(value)-4:]
}
