package metrics

import (
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

type Config struct {
	ServiceName string
	Environment string
}

var highCardinalityKeys = []string{
	"user_id",
	"device_id",
	"order_id",
	"ip",
}

// FilterAttributes drops attributes that would explode metric cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		key := strings.ToLower(string(attr.Key))
		drop := false
		for _, needle := range highCardinalityKeys {
			if strings.Contains(key, needle) {
				drop = true
				break
			}
		}
		if !drop {
			filtered = append(filtered, attr)
		}
	}
	return filtered
}
