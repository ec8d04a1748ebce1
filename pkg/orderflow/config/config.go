// Package config wraps a flat map[string]any for type-safe value
// extraction, grounded on the teacher flowgraph package's config package
// unchanged in shape. Defaults lists every key this domain reads (§6).
package config

import (
	"time"
)

// Config wraps a map[string]any for type-safe value extraction. Every
// accessor returns its default value if the key is missing or the value
// cannot be converted to the requested type.
type Config struct {
	data map[string]any
}

// New creates a Config from the given map. If data is nil, an empty
// Config is returned.
func New(data map[string]any) Config {
	if data == nil {
		data = make(map[string]any)
	}
	return Config{data: data}
}

// Defaults returns the configuration this domain uses when no override is
// present for a given key (§6's configuration table).
func Defaults() Config {
	return New(map[string]any{
		"retry.maxAttempts":             3,
		"retry.windowHours":             24,
		"retry.cooldownMinutes":         5,
		"validity.inventoryTtl":         "1h",
		"validity.paymentTtl":           "24h",
		"validity.shippingTtl":          "4h",
		"progressBus.bufferSize":        64,
		"step.callTimeout":              "30s",
		"step.totalTimeout":             "2m",
		"nonRetryableTokens":            []string{"FRAUD", "SUSPENDED", "CANCELLED"},
		"collaborator.retryMaxAttempts": 3,
		"observability.tracingEnabled":  false,
		"observability.metricsEnabled":  false,
	})
}

// Merge overlays override's keys on top of c's, returning a new Config.
// Used to layer a file- or flag-supplied override on top of Defaults().
func (c Config) Merge(override Config) Config {
	merged := make(map[string]any, len(c.data)+len(override.data))
	for k, v := range c.data {
		merged[k] = v
	}
	for k, v := range override.data {
		merged[k] = v
	}
	return New(merged)
}

// String returns the string value for key, or defaultVal if missing or not a string.
func (c Config) String(key, defaultVal string) string {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	if s, ok := v.(string); ok {
		return s
	}
	return defaultVal
}

// Duration returns the duration value for key, or defaultVal if missing or invalid.
//
// Accepts:
//   - string: parsed with time.ParseDuration
//   - int: interpreted as seconds
//   - int64: interpreted as seconds
//   - float64: interpreted as seconds
//   - time.Duration: used directly
func (c Config) Duration(key string, defaultVal time.Duration) time.Duration {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case string:
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	case float64:
		return time.Duration(val * float64(time.Second))
	case int:
		return time.Duration(val) * time.Second
	case int64:
		return time.Duration(val) * time.Second
	case time.Duration:
		return val
	}
	return defaultVal
}

// Bool returns the boolean value for key, or defaultVal if missing or not a bool.
func (c Config) Bool(key string, defaultVal bool) bool {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return defaultVal
}

// Int returns the integer value for key, or defaultVal if missing or not convertible.
func (c Config) Int(key string, defaultVal int) int {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		if val == float64(int(val)) {
			return int(val)
		}
	}
	return defaultVal
}

// StringSlice returns the string slice for key, or defaultVal if missing or not convertible.
func (c Config) StringSlice(key string, defaultVal []string) []string {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case []string:
		return val
	case []any:
		result := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				result = append(result, s)
			} else {
				return defaultVal
			}
		}
		return result
	}
	return defaultVal
}

// Any returns the raw value for key, or defaultVal if missing.
func (c Config) Any(key string, defaultVal any) any {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	return v
}

// Has returns true if the key exists in the config.
func (c Config) Has(key string) bool {
	_, ok := c.data[key]
	return ok
}

// Raw returns the underlying map. The returned map should not be modified.
func (c Config) Raw() map[string]any {
	return c.data
}
