package targomo

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// StableKey turns any cache key into a string. Strings pass through
// unchanged and non-nil fmt.Stringer values use String. Everything else,
// nil pointers included, is JSON encoded, which sorts map keys and keeps
// struct field order, so equal values always produce equal keys.
func StableKey(v any) (string, error) {
	switch k := v.(type) {
	case string:
		return k, nil
	case fmt.Stringer:
		if !isNilPointer(k) {
			return k.String(), nil
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("targomo: encode cache key: %w", err)
	}
	return string(b), nil
}

func isNilPointer(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

// requestKey is the serialized shape of a Request used for cache keys.
type requestKey struct {
	URL     string `json:"url"`
	Method  string `json:"method"`
	Payload any    `json:"payload"`
}

// RequestKeyFunc builds the cache key for a request descriptor.
type RequestKeyFunc func(Request) (string, error)

// DefaultRequestKeyFunc serializes {url, method, payload}.
func DefaultRequestKeyFunc(req Request) (string, error) {
	return StableKey(requestKey{
		URL:     req.URL,
		Method:  req.normalizedMethod(),
		Payload: req.Payload,
	})
}

// normalizedMethod upper-cases the method and defaults to GET.
func (r Request) normalizedMethod() string {
	m := strings.ToUpper(strings.TrimSpace(r.Method))
	if m == "" {
		return "GET"
	}
	return m
}
