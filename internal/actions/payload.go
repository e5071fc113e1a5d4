package actions

import "time"

// Payload accessors. Validation has already run by the time Execute sees
// the payload, so these tolerate absence but not surprises.

func PayloadString(p map[string]any, key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

func PayloadInt64(p map[string]any, key string) int64 {
	switch v := p[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

func PayloadBool(p map[string]any, key string) bool {
	v, _ := p[key].(bool)
	return v
}

// PayloadTime parses RFC 3339 or bare dates; the zero time means absent.
func PayloadTime(p map[string]any, key string) time.Time {
	s, ok := p[key].(string)
	if !ok {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t
	}
	return time.Time{}
}

// PayloadHas reports whether the key was supplied at all, which matters for
// partial updates where absent and empty differ.
func PayloadHas(p map[string]any, key string) bool {
	_, ok := p[key]
	return ok
}
