package actions

import (
	"fmt"
	"time"

	"github.com/Plabrum/arive/internal/apperror"
	"github.com/Plabrum/arive/internal/objects"
)

// validatePayload checks a request body against the action's declared spec.
// Unknown keys are rejected so clients cannot smuggle fields an action never
// declared.
func validatePayload(spec *PayloadSpec, payload map[string]any) []apperror.ErrorDetail {
	var details []apperror.ErrorDetail

	if spec == nil || len(spec.Fields) == 0 {
		for key := range payload {
			details = append(details, apperror.ErrorDetail{
				Field:   key,
				Rule:    "unknown",
				Message: fmt.Sprintf("Unexpected field: %s", key),
			})
		}
		return details
	}

	byKey := make(map[string]PayloadField, len(spec.Fields))
	for _, f := range spec.Fields {
		byKey[f.Key] = f
	}

	for key := range payload {
		if _, ok := byKey[key]; !ok {
			details = append(details, apperror.ErrorDetail{
				Field:   key,
				Rule:    "unknown",
				Message: fmt.Sprintf("Unexpected field: %s", key),
			})
		}
	}

	for _, f := range spec.Fields {
		val, present := payload[f.Key]
		if !present || val == nil {
			if f.Required {
				details = append(details, apperror.ErrorDetail{
					Field:   f.Key,
					Rule:    "required",
					Message: fmt.Sprintf("%s is required", f.Key),
				})
			}
			continue
		}
		if detail := checkFieldValue(f, val); detail != nil {
			details = append(details, *detail)
		}
	}
	return details
}

func checkFieldValue(f PayloadField, val any) *apperror.ErrorDetail {
	bad := func(want string) *apperror.ErrorDetail {
		return &apperror.ErrorDetail{
			Field:   f.Key,
			Rule:    "type",
			Message: fmt.Sprintf("%s must be %s", f.Key, want),
		}
	}

	switch f.Type {
	case objects.FieldString, objects.FieldText, objects.FieldEmail, objects.FieldURL:
		if _, ok := val.(string); !ok {
			return bad("a string")
		}
	case objects.FieldInt, objects.FieldFloat, objects.FieldUSD:
		switch val.(type) {
		case float64, int64, int:
		default:
			return bad("a number")
		}
	case objects.FieldBool:
		if _, ok := val.(bool); !ok {
			return bad("a boolean")
		}
	case objects.FieldDate, objects.FieldDatetime:
		s, ok := val.(string)
		if !ok {
			return bad("an RFC 3339 timestamp")
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			if _, err := time.Parse("2006-01-02", s); err != nil {
				return bad("an RFC 3339 timestamp")
			}
		}
	case objects.FieldEnum:
		s, ok := val.(string)
		if !ok {
			return bad("a string")
		}
		for _, allowed := range f.EnumValues {
			if s == allowed {
				return nil
			}
		}
		return &apperror.ErrorDetail{
			Field:   f.Key,
			Rule:    "enum",
			Message: fmt.Sprintf("%s must be one of %v", f.Key, f.EnumValues),
		}
	case objects.FieldObject:
		switch val.(type) {
		case string, float64, int64, int:
		default:
			return bad("an identifier")
		}
	case objects.FieldJSON:
		switch val.(type) {
		case map[string]any, []any:
		default:
			return bad("a JSON object or array")
		}
	}
	return nil
}
