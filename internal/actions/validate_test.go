package actions

import (
	"testing"

	"github.com/Plabrum/arive/internal/objects"
)

func specWith(fields ...PayloadField) *PayloadSpec {
	return &PayloadSpec{Fields: fields}
}

func TestValidatePayload_NilSpecRejectsEverything(t *testing.T) {
	details := validatePayload(nil, map[string]any{"anything": 1})
	if len(details) != 1 || details[0].Rule != "unknown" {
		t.Fatalf("expected unknown-field rejection, got %v", details)
	}
	if details := validatePayload(nil, nil); len(details) != 0 {
		t.Fatalf("empty payload against nil spec must pass, got %v", details)
	}
}

func TestValidatePayload_RequiredAndUnknown(t *testing.T) {
	spec := specWith(
		PayloadField{Key: "name", Type: objects.FieldString, Required: true},
	)

	details := validatePayload(spec, map[string]any{})
	if len(details) != 1 || details[0].Rule != "required" {
		t.Fatalf("expected required violation, got %v", details)
	}

	details = validatePayload(spec, map[string]any{"name": "x", "extra": true})
	if len(details) != 1 || details[0].Field != "extra" {
		t.Fatalf("expected unknown-field violation for extra, got %v", details)
	}
}

func TestValidatePayload_TypeChecks(t *testing.T) {
	spec := specWith(
		PayloadField{Key: "title", Type: objects.FieldString},
		PayloadField{Key: "amount", Type: objects.FieldUSD},
		PayloadField{Key: "due", Type: objects.FieldDate},
		PayloadField{Key: "status", Type: objects.FieldEnum, EnumValues: []string{"Draft", "Sent"}},
	)

	cases := []struct {
		name    string
		payload map[string]any
		wantErr bool
	}{
		{"valid", map[string]any{"title": "x", "amount": float64(100), "due": "2026-09-01", "status": "Draft"}, false},
		{"numeric title", map[string]any{"title": 42}, true},
		{"string amount", map[string]any{"amount": "100"}, true},
		{"bad date", map[string]any{"due": "tomorrow"}, true},
		{"rfc3339 date", map[string]any{"due": "2026-09-01T12:00:00Z"}, false},
		{"enum miss", map[string]any{"status": "Paid"}, true},
	}
	for _, tc := range cases {
		details := validatePayload(spec, tc.payload)
		if tc.wantErr && len(details) == 0 {
			t.Errorf("%s: expected violation", tc.name)
		}
		if !tc.wantErr && len(details) != 0 {
			t.Errorf("%s: unexpected violations %v", tc.name, details)
		}
	}
}
