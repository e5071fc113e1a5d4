package campaigns

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{StatusDraft, StatusActive, true},
		{StatusDraft, StatusArchived, true},
		{StatusDraft, StatusCompleted, false},
		{StatusActive, StatusCompleted, true},
		{StatusActive, StatusArchived, true},
		{StatusActive, StatusDraft, false},
		{StatusCompleted, StatusArchived, true},
		{StatusCompleted, StatusActive, false},
		{StatusArchived, StatusDraft, false},
		{StatusArchived, StatusActive, false},
		{StatusDraft, StatusDraft, false},
		{"bogus", StatusActive, false},
	}
	for _, tc := range cases {
		if got := canTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("canTransition(%q, %q) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}
