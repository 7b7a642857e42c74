package store

import (
	"testing"

	"github.com/cri-9/oficina-600/internal/models"
)

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action string
		from   string
		want   bool
	}{
		{"call_next", models.StatePending, true},
		{"call_next", models.StateInService, false},
		{"call_next", models.StateFinished, false},
		{"finalize", models.StateInService, true},
		{"finalize", models.StatePending, false},
		{"finalize", models.StateFinished, false},
		{"reset", models.StateInService, true},
		{"reset", models.StatePending, false},
		{"archive", models.StatePending, true},
		{"archive", models.StateInService, true},
		{"archive", models.StateFinished, false},
		{"unknown", models.StatePending, false},
	}
	for _, tc := range cases {
		if got := ValidTransition(tc.action, tc.from); got != tc.want {
			t.Errorf("ValidTransition(%q, %q) = %v, want %v", tc.action, tc.from, got, tc.want)
		}
	}
}

func TestFormatTicketNumber(t *testing.T) {
	cases := []struct {
		attentionType string
		seq           int64
		want          string
	}{
		{"SAE", 1, "SAE001"},
		{"SAE", 23, "SAE023"},
		{"C", 7, "C007"},
		{"SAE", 999, "SAE999"},
		{"SAE", 1234, "SAE1234"},
	}
	for _, tc := range cases {
		if got := FormatTicketNumber(tc.attentionType, tc.seq); got != tc.want {
			t.Errorf("FormatTicketNumber(%q, %d) = %q, want %q", tc.attentionType, tc.seq, got, tc.want)
		}
	}
}
