package notify

import (
	"testing"

	"siteline/internal/domain"
)

func TestTotalUnread(t *testing.T) {
	works := []domain.Work{{ID: "w1"}, {ID: "w2"}, {ID: "w3"}}
	counts := map[string]domain.UnreadCounts{
		"w1": {Messages: 2, Logs: 1},
		"w2": {Inspections: 4},
		// w3 has no row
	}
	if got := TotalUnread(works, counts); got != 7 {
		t.Fatalf("total = %d, want 7", got)
	}
	if got := TotalUnread(nil, counts); got != 0 {
		t.Fatalf("no works should total 0, got %d", got)
	}
	if got := TotalUnread(works, nil); got != 0 {
		t.Fatalf("no counters should total 0, got %d", got)
	}
}

func TestBadge(t *testing.T) {
	cases := []struct {
		in   int
		want string
	}{
		{0, ""}, {-3, ""}, {1, "1"}, {99, "99"}, {100, "99+"}, {1500, "99+"},
	}
	for _, tc := range cases {
		if got := Badge(tc.in); got != tc.want {
			t.Fatalf("Badge(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
