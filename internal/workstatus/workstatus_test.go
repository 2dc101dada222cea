package workstatus

import (
	"siteline/internal/domain"

	"testing"
	"time"
)

var now = time.Date(2025, 6, 15, 14, 30, 0, 0, time.UTC)

func date(t time.Time) *string {
	s := t.Format("2006-01-02")
	return &s
}

func TestInferPhases(t *testing.T) {
	yesterday := now.AddDate(0, 0, -1)
	tomorrow := now.AddDate(0, 0, 1)

	cases := []struct {
		name    string
		work    domain.Work
		status  Status
		delayed int
	}{
		{"no planned start", domain.Work{}, Planned, 0},
		{"starts tomorrow", domain.Work{PlannedStartDate: date(tomorrow)}, Planned, 0},
		{"awaiting start on time", domain.Work{PlannedStartDate: date(now)}, AwaitingStart, 0},
		{"awaiting start overdue", domain.Work{PlannedStartDate: date(yesterday)}, AwaitingStart, 1},
		{"in progress", domain.Work{PlannedStartDate: date(yesterday), CompletionPercentage: 40}, InProgress, 0},
		{"delayed", domain.Work{PlannedStartDate: date(now.AddDate(0, -1, 0)), PlannedEndDate: date(yesterday), CompletionPercentage: 40}, Delayed, 1},
		{"awaiting acceptance on time", domain.Work{PlannedStartDate: date(yesterday), PlannedEndDate: date(tomorrow), CompletionPercentage: 100}, AwaitingAcceptance, 0},
		{"awaiting acceptance overdue", domain.Work{PlannedStartDate: date(now.AddDate(0, -1, 0)), PlannedEndDate: date(yesterday), CompletionPercentage: 100}, AwaitingAcceptance, 1},
		{"completed column wins", domain.Work{Status: "completed", PlannedStartDate: date(yesterday)}, Completed, 0},
		{"malformed start date", domain.Work{PlannedStartDate: strPtr("not-a-date")}, Planned, 0},
		{"started but zero percent", domain.Work{PlannedStartDate: date(yesterday), StartDate: date(yesterday)}, InProgress, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Infer(tc.work, now)
			if got.Status != tc.status {
				t.Fatalf("status = %s, want %s", got.Status, tc.status)
			}
			if got.DaysDelayed != tc.delayed {
				t.Fatalf("daysDelayed = %d, want %d", got.DaysDelayed, tc.delayed)
			}
		})
	}
}

func TestInferDeterministic(t *testing.T) {
	w := domain.Work{PlannedStartDate: date(now.AddDate(0, 0, -3)), CompletionPercentage: 55}
	a := Infer(w, now)
	b := Infer(w, now)
	if a != b {
		t.Fatalf("same input produced different results: %+v vs %+v", a, b)
	}
}

func TestDelayCountsWholeDays(t *testing.T) {
	// Ten days late regardless of the time of day.
	start := now.AddDate(0, 0, -10)
	for _, hour := range []int{0, 12, 23} {
		at := time.Date(2025, 6, 15, hour, 0, 0, 0, time.UTC)
		got := Infer(domain.Work{PlannedStartDate: date(start)}, at)
		if got.DaysDelayed != 10 {
			t.Fatalf("hour %d: daysDelayed = %d, want 10", hour, got.DaysDelayed)
		}
	}
}

func TestDelayCountsAcrossDSTChange(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// Spring forward on 2025-03-09 makes that local day 23h long. Two
	// calendar days past the deadline must still count as 2.
	at := time.Date(2025, 3, 10, 10, 0, 0, 0, loc)
	w := domain.Work{
		PlannedStartDate:     strPtr("2025-03-01"),
		PlannedEndDate:       strPtr("2025-03-08"),
		CompletionPercentage: 40,
	}
	got := Infer(w, at)
	if got.Status != Delayed || got.DaysDelayed != 2 {
		t.Fatalf("got %s/%d, want delayed/2", got.Status, got.DaysDelayed)
	}
}

func strPtr(s string) *string { return &s }
