// Package workstatus infers the displayed phase of a work from its planned
// dates and reported progress. The stored status column is only trusted for
// the terminal completed state; everything else is recomputed on every read
// so a stale column can never be shown.
package workstatus

import (
	"fmt"
	"time"

	"siteline/internal/domain"
)

type Status string

const (
	Planned            Status = "planned"
	AwaitingStart      Status = "awaiting_start"
	InProgress         Status = "in_progress"
	AwaitingAcceptance Status = "awaiting_acceptance"
	Completed          Status = "completed"
	Delayed            Status = "delayed"
)

// Result is the inferred phase plus display hints.
type Result struct {
	Status      Status `json:"status"`
	DaysDelayed int    `json:"days_delayed"`
	Message     string `json:"message"`
	Color       string `json:"color"`
}

const dateLayout = "2006-01-02"

// Infer computes the phase of a work as of now. Pure: identical inputs and
// identical now produce identical output. Dates compare at midnight in now's
// location; absent or malformed dates degrade to the planned phase.
func Infer(w domain.Work, now time.Time) Result {
	if w.Status == "completed" {
		return Result{Status: Completed, Message: "work accepted", Color: "green"}
	}
	today := midnight(now)
	plannedStart, ok := parseDate(w.PlannedStartDate, now.Location())
	if !ok {
		return Result{Status: Planned, Message: "start not scheduled", Color: "gray"}
	}
	if today.Before(plannedStart) {
		return Result{
			Status:  Planned,
			Message: fmt.Sprintf("starts %s", plannedStart.Format(dateLayout)),
			Color:   "gray",
		}
	}
	plannedEnd, hasEnd := parseDate(w.PlannedEndDate, now.Location())

	if w.StartDate == nil && w.CompletionPercentage == 0 {
		days := daysBetween(plannedStart, today)
		if days > 0 {
			return Result{
				Status:      AwaitingStart,
				DaysDelayed: days,
				Message:     fmt.Sprintf("start overdue by %d d", days),
				Color:       "red",
			}
		}
		return Result{Status: AwaitingStart, Message: "awaiting start", Color: "orange"}
	}

	if w.CompletionPercentage >= 100 {
		if hasEnd && today.After(plannedEnd) {
			days := daysBetween(plannedEnd, today)
			return Result{
				Status:      AwaitingAcceptance,
				DaysDelayed: days,
				Message:     fmt.Sprintf("awaiting acceptance, %d d past deadline", days),
				Color:       "orange",
			}
		}
		return Result{Status: AwaitingAcceptance, Message: "awaiting acceptance", Color: "orange"}
	}

	if hasEnd && today.After(plannedEnd) {
		days := daysBetween(plannedEnd, today)
		return Result{
			Status:      Delayed,
			DaysDelayed: days,
			Message:     fmt.Sprintf("delayed by %d d", days),
			Color:       "red",
		}
	}
	return Result{
		Status:  InProgress,
		Message: fmt.Sprintf("in progress, %d%%", w.CompletionPercentage),
		Color:   "blue",
	}
}

func parseDate(s *string, loc *time.Location) (time.Time, bool) {
	if s == nil || *s == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(dateLayout, *s, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// daysBetween counts calendar days from a to b. Both are re-anchored in UTC
// so a DST transition between them cannot shorten a day below 24h and
// truncate the count.
func daysBetween(a, b time.Time) int {
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	d := int(ub.Sub(ua) / (24 * time.Hour))
	if d < 0 {
		return 0
	}
	return d
}
