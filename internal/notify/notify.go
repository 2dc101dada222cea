// Package notify aggregates per-work unread counters into the totals the
// clients show as badges.
package notify

import (
	"strconv"

	"siteline/internal/domain"
)

// badgeCap is the largest count rendered verbatim; anything above shows "99+".
const badgeCap = 99

// TotalUnread sums every bucket of every listed work. Works with no counter
// row contribute zero.
func TotalUnread(works []domain.Work, counts map[string]domain.UnreadCounts) int {
	total := 0
	for _, w := range works {
		c, ok := counts[w.ID]
		if !ok {
			continue
		}
		total += c.Messages + c.Logs + c.Inspections
	}
	return total
}

// Sum collapses one work's buckets.
func Sum(c domain.UnreadCounts) int {
	return c.Messages + c.Logs + c.Inspections
}

// Badge renders a count for display, capping at "99+".
func Badge(total int) string {
	if total <= 0 {
		return ""
	}
	if total > badgeCap {
		return "99+"
	}
	return strconv.Itoa(total)
}
