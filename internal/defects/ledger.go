// Package defects maintains the ordered defect set of one in-flight
// inspection and owns the wire codec for the string-encoded defects field.
package defects

import (
	"errors"
	"strings"

	"github.com/google/uuid"

	"siteline/internal/domain"
)

var (
	ErrEmptyDescription = errors.New("defect description is required")
	ErrNotFound         = errors.New("defect not found")
)

// Severity display labels. Unknown severities fall back to the medium label.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
)

var severityLabels = map[string]string{
	SeverityCritical: "Критическая",
	SeverityHigh:     "Высокая",
	SeverityMedium:   "Средняя",
}

func SeverityLabel(severity string) string {
	if label, ok := severityLabels[severity]; ok {
		return label
	}
	return severityLabels[SeverityMedium]
}

// Ledger holds the defects of a single inspection in display order.
// Invariant: after every mutation, Number fields are exactly 1..N matching
// slice order.
type Ledger struct {
	items []domain.Defect
}

// NewLedger wraps an existing defect set, renumbering it dense.
func NewLedger(items []domain.Defect) *Ledger {
	l := &Ledger{items: append([]domain.Defect(nil), items...)}
	l.renumber()
	return l
}

// Add validates and appends a defect, assigning the next sequential number.
func (l *Ledger) Add(d domain.Defect) (domain.Defect, error) {
	if strings.TrimSpace(d.Description) == "" {
		return domain.Defect{}, ErrEmptyDescription
	}
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Severity == "" {
		d.Severity = SeverityMedium
	}
	d.SeverityLabel = SeverityLabel(d.Severity)
	d.Number = len(l.items) + 1
	l.items = append(l.items, d)
	return d, nil
}

// Remove deletes a defect by id and renumbers the survivors.
func (l *Ledger) Remove(id string) error {
	for i, d := range l.items {
		if d.ID == id {
			l.items = append(l.items[:i], l.items[i+1:]...)
			l.renumber()
			return nil
		}
	}
	return ErrNotFound
}

// SetSeverity updates severity and recomputes the display label.
func (l *Ledger) SetSeverity(id, severity string) error {
	for i := range l.items {
		if l.items[i].ID == id {
			l.items[i].Severity = severity
			l.items[i].SeverityLabel = SeverityLabel(severity)
			return nil
		}
	}
	return ErrNotFound
}

// AttachPhoto appends a photo URL to a defect. URLs only; the ledger never
// stores binary data.
func (l *Ledger) AttachPhoto(id, url string) error {
	for i := range l.items {
		if l.items[i].ID == id {
			l.items[i].PhotoURLs = append(l.items[i].PhotoURLs, url)
			return nil
		}
	}
	return ErrNotFound
}

// Items returns a copy of the defect set in order.
func (l *Ledger) Items() []domain.Defect {
	return append([]domain.Defect(nil), l.items...)
}

func (l *Ledger) Len() int { return len(l.items) }

func (l *Ledger) renumber() {
	for i := range l.items {
		l.items[i].Number = i + 1
	}
}

// CountCritical returns how many defects carry critical severity.
func CountCritical(items []domain.Defect) int {
	n := 0
	for _, d := range items {
		if d.Severity == SeverityCritical {
			n++
		}
	}
	return n
}
