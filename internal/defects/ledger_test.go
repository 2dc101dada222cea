package defects

import (
	"testing"

	"siteline/internal/domain"
)

func TestAddAssignsNumbersAndLabels(t *testing.T) {
	l := NewLedger(nil)
	first, err := l.Add(domain.Defect{Description: "crack in slab", Severity: "critical"})
	if err != nil {
		t.Fatal(err)
	}
	if first.Number != 1 {
		t.Fatalf("number = %d, want 1", first.Number)
	}
	if first.SeverityLabel != "Критическая" {
		t.Fatalf("label = %q", first.SeverityLabel)
	}
	second, err := l.Add(domain.Defect{Description: "missing seal"})
	if err != nil {
		t.Fatal(err)
	}
	if second.Number != 2 || second.Severity != SeverityMedium {
		t.Fatalf("got number=%d severity=%s", second.Number, second.Severity)
	}
}

func TestAddRejectsBlankDescription(t *testing.T) {
	l := NewLedger(nil)
	for _, desc := range []string{"", "   ", "\t\n"} {
		if _, err := l.Add(domain.Defect{Description: desc}); err != ErrEmptyDescription {
			t.Fatalf("description %q: err = %v, want ErrEmptyDescription", desc, err)
		}
	}
	if l.Len() != 0 {
		t.Fatalf("ledger grew on rejected adds")
	}
}

func TestRemoveRenumbersDense(t *testing.T) {
	l := NewLedger(nil)
	var ids []string
	for _, desc := range []string{"a", "b", "c", "d"} {
		d, err := l.Add(domain.Defect{Description: desc})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, d.ID)
	}
	if err := l.Remove(ids[1]); err != nil {
		t.Fatal(err)
	}
	items := l.Items()
	if len(items) != 3 {
		t.Fatalf("len = %d, want 3", len(items))
	}
	for i, d := range items {
		if d.Number != i+1 {
			t.Fatalf("item %d has number %d", i, d.Number)
		}
	}
	if items[1].Description != "c" {
		t.Fatalf("order broken: %+v", items)
	}
	if err := l.Remove("no-such-id"); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSetSeverityUnknownFallsBack(t *testing.T) {
	l := NewLedger(nil)
	d, _ := l.Add(domain.Defect{Description: "x"})
	if err := l.SetSeverity(d.ID, "catastrophic"); err != nil {
		t.Fatal(err)
	}
	got := l.Items()[0]
	if got.SeverityLabel != "Средняя" {
		t.Fatalf("label = %q, want medium fallback", got.SeverityLabel)
	}
}

func TestAttachPhoto(t *testing.T) {
	l := NewLedger(nil)
	d, _ := l.Add(domain.Defect{Description: "x"})
	if err := l.AttachPhoto(d.ID, "https://cdn.example.com/p1.jpg"); err != nil {
		t.Fatal(err)
	}
	if err := l.AttachPhoto(d.ID, "https://cdn.example.com/p2.jpg"); err != nil {
		t.Fatal(err)
	}
	got := l.Items()[0]
	if len(got.PhotoURLs) != 2 {
		t.Fatalf("photos = %v", got.PhotoURLs)
	}
}

func TestCodecRoundTripAndCorruptInput(t *testing.T) {
	l := NewLedger(nil)
	l.Add(domain.Defect{Description: "crack", Severity: "high"})
	l.Add(domain.Defect{Description: "leak"})

	raw, err := Encode(l.Items())
	if err != nil {
		t.Fatal(err)
	}
	if raw == nil {
		t.Fatal("expected non-nil encoding")
	}
	back := Decode(raw)
	if len(back) != 2 || back[0].Description != "crack" || back[1].Number != 2 {
		t.Fatalf("round trip broke: %+v", back)
	}

	if got, err := Encode(nil); err != nil || got != nil {
		t.Fatalf("empty set should encode as nil, got %v %v", got, err)
	}
	corrupt := "{not json"
	if got := Decode(&corrupt); got != nil {
		t.Fatalf("corrupt input should decode to empty set, got %+v", got)
	}
	if got := Decode(nil); got != nil {
		t.Fatalf("nil input should decode to empty set, got %+v", got)
	}
}

func TestCountCritical(t *testing.T) {
	items := []domain.Defect{
		{Description: "a", Severity: SeverityCritical},
		{Description: "b", Severity: SeverityHigh},
		{Description: "c", Severity: SeverityCritical},
	}
	if n := CountCritical(items); n != 2 {
		t.Fatalf("critical = %d, want 2", n)
	}
}
