package defects

import (
	"encoding/json"
	"fmt"

	"siteline/internal/domain"
)

// Encode serializes a defect set for the string-encoded defects field.
// An empty set encodes as nil so the column stays NULL.
func Encode(items []domain.Defect) (*string, error) {
	if len(items) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode defects: %w", err)
	}
	s := string(b)
	return &s, nil
}

// Decode parses the string-encoded defects field. Malformed input yields an
// empty set rather than an error: one corrupt record must not block reads.
func Decode(raw *string) []domain.Defect {
	if raw == nil || *raw == "" {
		return nil
	}
	var items []domain.Defect
	if err := json.Unmarshal([]byte(*raw), &items); err != nil {
		return nil
	}
	return items
}
