package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Event types appended by the engine.
const (
	TypeMessage             = "message"
	TypeProgress            = "work.progress"
	TypeInspectionScheduled = "inspection.scheduled"
	TypeInspectionStarted   = "inspection.started"
	TypeInspectionCompleted = "inspection.completed"
	TypeInspectionReopened  = "inspection.reopened"
	TypeReportGenerated     = "report.generated"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Payload map[string]any

// Append inserts a journal event inside the caller's transaction.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, workID, actorID string, payload Payload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal journal payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO journal_events(ts,type,work_id,actor_id,payload_json) VALUES (?,?,?,?,?)`,
		ts, evtType, workID, actorID, string(data))
	return err
}

// Category maps an event type to the unread-count bucket it increments.
// Unknown types fall into the logs bucket.
func Category(evtType string) string {
	switch {
	case evtType == TypeMessage:
		return "messages"
	case strings.HasPrefix(evtType, "inspection.") || evtType == TypeReportGenerated:
		return "inspections"
	default:
		return "logs"
	}
}
