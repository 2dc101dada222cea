package repo

import (
	"context"
	"time"
)

// MarkWebhookDelivered upserts a delivery record for an event/url pair.
func (r Repo) MarkWebhookDelivered(ctx context.Context, eventID int64, url string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.DB.ExecContext(ctx, `
INSERT INTO webhook_deliveries(event_id, url, status, attempts, delivered_at)
VALUES (?,?,'delivered',1,?)
ON CONFLICT(event_id, url) DO UPDATE SET
  status='delivered', attempts=attempts+1, last_error=NULL, delivered_at=excluded.delivered_at`,
		eventID, url, now)
	return err
}

// MarkWebhookFailed records a failed delivery attempt for an event/url pair.
func (r Repo) MarkWebhookFailed(ctx context.Context, eventID int64, url, lastErr string) error {
	_, err := r.DB.ExecContext(ctx, `
INSERT INTO webhook_deliveries(event_id, url, status, attempts, last_error)
VALUES (?,?,'failed',1,?)
ON CONFLICT(event_id, url) DO UPDATE SET
  status='failed', attempts=attempts+1, last_error=excluded.last_error`,
		eventID, url, lastErr)
	return err
}

// LastDeliveredEventID returns the highest delivered event id for a url, so a
// restarted dispatcher resumes instead of replaying history.
func (r Repo) LastDeliveredEventID(ctx context.Context, url string) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(event_id), 0) FROM webhook_deliveries WHERE url=? AND status='delivered'`, url).Scan(&id)
	return id, err
}
