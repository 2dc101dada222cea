package repo

import (
	"context"
	"database/sql"
	"strings"

	"siteline/internal/domain"
)

type JournalFilters struct {
	WorkID  string
	Type    string
	Limit   int
	Cursor  int64
	ActorID string
}

// ListJournal returns journal events newest-first, paginated by id cursor.
func (r Repo) ListJournal(ctx context.Context, f JournalFilters) ([]domain.JournalEvent, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.WorkID != "" {
		clauses = append(clauses, "work_id=?")
		args = append(args, f.WorkID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.ActorID != "" {
		clauses = append(clauses, "actor_id=?")
		args = append(args, f.ActorID)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id,ts,type,work_id,actor_id,payload_json FROM journal_events WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.JournalEvent
	for rows.Next() {
		var e domain.JournalEvent
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.WorkID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// JournalAfter returns events with IDs greater than the cursor in ascending
// order, for webhook delivery.
func (r Repo) JournalAfter(ctx context.Context, limit int, cursor int64) ([]domain.JournalEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,work_id,actor_id,payload_json FROM journal_events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.JournalEvent
	for rows.Next() {
		var e domain.JournalEvent
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.WorkID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestJournalID returns the most recent journal event ID.
func (r Repo) LatestJournalID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM journal_events`).Scan(&id)
	return id, err
}

// BumpUnreadTx increments one unread bucket for every project actor except
// the author. Actors with no counter row get one.
func (r Repo) BumpUnreadTx(ctx context.Context, tx *sql.Tx, projectID, workID, authorID, category string) error {
	col, ok := unreadColumn(category)
	if !ok {
		return nil
	}
	query := `INSERT INTO unread_counts(work_id, actor_id, ` + col + `)
SELECT ?, ar.actor_id, 1 FROM actor_roles ar WHERE ar.project_id=? AND ar.actor_id<>?
GROUP BY ar.actor_id
ON CONFLICT(work_id, actor_id) DO UPDATE SET ` + col + `=` + col + `+1`
	_, err := tx.ExecContext(ctx, query, workID, projectID, authorID)
	return err
}

// unreadColumn guards against interpolating anything but a known column.
func unreadColumn(category string) (string, bool) {
	switch category {
	case "messages", "logs", "inspections":
		return category, true
	}
	return "", false
}

// GetUnreadMap returns per-work unread counters for one actor.
func (r Repo) GetUnreadMap(ctx context.Context, actorID string) (map[string]domain.UnreadCounts, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT work_id,messages,logs,inspections FROM unread_counts WHERE actor_id=?`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]domain.UnreadCounts{}
	for rows.Next() {
		var workID string
		var c domain.UnreadCounts
		if err := rows.Scan(&workID, &c.Messages, &c.Logs, &c.Inspections); err != nil {
			return nil, err
		}
		res[workID] = c
	}
	return res, rows.Err()
}

// ClearUnread zeroes all buckets of one work for one actor.
func (r Repo) ClearUnread(ctx context.Context, workID, actorID string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE unread_counts SET messages=0, logs=0, inspections=0 WHERE work_id=? AND actor_id=?`, workID, actorID)
	return err
}

// ProjectActorIDs lists actors holding any role on the project.
func (r Repo) ProjectActorIDs(ctx context.Context, projectID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT DISTINCT actor_id FROM actor_roles WHERE project_id=? ORDER BY actor_id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
