package repo

import (
	"context"
	"database/sql"

	"siteline/internal/domain"
)

func (r Repo) InsertContractor(ctx context.Context, c domain.Contractor) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO contractors(id,project_id,name,contact,created_at) VALUES (?,?,?,?,?)`,
		c.ID, c.ProjectID, c.Name, nullable(c.Contact), c.CreatedAt)
	return err
}

func (r Repo) GetContractor(ctx context.Context, id string) (domain.Contractor, error) {
	var c domain.Contractor
	var contact sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,project_id,name,contact,created_at FROM contractors WHERE id=?`, id).
		Scan(&c.ID, &c.ProjectID, &c.Name, &contact, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if contact.Valid {
		c.Contact = contact.String
	}
	return c, err
}

func (r Repo) ListContractors(ctx context.Context, projectID string) ([]domain.Contractor, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,name,contact,created_at FROM contractors WHERE project_id=? ORDER BY name ASC, id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Contractor
	for rows.Next() {
		var c domain.Contractor
		var contact sql.NullString
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.Name, &contact, &c.CreatedAt); err != nil {
			return nil, err
		}
		if contact.Valid {
			c.Contact = contact.String
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) DeleteContractor(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM contractors WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
