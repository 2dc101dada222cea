package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"siteline/internal/domain"
)

func (r Repo) InsertDefectReportTx(ctx context.Context, tx *sql.Tx, rep domain.DefectReport) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO defect_reports(id,report_number,inspection_id,total_defects,critical_defects,document_id,created_at)
VALUES (?,?,?,?,?,?,?)`,
		rep.ID, rep.ReportNumber, rep.InspectionID, rep.TotalDefects, rep.CriticalDefects, nullableStringPtr(rep.DocumentID), rep.CreatedAt)
	return err
}

func (r Repo) SetDefectReportDocumentTx(ctx context.Context, tx *sql.Tx, reportID, documentID string) error {
	res, err := tx.ExecContext(ctx, `UPDATE defect_reports SET document_id=? WHERE id=?`, documentID, reportID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanDefectReport(scan func(dest ...any) error) (domain.DefectReport, error) {
	var rep domain.DefectReport
	var docID sql.NullString
	err := scan(&rep.ID, &rep.ReportNumber, &rep.InspectionID, &rep.TotalDefects, &rep.CriticalDefects, &docID, &rep.CreatedAt)
	if err != nil {
		return rep, err
	}
	if docID.Valid {
		rep.DocumentID = &docID.String
	}
	return rep, nil
}

func (r Repo) GetDefectReport(ctx context.Context, id string) (domain.DefectReport, error) {
	rep, err := scanDefectReport(r.DB.QueryRowContext(ctx,
		`SELECT id,report_number,inspection_id,total_defects,critical_defects,document_id,created_at FROM defect_reports WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return rep, ErrNotFound
	}
	return rep, err
}

func (r Repo) ListDefectReports(ctx context.Context, inspectionID string) ([]domain.DefectReport, error) {
	query := `SELECT id,report_number,inspection_id,total_defects,critical_defects,document_id,created_at FROM defect_reports`
	var args []any
	if inspectionID != "" {
		query += ` WHERE inspection_id=?`
		args = append(args, inspectionID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DefectReport
	for rows.Next() {
		rep, err := scanDefectReport(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rep)
	}
	return res, rows.Err()
}

// CountDefectReportsInYearTx counts reports whose number carries the given
// year, used for sequence generation.
func (r Repo) CountDefectReportsInYearTx(ctx context.Context, tx *sql.Tx, year int) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM defect_reports WHERE report_number LIKE ?`, fmt.Sprintf("DR-%d-%%", year)).Scan(&n)
	return n, err
}

func (r Repo) InsertDocument(ctx context.Context, d domain.Document) error {
	return insertDocument(ctx, r.DB, nil, d)
}

func (r Repo) InsertDocumentTx(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	return insertDocument(ctx, nil, tx, d)
}

func insertDocument(ctx context.Context, db *sql.DB, tx *sql.Tx, d domain.Document) error {
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	content := d.ContentJSON
	if content == "" {
		content = "{}"
	}
	_, err := exec(`INSERT INTO documents(id,work_id,template_id,document_type,title,status,content_json,created_at)
VALUES (?,?,?,?,?,?,?,?)`,
		d.ID, d.WorkID, nullableStringPtr(d.TemplateID), d.DocumentType, d.Title, d.Status, content, d.CreatedAt)
	return err
}

func scanDocument(scan func(dest ...any) error) (domain.Document, error) {
	var d domain.Document
	var templateID sql.NullString
	err := scan(&d.ID, &d.WorkID, &templateID, &d.DocumentType, &d.Title, &d.Status, &d.ContentJSON, &d.CreatedAt)
	if err != nil {
		return d, err
	}
	if templateID.Valid {
		d.TemplateID = &templateID.String
	}
	return d, nil
}

func (r Repo) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	d, err := scanDocument(r.DB.QueryRowContext(ctx,
		`SELECT id,work_id,template_id,document_type,title,status,content_json,created_at FROM documents WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

func (r Repo) UpdateDocumentStatus(ctx context.Context, id, status string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE documents SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListDocuments(ctx context.Context, workID string) ([]domain.Document, error) {
	query := `SELECT id,work_id,template_id,document_type,title,status,content_json,created_at FROM documents`
	var args []any
	if workID != "" {
		query += ` WHERE work_id=?`
		args = append(args, workID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Document
	for rows.Next() {
		d, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) InsertTemplate(ctx context.Context, t domain.DocumentTemplate) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO document_templates(id,template_type,name,created_at) VALUES (?,?,?,?)`,
		t.ID, t.TemplateType, t.Name, t.CreatedAt)
	return err
}

func (r Repo) GetTemplate(ctx context.Context, id string) (domain.DocumentTemplate, error) {
	var t domain.DocumentTemplate
	err := r.DB.QueryRowContext(ctx, `SELECT id,template_type,name,created_at FROM document_templates WHERE id=?`, id).
		Scan(&t.ID, &t.TemplateType, &t.Name, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) ListTemplates(ctx context.Context) ([]domain.DocumentTemplate, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,template_type,name,created_at FROM document_templates ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DocumentTemplate
	for rows.Next() {
		var t domain.DocumentTemplate
		if err := rows.Scan(&t.ID, &t.TemplateType, &t.Name, &t.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// MatchTemplate picks the first template whose type or name contains one of
// the keywords, case-insensitively. Keyword order sets priority.
func MatchTemplate(templates []domain.DocumentTemplate, keywords []string) (domain.DocumentTemplate, bool) {
	for _, kw := range keywords {
		k := strings.ToLower(kw)
		for _, t := range templates {
			if strings.Contains(strings.ToLower(t.TemplateType), k) || strings.Contains(strings.ToLower(t.Name), k) {
				return t, true
			}
		}
	}
	return domain.DocumentTemplate{}, false
}
