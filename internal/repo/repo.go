package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"siteline/internal/config"
	"siteline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertProject(ctx context.Context, p domain.Project) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO projects(id,kind,status,description,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.Kind, p.Status, nullable(p.Description), p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var p domain.Project
	err := r.DB.QueryRowContext(ctx, `SELECT id,kind,status,COALESCE(description,'') AS description,created_at FROM projects WHERE id=?`, id).
		Scan(&p.ID, &p.Kind, &p.Status, &p.Description, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) SingleProject(ctx context.Context) (domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,kind,status,COALESCE(description,'') AS description,created_at FROM projects`)
	if err != nil {
		return domain.Project{}, err
	}
	defer rows.Close()
	var projects []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Kind, &p.Status, &p.Description, &p.CreatedAt); err != nil {
			return domain.Project{}, err
		}
		projects = append(projects, p)
	}
	if len(projects) == 0 {
		return domain.Project{}, ErrNotFound
	}
	if len(projects) > 1 {
		return domain.Project{}, fmt.Errorf("multiple projects exist; specify --project")
	}
	return projects[0], nil
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,kind,status,COALESCE(description,'') AS description,created_at FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Kind, &p.Status, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpsertProjectConfig(ctx context.Context, projectID string, cfg *config.Config) error {
	return upsertProjectConfig(ctx, r.DB, nil, projectID, cfg)
}

func (r Repo) UpsertProjectConfigTx(ctx context.Context, tx *sql.Tx, projectID string, cfg *config.Config) error {
	return upsertProjectConfig(ctx, nil, tx, projectID, cfg)
}

func upsertProjectConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, projectID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Project.ID = projectID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO project_configs(project_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(project_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, projectID, string(payload), now, now)
	return err
}

func (r Repo) GetProjectConfig(ctx context.Context, projectID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM project_configs WHERE project_id=?`, projectID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Project.ID == "" {
		cfg.Project.ID = projectID
	}
	return &cfg, cfg.Validate()
}

func (r Repo) InsertObject(ctx context.Context, o domain.SiteObject) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO objects(id,project_id,name,address,created_at) VALUES (?,?,?,?,?)`,
		o.ID, o.ProjectID, o.Name, nullable(o.Address), o.CreatedAt)
	return err
}

func (r Repo) GetObject(ctx context.Context, id string) (domain.SiteObject, error) {
	var o domain.SiteObject
	var address sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,project_id,name,address,created_at FROM objects WHERE id=?`, id).
		Scan(&o.ID, &o.ProjectID, &o.Name, &address, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if address.Valid {
		o.Address = address.String
	}
	return o, err
}

func (r Repo) ListObjects(ctx context.Context, projectID string) ([]domain.SiteObject, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,name,address,created_at FROM objects WHERE project_id=? ORDER BY created_at DESC, id DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SiteObject
	for rows.Next() {
		var o domain.SiteObject
		var address sql.NullString
		if err := rows.Scan(&o.ID, &o.ProjectID, &o.Name, &address, &o.CreatedAt); err != nil {
			return nil, err
		}
		if address.Valid {
			o.Address = address.String
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

const workColumns = `id,object_id,contractor_id,title,status,planned_start_date,planned_end_date,start_date,completion_percentage,created_at,updated_at`

func scanWork(scan func(dest ...any) error) (domain.Work, error) {
	var w domain.Work
	var contractorID, plannedStart, plannedEnd, start sql.NullString
	err := scan(&w.ID, &w.ObjectID, &contractorID, &w.Title, &w.Status, &plannedStart, &plannedEnd, &start, &w.CompletionPercentage, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return w, err
	}
	if contractorID.Valid {
		w.ContractorID = &contractorID.String
	}
	if plannedStart.Valid {
		w.PlannedStartDate = &plannedStart.String
	}
	if plannedEnd.Valid {
		w.PlannedEndDate = &plannedEnd.String
	}
	if start.Valid {
		w.StartDate = &start.String
	}
	return w, nil
}

func (r Repo) InsertWorkTx(ctx context.Context, tx *sql.Tx, w domain.Work) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO works(`+workColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		w.ID, w.ObjectID, nullableStringPtr(w.ContractorID), w.Title, w.Status,
		nullableStringPtr(w.PlannedStartDate), nullableStringPtr(w.PlannedEndDate), nullableStringPtr(w.StartDate),
		w.CompletionPercentage, w.CreatedAt, w.UpdatedAt)
	return err
}

func (r Repo) UpdateWorkTx(ctx context.Context, tx *sql.Tx, w domain.Work) error {
	res, err := tx.ExecContext(ctx, `UPDATE works SET contractor_id=?, title=?, status=?, planned_start_date=?, planned_end_date=?, start_date=?, completion_percentage=?, updated_at=? WHERE id=?`,
		nullableStringPtr(w.ContractorID), w.Title, w.Status,
		nullableStringPtr(w.PlannedStartDate), nullableStringPtr(w.PlannedEndDate), nullableStringPtr(w.StartDate),
		w.CompletionPercentage, w.UpdatedAt, w.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetWork(ctx context.Context, id string) (domain.Work, error) {
	w, err := scanWork(r.DB.QueryRowContext(ctx, `SELECT `+workColumns+` FROM works WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	return w, err
}

func (r Repo) GetWorkTx(ctx context.Context, tx *sql.Tx, id string) (domain.Work, error) {
	w, err := scanWork(tx.QueryRowContext(ctx, `SELECT `+workColumns+` FROM works WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	return w, err
}

type WorkFilters struct {
	ObjectID        string
	ContractorID    string
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListWorks(ctx context.Context, f WorkFilters) ([]domain.Work, error) {
	var clauses []string
	var args []any
	if f.ObjectID != "" {
		clauses = append(clauses, "object_id=?")
		args = append(args, f.ObjectID)
	}
	if f.ContractorID != "" {
		clauses = append(clauses, "contractor_id=?")
		args = append(args, f.ContractorID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + workColumns + ` FROM works ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Work
	for rows.Next() {
		w, err := scanWork(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

const inspectionColumns = `id,inspection_number,work_id,status,type,scheduled_date,defects_json,completed_at,defect_report_document_id,created_at,updated_at`

func scanInspection(scan func(dest ...any) error) (domain.Inspection, error) {
	var in domain.Inspection
	var scheduled, defects, completed, reportDoc sql.NullString
	err := scan(&in.ID, &in.InspectionNumber, &in.WorkID, &in.Status, &in.Type, &scheduled, &defects, &completed, &reportDoc, &in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return in, err
	}
	if scheduled.Valid {
		in.ScheduledDate = &scheduled.String
	}
	if defects.Valid {
		in.DefectsJSON = &defects.String
	}
	if completed.Valid {
		in.CompletedAt = &completed.String
	}
	if reportDoc.Valid {
		in.DefectReportDocumentID = &reportDoc.String
	}
	return in, nil
}

func (r Repo) InsertInspectionTx(ctx context.Context, tx *sql.Tx, in domain.Inspection) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO inspections(`+inspectionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		in.ID, in.InspectionNumber, in.WorkID, in.Status, in.Type,
		nullableStringPtr(in.ScheduledDate), nullableStringPtr(in.DefectsJSON), nullableStringPtr(in.CompletedAt),
		nullableStringPtr(in.DefectReportDocumentID), in.CreatedAt, in.UpdatedAt)
	return err
}

func (r Repo) UpdateInspectionTx(ctx context.Context, tx *sql.Tx, in domain.Inspection) error {
	res, err := tx.ExecContext(ctx, `UPDATE inspections SET status=?, type=?, scheduled_date=?, defects_json=?, completed_at=?, defect_report_document_id=?, updated_at=? WHERE id=?`,
		in.Status, in.Type, nullableStringPtr(in.ScheduledDate), nullableStringPtr(in.DefectsJSON),
		nullableStringPtr(in.CompletedAt), nullableStringPtr(in.DefectReportDocumentID), in.UpdatedAt, in.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetInspection(ctx context.Context, id string) (domain.Inspection, error) {
	in, err := scanInspection(r.DB.QueryRowContext(ctx, `SELECT `+inspectionColumns+` FROM inspections WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return in, ErrNotFound
	}
	return in, err
}

func (r Repo) GetInspectionTx(ctx context.Context, tx *sql.Tx, id string) (domain.Inspection, error) {
	in, err := scanInspection(tx.QueryRowContext(ctx, `SELECT `+inspectionColumns+` FROM inspections WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return in, ErrNotFound
	}
	return in, err
}

type InspectionFilters struct {
	WorkID          string
	Status          string
	Type            string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListInspections(ctx context.Context, f InspectionFilters) ([]domain.Inspection, error) {
	var clauses []string
	var args []any
	if f.WorkID != "" {
		clauses = append(clauses, "work_id=?")
		args = append(args, f.WorkID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + inspectionColumns + ` FROM inspections ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Inspection
	for rows.Next() {
		in, err := scanInspection(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, in)
	}
	return res, rows.Err()
}

// CountInspectionsInYearTx counts inspections whose number carries the given
// year, used for sequence generation.
func (r Repo) CountInspectionsInYearTx(ctx context.Context, tx *sql.Tx, year int) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM inspections WHERE inspection_number LIKE ?`, fmt.Sprintf("N-%d-%%", year)).Scan(&n)
	return n, err
}

func (r Repo) CountWorksByStatus(ctx context.Context, objectID string) (map[string]int, error) {
	query := `SELECT status, count(*) FROM works`
	var args []any
	if objectID != "" {
		query += ` WHERE object_id=?`
		args = append(args, objectID)
	}
	query += ` GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
