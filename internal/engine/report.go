package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"siteline/internal/defects"
	"siteline/internal/domain"
	"siteline/internal/journal"
	"siteline/internal/repo"
)

// ReportResult carries the generated report plus non-fatal warnings. The
// report row always commits first; document creation may fail or be skipped
// afterwards, which surfaces as a warning instead of an error.
type ReportResult struct {
	Report   domain.DefectReport
	Document *domain.Document
	Warnings []string
}

// GenerateDefectReport snapshots a completed inspection's defect set into a
// numbered report, then tries to materialize a document from a matching
// template in a second transaction.
func (e Engine) GenerateDefectReport(ctx context.Context, inspectionID, actorID string) (ReportResult, error) {
	in, err := e.Repo.GetInspection(ctx, inspectionID)
	if err != nil {
		return ReportResult{}, err
	}
	if in.Status != "completed" {
		return ReportResult{}, ValidationError{Field: "status", Reason: "inspection must be completed"}
	}
	items := defects.Decode(in.DefectsJSON)
	if len(items) == 0 {
		return ReportResult{}, ValidationError{Field: "defects", Reason: "inspection has no defects"}
	}
	w, err := e.Repo.GetWork(ctx, in.WorkID)
	if err != nil {
		return ReportResult{}, err
	}
	obj, err := e.Repo.GetObject(ctx, w.ObjectID)
	if err != nil {
		return ReportResult{}, err
	}

	now := e.now()
	nowStr := now.UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ReportResult{}, err
	}
	defer tx.Rollback()

	// Re-check under the transaction so two concurrent calls cannot both
	// produce a report.
	cur, err := e.Repo.GetInspectionTx(ctx, tx, inspectionID)
	if err != nil {
		return ReportResult{}, err
	}
	if cur.DefectReportDocumentID != nil {
		return ReportResult{}, ValidationError{Field: "inspection_id", Reason: "defect report already generated"}
	}
	// Snapshot the defect set from the same read as the guard so the counts
	// and the guarded state cannot diverge.
	in = cur
	items = defects.Decode(in.DefectsJSON)
	if len(items) == 0 {
		return ReportResult{}, ValidationError{Field: "defects", Reason: "inspection has no defects"}
	}
	seq, err := e.Repo.CountDefectReportsInYearTx(ctx, tx, now.Year())
	if err != nil {
		return ReportResult{}, err
	}
	rep := domain.DefectReport{
		ID:              uuid.New().String(),
		ReportNumber:    fmt.Sprintf("DR-%d-%03d", now.Year(), seq+1),
		InspectionID:    in.ID,
		TotalDefects:    len(items),
		CriticalDefects: defects.CountCritical(items),
		CreatedAt:       nowStr,
	}
	if err := e.Repo.InsertDefectReportTx(ctx, tx, rep); err != nil {
		return ReportResult{}, err
	}
	if err := e.Journal.Append(ctx, tx, journal.TypeReportGenerated, in.WorkID, actorID, journal.Payload{
		"report_id":     rep.ID,
		"report_number": rep.ReportNumber,
		"total_defects": rep.TotalDefects,
	}); err != nil {
		return ReportResult{}, err
	}
	if err := e.Repo.BumpUnreadTx(ctx, tx, obj.ProjectID, in.WorkID, actorID, journal.Category(journal.TypeReportGenerated)); err != nil {
		return ReportResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ReportResult{}, err
	}
	res := ReportResult{Report: rep}

	templates, err := e.Repo.ListTemplates(ctx)
	if err != nil {
		res.Warnings = append(res.Warnings, "report saved but templates unavailable: "+err.Error())
		return res, nil
	}
	tmpl, ok := repo.MatchTemplate(templates, e.Config.TemplateKeywords())
	if !ok {
		res.Warnings = append(res.Warnings, "report saved; no matching document template, document not created")
		return res, nil
	}
	doc, err := e.createReportDocument(ctx, rep, in, w, obj, tmpl, nowStr)
	if err != nil {
		res.Warnings = append(res.Warnings, "report saved but document creation failed: "+err.Error())
		return res, nil
	}
	res.Document = &doc
	res.Report.DocumentID = &doc.ID
	return res, nil
}

// CreateTemplate registers a document template. Template type and name are
// what report generation matches keywords against.
func (e Engine) CreateTemplate(ctx context.Context, id, templateType, name string) (domain.DocumentTemplate, error) {
	if templateType == "" {
		return domain.DocumentTemplate{}, ValidationError{Field: "template_type", Reason: "required"}
	}
	if name == "" {
		return domain.DocumentTemplate{}, ValidationError{Field: "name", Reason: "required"}
	}
	if id == "" {
		id = uuid.New().String()
	}
	t := domain.DocumentTemplate{
		ID:           id,
		TemplateType: templateType,
		Name:         name,
		CreatedAt:    e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertTemplate(ctx, t); err != nil {
		return domain.DocumentTemplate{}, err
	}
	return t, nil
}

func (e Engine) createReportDocument(ctx context.Context, rep domain.DefectReport, in domain.Inspection, w domain.Work, obj domain.SiteObject, tmpl domain.DocumentTemplate, nowStr string) (domain.Document, error) {
	items := defects.Decode(in.DefectsJSON)
	lines := make([]string, 0, len(items))
	for _, d := range items {
		line := fmt.Sprintf("%d. %s", d.Number, d.Description)
		if d.Location != "" {
			line += fmt.Sprintf(" (%s)", d.Location)
		}
		line += " - " + defects.SeverityLabel(d.Severity)
		lines = append(lines, line)
	}
	content, err := json.Marshal(map[string]any{
		"report_number":     rep.ReportNumber,
		"inspection_number": in.InspectionNumber,
		"object_id":         obj.ID,
		"object_name":       obj.Name,
		"work_id":           w.ID,
		"work_title":        w.Title,
		"defects":           lines,
		"total_defects":     rep.TotalDefects,
		"critical_defects":  rep.CriticalDefects,
	})
	if err != nil {
		return domain.Document{}, err
	}
	doc := domain.Document{
		ID:           uuid.New().String(),
		WorkID:       w.ID,
		TemplateID:   &tmpl.ID,
		DocumentType: tmpl.TemplateType,
		Title:        fmt.Sprintf("Defect report %s", rep.ReportNumber),
		Status:       "draft",
		ContentJSON:  string(content),
		CreatedAt:    nowStr,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Document{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertDocumentTx(ctx, tx, doc); err != nil {
		return domain.Document{}, err
	}
	if err := e.Repo.SetDefectReportDocumentTx(ctx, tx, rep.ID, doc.ID); err != nil {
		return domain.Document{}, err
	}
	in.DefectReportDocumentID = &doc.ID
	in.UpdatedAt = nowStr
	if err := e.Repo.UpdateInspectionTx(ctx, tx, in); err != nil {
		return domain.Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Document{}, err
	}
	return doc, nil
}
