package server

import (
	"encoding/json"

	"siteline/internal/config"
	"siteline/internal/defects"
	"siteline/internal/domain"
	"siteline/internal/workstatus"
)

// Request payloads

type CreateObjectRequest struct {
	ID      *string `json:"id,omitempty"`
	Name    string  `json:"name"`
	Address *string `json:"address,omitempty"`
}

type CreateContractorRequest struct {
	ID      *string `json:"id,omitempty"`
	Name    string  `json:"name"`
	Contact *string `json:"contact,omitempty"`
}

type CreateWorkRequest struct {
	ID               *string `json:"id,omitempty"`
	ObjectID         string  `json:"object_id"`
	ContractorID     *string `json:"contractor_id,omitempty"`
	Title            string  `json:"title"`
	PlannedStartDate *string `json:"planned_start_date,omitempty" format:"date"`
	PlannedEndDate   *string `json:"planned_end_date,omitempty" format:"date"`
}

type UpdateWorkRequest struct {
	Title            *string `json:"title,omitempty"`
	Status           *string `json:"status,omitempty" enum:"active,completed,pending,on_hold"`
	ContractorID     *string `json:"contractor_id,omitempty"`
	PlannedStartDate *string `json:"planned_start_date,omitempty" format:"date"`
	PlannedEndDate   *string `json:"planned_end_date,omitempty" format:"date"`
}

type ProgressRequest struct {
	CompletionPercentage int    `json:"completion_percentage" minimum:"0" maximum:"100"`
	Note                 string `json:"note,omitempty"`
}

type MessageRequest struct {
	Text string `json:"text"`
}

type CreateInspectionRequest struct {
	ID            *string `json:"id,omitempty"`
	WorkID        string  `json:"work_id"`
	Type          *string `json:"type,omitempty" enum:"scheduled,unscheduled"`
	ScheduledDate *string `json:"scheduled_date,omitempty" format:"date"`
}

type DefectRequest struct {
	ID          *string  `json:"id,omitempty"`
	Description string   `json:"description"`
	Location    string   `json:"location,omitempty"`
	Severity    string   `json:"severity,omitempty" enum:"critical,high,medium"`
	Responsible string   `json:"responsible,omitempty"`
	Deadline    string   `json:"deadline,omitempty" format:"date"`
	PhotoURLs   []string `json:"photo_urls,omitempty"`
}

// UpdateInspectionRequest drives both draft saves and status transitions.
// A status triggers the matching transition; defects without a status saves
// a working draft of the defect list.
type UpdateInspectionRequest struct {
	Status  *string         `json:"status,omitempty" enum:"active,completed,on_rework"`
	Defects []DefectRequest `json:"defects,omitempty"`
}

type CreateTemplateRequest struct {
	ID           *string `json:"id,omitempty"`
	TemplateType string  `json:"template_type"`
	Name         string  `json:"name"`
}

type UpdateDocumentRequest struct {
	Status string `json:"status" enum:"draft,signed,archived"`
}

type RoleChangeRequest struct {
	ActorID string `json:"actor_id"`
	RoleID  string `json:"role_id"`
}

type DevLoginRequest struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Response payloads

type ObjectResponse struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Address   string `json:"address,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ContractorResponse struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Contact   string `json:"contact,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type WorkStatusInfo struct {
	Status      string `json:"status" enum:"planned,awaiting_start,in_progress,awaiting_acceptance,completed,delayed"`
	DaysDelayed int    `json:"days_delayed"`
	Message     string `json:"message"`
	Color       string `json:"color"`
}

type WorkResponse struct {
	ID                   string         `json:"id"`
	ObjectID             string         `json:"object_id"`
	ContractorID         *string        `json:"contractor_id,omitempty"`
	Title                string         `json:"title"`
	Status               string         `json:"status" enum:"active,completed,pending,on_hold"`
	PlannedStartDate     *string        `json:"planned_start_date,omitempty" format:"date"`
	PlannedEndDate       *string        `json:"planned_end_date,omitempty" format:"date"`
	StartDate            *string        `json:"start_date,omitempty" format:"date"`
	CompletionPercentage int            `json:"completion_percentage"`
	StatusInfo           WorkStatusInfo `json:"status_info"`
	CreatedAt            string         `json:"created_at" format:"date-time"`
	UpdatedAt            string         `json:"updated_at" format:"date-time"`
}

type InspectionResponse struct {
	ID                     string          `json:"id"`
	InspectionNumber       string          `json:"inspection_number"`
	WorkID                 string          `json:"work_id"`
	Status                 string          `json:"status" enum:"draft,active,completed,on_rework"`
	Type                   string          `json:"type" enum:"scheduled,unscheduled"`
	ScheduledDate          *string         `json:"scheduled_date,omitempty" format:"date"`
	Defects                []domain.Defect `json:"defects"`
	CompletedAt            *string         `json:"completed_at,omitempty" format:"date-time"`
	DefectReportDocumentID *string         `json:"defect_report_document_id,omitempty"`
	CreatedAt              string          `json:"created_at" format:"date-time"`
	UpdatedAt              string          `json:"updated_at" format:"date-time"`
}

type DefectReportResponse struct {
	ID              string  `json:"id"`
	ReportNumber    string  `json:"report_number"`
	InspectionID    string  `json:"inspection_id"`
	TotalDefects    int     `json:"total_defects"`
	CriticalDefects int     `json:"critical_defects"`
	DocumentID      *string `json:"document_id,omitempty"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
}

type GenerateReportResponse struct {
	Report   DefectReportResponse `json:"report"`
	Document *DocumentResponse    `json:"document,omitempty"`
	Warnings []string             `json:"warnings,omitempty"`
}

type DocumentResponse struct {
	ID           string         `json:"id"`
	WorkID       string         `json:"work_id"`
	TemplateID   *string        `json:"template_id,omitempty"`
	DocumentType string         `json:"document_type"`
	Title        string         `json:"title"`
	Status       string         `json:"status" enum:"draft,signed,archived"`
	Content      map[string]any `json:"content,omitempty"`
	CreatedAt    string         `json:"created_at" format:"date-time"`
}

type TemplateResponse struct {
	ID           string `json:"id"`
	TemplateType string `json:"template_type"`
	Name         string `json:"name"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type ControlPointResponse struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Critical    bool   `json:"critical"`
}

type JournalEventResponse struct {
	ID      int64          `json:"id"`
	TS      string         `json:"ts" format:"date-time"`
	Type    string         `json:"type"`
	WorkID  string         `json:"work_id"`
	ActorID string         `json:"actor_id"`
	Payload map[string]any `json:"payload"`
}

type UnreadResponse struct {
	Messages    int `json:"messages"`
	Logs        int `json:"logs"`
	Inspections int `json:"inspections"`
}

// UserDataResponse is the single-call snapshot a client renders on startup.
type UserDataResponse struct {
	Project     ProjectResponse           `json:"project"`
	Objects     []ObjectResponse          `json:"objects"`
	Contractors []ContractorResponse      `json:"contractors"`
	Works       []WorkResponse            `json:"works"`
	Inspections []InspectionResponse      `json:"inspections"`
	Unread      map[string]UnreadResponse `json:"unread"`
	TotalUnread int                       `json:"total_unread"`
	Badge       string                    `json:"badge,omitempty"`
}

type ProjectResponse struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

type ProjectConfigResponse struct {
	Project struct {
		ID   string `json:"id"`
		Kind string `json:"kind"`
	} `json:"project"`
	ControlPoints    []ControlPointResponse `json:"control_points"`
	TemplateKeywords []string               `json:"template_keywords"`
	Roles            map[string][]string    `json:"roles"`
}

type paginatedWorks struct {
	Items      []WorkResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type paginatedInspections struct {
	Items      []InspectionResponse `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

type paginatedJournal struct {
	Items      []JournalEventResponse `json:"items"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

// Conversion helpers

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse(p)
}

func objectResponse(o domain.SiteObject) ObjectResponse {
	return ObjectResponse(o)
}

func contractorResponse(c domain.Contractor) ContractorResponse {
	return ContractorResponse(c)
}

func workResponse(w domain.Work, info workstatus.Result) WorkResponse {
	return WorkResponse{
		ID:                   w.ID,
		ObjectID:             w.ObjectID,
		ContractorID:         w.ContractorID,
		Title:                w.Title,
		Status:               w.Status,
		PlannedStartDate:     w.PlannedStartDate,
		PlannedEndDate:       w.PlannedEndDate,
		StartDate:            w.StartDate,
		CompletionPercentage: w.CompletionPercentage,
		StatusInfo: WorkStatusInfo{
			Status:      string(info.Status),
			DaysDelayed: info.DaysDelayed,
			Message:     info.Message,
			Color:       info.Color,
		},
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
}

func inspectionResponse(in domain.Inspection) InspectionResponse {
	return InspectionResponse{
		ID:                     in.ID,
		InspectionNumber:       in.InspectionNumber,
		WorkID:                 in.WorkID,
		Status:                 in.Status,
		Type:                   in.Type,
		ScheduledDate:          in.ScheduledDate,
		Defects:                nonNilDefects(defects.Decode(in.DefectsJSON)),
		CompletedAt:            in.CompletedAt,
		DefectReportDocumentID: in.DefectReportDocumentID,
		CreatedAt:              in.CreatedAt,
		UpdatedAt:              in.UpdatedAt,
	}
}

func reportResponse(rep domain.DefectReport) DefectReportResponse {
	return DefectReportResponse(rep)
}

func documentResponse(d domain.Document) DocumentResponse {
	return DocumentResponse{
		ID:           d.ID,
		WorkID:       d.WorkID,
		TemplateID:   d.TemplateID,
		DocumentType: d.DocumentType,
		Title:        d.Title,
		Status:       d.Status,
		Content:      decodeJSONMap(&d.ContentJSON),
		CreatedAt:    d.CreatedAt,
	}
}

func templateResponse(t domain.DocumentTemplate) TemplateResponse {
	return TemplateResponse(t)
}

func journalEventResponse(evt domain.JournalEvent) JournalEventResponse {
	return JournalEventResponse{
		ID:      evt.ID,
		TS:      evt.TS,
		Type:    evt.Type,
		WorkID:  evt.WorkID,
		ActorID: evt.ActorID,
		Payload: decodeJSONMap(&evt.Payload),
	}
}

func unreadResponse(c domain.UnreadCounts) UnreadResponse {
	return UnreadResponse(c)
}

func configResponse(cfg *config.Config) ProjectConfigResponse {
	var res ProjectConfigResponse
	res.Project.ID = cfg.Project.ID
	res.Project.Kind = cfg.Project.Kind
	res.ControlPoints = []ControlPointResponse{}
	for code, cp := range cfg.ControlPoints.Catalog {
		res.ControlPoints = append(res.ControlPoints, ControlPointResponse{
			Code:        code,
			Description: cp.Description,
			Critical:    cp.Critical,
		})
	}
	res.TemplateKeywords = cfg.TemplateKeywords()
	res.Roles = map[string][]string{}
	for id, role := range cfg.RBAC.Roles {
		res.Roles[id] = nonNilSlice(role.Permissions)
	}
	return res
}

func defectItems(reqs []DefectRequest) []domain.Defect {
	items := make([]domain.Defect, 0, len(reqs))
	for _, r := range reqs {
		d := domain.Defect{
			Description: r.Description,
			Location:    r.Location,
			Severity:    r.Severity,
			Responsible: r.Responsible,
			Deadline:    r.Deadline,
			PhotoURLs:   r.PhotoURLs,
		}
		if r.ID != nil {
			d.ID = *r.ID
		}
		items = append(items, d)
	}
	return items
}

// JSON helpers

func decodeJSONMap(raw *string) map[string]any {
	if raw == nil || *raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(*raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func nonNilDefects(in []domain.Defect) []domain.Defect {
	if in == nil {
		return []domain.Defect{}
	}
	return in
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
