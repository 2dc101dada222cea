package domain

type Project struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// SiteObject is a construction site belonging to a project.
type SiteObject struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Address   string `json:"address,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Contractor struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Contact   string `json:"contact,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Work is a contracted unit of work on an object. Planned and actual dates
// are calendar dates (YYYY-MM-DD); the displayed phase is not read from the
// Status column but inferred from dates and progress on each read.
type Work struct {
	ID                   string  `json:"id"`
	ObjectID             string  `json:"object_id"`
	ContractorID         *string `json:"contractor_id,omitempty"`
	Title                string  `json:"title"`
	Status               string  `json:"status" enum:"active,completed,pending,on_hold"`
	PlannedStartDate     *string `json:"planned_start_date,omitempty" format:"date"`
	PlannedEndDate       *string `json:"planned_end_date,omitempty" format:"date"`
	StartDate            *string `json:"start_date,omitempty" format:"date"`
	CompletionPercentage int     `json:"completion_percentage"`
	CreatedAt            string  `json:"created_at" format:"date-time"`
	UpdatedAt            string  `json:"updated_at" format:"date-time"`
}

// Inspection is a quality check against a work. DefectsJSON carries the
// defect set as a JSON-encoded string; a value that fails to decode is
// treated as an empty set, never as a hard error.
type Inspection struct {
	ID                     string  `json:"id"`
	InspectionNumber       string  `json:"inspection_number"`
	WorkID                 string  `json:"work_id"`
	Status                 string  `json:"status" enum:"draft,active,completed,on_rework"`
	Type                   string  `json:"type" enum:"scheduled,unscheduled"`
	ScheduledDate          *string `json:"scheduled_date,omitempty" format:"date"`
	DefectsJSON            *string `json:"defects_json,omitempty"`
	CompletedAt            *string `json:"completed_at,omitempty" format:"date-time"`
	DefectReportDocumentID *string `json:"defect_report_document_id,omitempty"`
	CreatedAt              string  `json:"created_at" format:"date-time"`
	UpdatedAt              string  `json:"updated_at" format:"date-time"`
}

// Defect is one finding within an inspection. Number is a dense 1-based
// sequence matching ledger order; renumbered when entries are removed.
type Defect struct {
	ID            string   `json:"id"`
	Number        int      `json:"number"`
	Description   string   `json:"description"`
	Location      string   `json:"location,omitempty"`
	Severity      string   `json:"severity" enum:"critical,high,medium"`
	SeverityLabel string   `json:"severity_label,omitempty"`
	Responsible   string   `json:"responsible,omitempty"`
	Deadline      string   `json:"deadline,omitempty" format:"date"`
	PhotoURLs     []string `json:"photo_urls,omitempty"`
}

// ControlPoint is a standard-reference checklist item an inspection is
// evaluated against. Read-only catalog data sourced from project config.
type ControlPoint struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Critical    bool   `json:"critical"`
}

// DefectReport is a numbered snapshot of an inspection's defect set taken at
// report-generation time.
type DefectReport struct {
	ID              string  `json:"id"`
	ReportNumber    string  `json:"report_number"`
	InspectionID    string  `json:"inspection_id"`
	TotalDefects    int     `json:"total_defects"`
	CriticalDefects int     `json:"critical_defects"`
	DocumentID      *string `json:"document_id,omitempty"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
}

type Document struct {
	ID           string  `json:"id"`
	WorkID       string  `json:"work_id"`
	TemplateID   *string `json:"template_id,omitempty"`
	DocumentType string  `json:"document_type"`
	Title        string  `json:"title"`
	Status       string  `json:"status" enum:"draft,signed,archived"`
	ContentJSON  string  `json:"content_json,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

type DocumentTemplate struct {
	ID           string `json:"id"`
	TemplateType string `json:"template_type"`
	Name         string `json:"name"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

// JournalEvent is an append-only entry in a work's timeline.
type JournalEvent struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts" format:"date-time"`
	Type    string `json:"type"`
	WorkID  string `json:"work_id"`
	ActorID string `json:"actor_id"`
	Payload string `json:"payload_json"`
}

// UnreadCounts tracks per-work unread journal entries for one actor.
type UnreadCounts struct {
	Messages    int `json:"messages"`
	Logs        int `json:"logs"`
	Inspections int `json:"inspections"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
