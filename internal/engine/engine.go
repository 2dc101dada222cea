package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"siteline/internal/config"
	"siteline/internal/defects"
	"siteline/internal/domain"
	"siteline/internal/engine/auth"
	"siteline/internal/journal"
	"siteline/internal/repo"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Journal journal.Writer
	Auth    auth.Service
	Config  *config.Config
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Journal: journal.Writer{DB: db},
		Auth:    auth.Service{DB: db},
		Config:  cfg,
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ValidationError marks a request rejected for bad input rather than state.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

const dateLayout = "2006-01-02"

// InitProject initializes a new project with migrations already run.
func (e Engine) InitProject(ctx context.Context, projectID, description, actorID string) (domain.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p := domain.Project{
		ID:          projectID,
		Kind:        "construction-project",
		Status:      "active",
		Description: description,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO projects(id,kind,status,description,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.Kind, p.Status, nullable(p.Description), p.CreatedAt); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, p.ID, config.Default(p.ID)); err != nil {
		return domain.Project{}, fmt.Errorf("insert project config: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// SeedRBAC loads the config's role catalog into the RBAC tables and grants
// admin to the bootstrapping actor. Idempotent.
func (e Engine) SeedRBAC(ctx context.Context, projectID string, cfg *config.Config, adminActorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for roleID, role := range cfg.RBAC.Roles {
		if err := e.Repo.InsertRole(ctx, tx, roleID, role.Description); err != nil {
			return err
		}
		for _, perm := range role.Permissions {
			if err := e.Repo.InsertPermission(ctx, tx, perm, ""); err != nil {
				return err
			}
			if err := e.Repo.AddRolePermission(ctx, tx, roleID, perm); err != nil {
				return err
			}
		}
	}
	if adminActorID != "" {
		now := e.now().UTC().Format(time.RFC3339)
		if err := e.Repo.EnsureActor(ctx, tx, adminActorID, now); err != nil {
			return err
		}
		if err := e.Repo.AssignRole(ctx, tx, projectID, adminActorID, "admin"); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (e Engine) CreateObject(ctx context.Context, projectID, name, address string) (domain.SiteObject, error) {
	if name == "" {
		return domain.SiteObject{}, ValidationError{Field: "name", Reason: "required"}
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return domain.SiteObject{}, err
	}
	o := domain.SiteObject{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Name:      name,
		Address:   address,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertObject(ctx, o); err != nil {
		return domain.SiteObject{}, err
	}
	return o, nil
}

func (e Engine) CreateContractor(ctx context.Context, projectID, name, contact string) (domain.Contractor, error) {
	if name == "" {
		return domain.Contractor{}, ValidationError{Field: "name", Reason: "required"}
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return domain.Contractor{}, err
	}
	c := domain.Contractor{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Name:      name,
		Contact:   contact,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertContractor(ctx, c); err != nil {
		return domain.Contractor{}, err
	}
	return c, nil
}

// WorkCreateOptions are parameters for creating a work.
type WorkCreateOptions struct {
	ID               string
	ObjectID         string
	ContractorID     string
	Title            string
	PlannedStartDate string
	PlannedEndDate   string
	ActorID          string
}

func (e Engine) CreateWork(ctx context.Context, opts WorkCreateOptions) (domain.Work, error) {
	if opts.Title == "" {
		return domain.Work{}, ValidationError{Field: "title", Reason: "required"}
	}
	if opts.ObjectID == "" {
		return domain.Work{}, ValidationError{Field: "object_id", Reason: "required"}
	}
	obj, err := e.Repo.GetObject(ctx, opts.ObjectID)
	if err != nil {
		return domain.Work{}, err
	}
	if opts.ContractorID != "" {
		c, err := e.Repo.GetContractor(ctx, opts.ContractorID)
		if err != nil {
			return domain.Work{}, err
		}
		if c.ProjectID != obj.ProjectID {
			return domain.Work{}, ValidationError{Field: "contractor_id", Reason: "contractor in different project"}
		}
	}
	if err := checkDate("planned_start_date", opts.PlannedStartDate); err != nil {
		return domain.Work{}, err
	}
	if err := checkDate("planned_end_date", opts.PlannedEndDate); err != nil {
		return domain.Work{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	w := domain.Work{
		ID:               id,
		ObjectID:         opts.ObjectID,
		ContractorID:     optionalString(opts.ContractorID),
		Title:            opts.Title,
		Status:           "active",
		PlannedStartDate: optionalString(opts.PlannedStartDate),
		PlannedEndDate:   optionalString(opts.PlannedEndDate),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Work{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertWorkTx(ctx, tx, w); err != nil {
		return domain.Work{}, err
	}
	if err := e.Journal.Append(ctx, tx, "work.created", w.ID, opts.ActorID, journal.Payload{"title": w.Title}); err != nil {
		return domain.Work{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Work{}, err
	}
	return w, nil
}

// WorkUpdateOptions encapsulates allowed updates.
type WorkUpdateOptions struct {
	ID               string
	Title            *string
	ContractorID     *string
	Status           string
	PlannedStartDate *string
	PlannedEndDate   *string
	ActorID          string
}

func (e Engine) UpdateWork(ctx context.Context, opts WorkUpdateOptions) (domain.Work, error) {
	w, err := e.Repo.GetWork(ctx, opts.ID)
	if err != nil {
		return w, err
	}
	if opts.Title != nil {
		if *opts.Title == "" {
			return w, ValidationError{Field: "title", Reason: "required"}
		}
		w.Title = *opts.Title
	}
	if opts.ContractorID != nil {
		if *opts.ContractorID == "" {
			w.ContractorID = nil
		} else {
			if _, err := e.Repo.GetContractor(ctx, *opts.ContractorID); err != nil {
				return w, err
			}
			w.ContractorID = opts.ContractorID
		}
	}
	if opts.PlannedStartDate != nil {
		if err := checkDate("planned_start_date", *opts.PlannedStartDate); err != nil {
			return w, err
		}
		w.PlannedStartDate = optionalString(*opts.PlannedStartDate)
	}
	if opts.PlannedEndDate != nil {
		if err := checkDate("planned_end_date", *opts.PlannedEndDate); err != nil {
			return w, err
		}
		w.PlannedEndDate = optionalString(*opts.PlannedEndDate)
	}
	if opts.Status != "" {
		switch opts.Status {
		case "active", "completed", "pending", "on_hold":
		default:
			return w, ValidationError{Field: "status", Reason: "unknown status " + opts.Status}
		}
		w.Status = opts.Status
	}
	w.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return w, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateWorkTx(ctx, tx, w); err != nil {
		return w, err
	}
	if err := e.Journal.Append(ctx, tx, "work.updated", w.ID, opts.ActorID, journal.Payload{"status": w.Status}); err != nil {
		return w, err
	}
	if err := tx.Commit(); err != nil {
		return w, err
	}
	return w, nil
}

// ReportProgress records a contractor progress update. The first report also
// stamps the actual start date.
func (e Engine) ReportProgress(ctx context.Context, workID string, percent int, note, actorID string) (domain.Work, error) {
	if percent < 0 || percent > 100 {
		return domain.Work{}, ValidationError{Field: "completion_percentage", Reason: "must be between 0 and 100"}
	}
	w, err := e.Repo.GetWork(ctx, workID)
	if err != nil {
		return w, err
	}
	obj, err := e.Repo.GetObject(ctx, w.ObjectID)
	if err != nil {
		return w, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	w.CompletionPercentage = percent
	if w.StartDate == nil && percent > 0 {
		d := e.now().Format(dateLayout)
		w.StartDate = &d
	}
	w.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return w, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateWorkTx(ctx, tx, w); err != nil {
		return w, err
	}
	payload := journal.Payload{"completion_percentage": percent}
	if note != "" {
		payload["note"] = note
	}
	if err := e.Journal.Append(ctx, tx, journal.TypeProgress, w.ID, actorID, payload); err != nil {
		return w, err
	}
	if err := e.Repo.BumpUnreadTx(ctx, tx, obj.ProjectID, w.ID, actorID, journal.Category(journal.TypeProgress)); err != nil {
		return w, err
	}
	if err := tx.Commit(); err != nil {
		return w, err
	}
	return w, nil
}

// PostMessage appends a free-form message to the work journal.
func (e Engine) PostMessage(ctx context.Context, workID, text, actorID string) (domain.JournalEvent, error) {
	if text == "" {
		return domain.JournalEvent{}, ValidationError{Field: "text", Reason: "required"}
	}
	w, err := e.Repo.GetWork(ctx, workID)
	if err != nil {
		return domain.JournalEvent{}, err
	}
	obj, err := e.Repo.GetObject(ctx, w.ObjectID)
	if err != nil {
		return domain.JournalEvent{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.JournalEvent{}, err
	}
	defer tx.Rollback()
	if err := e.Journal.Append(ctx, tx, journal.TypeMessage, w.ID, actorID, journal.Payload{"text": text}); err != nil {
		return domain.JournalEvent{}, err
	}
	if err := e.Repo.BumpUnreadTx(ctx, tx, obj.ProjectID, w.ID, actorID, journal.Category(journal.TypeMessage)); err != nil {
		return domain.JournalEvent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.JournalEvent{}, err
	}
	evts, err := e.Repo.ListJournal(ctx, repo.JournalFilters{WorkID: w.ID, Type: journal.TypeMessage, Limit: 1})
	if err != nil {
		return domain.JournalEvent{}, err
	}
	if len(evts) == 0 {
		return domain.JournalEvent{}, fmt.Errorf("read back message event for work %s: not found", w.ID)
	}
	return evts[0], nil
}

// MarkWorkRead zeroes the caller's unread counters on one work.
func (e Engine) MarkWorkRead(ctx context.Context, workID, actorID string) error {
	if _, err := e.Repo.GetWork(ctx, workID); err != nil {
		return err
	}
	return e.Repo.ClearUnread(ctx, workID, actorID)
}

// InspectionCreateOptions are parameters for scheduling an inspection.
type InspectionCreateOptions struct {
	ID            string
	WorkID        string
	Type          string
	ScheduledDate string
	ActorID       string
}

// CreateInspection schedules an inspection against a work. A scheduled date
// in the future leaves the inspection in draft; otherwise it starts active.
func (e Engine) CreateInspection(ctx context.Context, opts InspectionCreateOptions) (domain.Inspection, error) {
	if opts.WorkID == "" {
		return domain.Inspection{}, ValidationError{Field: "work_id", Reason: "required"}
	}
	if opts.Type == "" {
		opts.Type = "scheduled"
	}
	if opts.Type != "scheduled" && opts.Type != "unscheduled" {
		return domain.Inspection{}, ValidationError{Field: "type", Reason: "unknown type " + opts.Type}
	}
	w, err := e.Repo.GetWork(ctx, opts.WorkID)
	if err != nil {
		return domain.Inspection{}, err
	}
	obj, err := e.Repo.GetObject(ctx, w.ObjectID)
	if err != nil {
		return domain.Inspection{}, err
	}
	now := e.now()
	status := "active"
	var scheduled *string
	if opts.ScheduledDate != "" {
		d, err := time.ParseInLocation(dateLayout, opts.ScheduledDate, now.Location())
		if err != nil {
			return domain.Inspection{}, ValidationError{Field: "scheduled_date", Reason: "must be YYYY-MM-DD"}
		}
		if d.Year() != now.Year() {
			return domain.Inspection{}, ValidationError{Field: "scheduled_date", Reason: fmt.Sprintf("must fall within %d", now.Year())}
		}
		scheduled = &opts.ScheduledDate
		if d.After(now) {
			status = "draft"
		}
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	nowStr := now.UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Inspection{}, err
	}
	defer tx.Rollback()
	seq, err := e.Repo.CountInspectionsInYearTx(ctx, tx, now.Year())
	if err != nil {
		return domain.Inspection{}, err
	}
	in := domain.Inspection{
		ID:               id,
		InspectionNumber: fmt.Sprintf("N-%d-%03d", now.Year(), seq+1),
		WorkID:           opts.WorkID,
		Status:           status,
		Type:             opts.Type,
		ScheduledDate:    scheduled,
		CreatedAt:        nowStr,
		UpdatedAt:        nowStr,
	}
	if err := e.Repo.InsertInspectionTx(ctx, tx, in); err != nil {
		return domain.Inspection{}, err
	}
	evtType := journal.TypeInspectionScheduled
	if status == "active" {
		evtType = journal.TypeInspectionStarted
	}
	if err := e.Journal.Append(ctx, tx, evtType, w.ID, opts.ActorID, journal.Payload{
		"inspection_id":     in.ID,
		"inspection_number": in.InspectionNumber,
	}); err != nil {
		return domain.Inspection{}, err
	}
	if err := e.Repo.BumpUnreadTx(ctx, tx, obj.ProjectID, w.ID, opts.ActorID, journal.Category(evtType)); err != nil {
		return domain.Inspection{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Inspection{}, err
	}
	return in, nil
}

func ensureInspectionTransition(oldStatus, newStatus string, force bool) error {
	if force {
		return nil
	}
	switch oldStatus {
	case "draft":
		if newStatus == "active" || newStatus == "completed" {
			return nil
		}
	case "active":
		if newStatus == "completed" {
			return nil
		}
	case "completed":
		if newStatus == "on_rework" {
			return nil
		}
	case "on_rework":
		if newStatus == "active" || newStatus == "completed" {
			return nil
		}
	}
	return fmt.Errorf("invalid inspection status transition %s -> %s", oldStatus, newStatus)
}

// StartInspection moves a draft or reopened inspection to active.
func (e Engine) StartInspection(ctx context.Context, id, actorID string) (domain.Inspection, error) {
	return e.transitionInspection(ctx, id, "active", actorID, journal.TypeInspectionStarted, nil)
}

// ReopenInspection sends a completed inspection back for rework.
func (e Engine) ReopenInspection(ctx context.Context, id, actorID string) (domain.Inspection, error) {
	return e.transitionInspection(ctx, id, "on_rework", actorID, journal.TypeInspectionReopened, nil)
}

// CompleteInspection finishes an inspection, stamping completed_at and the
// final defect set in the same transaction.
func (e Engine) CompleteInspection(ctx context.Context, id string, items []domain.Defect, actorID string) (domain.Inspection, error) {
	return e.transitionInspection(ctx, id, "completed", actorID, journal.TypeInspectionCompleted, items)
}

func (e Engine) transitionInspection(ctx context.Context, id, newStatus, actorID, evtType string, items []domain.Defect) (domain.Inspection, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Inspection{}, err
	}
	defer tx.Rollback()

	in, err := e.Repo.GetInspectionTx(ctx, tx, id)
	if err != nil {
		return in, err
	}
	if err := ensureInspectionTransition(in.Status, newStatus, false); err != nil {
		return in, err
	}
	w, err := e.Repo.GetWorkTx(ctx, tx, in.WorkID)
	if err != nil {
		return in, err
	}
	var projectID string
	if err := tx.QueryRowContext(ctx, `SELECT project_id FROM objects WHERE id=?`, w.ObjectID).Scan(&projectID); err != nil {
		return in, err
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	in.Status = newStatus
	in.UpdatedAt = nowStr
	switch newStatus {
	case "completed":
		in.CompletedAt = &nowStr
		if items != nil {
			// The final set goes through the same validating path as
			// draft saves: blank descriptions rejected, severity
			// defaulted, labels computed, numbers dense.
			ledger := defects.NewLedger(nil)
			for _, d := range items {
				if _, err := ledger.Add(d); err != nil {
					return in, ValidationError{Field: "defects", Reason: err.Error()}
				}
			}
			encoded, err := defects.Encode(ledger.Items())
			if err != nil {
				return in, err
			}
			in.DefectsJSON = encoded
		}
	case "on_rework":
		in.CompletedAt = nil
	}
	if err := e.Repo.UpdateInspectionTx(ctx, tx, in); err != nil {
		return in, err
	}
	payload := journal.Payload{
		"inspection_id":     in.ID,
		"inspection_number": in.InspectionNumber,
	}
	if newStatus == "completed" {
		payload["total_defects"] = len(defects.Decode(in.DefectsJSON))
	}
	if err := e.Journal.Append(ctx, tx, evtType, in.WorkID, actorID, payload); err != nil {
		return in, err
	}
	if err := e.Repo.BumpUnreadTx(ctx, tx, projectID, in.WorkID, actorID, journal.Category(evtType)); err != nil {
		return in, err
	}
	if err := tx.Commit(); err != nil {
		return in, err
	}
	return in, nil
}

// SaveInspectionDraft replaces the working defect set of a non-terminal
// inspection. The set is renumbered dense before storing.
func (e Engine) SaveInspectionDraft(ctx context.Context, id string, items []domain.Defect, actorID string) (domain.Inspection, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Inspection{}, err
	}
	defer tx.Rollback()

	in, err := e.Repo.GetInspectionTx(ctx, tx, id)
	if err != nil {
		return in, err
	}
	if in.Status == "completed" {
		return in, ValidationError{Field: "status", Reason: "inspection already completed"}
	}
	ledger := defects.NewLedger(nil)
	for _, d := range items {
		if _, err := ledger.Add(d); err != nil {
			return in, ValidationError{Field: "defects", Reason: err.Error()}
		}
	}
	encoded, err := defects.Encode(ledger.Items())
	if err != nil {
		return in, err
	}
	in.DefectsJSON = encoded
	in.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateInspectionTx(ctx, tx, in); err != nil {
		return in, err
	}
	if err := tx.Commit(); err != nil {
		return in, err
	}
	return in, nil
}

// --- helpers ---

func checkDate(field, value string) error {
	if value == "" {
		return nil
	}
	if _, err := time.Parse(dateLayout, value); err != nil {
		return ValidationError{Field: field, Reason: "must be YYYY-MM-DD"}
	}
	return nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
