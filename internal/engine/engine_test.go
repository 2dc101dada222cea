package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"siteline/internal/config"
	"siteline/internal/db"
	"siteline/internal/defects"
	"siteline/internal/domain"
	"siteline/internal/engine"
	"siteline/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Work   domain.Work
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("proj-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitProject(ctx, "proj-1", "test site", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	obj, err := eng.CreateObject(ctx, "proj-1", "Building A", "12 Main St")
	if err != nil {
		t.Fatalf("create object: %v", err)
	}
	w, err := eng.CreateWork(ctx, engine.WorkCreateOptions{
		ObjectID:         obj.ID,
		Title:            "Concrete works",
		PlannedStartDate: "2025-06-01",
		PlannedEndDate:   "2025-07-01",
		ActorID:          "tester",
	})
	if err != nil {
		t.Fatalf("create work: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Work: w}
}

func TestInspectionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	in, err := env.Engine.CreateInspection(env.Ctx, engine.InspectionCreateOptions{
		WorkID: env.Work.ID, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create inspection: %v", err)
	}
	if in.Status != "active" {
		t.Fatalf("status = %s, want active without future date", in.Status)
	}
	if in.InspectionNumber != "N-2025-001" {
		t.Fatalf("number = %s", in.InspectionNumber)
	}

	items := []domain.Defect{
		{Description: "crack in slab", Severity: "critical", Location: "axis 3"},
		{Description: "missing seal"},
	}
	in, err = env.Engine.CompleteInspection(env.Ctx, in.ID, items, "tester")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if in.Status != "completed" || in.CompletedAt == nil {
		t.Fatalf("completed_at must be set with completed status: %+v", in)
	}
	stored := defects.Decode(in.DefectsJSON)
	if len(stored) != 2 || stored[0].Number != 1 || stored[1].Number != 2 {
		t.Fatalf("defects not renumbered: %+v", stored)
	}

	// completed is terminal except for rework
	if _, err := env.Engine.StartInspection(env.Ctx, in.ID, "tester"); err == nil {
		t.Fatalf("expected transition error from completed")
	}
	in, err = env.Engine.ReopenInspection(env.Ctx, in.ID, "tester")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if in.Status != "on_rework" || in.CompletedAt != nil {
		t.Fatalf("reopen must clear completed_at: %+v", in)
	}
	in, err = env.Engine.StartInspection(env.Ctx, in.ID, "tester")
	if err != nil || in.Status != "active" {
		t.Fatalf("restart after rework: %v", err)
	}
}

func TestInspectionScheduledDateValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateInspection(env.Ctx, engine.InspectionCreateOptions{
		WorkID: env.Work.ID, ScheduledDate: "2031-01-10", ActorID: "tester",
	})
	var verr engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error for out-of-year date, got %v", err)
	}
	_, err = env.Engine.CreateInspection(env.Ctx, engine.InspectionCreateOptions{
		WorkID: env.Work.ID, ScheduledDate: "not-a-date", ActorID: "tester",
	})
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error for malformed date, got %v", err)
	}
	// future date within year yields a draft
	in, err := env.Engine.CreateInspection(env.Ctx, engine.InspectionCreateOptions{
		WorkID: env.Work.ID, ScheduledDate: "2025-09-01", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if in.Status != "draft" {
		t.Fatalf("future scheduled inspection should be draft, got %s", in.Status)
	}
	// past date within year starts immediately
	in, err = env.Engine.CreateInspection(env.Ctx, engine.InspectionCreateOptions{
		WorkID: env.Work.ID, ScheduledDate: "2025-06-01", ActorID: "tester",
	})
	if err != nil || in.Status != "active" {
		t.Fatalf("past scheduled inspection should be active: %v %s", err, in.Status)
	}
}

func TestCompleteValidatesFinalDefects(t *testing.T) {
	env := newTestEnv(t)
	in, err := env.Engine.CreateInspection(env.Ctx, engine.InspectionCreateOptions{WorkID: env.Work.ID, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}

	// A blank description must fail completion the same way it fails a
	// draft save, leaving the inspection untouched.
	_, err = env.Engine.CompleteInspection(env.Ctx, in.ID, []domain.Defect{{Description: "   "}}, "tester")
	var verr engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error for blank description, got %v", err)
	}
	cur, err := env.Engine.Repo.GetInspection(env.Ctx, in.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cur.Status != "active" || cur.CompletedAt != nil {
		t.Fatalf("failed completion must not change state: %+v", cur)
	}

	// Valid entries pick up the draft-path defaults: severity, label, number.
	in, err = env.Engine.CompleteInspection(env.Ctx, in.ID, []domain.Defect{{Description: "hairline crack"}}, "tester")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	stored := defects.Decode(in.DefectsJSON)
	if len(stored) != 1 {
		t.Fatalf("stored defects: %+v", stored)
	}
	if stored[0].Severity != "medium" || stored[0].SeverityLabel == "" || stored[0].Number != 1 {
		t.Fatalf("final set missed defaults: %+v", stored[0])
	}
}

func TestSaveDraftRejectedAfterCompletion(t *testing.T) {
	env := newTestEnv(t)
	in, err := env.Engine.CreateInspection(env.Ctx, engine.InspectionCreateOptions{WorkID: env.Work.ID, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	in, err = env.Engine.SaveInspectionDraft(env.Ctx, in.ID, []domain.Defect{{Description: "loose bolt"}}, "tester")
	if err != nil {
		t.Fatalf("save draft: %v", err)
	}
	if got := defects.Decode(in.DefectsJSON); len(got) != 1 || got[0].Number != 1 {
		t.Fatalf("draft not stored: %+v", got)
	}
	if _, err := env.Engine.CompleteInspection(env.Ctx, in.ID, nil, "tester"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	_, err = env.Engine.SaveInspectionDraft(env.Ctx, in.ID, []domain.Defect{{Description: "late edit"}}, "tester")
	var verr engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error editing completed inspection, got %v", err)
	}
}

func TestGenerateDefectReport(t *testing.T) {
	env := newTestEnv(t)
	in, err := env.Engine.CreateInspection(env.Ctx, engine.InspectionCreateOptions{WorkID: env.Work.ID, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}

	// not completed yet
	_, err = env.Engine.GenerateDefectReport(env.Ctx, in.ID, "tester")
	var verr engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error before completion, got %v", err)
	}

	items := []domain.Defect{
		{Description: "crack", Severity: "critical"},
		{Description: "leak", Severity: "high"},
		{Description: "scratch"},
	}
	if _, err := env.Engine.CompleteInspection(env.Ctx, in.ID, items, "tester"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// no templates exist: report commits, document skipped with a warning
	res, err := env.Engine.GenerateDefectReport(env.Ctx, in.ID, "tester")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Report.ReportNumber != "DR-2025-001" {
		t.Fatalf("report number = %s", res.Report.ReportNumber)
	}
	if res.Report.TotalDefects != 3 || res.Report.CriticalDefects != 1 {
		t.Fatalf("counts = %d/%d", res.Report.TotalDefects, res.Report.CriticalDefects)
	}
	if res.Document != nil || len(res.Warnings) == 0 {
		t.Fatalf("expected warning without templates: %+v", res)
	}

	// a matching template makes the document materialize and blocks a rerun
	tmpl := domain.DocumentTemplate{ID: "tmpl-1", TemplateType: "inspection_act", Name: "Defect act", CreatedAt: "2025-06-15T00:00:00Z"}
	if err := env.Engine.Repo.InsertTemplate(env.Ctx, tmpl); err != nil {
		t.Fatal(err)
	}
	res2, err := env.Engine.GenerateDefectReport(env.Ctx, in.ID, "tester")
	if err != nil {
		t.Fatalf("generate with template: %v", err)
	}
	if res2.Document == nil {
		t.Fatalf("expected document, warnings: %v", res2.Warnings)
	}
	if res2.Document.Status != "draft" {
		t.Fatalf("document status = %s", res2.Document.Status)
	}
	_, err = env.Engine.GenerateDefectReport(env.Ctx, in.ID, "tester")
	if !errors.As(err, &verr) {
		t.Fatalf("expected rejection once document is linked, got %v", err)
	}
}

func TestProgressReporting(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.ReportProgress(env.Ctx, env.Work.ID, 150, "", "crew-1")
	var verr engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected range validation, got %v", err)
	}
	w, err := env.Engine.ReportProgress(env.Ctx, env.Work.ID, 40, "formwork done", "crew-1")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if w.CompletionPercentage != 40 {
		t.Fatalf("percentage = %d", w.CompletionPercentage)
	}
	if w.StartDate == nil || *w.StartDate != "2025-06-15" {
		t.Fatalf("first progress must stamp start_date, got %v", w.StartDate)
	}
}

func TestJournalAndUnread(t *testing.T) {
	env := newTestEnv(t)
	ctx := env.Ctx

	// two actors on the project; author's own counters stay at zero
	tx, err := env.Engine.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	now := "2025-06-15T00:00:00Z"
	for _, actor := range []string{"crew-1", "client-1"} {
		if err := env.Engine.Repo.EnsureActor(ctx, tx, actor, now); err != nil {
			t.Fatal(err)
		}
		if err := env.Engine.Repo.InsertRole(ctx, tx, "contractor", ""); err != nil {
			t.Fatal(err)
		}
		if err := env.Engine.Repo.AssignRole(ctx, tx, "proj-1", actor, "contractor"); err != nil {
			t.Fatal(err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	if _, err := env.Engine.PostMessage(ctx, env.Work.ID, "rebar delivered", "crew-1"); err != nil {
		t.Fatalf("post message: %v", err)
	}
	if _, err := env.Engine.ReportProgress(ctx, env.Work.ID, 10, "", "crew-1"); err != nil {
		t.Fatalf("progress: %v", err)
	}

	counts, err := env.Engine.Repo.GetUnreadMap(ctx, "client-1")
	if err != nil {
		t.Fatal(err)
	}
	c := counts[env.Work.ID]
	if c.Messages != 1 || c.Logs != 1 {
		t.Fatalf("client counters = %+v", c)
	}
	own, err := env.Engine.Repo.GetUnreadMap(ctx, "crew-1")
	if err != nil {
		t.Fatal(err)
	}
	if oc := own[env.Work.ID]; oc.Messages != 0 || oc.Logs != 0 {
		t.Fatalf("author must not bump own counters: %+v", oc)
	}

	if err := env.Engine.MarkWorkRead(ctx, env.Work.ID, "client-1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	counts, err = env.Engine.Repo.GetUnreadMap(ctx, "client-1")
	if err != nil {
		t.Fatal(err)
	}
	if c := counts[env.Work.ID]; c.Messages != 0 || c.Logs != 0 || c.Inspections != 0 {
		t.Fatalf("counters must clear: %+v", c)
	}
}
