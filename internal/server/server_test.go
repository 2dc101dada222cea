package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"siteline/internal/config"
	"siteline/internal/db"
	"siteline/internal/engine"
	"siteline/internal/migrate"
)

const testProject = "siteline-test"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default(testProject)
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := e.InitProject(ctx, cfg.Project.ID, "", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	if err := e.SeedRBAC(ctx, cfg.Project.ID, cfg, "tester"); err != nil {
		t.Fatalf("seed rbac: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth: AuthConfig{
			JWTSecret:              "test-secret",
			AllowLegacyActorHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asTester(h map[string]string) map[string]string {
	if h == nil {
		h = map[string]string{}
	}
	h["X-Actor-Id"] = "tester"
	return h
}

func TestInspectionFlowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/objects", map[string]any{
		"name":    "Building A",
		"address": "12 Main St",
	}, asTester(nil))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create object: %d %s", res.StatusCode, string(data))
	}
	var obj ObjectResponse
	if err := json.Unmarshal(data, &obj); err != nil {
		t.Fatalf("unmarshal object: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/works", map[string]any{
		"object_id":          obj.ID,
		"title":              "Concrete works",
		"planned_start_date": "2025-06-01",
		"planned_end_date":   "2025-07-01",
	}, asTester(nil))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create work: %d %s", res.StatusCode, string(data))
	}
	var work WorkResponse
	_ = json.Unmarshal(data, &work)
	if work.StatusInfo.Status == "" {
		t.Fatalf("work must carry inferred status info: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/inspections", map[string]any{
		"work_id": work.ID,
	}, asTester(nil))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create inspection: %d %s", res.StatusCode, string(data))
	}
	var insp InspectionResponse
	_ = json.Unmarshal(data, &insp)
	if insp.Status != "active" || insp.InspectionNumber != "N-2025-001" {
		t.Fatalf("unexpected inspection: %s", string(data))
	}

	// draft save keeps it editable
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v1/inspections/"+insp.ID, map[string]any{
		"defects": []map[string]any{
			{"description": "crack in slab", "severity": "critical", "location": "axis 3"},
		},
	}, asTester(nil))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("save draft: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v1/inspections/"+insp.ID, map[string]any{
		"status": "completed",
		"defects": []map[string]any{
			{"description": "crack in slab", "severity": "critical", "location": "axis 3"},
			{"description": "missing seal"},
		},
	}, asTester(nil))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete: %d %s", res.StatusCode, string(data))
	}
	var completed InspectionResponse
	_ = json.Unmarshal(data, &completed)
	if completed.Status != "completed" || len(completed.Defects) != 2 {
		t.Fatalf("unexpected completed inspection: %s", string(data))
	}
	if completed.Defects[0].Number != 1 || completed.Defects[1].Number != 2 {
		t.Fatalf("defects must be densely numbered: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/inspections/"+insp.ID+"/report", nil, asTester(nil))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("generate report: %d %s", res.StatusCode, string(data))
	}
	var report GenerateReportResponse
	_ = json.Unmarshal(data, &report)
	if report.Report.ReportNumber != "DR-2025-001" {
		t.Fatalf("report number: %s", string(data))
	}
	if report.Report.TotalDefects != 2 || report.Report.CriticalDefects != 1 {
		t.Fatalf("report counts: %s", string(data))
	}
	// no templates registered: document skipped with a warning
	if report.Document != nil || len(report.Warnings) == 0 {
		t.Fatalf("expected warning without templates: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/user-data", nil, asTester(nil))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("user-data: %d %s", res.StatusCode, string(data))
	}
	var snapshot UserDataResponse
	if err := json.Unmarshal(data, &snapshot); err != nil {
		t.Fatalf("unmarshal user-data: %v", err)
	}
	if len(snapshot.Works) != 1 || len(snapshot.Inspections) != 1 {
		t.Fatalf("snapshot incomplete: %s", string(data))
	}
	// author does not accumulate unread for their own activity
	if snapshot.TotalUnread != 0 {
		t.Fatalf("author unread must stay zero: %s", string(data))
	}
}

func TestUnreadForOtherActor(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	ctx := context.Background()

	// second actor on the project
	tx, err := srv.Engine.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Engine.Repo.EnsureActor(ctx, tx, "client-1", "2025-06-15T00:00:00Z"); err != nil {
		t.Fatal(err)
	}
	if err := srv.Engine.Repo.AssignRole(ctx, tx, testProject, "client-1", "client"); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	obj, err := srv.Engine.CreateObject(ctx, testProject, "Building B", "")
	if err != nil {
		t.Fatal(err)
	}
	work, err := srv.Engine.CreateWork(ctx, engine.WorkCreateOptions{ObjectID: obj.ID, Title: "Roofing", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/works/"+work.ID+"/messages", map[string]any{
		"text": "membrane delivered",
	}, asTester(nil))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("post message: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/user-data", nil, map[string]string{"X-Actor-Id": "client-1"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("user-data as client: %d %s", res.StatusCode, string(data))
	}
	var snapshot UserDataResponse
	_ = json.Unmarshal(data, &snapshot)
	if snapshot.Unread[work.ID].Messages != 1 {
		t.Fatalf("client must see one unread message: %s", string(data))
	}
	if snapshot.TotalUnread != 1 || snapshot.Badge != "1" {
		t.Fatalf("unexpected unread totals: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/works/"+work.ID+"/read", nil, map[string]string{"X-Actor-Id": "client-1"})
	if res.StatusCode != http.StatusNoContent && res.StatusCode != http.StatusOK {
		t.Fatalf("mark read: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/user-data", nil, map[string]string{"X-Actor-Id": "client-1"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("user-data after read: %d %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &snapshot)
	if snapshot.TotalUnread != 0 {
		t.Fatalf("counters must clear after read: %s", string(data))
	}
}

func TestAuthAndPermissions(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	// no credentials at all
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/works", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}

	// dev login mints a bearer token carrying permissions
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{
		"actor_id":    "jwt-user",
		"permissions": []string{"work.read"},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	_ = json.Unmarshal(data, &login)
	if login.Token == "" {
		t.Fatalf("empty token: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/works", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("token list works: %d %s", res.StatusCode, string(data))
	}

	// token permissions do not include object.manage
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/objects", map[string]any{
		"name": "Forbidden tower",
	}, map[string]string{"Authorization": "Bearer " + login.Token})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, string(data))
	}

	// garbage token
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/works", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d %s", res.StatusCode, string(data))
	}
}

func TestScheduledDateRejectedOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	ctx := context.Background()

	obj, err := srv.Engine.CreateObject(ctx, testProject, "Building C", "")
	if err != nil {
		t.Fatal(err)
	}
	work, err := srv.Engine.CreateWork(ctx, engine.WorkCreateOptions{ObjectID: obj.ID, Title: "Windows", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/inspections", map[string]any{
		"work_id":        work.ID,
		"scheduled_date": "2031-01-10",
	}, asTester(nil))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for out-of-year date, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(data, &envelope)
	if envelope.Error.Code != "bad_request" {
		t.Fatalf("unexpected error envelope: %s", string(data))
	}
}
