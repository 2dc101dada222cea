package sitelinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Siteline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. baseURL should include the API
// prefix, e.g. "http://127.0.0.1:8080/v1".
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Object represents a site object.
type Object struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Address   string `json:"address,omitempty"`
	CreatedAt string `json:"created_at"`
}

// Contractor represents a contracting company.
type Contractor struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Contact   string `json:"contact,omitempty"`
	CreatedAt string `json:"created_at"`
}

// WorkStatusInfo is the phase inferred from dates and progress.
type WorkStatusInfo struct {
	Status      string `json:"status"`
	DaysDelayed int    `json:"days_delayed,omitempty"`
	Message     string `json:"message"`
	Color       string `json:"color"`
}

// Work represents a unit of contracted work.
type Work struct {
	ID                   string         `json:"id"`
	ObjectID             string         `json:"object_id"`
	ContractorID         string         `json:"contractor_id,omitempty"`
	Title                string         `json:"title"`
	Status               string         `json:"status"`
	CompletionPercentage int            `json:"completion_percentage"`
	PlannedStartDate     string         `json:"planned_start_date,omitempty"`
	PlannedEndDate       string         `json:"planned_end_date,omitempty"`
	StartDate            string         `json:"start_date,omitempty"`
	StatusInfo           WorkStatusInfo `json:"status_info"`
	CreatedAt            string         `json:"created_at"`
	UpdatedAt            string         `json:"updated_at"`
}

// Defect is a numbered inspection finding.
type Defect struct {
	ID            string   `json:"id"`
	Number        int      `json:"number"`
	Description   string   `json:"description"`
	Location      string   `json:"location,omitempty"`
	Severity      string   `json:"severity"`
	SeverityLabel string   `json:"severity_label,omitempty"`
	Responsible   string   `json:"responsible,omitempty"`
	Deadline      string   `json:"deadline,omitempty"`
	PhotoURLs     []string `json:"photo_urls,omitempty"`
}

// Inspection represents a quality check on a work.
type Inspection struct {
	ID               string   `json:"id"`
	WorkID           string   `json:"work_id"`
	InspectionNumber string   `json:"inspection_number"`
	Type             string   `json:"type"`
	Status           string   `json:"status"`
	ScheduledDate    string   `json:"scheduled_date,omitempty"`
	Defects          []Defect `json:"defects"`
	CompletedAt      string   `json:"completed_at,omitempty"`
	DocumentID       string   `json:"defect_report_document_id,omitempty"`
	CreatedAt        string   `json:"created_at"`
	UpdatedAt        string   `json:"updated_at"`
}

// DefectReport is a frozen snapshot of a completed inspection's defects.
type DefectReport struct {
	ID              string `json:"id"`
	ReportNumber    string `json:"report_number"`
	InspectionID    string `json:"inspection_id"`
	TotalDefects    int    `json:"total_defects"`
	CriticalDefects int    `json:"critical_defects"`
	DocumentID      string `json:"document_id,omitempty"`
	CreatedAt       string `json:"created_at"`
}

// Document is a generated or uploaded project document.
type Document struct {
	ID           string         `json:"id"`
	WorkID       string         `json:"work_id,omitempty"`
	TemplateID   string         `json:"template_id,omitempty"`
	DocumentType string         `json:"document_type"`
	Title        string         `json:"title"`
	Status       string         `json:"status"`
	Content      map[string]any `json:"content,omitempty"`
	CreatedAt    string         `json:"created_at"`
}

// GenerateReportResult is the outcome of report generation. Document is nil
// when no matching template exists; Warnings explains why.
type GenerateReportResult struct {
	Report   DefectReport `json:"report"`
	Document *Document    `json:"document,omitempty"`
	Warnings []string     `json:"warnings,omitempty"`
}

// JournalEvent is one entry in a work's journal.
type JournalEvent struct {
	ID      int64          `json:"id"`
	WorkID  string         `json:"work_id"`
	Type    string         `json:"type"`
	ActorID string         `json:"actor_id"`
	Payload map[string]any `json:"payload,omitempty"`
	TS      string         `json:"ts"`
}

// Unread holds per-work unread counters.
type Unread struct {
	Messages    int `json:"messages"`
	Logs        int `json:"logs"`
	Inspections int `json:"inspections"`
}

// Project describes the construction project.
type Project struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// UserData is the aggregated per-actor snapshot.
type UserData struct {
	Project     Project           `json:"project"`
	Objects     []Object          `json:"objects"`
	Contractors []Contractor      `json:"contractors"`
	Works       []Work            `json:"works"`
	Inspections []Inspection      `json:"inspections"`
	Unread      map[string]Unread `json:"unread"`
	TotalUnread int               `json:"total_unread"`
	Badge       string            `json:"badge,omitempty"`
}

// WhoAmI describes the authenticated actor.
type WhoAmI struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// APIError wraps non-2xx responses, decoding the error envelope when present.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedWorks wraps work listings with a cursor.
type PaginatedWorks struct {
	Items      []Work `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// PaginatedJournal wraps journal listings with a cursor.
type PaginatedJournal struct {
	Items      []JournalEvent `json:"items"`
	NextCursor string         `json:"next_cursor"`
}

// DevLogin exchanges an actor id for a signed bearer token (dev servers only).
// The token is stored on the client for subsequent calls.
func (c *Client) DevLogin(ctx context.Context, actorID string, roles, permissions []string) (string, error) {
	body := map[string]any{
		"actor_id":    actorID,
		"roles":       roles,
		"permissions": permissions,
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "auth/dev/login", body, &resp); err != nil {
		return "", err
	}
	c.BearerToken = resp.Token
	return resp.Token, nil
}

// Me returns the authenticated actor's roles and permissions.
func (c *Client) Me(ctx context.Context) (WhoAmI, error) {
	var resp WhoAmI
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

// CreateObject creates a site object.
func (c *Client) CreateObject(ctx context.Context, name, address string) (Object, error) {
	body := map[string]any{"name": name}
	if address != "" {
		body["address"] = address
	}
	var resp Object
	err := c.do(ctx, http.MethodPost, "objects", body, &resp)
	return resp, err
}

// ListObjects lists site objects.
func (c *Client) ListObjects(ctx context.Context) ([]Object, error) {
	var resp struct {
		Items []Object `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "objects", nil, &resp)
	return resp.Items, err
}

// CreateContractor creates a contractor.
func (c *Client) CreateContractor(ctx context.Context, name, contact string) (Contractor, error) {
	body := map[string]any{"name": name}
	if contact != "" {
		body["contact"] = contact
	}
	var resp Contractor
	err := c.do(ctx, http.MethodPost, "contractors", body, &resp)
	return resp, err
}

// CreateWork creates a work on an object.
func (c *Client) CreateWork(ctx context.Context, objectID, title string, opts map[string]any) (Work, error) {
	body := map[string]any{
		"object_id": objectID,
		"title":     title,
	}
	for k, v := range opts {
		body[k] = v
	}
	var resp Work
	err := c.do(ctx, http.MethodPost, "works", body, &resp)
	return resp, err
}

// GetWork fetches a work with its inferred phase.
func (c *Client) GetWork(ctx context.Context, id string) (Work, error) {
	var resp Work
	err := c.do(ctx, http.MethodGet, "works/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListWorks returns a page of works.
func (c *Client) ListWorks(ctx context.Context, limit int, cursor string) (PaginatedWorks, error) {
	var resp PaginatedWorks
	err := c.do(ctx, http.MethodGet, withPage("works", limit, cursor), nil, &resp)
	return resp, err
}

// ReportProgress reports a work's completion percentage.
func (c *Client) ReportProgress(ctx context.Context, workID string, percent int, note string) (Work, error) {
	body := map[string]any{"completion_percentage": percent}
	if note != "" {
		body["note"] = note
	}
	var resp Work
	err := c.do(ctx, http.MethodPost, "works/"+url.PathEscape(workID)+"/progress", body, &resp)
	return resp, err
}

// PostMessage appends a message to a work's journal.
func (c *Client) PostMessage(ctx context.Context, workID, text string) (JournalEvent, error) {
	var resp JournalEvent
	err := c.do(ctx, http.MethodPost, "works/"+url.PathEscape(workID)+"/messages", map[string]any{"text": text}, &resp)
	return resp, err
}

// MarkWorkRead clears the caller's unread counters for a work.
func (c *Client) MarkWorkRead(ctx context.Context, workID string) error {
	return c.do(ctx, http.MethodPost, "works/"+url.PathEscape(workID)+"/read", nil, nil)
}

// WorkJournal returns a page of a work's journal events.
func (c *Client) WorkJournal(ctx context.Context, workID string, limit int, cursor string) (PaginatedJournal, error) {
	var resp PaginatedJournal
	err := c.do(ctx, http.MethodGet, withPage("works/"+url.PathEscape(workID)+"/journal", limit, cursor), nil, &resp)
	return resp, err
}

// CreateInspection schedules an inspection on a work.
func (c *Client) CreateInspection(ctx context.Context, workID, inspectionType, scheduledDate string) (Inspection, error) {
	body := map[string]any{"work_id": workID}
	if inspectionType != "" {
		body["type"] = inspectionType
	}
	if scheduledDate != "" {
		body["scheduled_date"] = scheduledDate
	}
	var resp Inspection
	err := c.do(ctx, http.MethodPost, "inspections", body, &resp)
	return resp, err
}

// GetInspection fetches an inspection with decoded defects.
func (c *Client) GetInspection(ctx context.Context, id string) (Inspection, error) {
	var resp Inspection
	err := c.do(ctx, http.MethodGet, "inspections/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// StartInspection moves a draft inspection to active.
func (c *Client) StartInspection(ctx context.Context, id string) (Inspection, error) {
	return c.updateInspection(ctx, id, map[string]any{"status": "active"})
}

// SaveDefects saves the draft defect list without changing status.
func (c *Client) SaveDefects(ctx context.Context, id string, defects []Defect) (Inspection, error) {
	return c.updateInspection(ctx, id, map[string]any{"defects": defects})
}

// CompleteInspection completes an inspection. Pass nil to keep the saved
// draft defects as the final list.
func (c *Client) CompleteInspection(ctx context.Context, id string, defects []Defect) (Inspection, error) {
	body := map[string]any{"status": "completed"}
	if defects != nil {
		body["defects"] = defects
	}
	return c.updateInspection(ctx, id, body)
}

// ReopenInspection sends a completed inspection back to rework.
func (c *Client) ReopenInspection(ctx context.Context, id string) (Inspection, error) {
	return c.updateInspection(ctx, id, map[string]any{"status": "on_rework"})
}

func (c *Client) updateInspection(ctx context.Context, id string, body map[string]any) (Inspection, error) {
	var resp Inspection
	err := c.do(ctx, http.MethodPut, "inspections/"+url.PathEscape(id), body, &resp)
	return resp, err
}

// GenerateReport generates a defect report for a completed inspection.
func (c *Client) GenerateReport(ctx context.Context, inspectionID string) (GenerateReportResult, error) {
	var resp GenerateReportResult
	err := c.do(ctx, http.MethodPost, "inspections/"+url.PathEscape(inspectionID)+"/report", nil, &resp)
	return resp, err
}

// ListDefectReports lists defect reports, optionally for one inspection.
func (c *Client) ListDefectReports(ctx context.Context, inspectionID string) ([]DefectReport, error) {
	endpoint := "defect-reports"
	if inspectionID != "" {
		endpoint += "?inspection_id=" + url.QueryEscape(inspectionID)
	}
	var resp struct {
		Items []DefectReport `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// GetDocument fetches a document with decoded content.
func (c *Client) GetDocument(ctx context.Context, id string) (Document, error) {
	var resp Document
	err := c.do(ctx, http.MethodGet, "documents/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Journal returns a page of project-wide journal events.
func (c *Client) Journal(ctx context.Context, limit int, cursor string) (PaginatedJournal, error) {
	var resp PaginatedJournal
	err := c.do(ctx, http.MethodGet, withPage("journal", limit, cursor), nil, &resp)
	return resp, err
}

// UserData returns the aggregated snapshot for the calling actor.
func (c *Client) UserData(ctx context.Context) (UserData, error) {
	var resp UserData
	err := c.do(ctx, http.MethodGet, "user-data", nil, &resp)
	return resp, err
}

func withPage(endpoint string, limit int, cursor string) string {
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	return endpoint
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
