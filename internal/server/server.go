package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"siteline/internal/domain"
	"siteline/internal/engine"
	"siteline/internal/engine/auth"
	"siteline/internal/notify"
	"siteline/internal/repo"
	"siteline/internal/workstatus"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"bad_request"`
	Message string         `json:"message" example:"scheduled_date: must fall within 2025"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Siteline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope above.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Siteline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerConfig(group, cfg.Engine)
	registerObjects(group, cfg.Engine)
	registerContractors(group, cfg.Engine)
	registerWorks(group, cfg.Engine)
	registerInspections(group, cfg.Engine)
	registerReports(group, cfg.Engine)
	registerDocuments(group, cfg.Engine)
	registerJournal(group, cfg.Engine)
	registerUserData(group, cfg.Engine)
	registerRBAC(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": ve.Field})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "transition"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func hasPermission(perms []string, perm string) bool {
	for _, p := range perms {
		if p == perm {
			return true
		}
	}
	return false
}

func requirePermission(ctx context.Context, e engine.Engine, perm string) error {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return authErr
	}
	if hasPermission(principal.Permissions, perm) {
		return nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ok, err := e.Auth.ActorHasPermission(ctx, tx, e.Config.Project.ID, principal.ActorID, perm)
	if err != nil {
		return err
	}
	if !ok {
		return auth.ForbiddenError{Permission: perm}
	}
	return nil
}

func engineNow(e engine.Engine) time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	devLoginPath := path.Join(basePath, "auth/dev/login")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	if !strings.HasPrefix(devLoginPath, "/") {
		devLoginPath = "/" + devLoginPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath || route == devLoginPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Siteline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Project status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "work.read"); err != nil {
			return nil, handleError(err)
		}
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Repo.GetProject(ctx, e.Config.Project.ID)
		if err != nil {
			return nil, handleError(err)
		}
		counts, err := e.Repo.CountWorksByStatus(ctx, "")
		if err != nil {
			return nil, handleError(err)
		}
		works, err := e.Repo.ListWorks(ctx, repo.WorkFilters{})
		if err != nil {
			return nil, handleError(err)
		}
		unread, err := e.Repo.GetUnreadMap(ctx, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		total := notify.TotalUnread(works, unread)
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"project_id":   p.ID,
			"status":       p.Status,
			"work_counts":  counts,
			"total_unread": total,
			"badge":        notify.Badge(total),
		}}, nil
	})
}

func registerConfig(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-config",
		Method:      http.MethodGet,
		Path:        "/config",
		Summary:     "Project config",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ProjectConfigResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "project.config"); err != nil {
			return nil, handleError(err)
		}
		cfg, err := e.Repo.GetProjectConfig(ctx, e.Config.Project.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectConfigResponse `json:"body"`
		}{Body: configResponse(cfg)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-control-points",
		Method:      http.MethodGet,
		Path:        "/control-points",
		Summary:     "Control point catalog",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ControlPointResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "work.read"); err != nil {
			return nil, handleError(err)
		}
		items := []ControlPointResponse{}
		for code, cp := range e.Config.ControlPoints.Catalog {
			items = append(items, ControlPointResponse{Code: code, Description: cp.Description, Critical: cp.Critical})
		}
		return &struct {
			Body []ControlPointResponse `json:"body"`
		}{Body: items}, nil
	})
}

func registerObjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-object",
		Method:        http.MethodPost,
		Path:          "/objects",
		Summary:       "Create object",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateObjectRequest `json:"body"`
	}) (*struct {
		Body ObjectResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		if err := requirePermission(ctx, e, "object.manage"); err != nil {
			return nil, handleError(err)
		}
		o, err := e.CreateObject(ctx, e.Config.Project.ID, input.Body.Name, stringOrEmpty(input.Body.Address))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ObjectResponse `json:"body"`
		}{Body: objectResponse(o)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-objects",
		Method:      http.MethodGet,
		Path:        "/objects",
		Summary:     "List objects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ObjectResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "work.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListObjects(ctx, e.Config.Project.ID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]ObjectResponse, 0, len(items))
		for _, o := range items {
			res = append(res, objectResponse(o))
		}
		return &struct {
			Body []ObjectResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-object",
		Method:      http.MethodGet,
		Path:        "/objects/{id}",
		Summary:     "Get object",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ObjectResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "work.read"); err != nil {
			return nil, handleError(err)
		}
		o, err := e.Repo.GetObject(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ObjectResponse `json:"body"`
		}{Body: objectResponse(o)}, nil
	})
}

func registerContractors(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-contractor",
		Method:        http.MethodPost,
		Path:          "/contractors",
		Summary:       "Create contractor",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateContractorRequest `json:"body"`
	}) (*struct {
		Body ContractorResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		if err := requirePermission(ctx, e, "contractor.manage"); err != nil {
			return nil, handleError(err)
		}
		c, err := e.CreateContractor(ctx, e.Config.Project.ID, input.Body.Name, stringOrEmpty(input.Body.Contact))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ContractorResponse `json:"body"`
		}{Body: contractorResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-contractors",
		Method:      http.MethodGet,
		Path:        "/contractors",
		Summary:     "List contractors",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ContractorResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "work.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListContractors(ctx, e.Config.Project.ID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]ContractorResponse, 0, len(items))
		for _, c := range items {
			res = append(res, contractorResponse(c))
		}
		return &struct {
			Body []ContractorResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-contractor",
		Method:      http.MethodGet,
		Path:        "/contractors/{id}",
		Summary:     "Get contractor",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ContractorResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "work.read"); err != nil {
			return nil, handleError(err)
		}
		c, err := e.Repo.GetContractor(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ContractorResponse `json:"body"`
		}{Body: contractorResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-contractor",
		Method:      http.MethodDelete,
		Path:        "/contractors/{id}",
		Summary:     "Delete contractor",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if err := requirePermission(ctx, e, "contractor.manage"); err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.DeleteContractor(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerWorks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-work",
		Method:        http.MethodPost,
		Path:          "/works",
		Summary:       "Create work",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateWorkRequest `json:"body"`
	}) (*struct {
		Body WorkResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requirePermission(ctx, e, "work.update"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.WorkCreateOptions{
			ObjectID:         input.Body.ObjectID,
			Title:            input.Body.Title,
			ContractorID:     stringOrEmpty(input.Body.ContractorID),
			PlannedStartDate: stringOrEmpty(input.Body.PlannedStartDate),
			PlannedEndDate:   stringOrEmpty(input.Body.PlannedEndDate),
			ActorID:          actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		w, err := e.CreateWork(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkResponse `json:"body"`
		}{Body: workResponse(w, workstatus.Infer(w, engineNow(e)))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-works",
		Method:      http.MethodGet,
		Path:        "/works",
		Summary:     "List works",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ObjectID     string `query:"object_id"`
		ContractorID string `query:"contractor_id"`
		Status       string `query:"status"`
		Limit        int    `query:"limit" default:"50"`
		Cursor       string `query:"cursor"`
	}) (*struct {
		Body paginatedWorks `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "work.read"); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		works, err := e.Repo.ListWorks(ctx, repo.WorkFilters{
			ObjectID:        input.ObjectID,
			ContractorID:    input.ContractorID,
			Status:          input.Status,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedWorks{Items: []WorkResponse{}}
		if len(works) > limit {
			resp.NextCursor = composeCursor(works[limit].CreatedAt, works[limit].ID)
			works = works[:limit]
		}
		now := engineNow(e)
		for _, w := range works {
			resp.Items = append(resp.Items, workResponse(w, workstatus.Infer(w, now)))
		}
		return &struct {
			Body paginatedWorks `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-work",
		Method:      http.MethodGet,
		Path:        "/works/{id}",
		Summary:     "Get work",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body WorkResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "work.read"); err != nil {
			return nil, handleError(err)
		}
		w, err := e.Repo.GetWork(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkResponse `json:"body"`
		}{Body: workResponse(w, workstatus.Infer(w, engineNow(e)))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-work",
		Method:      http.MethodPatch,
		Path:        "/works/{id}",
		Summary:     "Update work",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateWorkRequest `json:"body"`
	}) (*struct {
		Body WorkResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requirePermission(ctx, e, "work.update"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.WorkUpdateOptions{
			ID:               input.ID,
			Title:            input.Body.Title,
			ContractorID:     input.Body.ContractorID,
			PlannedStartDate: input.Body.PlannedStartDate,
			PlannedEndDate:   input.Body.PlannedEndDate,
			ActorID:          actorID,
		}
		if input.Body.Status != nil {
			opts.Status = *input.Body.Status
		}
		w, err := e.UpdateWork(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkResponse `json:"body"`
		}{Body: workResponse(w, workstatus.Infer(w, engineNow(e)))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-progress",
		Method:      http.MethodPost,
		Path:        "/works/{id}/progress",
		Summary:     "Report work progress",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body ProgressRequest `json:"body"`
	}) (*struct {
		Body WorkResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requirePermission(ctx, e, "work.progress"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.ReportProgress(ctx, input.ID, input.Body.CompletionPercentage, input.Body.Note, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkResponse `json:"body"`
		}{Body: workResponse(w, workstatus.Infer(w, engineNow(e)))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "post-message",
		Method:        http.MethodPost,
		Path:          "/works/{id}/messages",
		Summary:       "Post journal message",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body MessageRequest `json:"body"`
	}) (*struct {
		Body JournalEventResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requirePermission(ctx, e, "journal.message"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		evt, err := e.PostMessage(ctx, input.ID, input.Body.Text, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JournalEventResponse `json:"body"`
		}{Body: journalEventResponse(evt)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-work-read",
		Method:      http.MethodPost,
		Path:        "/works/{id}/read",
		Summary:     "Clear unread counters for a work",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if err := requirePermission(ctx, e, "journal.read"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.MarkWorkRead(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "work-journal",
		Method:      http.MethodGet,
		Path:        "/works/{id}/journal",
		Summary:     "Work journal",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		Type   string `query:"type"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedJournal `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "journal.read"); err != nil {
			return nil, handleError(err)
		}
		return listJournal(ctx, e, input.ID, input.Type, input.Limit, input.Cursor)
	})
}

func registerInspections(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-inspection",
		Method:        http.MethodPost,
		Path:          "/inspections",
		Summary:       "Create inspection",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateInspectionRequest `json:"body"`
	}) (*struct {
		Body InspectionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requirePermission(ctx, e, "inspection.create"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.InspectionCreateOptions{
			WorkID:        input.Body.WorkID,
			Type:          stringOrEmpty(input.Body.Type),
			ScheduledDate: stringOrEmpty(input.Body.ScheduledDate),
			ActorID:       actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		in, err := e.CreateInspection(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InspectionResponse `json:"body"`
		}{Body: inspectionResponse(in)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-inspections",
		Method:      http.MethodGet,
		Path:        "/inspections",
		Summary:     "List inspections",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		WorkID string `query:"work_id"`
		Status string `query:"status" enum:"draft,active,completed,on_rework"`
		Type   string `query:"type" enum:"scheduled,unscheduled"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedInspections `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "work.read"); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListInspections(ctx, repo.InspectionFilters{
			WorkID:          input.WorkID,
			Status:          input.Status,
			Type:            input.Type,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedInspections{Items: []InspectionResponse{}}
		if len(items) > limit {
			resp.NextCursor = composeCursor(items[limit].CreatedAt, items[limit].ID)
			items = items[:limit]
		}
		for _, in := range items {
			resp.Items = append(resp.Items, inspectionResponse(in))
		}
		return &struct {
			Body paginatedInspections `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-inspection",
		Method:      http.MethodGet,
		Path:        "/inspections/{id}",
		Summary:     "Get inspection",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body InspectionResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "work.read"); err != nil {
			return nil, handleError(err)
		}
		in, err := e.Repo.GetInspection(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InspectionResponse `json:"body"`
		}{Body: inspectionResponse(in)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-inspection",
		Method:      http.MethodPut,
		Path:        "/inspections/{id}",
		Summary:     "Save draft defects or transition status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                  `path:"id"`
		Body UpdateInspectionRequest `json:"body"`
	}) (*struct {
		Body InspectionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		bodyMap := rawBodyMap(ctx)
		_, defectsProvided := bodyMap["defects"]

		if input.Body.Status == nil {
			if !defectsProvided {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "status or defects required", nil)
			}
			if err := requirePermission(ctx, e, "inspection.update"); err != nil {
				return nil, handleError(err)
			}
			in, err := e.SaveInspectionDraft(ctx, input.ID, defectItems(input.Body.Defects), actorID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body InspectionResponse `json:"body"`
			}{Body: inspectionResponse(in)}, nil
		}

		var in domain.Inspection
		var err error
		switch *input.Body.Status {
		case "active":
			if err := requirePermission(ctx, e, "inspection.update"); err != nil {
				return nil, handleError(err)
			}
			in, err = e.StartInspection(ctx, input.ID, actorID)
		case "on_rework":
			if err := requirePermission(ctx, e, "inspection.update"); err != nil {
				return nil, handleError(err)
			}
			in, err = e.ReopenInspection(ctx, input.ID, actorID)
		case "completed":
			if err := requirePermission(ctx, e, "inspection.complete"); err != nil {
				return nil, handleError(err)
			}
			if defectsProvided {
				in, err = e.CompleteInspection(ctx, input.ID, defectItems(input.Body.Defects), actorID)
			} else {
				in, err = e.CompleteInspection(ctx, input.ID, nil, actorID)
			}
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unsupported status", map[string]any{"status": *input.Body.Status})
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InspectionResponse `json:"body"`
		}{Body: inspectionResponse(in)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "generate-defect-report",
		Method:        http.MethodPost,
		Path:          "/inspections/{id}/report",
		Summary:       "Generate defect report",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body GenerateReportResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "report.generate"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.GenerateDefectReport(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		body := GenerateReportResponse{
			Report:   reportResponse(res.Report),
			Warnings: res.Warnings,
		}
		if res.Document != nil {
			doc := documentResponse(*res.Document)
			body.Document = &doc
		}
		return &struct {
			Body GenerateReportResponse `json:"body"`
		}{Body: body}, nil
	})
}

func registerReports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-defect-reports",
		Method:      http.MethodGet,
		Path:        "/defect-reports",
		Summary:     "List defect reports",
	}, func(ctx context.Context, input *struct {
		InspectionID string `query:"inspection_id"`
	}) (*struct {
		Body []DefectReportResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "work.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListDefectReports(ctx, input.InspectionID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]DefectReportResponse, 0, len(items))
		for _, rep := range items {
			res = append(res, reportResponse(rep))
		}
		return &struct {
			Body []DefectReportResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-defect-report",
		Method:      http.MethodGet,
		Path:        "/defect-reports/{id}",
		Summary:     "Get defect report",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body DefectReportResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "work.read"); err != nil {
			return nil, handleError(err)
		}
		rep, err := e.Repo.GetDefectReport(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DefectReportResponse `json:"body"`
		}{Body: reportResponse(rep)}, nil
	})
}

func registerDocuments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-documents",
		Method:      http.MethodGet,
		Path:        "/documents",
		Summary:     "List documents",
	}, func(ctx context.Context, input *struct {
		WorkID string `query:"work_id"`
	}) (*struct {
		Body []DocumentResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "work.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListDocuments(ctx, input.WorkID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]DocumentResponse, 0, len(items))
		for _, d := range items {
			res = append(res, documentResponse(d))
		}
		return &struct {
			Body []DocumentResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-document",
		Method:      http.MethodGet,
		Path:        "/documents/{id}",
		Summary:     "Get document",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body DocumentResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "work.read"); err != nil {
			return nil, handleError(err)
		}
		d, err := e.Repo.GetDocument(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DocumentResponse `json:"body"`
		}{Body: documentResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-document",
		Method:      http.MethodPatch,
		Path:        "/documents/{id}",
		Summary:     "Update document status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body UpdateDocumentRequest `json:"body"`
	}) (*struct {
		Body DocumentResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requirePermission(ctx, e, "document.manage"); err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.UpdateDocumentStatus(ctx, input.ID, input.Body.Status); err != nil {
			return nil, handleError(err)
		}
		d, err := e.Repo.GetDocument(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DocumentResponse `json:"body"`
		}{Body: documentResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-document-templates",
		Method:      http.MethodGet,
		Path:        "/document-templates",
		Summary:     "List document templates",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []TemplateResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "work.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListTemplates(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]TemplateResponse, 0, len(items))
		for _, t := range items {
			res = append(res, templateResponse(t))
		}
		return &struct {
			Body []TemplateResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-document-template",
		Method:        http.MethodPost,
		Path:          "/document-templates",
		Summary:       "Create document template",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateTemplateRequest `json:"body"`
	}) (*struct {
		Body TemplateResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.TemplateType == "" || input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "template_type and name are required", nil)
		}
		if err := requirePermission(ctx, e, "document.manage"); err != nil {
			return nil, handleError(err)
		}
		t, err := e.CreateTemplate(ctx, stringOrEmpty(input.Body.ID), input.Body.TemplateType, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TemplateResponse `json:"body"`
		}{Body: templateResponse(t)}, nil
	})
}

func registerJournal(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-journal",
		Method:      http.MethodGet,
		Path:        "/journal",
		Summary:     "Project-wide journal",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		WorkID string `query:"work_id"`
		Type   string `query:"type"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedJournal `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "journal.read"); err != nil {
			return nil, handleError(err)
		}
		return listJournal(ctx, e, input.WorkID, input.Type, input.Limit, input.Cursor)
	})
}

func listJournal(ctx context.Context, e engine.Engine, workID, evtType string, limit int, cursor string) (*struct {
	Body paginatedJournal `json:"body"`
}, error) {
	n := normalizeLimit(limit)
	var cursorID int64
	if cursor != "" {
		parsed, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": cursor})
		}
		cursorID = parsed
	}
	items, err := e.Repo.ListJournal(ctx, repo.JournalFilters{
		WorkID: workID,
		Type:   evtType,
		Limit:  n + 1,
		Cursor: cursorID,
	})
	if err != nil {
		return nil, handleError(err)
	}
	resp := paginatedJournal{Items: []JournalEventResponse{}}
	if len(items) > n {
		resp.NextCursor = fmt.Sprintf("%d", items[n].ID)
		items = items[:n]
	}
	for _, evt := range items {
		resp.Items = append(resp.Items, journalEventResponse(evt))
	}
	return &struct {
		Body paginatedJournal `json:"body"`
	}{Body: resp}, nil
}

func registerUserData(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "user-data",
		Method:      http.MethodGet,
		Path:        "/user-data",
		Summary:     "Aggregated startup snapshot",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body UserDataResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "work.read"); err != nil {
			return nil, handleError(err)
		}
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := e.Config.Project.ID
		p, err := e.Repo.GetProject(ctx, projectID)
		if err != nil {
			return nil, handleError(err)
		}
		objects, err := e.Repo.ListObjects(ctx, projectID)
		if err != nil {
			return nil, handleError(err)
		}
		contractors, err := e.Repo.ListContractors(ctx, projectID)
		if err != nil {
			return nil, handleError(err)
		}
		works, err := e.Repo.ListWorks(ctx, repo.WorkFilters{})
		if err != nil {
			return nil, handleError(err)
		}
		inspections, err := e.Repo.ListInspections(ctx, repo.InspectionFilters{})
		if err != nil {
			return nil, handleError(err)
		}
		unread, err := e.Repo.GetUnreadMap(ctx, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}

		res := UserDataResponse{
			Project:     projectResponse(p),
			Objects:     []ObjectResponse{},
			Contractors: []ContractorResponse{},
			Works:       []WorkResponse{},
			Inspections: []InspectionResponse{},
			Unread:      map[string]UnreadResponse{},
		}
		for _, o := range objects {
			res.Objects = append(res.Objects, objectResponse(o))
		}
		for _, c := range contractors {
			res.Contractors = append(res.Contractors, contractorResponse(c))
		}
		now := engineNow(e)
		for _, w := range works {
			res.Works = append(res.Works, workResponse(w, workstatus.Infer(w, now)))
		}
		for _, in := range inspections {
			res.Inspections = append(res.Inspections, inspectionResponse(in))
		}
		for workID, c := range unread {
			res.Unread[workID] = unreadResponse(c)
		}
		res.TotalUnread = notify.TotalUnread(works, unread)
		res.Badge = notify.Badge(res.TotalUnread)
		return &struct {
			Body UserDataResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerRBAC(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "grant-role",
		Method:      http.MethodPost,
		Path:        "/rbac/roles/grant",
		Summary:     "Grant role",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body RoleChangeRequest `json:"body"`
	}) (*struct{}, error) {
		if input.Body.ActorID == "" || input.Body.RoleID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id and role_id are required", nil)
		}
		if err := requirePermission(ctx, e, "project.config"); err != nil {
			return nil, handleError(err)
		}
		if err := changeRole(ctx, e, input.Body.ActorID, input.Body.RoleID, true); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-role",
		Method:      http.MethodPost,
		Path:        "/rbac/roles/revoke",
		Summary:     "Revoke role",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body RoleChangeRequest `json:"body"`
	}) (*struct{}, error) {
		if input.Body.ActorID == "" || input.Body.RoleID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id and role_id are required", nil)
		}
		if err := requirePermission(ctx, e, "project.config"); err != nil {
			return nil, handleError(err)
		}
		if err := changeRole(ctx, e, input.Body.ActorID, input.Body.RoleID, false); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func changeRole(ctx context.Context, e engine.Engine, actorID, roleID string, grant bool) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if grant {
		now := engineNow(e).UTC().Format(time.RFC3339)
		if err := e.Repo.EnsureActor(ctx, tx, actorID, now); err != nil {
			return err
		}
		if err := e.Repo.AssignRole(ctx, tx, e.Config.Project.ID, actorID, roleID); err != nil {
			return err
		}
	} else {
		if err := e.Repo.RevokeRole(ctx, tx, e.Config.Project.ID, actorID, roleID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		roles := principal.Roles
		perms := principal.Permissions
		if len(perms) == 0 && e.Config != nil {
			tx, err := e.DB.BeginTx(ctx, nil)
			if err != nil {
				return nil, handleError(err)
			}
			defer tx.Rollback()
			if dbRoles, err := e.Auth.ActorRoles(ctx, tx, e.Config.Project.ID, principal.ActorID); err == nil && len(roles) == 0 {
				roles = dbRoles
			}
			if dbPerms, err := e.Auth.ActorPermissions(ctx, tx, e.Config.Project.ID, principal.ActorID); err == nil {
				perms = dbPerms
			}
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID:     principal.ActorID,
			Roles:       nonNilSlice(roles),
			Permissions: nonNilSlice(perms),
		}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, input.Body.Roles, input.Body.Permissions)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func rawBodyMap(ctx context.Context) map[string]json.RawMessage {
	data := bodyBytes(ctx)
	if len(data) == 0 {
		return map[string]json.RawMessage{}
	}
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return map[string]json.RawMessage{}
	}
	if inner, ok := outer["body"]; ok {
		var innerMap map[string]json.RawMessage
		if err := json.Unmarshal(inner, &innerMap); err == nil {
			return innerMap
		}
	}
	return outer
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}
