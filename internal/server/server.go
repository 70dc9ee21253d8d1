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
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"briefline/internal/app"
	"briefline/internal/domain"
	"briefline/internal/engine"
	"briefline/internal/generate"
	"briefline/internal/llm"
	"briefline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	// Keys resolves provider API keys when a request does not carry one.
	Keys   app.KeyResolver
	Logger *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"quality_gate_blocked"`
	Message string         `json:"message" example:"quality gate blocked: latest assessment is red"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"field\":\"api_key\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type deps struct {
	e    engine.Engine
	keys app.KeyResolver
}

// New returns an HTTP handler exposing the Briefline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = log.Named("auth")
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
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
	router.Use(middleware.RequestID, middleware.Recoverer, accessLog(log))
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
	hcfg := huma.DefaultConfig("Briefline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	d := deps{e: cfg.Engine, keys: cfg.Keys}
	registerDocs(router, basePath)
	registerHealth(group, d)
	registerLevels(group)
	registerBriefs(group, d)
	registerAssessments(group, d)
	registerGenerate(group, d)
	registerItems(group, d)
	registerParse(group, d)
	registerEvents(group, d)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func accessLog(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
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
	var ce *llm.ConfigError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusBadRequest, "config_error", err.Error(), map[string]any{"field": ce.Field})
	}
	var ge *generate.GenerationError
	if errors.As(err, &ge) {
		details := map[string]any{"attempts": ge.Attempts}
		if ge.Last != nil {
			details["provider"] = ge.Last.Provider
			details["kind"] = string(ge.Last.Kind)
		}
		return newAPIError(http.StatusBadGateway, "provider_error", err.Error(), details)
	}
	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		return newAPIError(http.StatusBadGateway, "provider_error", err.Error(), map[string]any{"provider": pe.Provider, "kind": string(pe.Kind)})
	}
	var te engine.TransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusBadRequest, "invalid_transition", err.Error(), map[string]any{"from": te.From, "to": te.To})
	}
	var cons engine.ConsistencyError
	if errors.As(err, &cons) {
		return newAPIError(http.StatusUnprocessableEntity, "consistency_rejected", err.Error(), map[string]any{"reason": cons.Reason})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, generate.ErrGenerationPending):
		return newAPIError(http.StatusConflict, "generation_pending", err.Error(), nil)
	case errors.Is(err, engine.ErrQualityGate):
		return newAPIError(http.StatusUnprocessableEntity, "quality_gate_blocked", err.Error(), nil)
	case errors.Is(err, engine.ErrBriefLocked):
		return newAPIError(http.StatusConflict, "brief_locked", err.Error(), nil)
	case errors.Is(err, context.DeadlineExceeded):
		return newAPIError(http.StatusGatewayTimeout, "timeout", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
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
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusBadGateway:
		return "provider_error"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
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
	open := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if open[route] {
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
    <title>Briefline API Docs</title>
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

func registerHealth(api huma.API, d deps) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		resp := HealthResponse{Status: "ok"}
		if cfg := d.e.Config; cfg != nil {
			resp.Provider = cfg.Model.Provider
			resp.Model = cfg.Model.Model
		}
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerLevels(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-levels",
		Method:      http.MethodGet,
		Path:        "/levels",
		Summary:     "Workflow levels in hierarchy order",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []LevelResponse `json:"body"`
	}, error) {
		return &struct {
			Body []LevelResponse `json:"body"`
		}{Body: levelResponses()}, nil
	})
}

type projectPath struct {
	ProjectID string `path:"project_id"`
}

type briefPath struct {
	ProjectID string `path:"project_id"`
	BriefID   string `path:"brief_id"`
}

// briefInProject hides briefs of other projects behind a not found.
func briefInProject(ctx context.Context, e engine.Engine, projectID, id string) (domain.Brief, error) {
	b, err := e.Repo.GetBrief(ctx, id)
	if err != nil {
		return domain.Brief{}, err
	}
	if !projectMatches(projectID, b.ProjectID) {
		return domain.Brief{}, fmt.Errorf("brief %s: %w", id, repo.ErrNotFound)
	}
	return b, nil
}

func itemInProject(ctx context.Context, e engine.Engine, projectID, id string) (domain.Item, error) {
	it, err := e.Repo.GetItem(ctx, id)
	if err != nil {
		return domain.Item{}, err
	}
	if !projectMatches(projectID, it.ProjectID) {
		return domain.Item{}, fmt.Errorf("item %s: %w", id, repo.ErrNotFound)
	}
	return it, nil
}

func ensureProject(ctx context.Context, e engine.Engine, projectID string) error {
	_, err := e.Repo.GetProject(ctx, projectID)
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("project %s: %w", projectID, repo.ErrNotFound)
	}
	return err
}

func registerBriefs(api huma.API, d deps) {
	e := d.e
	huma.Register(api, huma.Operation{
		OperationID:   "create-brief",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/briefs",
		Summary:       "Submit a business brief",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ProjectID string       `path:"project_id"`
		Body      BriefRequest `json:"body"`
	}) (*struct {
		Body domain.Brief `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := ensureProject(ctx, e, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		b, err := e.SubmitBrief(ctx, input.ProjectID, input.Body.input(), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Brief `json:"body"`
		}{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-briefs",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/briefs",
		Summary:     "List briefs",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Status    string `query:"status" enum:"draft,submitted,in_review,approved,rejected"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body paginatedBriefs `json:"body"`
	}, error) {
		items, err := e.Repo.ListBriefs(ctx, repo.BriefFilters{ProjectID: input.ProjectID, Status: input.Status, Limit: normalizeLimit(input.Limit)})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginatedBriefs `json:"body"`
		}{Body: paginatedBriefs{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-brief",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/briefs/{brief_id}",
		Summary:     "Get a brief by id or display id",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *briefPath) (*struct {
		Body domain.Brief `json:"body"`
	}, error) {
		b, err := briefInProject(ctx, e, input.ProjectID, input.BriefID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Brief `json:"body"`
		}{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-brief",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/briefs/{brief_id}",
		Summary:     "Replace the fields of a brief",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string       `path:"project_id"`
		BriefID   string       `path:"brief_id"`
		Force     bool         `query:"force"`
		Body      BriefRequest `json:"body"`
	}) (*struct {
		Body domain.Brief `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := briefInProject(ctx, e, input.ProjectID, input.BriefID); err != nil {
			return nil, handleError(err)
		}
		b, err := e.UpdateBrief(ctx, input.BriefID, input.Body.input(), input.Force, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Brief `json:"body"`
		}{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-brief-status",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/briefs/{brief_id}/status",
		Summary:     "Move a brief through its lifecycle",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string                `path:"project_id"`
		BriefID   string                `path:"brief_id"`
		Body      SetBriefStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Brief `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := briefInProject(ctx, e, input.ProjectID, input.BriefID); err != nil {
			return nil, handleError(err)
		}
		b, err := e.SetBriefStatus(ctx, input.BriefID, input.Body.Status, input.Body.Force, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Brief `json:"body"`
		}{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-brief",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/briefs/{brief_id}",
		Summary:     "Delete a brief and orphan its Initiatives",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *briefPath) (*struct {
		Body DeleteBriefResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := briefInProject(ctx, e, input.ProjectID, input.BriefID)
		if err != nil {
			return nil, handleError(err)
		}
		n, err := e.DeleteBrief(ctx, b.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeleteBriefResponse `json:"body"`
		}{Body: DeleteBriefResponse{ID: b.ID, Orphaned: n}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "brief-tree",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/briefs/{brief_id}/tree",
		Summary:     "Full hierarchy under a brief",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *briefPath) (*struct {
		Body engine.BriefTree `json:"body"`
	}, error) {
		b, err := briefInProject(ctx, e, input.ProjectID, input.BriefID)
		if err != nil {
			return nil, handleError(err)
		}
		tree, err := e.Tree(ctx, b.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.BriefTree `json:"body"`
		}{Body: tree}, nil
	})
}

// modelSettings returns nil when the caller wants the heuristic only.
func (d deps) modelSettings(useModel bool, o *app.ModelOverride) *llm.Settings {
	if !useModel && o == nil {
		return nil
	}
	s := d.settings(o)
	return &s
}

func (d deps) settings(o *app.ModelOverride) llm.Settings {
	var override app.ModelOverride
	if o != nil {
		override = *o
	}
	return app.ResolveSettings(d.e.Config, override, d.keys)
}

func registerAssessments(api huma.API, d deps) {
	e := d.e
	huma.Register(api, huma.Operation{
		OperationID: "assess-brief",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/briefs/{brief_id}/assess",
		Summary:     "Assess and record the quality of a stored brief",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string        `path:"project_id"`
		BriefID   string        `path:"brief_id"`
		Body      AssessRequest `json:"body"`
	}) (*struct {
		Body domain.Assessment `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := briefInProject(ctx, e, input.ProjectID, input.BriefID)
		if err != nil {
			return nil, handleError(err)
		}
		a, err := e.AssessBrief(ctx, b.ID, d.modelSettings(input.Body.UseModel, input.Body.Model), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Assessment `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-assessments",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/briefs/{brief_id}/assessments",
		Summary:     "Assessment history of a brief, newest first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *briefPath) (*struct {
		Body assessmentHistory `json:"body"`
	}, error) {
		b, err := briefInProject(ctx, e, input.ProjectID, input.BriefID)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListAssessments(ctx, b.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body assessmentHistory `json:"body"`
		}{Body: assessmentHistory{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assess-draft",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/assess",
		Summary:     "Assess an unsaved brief without recording anything",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string             `path:"project_id"`
		Body      AssessDraftRequest `json:"body"`
	}) (*struct {
		Body domain.Assessment `json:"body"`
	}, error) {
		a, err := e.AssessBriefQuality(ctx, input.Body.Brief.brief(input.ProjectID), d.modelSettings(input.Body.UseModel, input.Body.Model))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Assessment `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assess-all",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/assess-all",
		Summary:     "Assess every brief of a project",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string           `path:"project_id"`
		Body      AssessAllRequest `json:"body"`
	}) (*struct {
		Body batchAssessment `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.AssessBriefs(ctx, input.ProjectID, input.Body.Status, d.modelSettings(input.Body.UseModel, input.Body.Model), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body batchAssessment `json:"body"`
		}{Body: batchAssessment{Items: nonNilSlice(res)}}, nil
	})
}

func registerGenerate(api huma.API, d deps) {
	e := d.e
	huma.Register(api, huma.Operation{
		OperationID: "generate-children",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/generate",
		Summary:     "Generate and save the children of a brief or item",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string          `path:"project_id"`
		Body      GenerateRequest `json:"body"`
	}) (*struct {
		Body GenerateResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var level domain.Level
		if input.Body.ParentLevel != "" {
			l, err := domain.ParseLevel(input.Body.ParentLevel)
			if err != nil {
				return nil, handleError(err)
			}
			level = l
		}
		if err := parentInProject(ctx, e, input.ProjectID, input.Body.ParentID, level); err != nil {
			return nil, handleError(err)
		}
		res, err := e.GenerateChildren(ctx, engine.GenerateOptions{
			ParentID:    input.Body.ParentID,
			ParentLevel: level,
			Settings:    d.settings(input.Body.Model),
			MinCount:    input.Body.MinCount,
			Extra:       input.Body.Extra,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GenerateResponse `json:"body"`
		}{Body: generateResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "generation-status",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/generate/{parent_id}",
		Summary:     "Report whether children of a brief or item are being generated",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID   string `path:"project_id"`
		ParentID    string `path:"parent_id"`
		ParentLevel string `query:"parent_level"`
	}) (*struct {
		Body engine.GenerationStatus `json:"body"`
	}, error) {
		var level domain.Level
		if input.ParentLevel != "" {
			l, err := domain.ParseLevel(input.ParentLevel)
			if err != nil {
				return nil, handleError(err)
			}
			level = l
		}
		if err := parentInProject(ctx, e, input.ProjectID, input.ParentID, level); err != nil {
			return nil, handleError(err)
		}
		status, err := e.GenerationPending(ctx, input.ParentID, level)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.GenerationStatus `json:"body"`
		}{Body: status}, nil
	})
}

func parentInProject(ctx context.Context, e engine.Engine, projectID, id string, level domain.Level) error {
	if level == "" || level == domain.LevelBrief {
		_, err := briefInProject(ctx, e, projectID, id)
		if err == nil || level == domain.LevelBrief || !errors.Is(err, repo.ErrNotFound) {
			return err
		}
	}
	_, err := itemInProject(ctx, e, projectID, id)
	return err
}

func registerItems(api huma.API, d deps) {
	e := d.e
	huma.Register(api, huma.Operation{
		OperationID: "list-items",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/items",
		Summary:     "List Initiatives, Features, Epics or Stories",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Level     string `query:"level"`
		ParentID  string `query:"parent_id"`
		Status    string `query:"status" enum:"draft,accepted,orphaned"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body paginatedItems `json:"body"`
	}, error) {
		f := repo.ItemFilters{ProjectID: input.ProjectID, ParentID: input.ParentID, Status: input.Status, Limit: normalizeLimit(input.Limit)}
		if input.Level != "" {
			l, err := domain.ParseLevel(input.Level)
			if err != nil {
				return nil, handleError(err)
			}
			f.Level = l
		}
		items, err := e.Repo.ListItems(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginatedItems `json:"body"`
		}{Body: paginatedItems{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-item",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/items/{item_id}",
		Summary:     "Get an item",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ItemID    string `path:"item_id"`
	}) (*struct {
		Body domain.Item `json:"body"`
	}, error) {
		it, err := itemInProject(ctx, e, input.ProjectID, input.ItemID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Item `json:"body"`
		}{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-item",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/items",
		Summary:       "Add an item by hand under an existing parent",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      CreateItemRequest `json:"body"`
	}) (*struct {
		Body domain.Item `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if strings.TrimSpace(input.Body.ParentID) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "parent_id is required", map[string]any{"field": "parent_id"})
		}
		if err := parentInProject(ctx, e, input.ProjectID, input.Body.ParentID, ""); err != nil {
			return nil, handleError(err)
		}
		it, err := e.CreateItem(ctx, input.Body, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Item `json:"body"`
		}{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "trace-item",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/items/{item_id}/trace",
		Summary:     "Ancestor chain from the brief down to the item",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ItemID    string `path:"item_id"`
	}) (*struct {
		Body traceResponse `json:"body"`
	}, error) {
		if _, err := itemInProject(ctx, e, input.ProjectID, input.ItemID); err != nil {
			return nil, handleError(err)
		}
		chain, err := e.Trace(ctx, input.ItemID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body traceResponse `json:"body"`
		}{Body: traceResponse{Chain: chain}}, nil
	})
}

func registerParse(api huma.API, d deps) {
	huma.Register(api, huma.Operation{
		OperationID: "parse-structured-output",
		Method:      http.MethodPost,
		Path:        "/parse",
		Summary:     "Parse raw model output into item records",
	}, func(ctx context.Context, input *struct {
		Body ParseRequest `json:"body"`
	}) (*struct {
		Body ParseResponse `json:"body"`
	}, error) {
		return &struct {
			Body ParseResponse `json:"body"`
		}{Body: parseResponse(d.e.ParseStructuredOutput(input.Body.Raw))}, nil
	})
}

func registerEvents(api huma.API, d deps) {
	e := d.e
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"project,brief,item,api_key"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEvents(ctx, repo.EventFilters{
			ProjectID:  input.ProjectID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Cursor:     cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
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
		if strings.TrimSpace(authCfg.JWTSecret) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "dev login requires a jwt secret", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, input.Body.Roles)
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

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
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

func projectMatches(expected, actual string) bool {
	if expected == "" {
		return true
	}
	return expected == actual
}
