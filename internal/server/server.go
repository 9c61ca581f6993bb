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
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"atriumforms/internal/domain"
	"atriumforms/internal/engine"
	"atriumforms/internal/lifecycle"
	"atriumforms/internal/repo"
	"atriumforms/internal/risk"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"draft_rev_conflict"`
	Message string         `json:"message" example:"expected draft_rev 3 but stored draft_rev is 5"`
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

// New returns an HTTP handler exposing the AtriumForms API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
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
	hcfg := huma.DefaultConfig("AtriumForms API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerInstallations(group, cfg.Engine)
	registerPrefill(group, cfg.Engine)
	registerInstances(group, cfg.Engine)
	registerRisk(group, cfg.Engine)
	registerCatalogs(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
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
	var ce engine.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "draft_rev_conflict", err.Error(), map[string]any{
			"expected_draft_rev": ce.ExpectedRev,
			"draft_rev":          ce.StoredRev,
		})
	}
	var te lifecycle.InvalidTransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{
			"action": string(te.Action),
			"status": te.Status,
		})
	}
	var ve risk.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), map[string]any{
			"field":  ve.Field,
			"reason": ve.Reason,
		})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "not active"):
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") || strings.Contains(lowered, "must"):
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
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
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
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
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
    <title>AtriumForms API Docs</title>
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

func registerInstallations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-installations",
		Method:      http.MethodGet,
		Path:        "/installations",
		Summary:     "List installations",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []InstallationResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListInstallations(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []InstallationResponse `json:"body"`
		}{Body: mapInstallations(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-installation",
		Method:      http.MethodGet,
		Path:        "/installations/{code}",
		Summary:     "Get installation",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Code string `path:"code"`
	}) (*struct {
		Body InstallationResponse `json:"body"`
	}, error) {
		ins, err := e.Repo.GetInstallation(ctx, input.Code)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InstallationResponse `json:"body"`
		}{Body: installationResponse(ins)}, nil
	})
}

func registerPrefill(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "resolve-prefill",
		Method:      http.MethodPost,
		Path:        "/installations/{code}/forms/{form_code}/prefill",
		Summary:     "Resolve prefill data",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Code     string         `path:"code"`
		FormCode string         `path:"form_code"`
		Body     PrefillRequest `json:"body"`
	}) (*struct {
		Body PrefillResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		items, err := e.Resolve(ctx, input.Code, input.FormCode, input.Body.Keys)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PrefillResponse `json:"body"`
		}{Body: PrefillResponse{Items: items}}, nil
	})
}

func registerInstances(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-instance",
		Method:        http.MethodPost,
		Path:          "/installations/{code}/forms/{form_code}/instances",
		Summary:       "Start form instance",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Code     string `path:"code"`
		FormCode string `path:"form_code"`
	}) (*struct {
		Body InstanceEnvelope `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		fi, err := e.StartForm(ctx, input.Code, input.FormCode, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InstanceEnvelope `json:"body"`
		}{Body: instanceEnvelope(fi)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-instances",
		Method:      http.MethodGet,
		Path:        "/installations/{code}/instances",
		Summary:     "List form instances",
	}, func(ctx context.Context, input *struct {
		Code     string `path:"code"`
		FormCode string `query:"form_code"`
	}) (*struct {
		Body []InstanceResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetInstallation(ctx, input.Code); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListFormInstances(ctx, input.Code, input.FormCode)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []InstanceResponse `json:"body"`
		}{Body: mapInstances(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-instance",
		Method:      http.MethodGet,
		Path:        "/instances/{id}",
		Summary:     "Get form instance",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body InstanceEnvelope `json:"body"`
	}, error) {
		fi, err := e.Repo.GetFormInstance(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InstanceEnvelope `json:"body"`
		}{Body: instanceEnvelope(fi)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "save-instance-answers",
		Method:      http.MethodPut,
		Path:        "/instances/{id}/answers",
		Summary:     "Save instance answers",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body SaveAnswersRequest `json:"body"`
	}) (*struct {
		Body InstanceEnvelope `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		fi, err := e.SaveAnswers(ctx, engine.SaveOptions{
			InstanceID:  input.ID,
			Answers:     input.Body.Answers,
			ExpectedRev: input.Body.ExpectedDraftRev,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InstanceEnvelope `json:"body"`
		}{Body: instanceEnvelope(fi)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-instance",
		Method:      http.MethodPost,
		Path:        "/instances/{id}/submit",
		Summary:     "Submit form instance",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body SubmitRequest `json:"body"`
	}) (*struct {
		Body InstanceEnvelope `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		fi, err := e.Submit(ctx, engine.SubmitOptions{
			InstanceID:  input.ID,
			ActorID:     actorID,
			Answers:     input.Body.Answers,
			ExpectedRev: input.Body.ExpectedDraftRev,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InstanceEnvelope `json:"body"`
		}{Body: instanceEnvelope(fi)}, nil
	})

	registerTransition(api, "withdraw-instance", "/instances/{id}/withdraw", "Withdraw form instance", e.Withdraw)
	registerTransition(api, "reopen-instance", "/instances/{id}/reopen", "Reopen withdrawn instance", e.Reopen)
	registerTransition(api, "handle-instance", "/instances/{id}/behandel", "Mark instance in handling", e.SetHandling)
	registerTransition(api, "finish-instance", "/instances/{id}/afhandel", "Mark instance handled", e.Finish)
}

func registerTransition(api huma.API, opID, urlPath, summary string, fn func(context.Context, string, string) (domain.FormInstance, error)) {
	huma.Register(api, huma.Operation{
		OperationID: opID,
		Method:      http.MethodPost,
		Path:        urlPath,
		Summary:     summary,
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body InstanceEnvelope `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		fi, err := fn(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InstanceEnvelope `json:"body"`
		}{Body: instanceEnvelope(fi)}, nil
	})
}

func registerRisk(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "compute-risk",
		Method:      http.MethodPost,
		Path:        "/risk/compute",
		Summary:     "Compute alarm routing capacity",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body RiskComputeRequest `json:"body"`
	}) (*struct {
		Body RiskResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Normering == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "normering is required", nil)
		}
		res, err := e.ComputeRisk(ctx, input.Body.Normering, performanceRows(input.Body.Rows))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RiskResponse `json:"body"`
		}{Body: riskResponse(input.Body.Normering, res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "installation-risk",
		Method:      http.MethodGet,
		Path:        "/installations/{code}/risk",
		Summary:     "Compute risk from stored performance requirements",
		Errors: []int{
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Code string `path:"code"`
	}) (*struct {
		Body RiskResponse `json:"body"`
	}, error) {
		header, err := e.Repo.GetPerformanceHeader(ctx, input.Code)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := e.ComputeRiskForInstallation(ctx, input.Code)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RiskResponse `json:"body"`
		}{Body: riskResponse(header.NormeringKey, res)}, nil
	})
}

func registerCatalogs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-catalog",
		Method:      http.MethodGet,
		Path:        "/catalogs/{name}",
		Summary:     "List catalog entries",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Name string `path:"name"`
	}) (*struct {
		Body CatalogResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListCatalog(ctx, input.Name)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, newAPIError(http.StatusNotFound, "not_found", fmt.Sprintf("catalog %s not found", input.Name), nil)
			}
			return nil, handleError(err)
		}
		return &struct {
			Body CatalogResponse `json:"body"`
		}{Body: CatalogResponse{Name: input.Name, Items: items}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
	}, func(ctx context.Context, input *struct {
		Limit        int    `query:"limit" default:"50"`
		Installation string `query:"installation"`
		Type         string `query:"type"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 500 {
			limit = 50
		}
		items, err := e.Repo.LatestEvents(ctx, limit, input.Installation, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}
