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

	"qcline/internal/checklist"
	"qcline/internal/domain"
	"qcline/internal/engine"
	"qcline/internal/engine/auth"
	"qcline/internal/lifecycle"
	"qcline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"asset a1: cannot approve from Draft"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"from\":\"Draft\"}"`
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

type bodyOutput[T any] struct {
	Body T `json:"body"`
}

func output[T any](v T) *bodyOutput[T] {
	return &bodyOutput[T]{Body: v}
}

// New returns an HTTP handler exposing the qcline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
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
			// request schema violations are client errors, not domain 422s
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine))
	hcfg := huma.DefaultConfig("qcline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group, cfg.Engine)
	if cfg.Auth.AllowDevLogin {
		registerDevAuth(group, cfg.Auth)
	}
	registerChecklists(group, cfg.Engine)
	registerAssets(group, cfg.Engine)
	registerReviews(group, cfg.Engine)
	registerRBAC(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
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

// handleError maps engine errors onto the envelope. Typed errors are checked
// before the sentinels they match.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	msg := err.Error()

	var pe *engine.PersistError
	if errors.As(err, &pe) {
		return newAPIError(http.StatusServiceUnavailable, "persist_failed_after_optimistic_update", msg, map[string]any{"asset_id": pe.AssetID})
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		details := map[string]any{"capability": string(fe.Capability)}
		if fe.Role != "" {
			details["role"] = fe.Role
		}
		return newAPIError(http.StatusForbidden, "forbidden", msg, details)
	}
	var te lifecycle.TransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, "invalid_transition", msg, map[string]any{"from": string(te.From), "event": string(te.Event)})
	}
	var ce repo.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "concurrent_modification", msg, map[string]any{"expected": string(ce.Expected), "actual": string(ce.Actual)})
	}
	var ve *checklist.ValidationError
	if errors.As(err, &ve) {
		fields := make([]map[string]string, 0, len(ve.Fields))
		for _, f := range ve.Fields {
			fields = append(fields, map[string]string{"field": f.Field, "rule": f.Rule})
		}
		return newAPIError(http.StatusBadRequest, "invalid_checklist", msg, map[string]any{"fields": fields})
	}

	switch {
	case errors.Is(err, domain.ErrForbidden):
		return newAPIError(http.StatusForbidden, "forbidden", msg, nil)
	case errors.Is(err, domain.ErrInvalidTransition):
		return newAPIError(http.StatusConflict, "invalid_transition", msg, nil)
	case errors.Is(err, domain.ErrConcurrentModification):
		return newAPIError(http.StatusConflict, "concurrent_modification", msg, nil)
	case errors.Is(err, domain.ErrPersistFailedAfterOptimisticUpdate):
		return newAPIError(http.StatusServiceUnavailable, "persist_failed_after_optimistic_update", msg, nil)
	case errors.Is(err, domain.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, domain.ErrNoChecklistConfigured):
		return newAPIError(http.StatusUnprocessableEntity, "no_checklist_configured", msg, nil)
	case errors.Is(err, domain.ErrEmptyChecklist):
		return newAPIError(http.StatusUnprocessableEntity, "empty_checklist", msg, nil)
	case errors.Is(err, domain.ErrZeroWeightChecklist):
		return newAPIError(http.StatusUnprocessableEntity, "zero_weight_checklist", msg, nil)
	case errors.Is(err, domain.ErrInvalidChecklist):
		return newAPIError(http.StatusBadRequest, "invalid_checklist", msg, nil)
	case errors.Is(err, domain.ErrInvalidEvaluation):
		return newAPIError(http.StatusBadRequest, "invalid_evaluation", msg, nil)
	case errors.Is(err, domain.ErrInvalidInput):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case errors.Is(err, context.DeadlineExceeded):
		return newAPIError(http.StatusServiceUnavailable, "timeout", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
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

func operations(item *huma.PathItem) []*huma.Operation {
	return []*huma.Operation{
		item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
	}
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range operations(item) {
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
	public := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range operations(item) {
			if op == nil {
				continue
			}
			if public[route] {
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
    <title>qcline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({ url: '%s', dom_id: '#swagger-ui' });
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
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[map[string]string], error) {
		return output(map[string]string{"status": "ok"}), nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[MeResponse], error) {
		principal, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return output(MeResponse{
			ActorID:      principal.ActorID,
			Role:         principal.Role,
			Capabilities: nonNilSlice(e.Auth.Capabilities(principal.Role)),
			Source:       principal.Source,
		}), nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*bodyOutput[DevLoginResponse], error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, strings.TrimSpace(input.Body.Role), authCfg.TokenTTL)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return output(DevLoginResponse{Token: token}), nil
	})
}

func registerChecklists(api huma.API, e engine.Engine) {
	writeErrors := []int{
		http.StatusBadRequest,
		http.StatusForbidden,
		http.StatusNotFound,
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-checklists",
		Method:      http.MethodGet,
		Path:        "/checklists",
		Summary:     "List checklists",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"active,inactive"`
		Type   string `query:"type"`
		Module string `query:"module"`
	}) (*bodyOutput[ListChecklistsResponse], error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Checklists.List(ctx, repo.ChecklistFilter{
			Status: domain.ChecklistStatus(input.Status),
			Type:   domain.ChecklistType(input.Type),
			Module: input.Module,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return output(ListChecklistsResponse{Items: nonNilSlice(items)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-checklist",
		Method:        http.MethodPost,
		Path:          "/checklists",
		Summary:       "Create checklist",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body ChecklistRequest `json:"body"`
	}) (*bodyOutput[domain.Checklist], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cl, err := e.Checklists.Create(ctx, actor, input.Body.toDomain(""))
		if err != nil {
			return nil, handleError(err)
		}
		return output(cl), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "applicable-checklist",
		Method:      http.MethodGet,
		Path:        "/checklists/applicable",
		Summary:     "Checklist that applies to a classification",
		Errors:      []int{http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Classification string `query:"classification" required:"true"`
	}) (*bodyOutput[domain.Checklist], error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		cl, err := e.ChecklistFor(ctx, input.Classification)
		if err != nil {
			return nil, handleError(err)
		}
		return output(cl), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-checklist",
		Method:      http.MethodGet,
		Path:        "/checklists/{id}",
		Summary:     "Get checklist",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*bodyOutput[domain.Checklist], error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		cl, err := e.Checklists.Get(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return output(cl), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-checklist",
		Method:      http.MethodPut,
		Path:        "/checklists/{id}",
		Summary:     "Replace checklist",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body ChecklistRequest `json:"body"`
	}) (*bodyOutput[domain.Checklist], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cl, err := e.Checklists.Update(ctx, actor, input.Body.toDomain(input.ID))
		if err != nil {
			return nil, handleError(err)
		}
		return output(cl), nil
	})

	for _, op := range []struct {
		name   string
		status domain.ChecklistStatus
	}{
		{"activate", domain.ChecklistActive},
		{"deactivate", domain.ChecklistInactive},
	} {
		op := op
		huma.Register(api, huma.Operation{
			OperationID: op.name + "-checklist",
			Method:      http.MethodPost,
			Path:        "/checklists/{id}/" + op.name,
			Summary:     strings.ToUpper(op.name[:1]) + op.name[1:] + " checklist",
			Errors:      writeErrors,
		}, func(ctx context.Context, input *struct {
			ID string `path:"id"`
		}) (*bodyOutput[domain.Checklist], error) {
			actor, authErr := actorFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			var (
				cl  domain.Checklist
				err error
			)
			if op.status == domain.ChecklistActive {
				cl, err = e.Checklists.Activate(ctx, actor, input.ID)
			} else {
				cl, err = e.Checklists.Deactivate(ctx, actor, input.ID)
			}
			if err != nil {
				return nil, handleError(err)
			}
			return output(cl), nil
		})
	}
}

func registerAssets(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-assets",
		Method:      http.MethodGet,
		Path:        "/assets",
		Summary:     "List visible assets",
	}, func(ctx context.Context, input *struct {
		Status         string `query:"status" enum:"Draft,PendingQCReview,QCApproved,QCRejected,ReworkRequired"`
		Classification string `query:"classification"`
		Limit          int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*bodyOutput[ListAssetsResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListAssets(ctx, actor, engine.AssetFilter{
			Status:         domain.AssetStatus(input.Status),
			Classification: input.Classification,
			Limit:          input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return output(ListAssetsResponse{Items: nonNilSlice(items)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-asset",
		Method:        http.MethodPost,
		Path:          "/assets",
		Summary:       "Create a Draft asset",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateAssetRequest `json:"body"`
	}) (*bodyOutput[domain.AssetRecord], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.CreateAsset(ctx, engine.CreateAssetOptions{
			ID:             input.Body.ID,
			Title:          input.Body.Title,
			Classification: input.Body.Classification,
			DesignedBy:     input.Body.DesignedBy,
			Actor:          actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return output(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-asset",
		Method:      http.MethodGet,
		Path:        "/assets/{id}",
		Summary:     "Get asset",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*bodyOutput[domain.AssetRecord], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.GetAsset(ctx, input.ID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return output(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-asset",
		Method:      http.MethodPost,
		Path:        "/assets/{id}/submit",
		Summary:     "Submit a Draft asset for QC review",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*bodyOutput[domain.AssetRecord], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.SubmitForQC(ctx, input.ID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return output(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resubmit-asset",
		Method:      http.MethodPost,
		Path:        "/assets/{id}/resubmit",
		Summary:     "Resubmit an asset after rework",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*bodyOutput[domain.AssetRecord], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.ResubmitForRework(ctx, input.ID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return output(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "asset-events",
		Method:      http.MethodGet,
		Path:        "/assets/{id}/events",
		Summary:     "Audit events of an asset",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*bodyOutput[ListEventsResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.History(ctx, input.ID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return output(ListEventsResponse{Items: nonNilSlice(items)}), nil
	})
}

func registerReviews(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-review",
		Method:      http.MethodPost,
		Path:        "/assets/{id}/reviews",
		Summary:     "Submit a QC review",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body SubmitReviewRequest `json:"body"`
	}) (*bodyOutput[ReviewResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.SubmitReview(ctx, domain.ReviewSubmission{
			AssetID:           input.ID,
			Reviewer:          actor,
			Evaluations:       evaluations(input.Body.Evaluations),
			Remarks:           input.Body.Remarks,
			RequestedDecision: domain.RequestedDecision(input.Body.RequestedDecision),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return output(reviewResponse(res)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-reviews",
		Method:      http.MethodGet,
		Path:        "/assets/{id}/reviews",
		Summary:     "Review history of an asset",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*bodyOutput[ListReviewsResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListReviews(ctx, input.ID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return output(ListReviewsResponse{Items: nonNilSlice(items)}), nil
	})
}

func registerRBAC(api huma.API, e engine.Engine) {
	rbacErrors := []int{
		http.StatusBadRequest,
		http.StatusForbidden,
		http.StatusNotFound,
	}

	huma.Register(api, huma.Operation{
		OperationID: "grant-role",
		Method:      http.MethodPost,
		Path:        "/rbac/roles/grant",
		Summary:     "Grant role",
		Errors:      rbacErrors,
	}, func(ctx context.Context, input *struct {
		Body RoleGrantRequest `json:"body"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.GrantRole(ctx, actor, input.Body.ActorID, input.Body.RoleID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-role",
		Method:      http.MethodPost,
		Path:        "/rbac/roles/revoke",
		Summary:     "Revoke role",
		Errors:      rbacErrors,
	}, func(ctx context.Context, input *struct {
		Body RoleGrantRequest `json:"body"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RevokeRole(ctx, actor, input.Body.ActorID, input.Body.RoleID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-role-grants",
		Method:      http.MethodGet,
		Path:        "/rbac/grants",
		Summary:     "List role grants",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*bodyOutput[ListRoleGrantsResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.ActorID != actor.ID {
			if err := e.Auth.Require(actor, auth.CapRBACManage); err != nil {
				return nil, handleError(err)
			}
		}
		items, err := e.ListRoleGrants(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return output(ListRoleGrantsResponse{Items: nonNilSlice(items)}), nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Create an API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*bodyOutput[APIKeyResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		key, raw, err := e.CreateAPIKey(ctx, actor, strings.TrimSpace(input.Body.ActorID), input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return output(APIKeyResponse{
			ID:        key.ID,
			ActorID:   key.ActorID,
			Name:      key.Name,
			Key:       raw,
			CreatedAt: key.CreatedAt,
		}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List API keys (hashes omitted)",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id" doc:"Defaults to the caller; use * for every actor."`
	}) (*bodyOutput[ListAPIKeysResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		owner := input.ActorID
		switch owner {
		case "":
			owner = actor.ID
		case "*":
			owner = ""
		}
		keys, err := e.ListAPIKeys(ctx, actor, owner)
		if err != nil {
			return nil, handleError(err)
		}
		items := make([]APIKeySummary, 0, len(keys))
		for _, k := range keys {
			items = append(items, APIKeySummary{ID: k.ID, ActorID: k.ActorID, Name: k.Name, CreatedAt: k.CreatedAt})
		}
		return output(ListAPIKeysResponse{Items: items}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-api-key",
		Method:      http.MethodDelete,
		Path:        "/api-keys/{id}",
		Summary:     "Revoke an API key",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RevokeAPIKey(ctx, actor, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
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
