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
	"reflect"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"vector/internal/engine"
	"vector/internal/protocols"
)

const maxBodyBytes = 1 << 20

// Config for the HTTP API handler.
type Config struct {
	Engine    engine.Engine
	Protocols protocols.Store
	BasePath  string
	Auth      AuthConfig
	Log       zerolog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"active journey for client CLT_01: not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
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

// New returns an HTTP handler exposing the VECTOR API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	useErrorEnvelope()

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(requestLogger(cfg.Log))
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			if err != nil {
				respondStatusError(w, newAPIError(http.StatusRequestEntityTooLarge, "", "request body too large", nil))
				return
			}
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("VECTOR API", "0.2.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerJourney(group, cfg.Engine)
	registerMetrics(group, cfg.Engine)
	registerProtocols(group, cfg.Engine, cfg.Protocols)
	registerWebhooks(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	if err := registerOpenAPI(router, api, basePath, cfg.Auth.Enabled()); err != nil {
		return nil, err
	}
	return router, nil
}

// useErrorEnvelope routes huma's own errors through apiError. Request
// validation failures surface as 400 like engine input errors do.
func useErrorEnvelope() {
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return envelopeFor(status, msg, errs)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		return envelopeFor(status, msg, errs)
	}
}

func envelopeFor(status int, msg string, errs []error) huma.StatusError {
	if status == http.StatusUnprocessableEntity {
		status = http.StatusBadRequest
	}
	var details map[string]any
	if len(errs) > 0 {
		details = map[string]any{"errors": errs}
	}
	return newAPIError(status, "", msg, details)
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

// handleError maps engine errors to the envelope. Storage details are logged by the engine, not returned.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	switch {
	case errors.Is(err, engine.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidInput):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	case errors.Is(err, engine.ErrUnauthorized):
		return newAPIError(http.StatusUnauthorized, "unauthorized", "invalid webhook signature", nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
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
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			evt := log.Info()
			if ww.Status() >= http.StatusInternalServerError {
				evt = log.Error()
			}
			evt.
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("latency", time.Since(start)).
				Msg("request")
		})
	}
}

func registerDocs(r chi.Router, basePath string) {
	page := fmt.Sprintf(docsPage, path.Join("/", basePath, "openapi.json"))
	r.Get("/docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, page)
	})
}

const docsPage = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>VECTOR API</title>
<link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
<p>Journey, metric and webhook endpoints. Send Authorization: Bearer &lt;token&gt; when the server runs with a JWT secret; treatment note webhooks carry X-Webhook-Signature instead.</p>
<div id="ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
<script>SwaggerUIBundle({url: %q, dom_id: "#ui"});</script>
</body>
</html>`

// registerOpenAPI serves the document built once at startup, after every
// operation has been registered.
func registerOpenAPI(r chi.Router, api huma.API, basePath string, authEnabled bool) error {
	doc, err := buildOpenAPI(api.OpenAPI(), basePath, authEnabled)
	if err != nil {
		return err
	}
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
	return nil
}

// buildOpenAPI documents the error envelope as every operation's default
// response. With auth enabled, operations outside the public paths require
// a bearer token.
func buildOpenAPI(oas *huma.OpenAPI, basePath string, authEnabled bool) ([]byte, error) {
	errSchema := oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "")
	bearer := []map[string][]string{{"bearerAuth": {}}}
	if authEnabled {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
			"bearerAuth": {Type: "http", Scheme: "bearer", BearerFormat: "JWT"},
		}
	}
	for route, item := range oas.Paths {
		// VECTOR only registers GET and POST operations.
		for _, op := range []*huma.Operation{item.Get, item.Post} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error envelope",
				Content:     map[string]*huma.MediaType{"application/json": {Schema: errSchema}},
			}
			if authEnabled && !isPublicPath(basePath, route) {
				op.Security = bearer
			}
		}
	}
	data, err := json.Marshal(oas)
	if err != nil {
		return nil, fmt.Errorf("render openapi document: %w", err)
	}
	return data, nil
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

func registerJourney(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-client-journey",
		Method:      http.MethodGet,
		Path:        "/client/{client_id}/journey",
		Summary:     "Active journey with phase statuses and evaluated criteria",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ClientID string `path:"client_id"`
	}) (*struct {
		Body engine.JourneyView `json:"body"`
	}, error) {
		view, err := e.GetJourney(ctx, input.ClientID, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.JourneyView `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-client-recordings",
		Method:      http.MethodGet,
		Path:        "/client/{client_id}/recordings",
		Summary:     "Metric recordings of the active journey, newest first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ClientID string `path:"client_id"`
		Limit    int    `query:"limit" default:"50"`
	}) (*struct {
		Body RecordingList `json:"body"`
	}, error) {
		aj, recs, err := e.ListRecordings(ctx, input.ClientID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RecordingList `json:"body"`
		}{Body: RecordingList{JourneyID: aj.Journey.ID, Items: mapRecordings(recs)}}, nil
	})
}

func registerMetrics(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-metric",
		Method:        http.MethodPost,
		Path:          "/metric/record",
		Summary:       "Record a metric for a criterion of the current phase",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body RecordMetricRequest `json:"body"`
	}) (*struct {
		Body RecordMetricResponse `json:"body"`
	}, error) {
		rec, err := e.RecordMetric(ctx, engine.RecordMetricInput{
			ClientID:   input.Body.ClientID,
			MetricName: input.Body.MetricName,
			Value:      input.Body.Value,
			Unit:       input.Body.Unit,
			RecordedAt: input.Body.RecordedAt,
			ActorID:    actorID(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RecordMetricResponse `json:"body"`
		}{Body: recordMetricResponse(rec)}, nil
	})
}

func registerProtocols(api huma.API, e engine.Engine, store protocols.Store) {
	huma.Register(api, huma.Operation{
		OperationID: "get-protocol",
		Method:      http.MethodGet,
		Path:        "/protocol/{protocol_id}",
		Summary:     "Raw protocol document",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProtocolID string `path:"protocol_id"`
	}) (*struct {
		Body protocols.Document `json:"body"`
	}, error) {
		doc, err := store.Get(ctx, input.ProtocolID)
		e.AuditProtocolRead(ctx, actorID(ctx), protocols.SanitizeID(input.ProtocolID), err)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body protocols.Document `json:"body"`
		}{Body: doc}, nil
	})
}

func registerWebhooks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "treatment-note-webhook",
		Method:      http.MethodPost,
		Path:        "/webhooks/treatment-note",
		Summary:     "Ingest a treatment note delivery",
		Description: "The raw body is verified against X-Webhook-Signature (sha256=<hex hmac>) when a webhook secret is configured.",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Signature string `header:"X-Webhook-Signature"`
	}) (*struct {
		Body engine.WebhookResult `json:"body"`
	}, error) {
		body := bodyBytes(ctx)
		if err := e.VerifyWebhookSignature(ctx, body, input.Signature); err != nil {
			return nil, handleError(err)
		}
		res, err := e.IngestWebhookEvent(ctx, body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.WebhookResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent audit events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		ClientID   string `query:"client_id"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Outcome    string `query:"outcome"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     int64  `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		items, err := e.Events(ctx, limit+1, eventFilter(input.Type, input.ClientID, input.EntityKind, input.EntityID, input.Outcome, input.Cursor))
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
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

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
