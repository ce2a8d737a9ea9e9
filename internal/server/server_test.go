package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"vector/internal/db"
	"vector/internal/engine"
	"vector/internal/engine/auth"
	"vector/internal/migrate"
	"vector/internal/protocols"
	"vector/internal/seed"
)

var testNow = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

type serverOptions struct {
	webhookSecret string
	jwtSecret     string
}

func newTestServer(t *testing.T, opts serverOptions) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn, db.SQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if opts.webhookSecret == "" {
		opts.webhookSecret = auth.DevWebhookSecret
	}
	e := engine.New(conn, db.SQLite, engine.Options{
		WebhookSecret: opts.webhookSecret,
		Now:           func() time.Time { return testNow },
	})
	ctx := context.Background()
	doc, err := seed.Base()
	if err != nil {
		t.Fatalf("base seed: %v", err)
	}
	if _, err := seed.Import(ctx, e.Repo, doc, testNow, "tester"); err != nil {
		t.Fatalf("import: %v", err)
	}
	if err := seed.Demo(ctx, e.Repo, testNow, "tester"); err != nil {
		t.Fatalf("demo: %v", err)
	}
	protoDir := filepath.Join(workspace, "protocols")
	if err := os.MkdirAll(protoDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(protoDir, "PATH_ACL_01.md"), []byte("# ACL Reconstruction"), 0o644); err != nil {
		t.Fatal(err)
	}

	handler, err := New(Config{
		Engine:    e,
		Protocols: protocols.Store{Root: protoDir},
		BasePath:  "/api",
		Auth:      AuthConfig{JWTSecret: opts.jwtSecret},
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
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doRaw(t *testing.T, client *http.Client, method, url string, body []byte, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
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

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var raw []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		raw = b
	}
	return doRaw(t, client, method, url, raw, headers)
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, data)
	}
	return env.Error.Code
}

func TestHealthAndDocs(t *testing.T) {
	srv, cleanup := newTestServer(t, serverOptions{})
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/health", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"ok"`) {
		t.Fatalf("health %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "/api/client/{client_id}/journey") {
		t.Fatalf("openapi %d", res.StatusCode)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/docs", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("docs %d", res.StatusCode)
	}
}

func TestOpenAPIDocumentConcurrentFetch(t *testing.T) {
	srv, cleanup := newTestServer(t, serverOptions{jwtSecret: "test-secret"})
	defer cleanup()
	const workers = 8
	var wg sync.WaitGroup
	bodies := make([][]byte, workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := srv.Client().Get(srv.URL + "/api/openapi.json")
			if err != nil {
				errs <- err
				return
			}
			defer res.Body.Close()
			if res.StatusCode != http.StatusOK {
				errs <- fmt.Errorf("status %d", res.StatusCode)
				return
			}
			bodies[i], err = io.ReadAll(res.Body)
			if err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("fetch openapi: %v", err)
	}
	for i := 1; i < workers; i++ {
		if !bytes.Equal(bodies[0], bodies[i]) {
			t.Fatalf("response %d differs from response 0", i)
		}
	}
}

func TestOpenAPISecurityFollowsAuth(t *testing.T) {
	type operation struct {
		Security  []map[string][]string `json:"security"`
		Responses map[string]any        `json:"responses"`
	}
	type document struct {
		Paths      map[string]map[string]operation `json:"paths"`
		Components struct {
			SecuritySchemes map[string]any `json:"securitySchemes"`
		} `json:"components"`
	}
	fetch := func(t *testing.T, opts serverOptions) document {
		t.Helper()
		srv, cleanup := newTestServer(t, opts)
		defer cleanup()
		res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/openapi.json", nil, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("openapi %d: %s", res.StatusCode, data)
		}
		var doc document
		if err := json.Unmarshal(data, &doc); err != nil {
			t.Fatalf("decode openapi: %v", err)
		}
		return doc
	}

	open := fetch(t, serverOptions{})
	if _, ok := open.Components.SecuritySchemes["bearerAuth"]; ok {
		t.Fatalf("bearer scheme documented without a JWT secret")
	}
	journey := open.Paths["/api/client/{client_id}/journey"]["get"]
	if len(journey.Security) != 0 {
		t.Fatalf("journey requires security without auth: %v", journey.Security)
	}
	if _, ok := journey.Responses["default"]; !ok {
		t.Fatalf("journey missing default error response")
	}

	secured := fetch(t, serverOptions{jwtSecret: "test-secret"})
	if _, ok := secured.Components.SecuritySchemes["bearerAuth"]; !ok {
		t.Fatalf("bearer scheme missing with a JWT secret")
	}
	if sec := secured.Paths["/api/client/{client_id}/journey"]["get"].Security; len(sec) != 1 {
		t.Fatalf("journey security %v", sec)
	}
	if sec := secured.Paths["/api/metric/record"]["post"].Security; len(sec) != 1 {
		t.Fatalf("record metric security %v", sec)
	}
	for _, public := range []struct{ path, method string }{
		{"/api/health", "get"},
		{"/api/webhooks/treatment-note", "post"},
	} {
		if sec := secured.Paths[public.path][public.method].Security; len(sec) != 0 {
			t.Fatalf("%s %s should be public, got %v", public.method, public.path, sec)
		}
	}
}

func TestJourneyAndRecordMetric(t *testing.T) {
	srv, cleanup := newTestServer(t, serverOptions{})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/client/CLT_DEMO_01/journey", nil, map[string]string{"X-Actor-Id": "dr-lee"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("journey %d: %s", res.StatusCode, data)
	}
	var view engine.JourneyView
	if err := json.Unmarshal(data, &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view.Client.Name != "Marcus D." || len(view.Phases) != 4 || view.Phases[0].Status != "active" {
		t.Fatalf("unexpected view %+v", view.Client)
	}
	if !strings.Contains(string(data), `"terminalGoal":"Return to 315lb Squat"`) {
		t.Fatalf("camelCase header missing: %s", data)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/metric/record", map[string]any{
		"client_id":   "CLT_DEMO_01",
		"metric_name": "knee_extension",
		"value":       "0",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("record %d: %s", res.StatusCode, data)
	}
	var rec RecordMetricResponse
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatal(err)
	}
	if rec.ID == "" || rec.CriterionID != "EC_ACL_P1_01" || rec.JourneyID != seed.DemoJourneyID {
		t.Fatalf("unexpected response %+v", rec)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/client/CLT_DEMO_01/recordings?limit=1", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), rec.ID) {
		t.Fatalf("recordings %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/events?type=journey.read", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"actor_id":"dr-lee"`) {
		t.Fatalf("events %d: %s", res.StatusCode, data)
	}
}

func TestErrorMapping(t *testing.T) {
	srv, cleanup := newTestServer(t, serverOptions{})
	defer cleanup()
	client := srv.Client()
	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"journey missing", http.MethodGet, "/api/client/CLT_NOPE/journey", nil, http.StatusNotFound, "not_found"},
		{"record no journey", http.MethodPost, "/api/metric/record", map[string]any{"client_id": "CLT_NOPE", "metric_name": "quad_lag", "value": "0"}, http.StatusNotFound, "not_found"},
		{"record other phase", http.MethodPost, "/api/metric/record", map[string]any{"client_id": "CLT_DEMO_01", "metric_name": "knee_flexion", "value": "120"}, http.StatusBadRequest, "bad_request"},
		{"record missing field", http.MethodPost, "/api/metric/record", map[string]any{"client_id": "CLT_DEMO_01"}, http.StatusBadRequest, "bad_request"},
		{"protocol missing", http.MethodGet, "/api/protocol/PATH_NOPE", nil, http.StatusNotFound, "not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, data := doJSON(t, client, tc.method, srv.URL+tc.path, tc.body, nil)
			if res.StatusCode != tc.status {
				t.Fatalf("status %d, want %d: %s", res.StatusCode, tc.status, data)
			}
			if code := errorCode(t, data); code != tc.code {
				t.Fatalf("code %q, want %q", code, tc.code)
			}
		})
	}
}

func TestProtocolDocument(t *testing.T) {
	srv, cleanup := newTestServer(t, serverOptions{})
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/protocol/PATH_ACL_01", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("protocol %d: %s", res.StatusCode, data)
	}
	var doc protocols.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Content != "# ACL Reconstruction" {
		t.Fatalf("content %q", doc.Content)
	}
	// Encoded traversal is reduced to the base name.
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/protocol/..%2F..%2FPATH_ACL_01.md", nil, nil)
	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusNotFound {
		t.Fatalf("traversal %d: %s", res.StatusCode, data)
	}
}

func TestWebhookSignature(t *testing.T) {
	srv, cleanup := newTestServer(t, serverOptions{webhookSecret: "clinic-secret"})
	defer cleanup()
	client := srv.Client()
	body := []byte(`{"event":"treatment_note.created","patient":{"external_id":"CLT_DEMO_01"},"treatment_note":{"fields":[{"label":"Quadriceps lag","value":"0"}]}}`)
	url := srv.URL + "/api/webhooks/treatment-note"

	res, data := doRaw(t, client, http.MethodPost, url, body, nil)
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "unauthorized" {
		t.Fatalf("unsigned %d: %s", res.StatusCode, data)
	}
	res, data = doRaw(t, client, http.MethodPost, url, body, map[string]string{auth.SignatureHeader: auth.Sign(body, "wrong")})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad signature %d: %s", res.StatusCode, data)
	}
	res, data = doRaw(t, client, http.MethodPost, url, body, map[string]string{auth.SignatureHeader: auth.Sign(body, "clinic-secret")})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("signed %d: %s", res.StatusCode, data)
	}
	var result engine.WebhookResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatal(err)
	}
	if result.Status != engine.WebhookProcessed || result.MetricsRecorded != 1 || result.Fields[0].MetricName != "quad_lag" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestWebhookDevSecretAndBadPayload(t *testing.T) {
	srv, cleanup := newTestServer(t, serverOptions{})
	defer cleanup()
	client := srv.Client()
	url := srv.URL + "/api/webhooks/treatment-note"

	res, data := doRaw(t, client, http.MethodPost, url, []byte(`{"event":"invoice.paid"}`), nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"ignored"`) {
		t.Fatalf("ignored event %d: %s", res.StatusCode, data)
	}
	res, data = doRaw(t, client, http.MethodPost, url, []byte(`{not json`), nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed %d: %s", res.StatusCode, data)
	}
	res, data = doRaw(t, client, http.MethodPost, url, []byte(`{"event":"treatment_note.created","patient":{}}`), nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing patient %d: %s", res.StatusCode, data)
	}
}

func TestBearerAuth(t *testing.T) {
	srv, cleanup := newTestServer(t, serverOptions{jwtSecret: "jwt-secret"})
	defer cleanup()
	client := srv.Client()
	url := srv.URL + "/api/client/CLT_DEMO_01/journey"

	res, data := doJSON(t, client, http.MethodGet, url, nil, map[string]string{"X-Actor-Id": "spoofed"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("header actor without token %d: %s", res.StatusCode, data)
	}
	res, _ = doJSON(t, client, http.MethodGet, url, nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token %d", res.StatusCode)
	}
	tok, err := auth.IssueToken("jwt-secret", "dr-lee", time.Now(), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	res, data = doJSON(t, client, http.MethodGet, url, nil, map[string]string{"Authorization": "Bearer " + tok})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("valid token %d: %s", res.StatusCode, data)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/api/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health must stay public, got %d", res.StatusCode)
	}
	res, data = doRaw(t, client, http.MethodPost, srv.URL+"/api/webhooks/treatment-note", []byte(`{"event":"other"}`), nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("webhook must not need a bearer token, got %d: %s", res.StatusCode, data)
	}
}
