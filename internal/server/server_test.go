package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/appforge/internal/codegen"
	"github.com/p-blackswan/appforge/internal/config"
	"github.com/p-blackswan/appforge/internal/controller"
	"github.com/p-blackswan/appforge/internal/events"
	"github.com/p-blackswan/appforge/internal/health"
	"github.com/p-blackswan/appforge/internal/incremental"
	"github.com/p-blackswan/appforge/internal/intent"
	"github.com/p-blackswan/appforge/internal/llm/llmtest"
	"github.com/p-blackswan/appforge/internal/metrics"
	"github.com/p-blackswan/appforge/internal/orchestrator"
	"github.com/p-blackswan/appforge/internal/persist"
	"github.com/p-blackswan/appforge/internal/requestid"
	"github.com/p-blackswan/appforge/internal/schema"
	"github.com/p-blackswan/appforge/internal/schema/schematest"
)

// fakeRunner replays a fixed event list and records the request.
type fakeRunner struct {
	mu     sync.Mutex
	events []events.Event
	got    []orchestrator.Request
	ids    []string
}

func (f *fakeRunner) Run(ctx context.Context, req orchestrator.Request) <-chan events.Event {
	f.mu.Lock()
	f.got = append(f.got, req)
	f.ids = append(f.ids, requestid.FromContext(ctx))
	f.mu.Unlock()
	out := make(chan events.Event, len(f.events))
	for _, e := range f.events {
		out <- e
	}
	close(out)
	return out
}

type memLister struct{ files map[string][]persist.File }

func (m memLister) Files(_ context.Context, projectID string) ([]persist.File, error) {
	if projectID == "broken" {
		return nil, errors.New("database is locked")
	}
	return m.files[projectID], nil
}

type testOptions struct {
	auth    AuthConfig
	limit   RateLimitConfig
	runner  Runner
	files   FileLister
	checker *health.Checker
	metrics *metrics.Metrics
}

// testApp creates a fiber app with all routes for testing.
func testApp(t *testing.T, opts testOptions) *fiber.App {
	t.Helper()
	if opts.auth.Mode == "" {
		opts.auth.Mode = config.AuthNone
	}
	if opts.runner == nil {
		opts.runner = &fakeRunner{}
	}
	if opts.checker == nil {
		opts.checker = health.NewChecker(zerolog.Nop())
	}
	h := NewHandlers(opts.runner, opts.files, zerolog.Nop())
	srv := New(Config{Auth: opts.auth, RateLimit: opts.limit}, h, opts.checker, opts.metrics, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv.App()
}

func do(t *testing.T, app *fiber.App, method, path, body string, headers ...string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeProblem(t *testing.T, resp *http.Response) ProblemDetail {
	t.Helper()
	assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
	var p ProblemDetail
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	return p
}

func schemaJSON(t *testing.T, s *schema.AppSchema) string {
	t.Helper()
	data, err := json.Marshal(s)
	require.NoError(t, err)
	return string(data)
}

func TestServer_Probes(t *testing.T) {
	checker := health.NewChecker(zerolog.Nop())
	checker.Register("store", func(context.Context) health.Status { return health.StatusDown })
	app := testApp(t, testOptions{checker: checker})

	resp := do(t, app, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])

	resp = do(t, app, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_RequestIDHeader(t *testing.T) {
	app := testApp(t, testOptions{})

	resp := do(t, app, http.MethodGet, "/healthz", "", requestid.Header, "req-42")
	assert.Equal(t, "req-42", resp.Header.Get(requestid.Header))

	resp = do(t, app, http.MethodGet, "/healthz", "")
	assert.Len(t, resp.Header.Get(requestid.Header), 36)
}

func TestServer_Generate_StreamsEvents(t *testing.T) {
	runner := &fakeRunner{events: []events.Event{
		events.Planning{Phase: "determining-mode", Message: "Understanding your request"},
		events.File{Path: "index.html", Content: "<h1>Hi</h1>", Language: "html"},
		events.Actions{Actions: []events.Action{{Type: events.ActionCreateOrUpdate, Path: "index.html", Content: "<h1>Hi</h1>"}}},
		events.Complete{Duration: 12},
	}}
	app := testApp(t, testOptions{runner: runner})

	body := `{"projectId":"p1","prompt":"A portfolio site","platform":"website","mode":"controller","review":false}`
	resp := do(t, app, http.MethodPost, "/api/v1/generate", body, requestid.Header, "req-7")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	got, err := events.ReadSSE(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, runner.events, got)

	require.Len(t, runner.got, 1)
	req := runner.got[0]
	assert.Equal(t, "p1", req.ProjectID)
	assert.Equal(t, schema.PlatformWebsite, req.Platform)
	assert.Equal(t, orchestrator.ModeController, req.Mode)
	require.NotNil(t, req.Review)
	assert.False(t, *req.Review)
	assert.Equal(t, "req-7", runner.ids[0], "request id reaches the session")
}

func TestServer_Generate_DefaultsPlatform(t *testing.T) {
	runner := &fakeRunner{events: []events.Event{events.Complete{}}}
	app := testApp(t, testOptions{runner: runner})

	resp := do(t, app, http.MethodPost, "/api/v1/generate", `{"projectId":"p1","prompt":"a bakery"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, _ = io.ReadAll(resp.Body)
	assert.Equal(t, schema.PlatformWebsite, runner.got[0].Platform)
	assert.Equal(t, orchestrator.ModeAuto, runner.got[0].Mode)
}

func TestServer_Generate_RejectsBadRequests(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantType string
	}{
		{"not json", `{`, "invalid_body"},
		{"missing project", `{"prompt":"a blog"}`, "missing_project_id"},
		{"missing prompt", `{"projectId":"p1","prompt":"  "}`, "missing_prompt"},
		{"bad platform", `{"projectId":"p1","prompt":"a blog","platform":"desktop"}`, "invalid_platform"},
		{"bad mode", `{"projectId":"p1","prompt":"a blog","mode":"turbo"}`, "invalid_mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{}
			app := testApp(t, testOptions{runner: runner})

			resp := do(t, app, http.MethodPost, "/api/v1/generate", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tt.wantType, decodeProblem(t, resp).Type)
			assert.Empty(t, runner.got)
		})
	}
}

func TestServer_Generate_EndToEnd(t *testing.T) {
	plan, err := json.Marshal(map[string]any{"schema": schematest.Portfolio(schema.PlatformWebsite)})
	require.NoError(t, err)
	provider := llmtest.New().WithStreams(llmtest.Stream{Chunks: []string{string(plan)}})
	store := persist.NewMemory()
	o := orchestrator.New(controller.New(provider), codegen.New(provider), orchestrator.WithStore(store))
	app := testApp(t, testOptions{runner: o, files: store})

	resp := do(t, app, http.MethodPost, "/api/v1/generate", `{"projectId":"p1","prompt":"A portfolio site"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got, err := events.ReadSSE(resp.Body)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, events.TypePlanning, got[0].Type())
	done, ok := got[len(got)-1].(events.Complete)
	require.True(t, ok)
	assert.Len(t, done.Files, 3)

	resp = do(t, app, http.MethodGet, "/api/v1/projects/p1/files", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed struct {
		ProjectID string         `json:"projectId"`
		Files     []persist.File `json:"files"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	assert.Equal(t, "p1", listed.ProjectID)
	assert.Len(t, listed.Files, 4, "three files and the schema")
}

func TestServer_ChatIntent(t *testing.T) {
	app := testApp(t, testOptions{})

	tests := []struct {
		message string
		want    bool
		rule    string
	}{
		{"Build me a landing page for my bakery", true, intent.RuleKeyword},
		{"fix the login bug", false, intent.RuleConversational},
		{"hey, build me a SaaS landing page", false, intent.RuleConversational},
	}
	for _, tt := range tests {
		body, _ := json.Marshal(IntentRequest{Message: tt.message})
		resp := do(t, app, http.MethodPost, "/api/v1/chat/intent", string(body))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var got intent.Result
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		assert.Equal(t, tt.want, got.Generation, tt.message)
		assert.Equal(t, tt.rule, got.Rule, tt.message)
	}
}

func TestServer_ValidateSchema(t *testing.T) {
	app := testApp(t, testOptions{})

	resp := do(t, app, http.MethodPost, "/api/v1/schema/validate", schemaJSON(t, schematest.Portfolio(schema.PlatformWebsite)))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ok schema.ValidationResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ok))
	assert.True(t, ok.Valid)

	broken := schematest.Portfolio(schema.PlatformWebsite)
	broken.Structure.Pages[0].Components = append(broken.Structure.Pages[0].Components, "ghost")
	resp = do(t, app, http.MethodPost, "/api/v1/schema/validate", schemaJSON(t, broken))
	require.Equal(t, http.StatusOK, resp.StatusCode, "validation problems are data")
	var bad schema.ValidationResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&bad))
	assert.False(t, bad.Valid)
	require.NotEmpty(t, bad.Errors)
	assert.Contains(t, bad.Errors[0].Message, "ghost")

	resp = do(t, app, http.MethodPost, "/api/v1/schema/validate", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_DiffSchemas(t *testing.T) {
	app := testApp(t, testOptions{})
	prev := schematest.Portfolio(schema.PlatformWebsite)
	next := schematest.Portfolio(schema.PlatformWebsite)
	next.Design.Colors.Primary = "#ff0000"

	body, err := json.Marshal(DiffRequest{Old: prev, New: next})
	require.NoError(t, err)
	resp := do(t, app, http.MethodPost, "/api/v1/schema/diff", string(body))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got DiffResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, []string{"design.colors.primary"}, got.Diff.ChangedDesignKeys)
	assert.Equal(t, []string{"styles.css"}, got.Plan.FilesToRegenerate)
	assert.ElementsMatch(t, []string{"index.html", "script.js"}, got.Plan.FilesToKeep)

	resp = do(t, app, http.MethodPost, "/api/v1/schema/diff", `{"old":{}}`)
	assert.Equal(t, "missing_schema", decodeProblem(t, resp).Type)
}

func TestServer_DiffSchemas_UsesGivenFiles(t *testing.T) {
	app := testApp(t, testOptions{})
	body, err := json.Marshal(DiffRequest{
		Old:   schematest.Portfolio(schema.PlatformWebsite),
		New:   schematest.Portfolio(schema.PlatformWebsite),
		Files: []schema.GeneratedFile{{Path: "index.html", Content: "<p>hand written</p>"}},
	})
	require.NoError(t, err)

	resp := do(t, app, http.MethodPost, "/api/v1/schema/diff", string(body))
	var got DiffResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.True(t, got.Diff.Empty())
	assert.Equal(t, incremental.Plan{FilesToRegenerate: []string{}, FilesToKeep: []string{"index.html"}}, got.Plan)
}

func TestServer_GenerateTemplates(t *testing.T) {
	app := testApp(t, testOptions{})

	resp := do(t, app, http.MethodPost, "/api/v1/templates/generate", schemaJSON(t, schematest.Portfolio(schema.PlatformWebApp)))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got TemplatesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	paths := make([]string, 0, len(got.Files))
	for _, f := range got.Files {
		paths = append(paths, f.Path)
	}
	assert.Contains(t, paths, "package.json")
	assert.Contains(t, paths, "src/App.tsx")
	assert.NotEmpty(t, got.Dependencies)

	partial := schematest.Portfolio(schema.PlatformWebsite)
	partial.Structure.Pages = nil
	resp = do(t, app, http.MethodPost, "/api/v1/templates/generate", schemaJSON(t, partial))
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	p := decodeProblem(t, resp)
	assert.Equal(t, "incomplete_schema", p.Type)
	assert.Contains(t, p.Detail, "structure.pages")
}

func TestServer_ProjectFiles(t *testing.T) {
	t.Run("no lister", func(t *testing.T) {
		app := testApp(t, testOptions{})
		resp := do(t, app, http.MethodGet, "/api/v1/projects/p1/files", "")
		assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
		assert.Equal(t, "files_unavailable", decodeProblem(t, resp).Type)
	})

	t.Run("unknown project is empty", func(t *testing.T) {
		app := testApp(t, testOptions{files: memLister{}})
		resp := do(t, app, http.MethodGet, "/api/v1/projects/nope/files", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		data, _ := io.ReadAll(resp.Body)
		assert.JSONEq(t, `{"projectId":"nope","files":[]}`, string(data))
	})

	t.Run("store error is hidden", func(t *testing.T) {
		app := testApp(t, testOptions{files: memLister{}})
		resp := do(t, app, http.MethodGet, "/api/v1/projects/broken/files", "")
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		p := decodeProblem(t, resp)
		assert.Equal(t, "internal_error", p.Type)
		assert.NotContains(t, p.Detail, "locked")
	})
}

func TestServer_NotFound(t *testing.T) {
	app := testApp(t, testOptions{})
	resp := do(t, app, http.MethodGet, "/api/v1/nothing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, http.StatusNotFound, decodeProblem(t, resp).Status)
}

func TestServer_Metrics(t *testing.T) {
	m := metrics.New()
	app := testApp(t, testOptions{metrics: m})

	do(t, app, http.MethodPost, "/api/v1/chat/intent", `{"message":"build a blog"}`)
	resp := do(t, app, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(data), `appforge_http_requests_total{method="POST",route="/api/v1/chat/intent",status="200"} 1`)
	assert.Contains(t, string(data), "go_goroutines")
}

func TestServer_RateLimit(t *testing.T) {
	app := testApp(t, testOptions{limit: RateLimitConfig{RPS: 1, Burst: 2}})

	for i := 0; i < 2; i++ {
		resp := do(t, app, http.MethodPost, "/api/v1/chat/intent", `{"message":"hi"}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp := do(t, app, http.MethodPost, "/api/v1/chat/intent", `{"message":"hi"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
	assert.Equal(t, "rate_limit_exceeded", decodeProblem(t, resp).Type)

	resp = do(t, app, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "probes are not limited")
}

func TestTokenBucket_Refills(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	b := newTokenBucket(2, 1, now)
	assert.True(t, b.allow(now))
	assert.False(t, b.allow(now))
	assert.True(t, b.allow(now.Add(500*time.Millisecond)))
}

func TestRateLimiter_SweepsIdleClients(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{RPS: 1, Burst: 1})
	defer rl.stop()
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	rl.allow("10.0.0.1")
	now = now.Add(staleAfter + time.Second)
	rl.allow("10.0.0.2")
	rl.sweep()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.clients, "10.0.0.1")
	assert.Contains(t, rl.clients, "10.0.0.2")
}
