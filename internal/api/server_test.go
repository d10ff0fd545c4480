package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"sweepbot/internal/cleanup"
	"sweepbot/internal/executor"
	"sweepbot/internal/model"
	"sweepbot/internal/registry"
	"sweepbot/internal/storage"
)

// --- mocks ---

type cleanerCall struct {
	Kind     string
	Tenant   string
	FilterID string
	DryRun   bool
}

type fakeCleaner struct {
	calls     []cleanerCall
	simResult cleanup.SimulateResult
	runResult cleanup.RunResult
}

func (c *fakeCleaner) Simulate(_ context.Context, tenant, filterID string) cleanup.SimulateResult {
	c.calls = append(c.calls, cleanerCall{Kind: "simulate", Tenant: tenant, FilterID: filterID})
	return c.simResult
}

func (c *fakeCleaner) Run(_ context.Context, tenant, filterID string, dryRun bool, _ cleanup.Progress) cleanup.RunResult {
	c.calls = append(c.calls, cleanerCall{Kind: "run", Tenant: tenant, FilterID: filterID, DryRun: dryRun})
	return c.runResult
}

type reply struct {
	Tenant    string
	SessionID string
	Content   string
}

type fakeReplier struct {
	replies []reply
	err     error
	// failures are returned, in order, before err applies.
	failures []error
}

func (r *fakeReplier) SendMessage(_ context.Context, tenant, sessionID, content string) error {
	r.replies = append(r.replies, reply{Tenant: tenant, SessionID: sessionID, Content: content})
	if len(r.failures) > 0 {
		err := r.failures[0]
		r.failures = r.failures[1:]
		return err
	}
	return r.err
}

// --- helpers ---

type testEnv struct {
	handler http.Handler
	reg     *registry.Registry
	store   *storage.SQLite
	cleaner *fakeCleaner
	replier *fakeReplier
}

func newTestServer(t *testing.T, secret string) *testEnv {
	t.Helper()
	store, err := storage.NewSQLite(":memory:", zap.NewNop())
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	reg := registry.New(store, zap.NewNop())
	env := &testEnv{reg: reg, store: store, cleaner: &fakeCleaner{}, replier: &fakeReplier{}}
	exec := executor.New(executor.Options{BaseDelay: time.Millisecond, MaxRetries: 2}, zap.NewNop())
	env.handler = New(reg, env.cleaner, store, env.replier, exec, secret, zap.NewNop()).Handler()
	return env
}

type envelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Ignored bool            `json:"ignored"`
	Filter  model.Filter    `json:"filter"`
	Filters []model.Filter  `json:"filters"`
	Group   model.Group     `json:"group"`
	Groups  []model.Group   `json:"groups"`
	Stats   model.Stats     `json:"stats"`
	Total   int             `json:"total"`
	Deleted int             `json:"deleted"`
	Count   int             `json:"count"`
	Raw     json.RawMessage `json:"-"`
}

func (e *testEnv) do(t *testing.T, method, path, body string, header ...string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
		env.Raw = rec.Body.Bytes()
	}
	return rec.Code, env
}

func (e *testEnv) seed(t *testing.T, tenant, name string) model.Filter {
	t.Helper()
	n := name
	f, err := e.reg.Create(context.Background(), tenant, registry.FilterPatch{Name: &n})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return f
}

// --- tests ---

func TestHealthz(t *testing.T) {
	env := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if diff := cmp.Diff(http.StatusOK, rec.Code); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("ok", rec.Body.String()); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestFilterCRUD(t *testing.T) {
	env := newTestServer(t, "")

	code, resp := env.do(t, http.MethodGet, "/api/W1/filters", "")
	if code != http.StatusOK || !resp.Success || resp.Filters == nil || len(resp.Filters) != 0 {
		t.Fatalf("empty list: code=%d resp=%s", code, resp.Raw)
	}

	code, resp = env.do(t, http.MethodPost, "/api/W1/filters", `{"name":"stale","closedOnly":true,"maxDays":-5}`)
	if diff := cmp.Diff(http.StatusCreated, code); diff != "" {
		t.Fatalf("create status mismatch (-want +got):\n%s\n%s", diff, resp.Raw)
	}
	created := resp.Filter
	if created.ID == "" || !created.ClosedOnly || created.MaxDays != 0 {
		t.Errorf("unexpected created filter: %+v", created)
	}

	code, resp = env.do(t, http.MethodPatch, "/api/W1/filters/"+created.ID, `{"name":"stale-2"}`)
	if diff := cmp.Diff(http.StatusOK, code); diff != "" {
		t.Fatalf("patch status mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("stale-2", resp.Filter.Name); diff != "" {
		t.Errorf("name mismatch (-want +got):\n%s", diff)
	}

	code, resp = env.do(t, http.MethodPost, "/api/W1/filters/"+created.ID+"/clone", `{"name":"copy"}`)
	if diff := cmp.Diff(http.StatusCreated, code); diff != "" {
		t.Fatalf("clone status mismatch (-want +got):\n%s", diff)
	}
	if resp.Filter.ID == created.ID || resp.Filter.Name != "copy" {
		t.Errorf("unexpected clone: %+v", resp.Filter)
	}

	_, resp = env.do(t, http.MethodGet, "/api/W1/filters", "")
	if diff := cmp.Diff(2, len(resp.Filters)); diff != "" {
		t.Errorf("filter count mismatch (-want +got):\n%s", diff)
	}

	code, resp = env.do(t, http.MethodDelete, "/api/W1/filters/"+created.ID, "")
	if code != http.StatusOK || !resp.Success {
		t.Fatalf("delete: code=%d resp=%s", code, resp.Raw)
	}
	_, resp = env.do(t, http.MethodGet, "/api/W1/filters", "")
	if diff := cmp.Diff(1, len(resp.Filters)); diff != "" {
		t.Errorf("filter count after delete mismatch (-want +got):\n%s", diff)
	}
}

func TestErrorEnvelope(t *testing.T) {
	env := newTestServer(t, "")
	env.seed(t, "W1", "taken")

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"invalid json", http.MethodPost, "/api/W1/filters", `{"name":`, http.StatusBadRequest},
		{"blank name", http.MethodPost, "/api/W1/filters", `{"name":"  "}`, http.StatusBadRequest},
		{"duplicate name", http.MethodPost, "/api/W1/filters", `{"name":"TAKEN"}`, http.StatusBadRequest},
		{"unknown enum", http.MethodPost, "/api/W1/filters", `{"name":"x","keywordMatch":"some"}`, http.StatusBadRequest},
		{"patch missing", http.MethodPatch, "/api/W1/filters/nope", `{"name":"y"}`, http.StatusNotFound},
		{"delete missing", http.MethodDelete, "/api/W1/filters/nope", "", http.StatusNotFound},
		{"clone missing", http.MethodPost, "/api/W1/filters/nope/clone", `{"name":"z"}`, http.StatusNotFound},
		{"delete missing group", http.MethodDelete, "/api/W1/groups/nope", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := env.do(t, tt.method, tt.path, tt.body)
			if diff := cmp.Diff(tt.wantStatus, code); diff != "" {
				t.Errorf("status mismatch (-want +got):\n%s\n%s", diff, resp.Raw)
			}
			if resp.Success || resp.Error == "" {
				t.Errorf("expected failure envelope, got %s", resp.Raw)
			}
		})
	}
}

func TestGroups(t *testing.T) {
	env := newTestServer(t, "")

	code, resp := env.do(t, http.MethodPost, "/api/W1/groups", `{"name":"Support","color":"#ff0000"}`)
	if diff := cmp.Diff(http.StatusCreated, code); diff != "" {
		t.Fatalf("create status mismatch (-want +got):\n%s", diff)
	}
	g := resp.Group

	_, resp = env.do(t, http.MethodGet, "/api/W1/groups", "")
	if diff := cmp.Diff([]model.Group{g}, resp.Groups); diff != "" {
		t.Errorf("groups mismatch (-want +got):\n%s", diff)
	}

	code, _ = env.do(t, http.MethodDelete, "/api/W1/groups/"+g.ID, "")
	if diff := cmp.Diff(http.StatusOK, code); diff != "" {
		t.Errorf("delete status mismatch (-want +got):\n%s", diff)
	}
}

func TestRunAndTest(t *testing.T) {
	t.Run("run", func(t *testing.T) {
		env := newTestServer(t, "")
		env.cleaner.runResult = cleanup.RunResult{Success: true, Total: 10, Deleted: 9, Errors: 1}

		code, resp := env.do(t, http.MethodPost, "/api/W1/filters/f1/run", "")
		if diff := cmp.Diff(http.StatusOK, code); diff != "" {
			t.Errorf("status mismatch (-want +got):\n%s", diff)
		}
		if !resp.Success || resp.Total != 10 || resp.Deleted != 9 {
			t.Errorf("unexpected body: %s", resp.Raw)
		}
		want := []cleanerCall{{Kind: "run", Tenant: "W1", FilterID: "f1"}}
		if diff := cmp.Diff(want, env.cleaner.calls); diff != "" {
			t.Errorf("calls mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("dry run", func(t *testing.T) {
		env := newTestServer(t, "")
		env.cleaner.runResult = cleanup.RunResult{Success: true, DryRun: true, Count: 2}

		env.do(t, http.MethodPost, "/api/W1/filters/f1/run", `{"dryRun":true}`)
		want := []cleanerCall{{Kind: "run", Tenant: "W1", FilterID: "f1", DryRun: true}}
		if diff := cmp.Diff(want, env.cleaner.calls); diff != "" {
			t.Errorf("calls mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("run failure maps status", func(t *testing.T) {
		env := newTestServer(t, "")
		nf := &model.NotFoundError{Kind: "filter", ID: "f1"}
		env.cleaner.runResult = cleanup.RunResult{Error: nf.Error(), Err: nf}

		code, resp := env.do(t, http.MethodPost, "/api/W1/filters/f1/run", "")
		if diff := cmp.Diff(http.StatusNotFound, code); diff != "" {
			t.Errorf("status mismatch (-want +got):\n%s", diff)
		}
		if resp.Success || resp.Error != nf.Error() {
			t.Errorf("unexpected body: %s", resp.Raw)
		}
	})

	t.Run("test", func(t *testing.T) {
		env := newTestServer(t, "")
		env.cleaner.simResult = cleanup.SimulateResult{Success: true, Count: 3}

		code, resp := env.do(t, http.MethodPost, "/api/W1/filters/f1/test", "")
		if code != http.StatusOK || !resp.Success || resp.Count != 3 {
			t.Errorf("unexpected response: code=%d body=%s", code, resp.Raw)
		}
	})

	t.Run("test upstream failure", func(t *testing.T) {
		env := newTestServer(t, "")
		err := &model.UpstreamError{Op: "list conversations", Status: 502, Err: errors.New("bad gateway")}
		env.cleaner.simResult = cleanup.SimulateResult{Error: err.Error(), Err: err}

		code, _ := env.do(t, http.MethodPost, "/api/W1/filters/f1/test", "")
		if diff := cmp.Diff(http.StatusInternalServerError, code); diff != "" {
			t.Errorf("status mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestStats(t *testing.T) {
	env := newTestServer(t, "")
	if err := env.store.RecordStats(context.Background(), "W1", model.StatsDelta{Simulations: 2, Errors: 1}); err != nil {
		t.Fatalf("record: %v", err)
	}

	code, resp := env.do(t, http.MethodGet, "/api/W1/stats", "")
	if diff := cmp.Diff(http.StatusOK, code); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
	want := model.Stats{Simulations: 2, Errors: 1}
	if diff := cmp.Diff(want, resp.Stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}
