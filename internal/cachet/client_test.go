package cachet

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"statusbridge/internal/config"
	"statusbridge/internal/domain"
)

func TestStatusCodeMapping(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, "http://unused.invalid")
	if got := client.StatusCode(domain.HealthHealthy); got != 1 {
		t.Fatalf("healthy -> %d, want 1", got)
	}
	if got := client.StatusCode(domain.HealthPartial); got != 3 {
		t.Fatalf("partial -> %d, want 3", got)
	}
	if got := client.StatusCode(domain.HealthDown); got != 4 {
		t.Fatalf("down -> %d, want 4", got)
	}
}

func TestDoWithRetryRecoversFromTransientFailure(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if calls.Add(1) == 1 {
			writer.WriteHeader(http.StatusBadGateway)
			return
		}
		if got := request.Header.Get("Authorization"); got != "Bearer token" {
			t.Errorf("unexpected auth header %q", got)
		}
		writeJSON(writer, map[string]any{"data": []any{}})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	if _, err := client.ListComponents(context.Background()); err != nil {
		t.Fatalf("expected recovery after retry, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestDoWithRetryNeverRetriesPermanentFailure(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		writer.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	err := client.UpdateComponentStatus(context.Background(), 7, domain.HealthDown)
	if err == nil {
		t.Fatalf("expected error for 422 response")
	}
	if !IsPermanent(err) {
		t.Fatalf("expected permanent classification, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("permanent failure must not retry, got %d attempts", calls.Load())
	}
}

func TestDefaultLoadedConfigRetriesTransientFailure(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			writer.WriteHeader(http.StatusInternalServerError)
			return
		}
		writer.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "config.toml")
	body := "[backend]\napi_url = \"" + server.URL + "\"\napi_token = \"secret\"\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	client := New(cfg.Backend, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := client.UpdateComponentStatus(context.Background(), 7, domain.HealthDown); err != nil {
		t.Fatalf("expected default retry to recover, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts under default config, got %d", calls.Load())
	}
}

func TestDoWithRetryStopsAtAttemptCap(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		writer.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	if err := client.DeleteComponent(context.Background(), 7); err == nil {
		t.Fatalf("expected error after attempt cap")
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestResolveComponentIDPaginatesAndCaches(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		calls.Add(1)
		switch request.URL.Query().Get("page") {
		case "1":
			writeJSON(writer, map[string]any{
				"data":  []any{componentJSON(1, "Web")},
				"links": map[string]any{"next": "/components?page=2"},
			})
		default:
			writeJSON(writer, map[string]any{
				"data": []any{componentJSON(2, "10.0.0.1:9100 | Web")},
			})
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	id, err := client.ResolveComponentID(context.Background(), "10.0.0.1:9100 | Web")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id != 2 {
		t.Fatalf("expected id 2 from page 2, got %d", id)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 page fetches, got %d", calls.Load())
	}

	// Second lookup must come from the id cache without any request.
	if id, err = client.ResolveComponentID(context.Background(), "10.0.0.1:9100 | Web"); err != nil || id != 2 {
		t.Fatalf("cached resolve failed: id=%d err=%v", id, err)
	}
	if calls.Load() != 2 {
		t.Fatalf("cached resolve must not hit the backend, got %d calls", calls.Load())
	}
}

func TestResolveComponentIDReportsNotFound(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		writeJSON(writer, map[string]any{"data": []any{componentJSON(1, "Web")}})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.ResolveComponentID(context.Background(), "Mail")
	if !errors.Is(err, ErrComponentNotFound) {
		t.Fatalf("expected ErrComponentNotFound, got %v", err)
	}
}

func TestFindOpenIncidentMatchesComponent(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if got := request.URL.Query().Get("filter[status]"); got != "0,1,2,3" {
			t.Errorf("unexpected status filter %q", got)
		}
		writeJSON(writer, map[string]any{"data": []any{
			map[string]any{"id": 11, "attributes": map[string]any{"component_id": 5, "status": 1}},
			map[string]any{"id": 12, "attributes": map[string]any{"component_id": 7, "status": 1}},
		}})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	id, found, err := client.FindOpenIncident(context.Background(), 7)
	if err != nil {
		t.Fatalf("find open incident: %v", err)
	}
	if !found || id != 12 {
		t.Fatalf("expected incident 12, got id=%d found=%v", id, found)
	}

	_, found, err = client.FindOpenIncident(context.Background(), 99)
	if err != nil || found {
		t.Fatalf("expected no match for unknown component, found=%v err=%v", found, err)
	}
}

func TestCreateIncidentDecodesQuotedID(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
			t.Errorf("decode incident body: %v", err)
		}
		if body["component_id"] != float64(5) || body["status"] != float64(1) {
			t.Errorf("unexpected incident body %v", body)
		}
		writeJSON(writer, map[string]any{"data": map[string]any{"id": "42"}})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	id, err := client.CreateIncident(context.Background(), 5, "Web is experiencing issues", "investigating")
	if err != nil {
		t.Fatalf("create incident: %v", err)
	}
	if id != 42 {
		t.Fatalf("expected id 42 from quoted encoding, got %d", id)
	}
}

func TestUpdateTargetComponentKeepsDisabled(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["enabled"] != false {
			t.Errorf("target component must stay disabled, body %v", body)
		}
		if body["status"] != float64(4) {
			t.Errorf("expected down status 4, body %v", body)
		}
		writer.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	if err := client.UpdateTargetComponent(context.Background(), 3, domain.HealthDown, "critical: no\nInstanceDown,"); err != nil {
		t.Fatalf("update target component: %v", err)
	}
}

func TestGetComponentFlattensResource(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/components/5" {
			t.Errorf("unexpected path %q", request.URL.Path)
		}
		writeJSON(writer, map[string]any{"data": map[string]any{
			"id": 5,
			"attributes": map[string]any{
				"name":               "10.0.0.1:9100 | Web",
				"status":             4,
				"enabled":            false,
				"description":        "critical: no\nInstanceDown,",
				"component_group_id": 2,
			},
		}})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	component, err := client.GetComponent(context.Background(), 5)
	if err != nil {
		t.Fatalf("get component: %v", err)
	}
	if component.ID != 5 || component.Status != 4 || component.Enabled || component.GroupID != 2 {
		t.Fatalf("unexpected component %+v", component)
	}
}

func TestFlexStatusDecodesObjectEncoding(t *testing.T) {
	t.Parallel()

	var resource componentResource
	raw := []byte(`{"id": 3, "attributes": {"name": "Web", "status": {"value": 4}}}`)
	if err := json.Unmarshal(raw, &resource); err != nil {
		t.Fatalf("decode resource: %v", err)
	}
	component := resource.component()
	if component.ID != 3 || component.Status != 4 {
		t.Fatalf("unexpected component %+v", component)
	}
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return New(config.BackendConfig{
		APIURL:   baseURL,
		APIToken: "token",
		PerPage:  50,
		Status: config.StatusCodes{
			Healthy:               1,
			Partial:               3,
			Down:                  4,
			IncidentInvestigating: 1,
			IncidentResolved:      4,
		},
		Retry: config.RetryConfig{
			MaxAttempts: 3,
			Backoff:     "exponential",
			InitialMS:   1,
			MaxMS:       2,
		},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func writeJSON(writer http.ResponseWriter, value any) {
	writer.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(writer).Encode(value)
}

func componentJSON(id int, name string) map[string]any {
	return map[string]any{
		"id":         id,
		"attributes": map[string]any{"name": name, "status": 1},
	}
}
