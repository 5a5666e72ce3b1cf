package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dcamposbiorender/AICoS-lab-sub000/internal/config"
	"github.com/dcamposbiorender/AICoS-lab-sub000/internal/core"
	"github.com/dcamposbiorender/AICoS-lab-sub000/pkg/models"
)

func newTestServer(t *testing.T) (*httptest.Server, *core.Core) {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Environment = string(models.EnvTest)

	c, err := core.New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("building core: %v", err)
	}
	srv := httptest.NewServer(NewServer(c).BuildRouter())
	t.Cleanup(func() {
		srv.Close()
		c.Close()
	})
	return srv, c
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	var body map[string]any
	if code := getJSON(t, srv.URL+"/healthz", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestSysStatus(t *testing.T) {
	srv, _ := newTestServer(t)

	var body map[string]any
	if code := getJSON(t, srv.URL+"/v1/sys/status", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["environment"] != "test" {
		t.Errorf("environment = %v", body["environment"])
	}
	if body["enforcement"] != "strict" {
		t.Errorf("enforcement = %v", body["enforcement"])
	}
	if _, ok := body["checks"]; !ok {
		t.Error("missing checks")
	}
}

func TestCapabilities(t *testing.T) {
	srv, _ := newTestServer(t)

	var body struct {
		Capabilities []map[string]any `json:"capabilities"`
	}
	if code := getJSON(t, srv.URL+"/v1/capabilities", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(body.Capabilities) == 0 {
		t.Fatal("empty catalog")
	}
}

func TestAuditEvents(t *testing.T) {
	srv, c := newTestServer(t)

	c.Ledger.Record(models.AuditEvent{
		Type:    models.EventCredentialAccess,
		Actor:   "api-test",
		Success: true,
	})

	var body struct {
		Events []map[string]any `json:"events"`
	}
	code := getJSON(t, srv.URL+"/v1/audit/events?actor=api-test", &body)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(body.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(body.Events))
	}
	if body.Events[0]["actor"] != "api-test" {
		t.Errorf("actor = %v", body.Events[0]["actor"])
	}
}

func TestAuditEventsDurable(t *testing.T) {
	srv, c := newTestServer(t)

	c.Ledger.Record(models.AuditEvent{
		Type:    models.EventCredentialAccess,
		Actor:   "durable-test",
		Success: true,
	})
	// The sink write is synchronous inside Record, so the row is
	// queryable immediately.
	var body struct {
		Events []map[string]any `json:"events"`
	}
	code := getJSON(t, srv.URL+"/v1/audit/events?durable=true&actor=durable-test", &body)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(body.Events) != 1 {
		t.Fatalf("got %d durable events, want 1", len(body.Events))
	}
}

func TestAuditSummary(t *testing.T) {
	srv, c := newTestServer(t)

	for i := 0; i < 3; i++ {
		c.Ledger.Record(models.AuditEvent{
			Type:    models.EventPermissionCheck,
			Actor:   "summary-test",
			Success: true,
		})
	}

	var body struct {
		Total int `json:"total"`
	}
	if code := getJSON(t, srv.URL+"/v1/audit/summary", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.Total < 3 {
		t.Errorf("total = %d, want >= 3", body.Total)
	}

	if code := getJSON(t, srv.URL+"/v1/audit/summary?window=bogus", nil); code != http.StatusBadRequest {
		t.Errorf("bad window status = %d", code)
	}
}

func TestArchiveEndpoints(t *testing.T) {
	srv, c := newTestServer(t)

	date := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	if err := c.Archive.Append("slack", []map[string]any{{"text": "hi"}}, date); err != nil {
		t.Fatal(err)
	}

	var sources struct {
		Sources []string `json:"sources"`
	}
	if code := getJSON(t, srv.URL+"/v1/archive/sources", &sources); code != http.StatusOK {
		t.Fatalf("sources status = %d", code)
	}
	if len(sources.Sources) != 1 || sources.Sources[0] != "slack" {
		t.Errorf("sources = %v", sources.Sources)
	}

	var manifest struct {
		RecordCount int `json:"record_count"`
	}
	code := getJSON(t, srv.URL+"/v1/archive/manifest?source=slack&date=2025-06-15", &manifest)
	if code != http.StatusOK {
		t.Fatalf("manifest status = %d", code)
	}
	if manifest.RecordCount != 1 {
		t.Errorf("record_count = %d", manifest.RecordCount)
	}

	if code := getJSON(t, srv.URL+"/v1/archive/manifest", nil); code != http.StatusBadRequest {
		t.Errorf("missing source status = %d", code)
	}
	if code := getJSON(t, srv.URL+"/v1/archive/manifest?source=slack&date=junk", nil); code != http.StatusBadRequest {
		t.Errorf("bad date status = %d", code)
	}
	if code := getJSON(t, srv.URL+"/v1/archive/manifest?source=nope&date=2025-06-15", nil); code != http.StatusNotFound {
		t.Errorf("unknown source status = %d", code)
	}
}

func TestMetricsExposed(t *testing.T) {
	srv, _ := newTestServer(t)

	// Generate one request so the counter has a sample.
	if code := getJSON(t, srv.URL+"/healthz", nil); code != http.StatusOK {
		t.Fatal("healthz failed")
	}
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	// The status label is the numeric code, not the reason phrase.
	if !strings.Contains(string(body), `status="200"`) {
		t.Error("request counter missing numeric status label")
	}
}

func TestRequestIDPropagated(t *testing.T) {
	srv, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	req.Header.Set("X-Request-Id", "req-42")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-Id"); got != "req-42" {
		t.Errorf("request id = %q, want req-42", got)
	}
}
