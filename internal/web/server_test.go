package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/epimetrics/rtwatch/internal/models"
	"github.com/epimetrics/rtwatch/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewServer(":0", st), st
}

func seedEstimates(t *testing.T, st *store.Store) {
	t.Helper()
	d1, _ := models.ParseDate("2020-03-10")
	d2, _ := models.ParseDate("2020-03-11")
	err := st.SaveEstimates(context.Background(), "run-1", []models.Estimate{
		{Region: "Alabama", Date: d1, Mode: 1.2, Low: 0.8, High: 1.7},
		{Region: "Alabama", Date: d2, Mode: 1.1, Low: 0.8, High: 1.6},
		{Region: "Washington", Date: d1, Mode: 0.9, Low: 0.6, High: 1.3},
	})
	if err != nil {
		t.Fatalf("SaveEstimates failed: %v", err)
	}
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, st := newTestServer(t)

	rec := get(t, srv, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["status"] != "ok" || body["last_run"] != "never" {
		t.Errorf("unexpected health body: %v", body)
	}

	// After a recorded run the health body must carry its status.
	started := time.Now().UTC().Add(-time.Minute)
	err := st.RecordRun(context.Background(), models.Run{
		ID:         "run-1",
		StartedAt:  started,
		FinishedAt: started.Add(30 * time.Second),
		Status:     models.RunStatusOK,
	})
	if err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}
	rec = get(t, srv, "/healthz")
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["last_run_status"] != models.RunStatusOK {
		t.Errorf("unexpected health body after run: %v", body)
	}
}

func TestRegions(t *testing.T) {
	srv, st := newTestServer(t)
	seedEstimates(t, st)

	rec := get(t, srv, "/api/v1/regions")
	if rec.Code != http.StatusOK {
		t.Fatalf("regions status = %d, want 200", rec.Code)
	}
	var regions []store.RegionInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &regions); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(regions) != 2 {
		t.Fatalf("expected 2 regions, got %d", len(regions))
	}
	if regions[0].Region != "Alabama" || regions[0].Records != 2 {
		t.Errorf("unexpected first region: %+v", regions[0])
	}
}

func TestRegionsEmptyStore(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := get(t, srv, "/api/v1/regions")
	if rec.Code != http.StatusOK {
		t.Fatalf("regions status = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); body != "[]\n" {
		t.Errorf("empty store must return [], got %q", body)
	}
}

func TestEstimatesByRegion(t *testing.T) {
	srv, st := newTestServer(t)
	seedEstimates(t, st)

	rec := get(t, srv, "/api/v1/estimates/Alabama")
	if rec.Code != http.StatusOK {
		t.Fatalf("estimates status = %d, want 200", rec.Code)
	}
	var estimates []models.Estimate
	if err := json.Unmarshal(rec.Body.Bytes(), &estimates); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(estimates) != 2 {
		t.Fatalf("expected 2 estimates, got %d", len(estimates))
	}

	rec = get(t, srv, "/api/v1/estimates/Alabama?since=2020-03-11")
	if err := json.Unmarshal(rec.Body.Bytes(), &estimates); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(estimates) != 1 {
		t.Errorf("since filter returned %d estimates, want 1", len(estimates))
	}

	rec = get(t, srv, "/api/v1/estimates/Alabama?since=bogus")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad since date status = %d, want 400", rec.Code)
	}

	rec = get(t, srv, "/api/v1/estimates/Nowhere")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown region status = %d, want 404", rec.Code)
	}
}

func TestLatest(t *testing.T) {
	srv, st := newTestServer(t)
	seedEstimates(t, st)

	rec := get(t, srv, "/api/v1/latest")
	if rec.Code != http.StatusOK {
		t.Fatalf("latest status = %d, want 200", rec.Code)
	}
	var latest []models.Estimate
	if err := json.Unmarshal(rec.Body.Bytes(), &latest); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("expected one latest estimate per region, got %d", len(latest))
	}
	if latest[0].Region != "Alabama" || !latest[0].Date.Equal(mustDate("2020-03-11")) {
		t.Errorf("unexpected first latest estimate: %+v", latest[0])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := get(t, srv, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("metrics body is empty")
	}
}

func mustDate(s string) time.Time {
	d, err := models.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}
