package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/epimetrics/rtwatch/internal/models"
)

const sampleCSV = `date,state,fips,cases,deaths
2020-03-01,Washington,53,12,1
2020-03-02,Washington,53,18,1
2020-03-01,Guam,66,1,0
2020-03-02,Guam,66,2,0
2020-03-01,New York,36,1,0
not-a-date,New York,36,2,0
2020-03-02,New York,36,oops,0
2020-03-03,New York,36,9,0
`

func newTestClient(url string, exclude ...string) *Client {
	return NewClient(url, "date", "state", "cases", Options{
		Timeout:        time.Second,
		MaxRetries:     3,
		RetryDelayBase: time.Millisecond,
		ExcludeRegions: exclude,
	})
}

func TestFetchParsesAndFilters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte(sampleCSV))
	}))
	defer server.Close()

	client := newTestClient(server.URL, "Guam")
	result, err := client.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	// 2 Washington rows + 2 valid New York rows; Guam excluded, the bad
	// date and bad count rows rejected.
	if len(result.Counts) != 4 {
		t.Fatalf("expected 4 counts, got %d: %+v", len(result.Counts), result.Counts)
	}
	if result.BadRows != 2 {
		t.Errorf("expected 2 rejected rows, got %d", result.BadRows)
	}
	for _, c := range result.Counts {
		if c.Region == "Guam" {
			t.Error("excluded region Guam made it through")
		}
		if err := c.Validate(); err != nil {
			t.Errorf("invalid count %+v: %v", c, err)
		}
	}
	if len(result.Raw) == 0 {
		t.Error("expected raw CSV bytes for backup")
	}

	want, _ := models.ParseDate("2020-03-01")
	if !result.Counts[0].Date.Equal(want) || result.Counts[0].Cumulative != 12 {
		t.Errorf("first count = %+v, want Washington 2020-03-01 with 12 cases", result.Counts[0])
	}
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("date,state,cases\n2020-03-01,Washington,12\n"))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	result, err := client.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed after retries: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
	if len(result.Counts) != 1 {
		t.Errorf("expected 1 count, got %d", len(result.Counts))
	}
}

func TestFetchGivesUpAfterMaxRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	if _, err := client.Fetch(context.Background()); err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
}

func TestFetchRejectsMissingColumns(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("day,province,infections\n2020-03-01,Washington,12\n"))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	if _, err := client.Fetch(context.Background()); err == nil {
		t.Fatal("expected an error for a header without the configured columns")
	}
}

func TestLatestDate(t *testing.T) {
	if !LatestDate(nil).IsZero() {
		t.Error("latest date of no counts must be zero")
	}

	d1, _ := models.ParseDate("2020-03-01")
	d2, _ := models.ParseDate("2020-04-15")
	counts := []models.CaseCount{
		{Region: "Washington", Date: d2, Cumulative: 5},
		{Region: "New York", Date: d1, Cumulative: 3},
	}
	if got := LatestDate(counts); !got.Equal(d2) {
		t.Errorf("LatestDate = %v, want %v", got, d2)
	}
}

func TestRegions(t *testing.T) {
	d, _ := models.ParseDate("2020-03-01")
	counts := []models.CaseCount{
		{Region: "Washington", Date: d, Cumulative: 1},
		{Region: "Alabama", Date: d, Cumulative: 1},
		{Region: "Washington", Date: d.AddDate(0, 0, 1), Cumulative: 2},
	}
	regions := Regions(counts)
	if len(regions) != 2 || regions[0] != "Alabama" || regions[1] != "Washington" {
		t.Errorf("Regions = %v, want [Alabama Washington]", regions)
	}
}
