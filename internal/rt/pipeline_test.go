package rt

import (
	"context"
	"testing"
	"time"

	"github.com/epimetrics/rtwatch/internal/models"
)

func regionCounts(region string, start time.Time, cumulative ...int) []models.CaseCount {
	out := make([]models.CaseCount, len(cumulative))
	for i, c := range cumulative {
		out[i] = models.CaseCount{
			Region:     region,
			Date:       start.AddDate(0, 0, i),
			Cumulative: c,
		}
	}
	return out
}

func growingCounts(region string, days int) []models.CaseCount {
	cum := make([]int, days)
	total := 0
	for i := range cum {
		total += 20 + i*3
		cum[i] = total
	}
	return regionCounts(region, day(0), cum...)
}

func TestEstimateAllSingleRegion(t *testing.T) {
	p := DefaultParams()

	result, err := EstimateAll(context.Background(), p, growingCounts("Washington", 21))
	if err != nil {
		t.Fatalf("EstimateAll failed: %v", err)
	}
	if len(result.Skipped) != 0 {
		t.Fatalf("unexpected skipped regions: %v", result.Skipped)
	}
	if len(result.Estimates) == 0 {
		t.Fatal("expected estimates for a growing 21-day series")
	}

	for _, est := range result.Estimates {
		if est.Region != "Washington" {
			t.Errorf("unexpected region %q", est.Region)
		}
		if est.Low > est.Mode || est.Mode > est.High {
			t.Errorf("%s %v: mode %g outside interval [%g, %g]",
				est.Region, est.Date, est.Mode, est.Low, est.High)
		}
	}

	for i := 1; i < len(result.Estimates); i++ {
		if !result.Estimates[i].Date.After(result.Estimates[i-1].Date) {
			t.Errorf("estimates not date-ordered: %v then %v",
				result.Estimates[i-1].Date, result.Estimates[i].Date)
		}
	}
}

func TestEstimateAllSkipsBrokenRegionKeepsOthers(t *testing.T) {
	p := DefaultParams()

	counts := growingCounts("Washington", 21)
	counts = append(counts, regionCounts("Wyoming", day(0), 3)...) // single point

	result, err := EstimateAll(context.Background(), p, counts)
	if err != nil {
		t.Fatalf("EstimateAll failed: %v", err)
	}

	if len(result.Skipped) != 1 || result.Skipped[0].Region != "Wyoming" {
		t.Fatalf("skipped = %v, want exactly Wyoming", result.Skipped)
	}
	if len(result.Estimates) == 0 {
		t.Fatal("expected estimates for the healthy region")
	}
	for _, est := range result.Estimates {
		if est.Region != "Washington" {
			t.Errorf("unexpected region %q in output", est.Region)
		}
	}
}

func TestEstimateAllSortedByRegionThenDate(t *testing.T) {
	p := DefaultParams()

	// Feed regions in reverse name order; output order must not depend on
	// input or scheduling order.
	counts := growingCounts("Wisconsin", 18)
	counts = append(counts, growingCounts("Alabama", 18)...)
	counts = append(counts, growingCounts("Montana", 18)...)

	result, err := EstimateAll(context.Background(), p, counts)
	if err != nil {
		t.Fatalf("EstimateAll failed: %v", err)
	}

	for i := 1; i < len(result.Estimates); i++ {
		prev, cur := result.Estimates[i-1], result.Estimates[i]
		if prev.Region > cur.Region {
			t.Fatalf("regions out of order: %q before %q", prev.Region, cur.Region)
		}
		if prev.Region == cur.Region && !cur.Date.After(prev.Date) {
			t.Fatalf("dates out of order within %q: %v then %v", cur.Region, prev.Date, cur.Date)
		}
	}
}

func TestEstimateAllIdempotent(t *testing.T) {
	p := DefaultParams()
	counts := growingCounts("Washington", 21)
	counts = append(counts, growingCounts("Montana", 21)...)

	first, err := EstimateAll(context.Background(), p, counts)
	if err != nil {
		t.Fatalf("EstimateAll failed: %v", err)
	}
	second, err := EstimateAll(context.Background(), p, counts)
	if err != nil {
		t.Fatalf("EstimateAll failed: %v", err)
	}

	if len(first.Estimates) != len(second.Estimates) {
		t.Fatalf("run lengths differ: %d vs %d", len(first.Estimates), len(second.Estimates))
	}
	for i := range first.Estimates {
		a, b := first.Estimates[i], second.Estimates[i]
		if a.Region != b.Region || !a.Date.Equal(b.Date) || a.Mode != b.Mode || a.Low != b.Low || a.High != b.High {
			t.Fatalf("estimate %d differs between identical runs: %+v vs %+v", i, a, b)
		}
	}
}

func TestEstimateAllSerialMatchesParallel(t *testing.T) {
	counts := growingCounts("Washington", 18)
	counts = append(counts, growingCounts("Montana", 18)...)
	counts = append(counts, growingCounts("Alabama", 18)...)
	counts = append(counts, growingCounts("Wisconsin", 18)...)

	serial := DefaultParams()
	serial.MaxParallel = 1
	parallel := DefaultParams()
	parallel.MaxParallel = 4

	a, err := EstimateAll(context.Background(), serial, counts)
	if err != nil {
		t.Fatalf("serial run failed: %v", err)
	}
	b, err := EstimateAll(context.Background(), parallel, counts)
	if err != nil {
		t.Fatalf("parallel run failed: %v", err)
	}

	if len(a.Estimates) != len(b.Estimates) {
		t.Fatalf("serial and parallel runs differ in length: %d vs %d", len(a.Estimates), len(b.Estimates))
	}
	for i := range a.Estimates {
		if a.Estimates[i] != b.Estimates[i] {
			t.Fatalf("estimate %d differs between serial and parallel runs", i)
		}
	}
}

func TestEstimateAllInvalidParams(t *testing.T) {
	p := DefaultParams()
	p.CredMass = 1.5

	_, err := EstimateAll(context.Background(), p, growingCounts("Washington", 10))
	if err == nil {
		t.Fatal("expected an error for cred_mass outside (0, 1)")
	}
}

func TestEstimateAllEmptyInput(t *testing.T) {
	p := DefaultParams()

	result, err := EstimateAll(context.Background(), p, nil)
	if err != nil {
		t.Fatalf("EstimateAll failed: %v", err)
	}
	if len(result.Estimates) != 0 || len(result.Skipped) != 0 {
		t.Errorf("expected empty result for empty input, got %+v", result)
	}
}
