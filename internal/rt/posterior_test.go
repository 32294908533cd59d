package rt

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/floats"
)

func TestPosteriorsNormalized(t *testing.T) {
	p := DefaultParams()
	grid := p.Grid()

	smoothed := series(10, 12, 15, 14, 18, 22, 25, 24, 30, 33)
	posteriors, err := Posteriors(p, grid, "Washington", smoothed)
	if err != nil {
		t.Fatalf("Posteriors failed: %v", err)
	}

	if len(posteriors) != len(smoothed)-1 {
		t.Fatalf("expected %d posteriors (one per date after the first), got %d",
			len(smoothed)-1, len(posteriors))
	}
	for _, post := range posteriors {
		if len(post.PMF) != len(grid) {
			t.Fatalf("posterior on %v has %d points, grid has %d", post.Date, len(post.PMF), len(grid))
		}
		sum := floats.Sum(post.PMF)
		if math.Abs(sum-1) > 1e-9 {
			t.Errorf("posterior on %v sums to %.12f, want 1", post.Date, sum)
		}
		for i, v := range post.PMF {
			if v < 0 || math.IsNaN(v) {
				t.Fatalf("posterior on %v has invalid mass %g at grid index %d", post.Date, v, i)
			}
		}
	}
}

func TestPosteriorsSteadyStateModeNearOne(t *testing.T) {
	p := DefaultParams()
	grid := p.Grid()

	// Constant daily counts mean each day reproduces itself exactly, so
	// after the prior has fallen out of the rolling window the posterior
	// mode must sit at R = 1.
	values := make([]float64, 40)
	for i := range values {
		values[i] = 50
	}
	posteriors, err := Posteriors(p, grid, "Washington", series(values...))
	if err != nil {
		t.Fatalf("Posteriors failed: %v", err)
	}

	last := posteriors[len(posteriors)-1]
	mode := grid[floats.MaxIdx(last.PMF)]
	if math.Abs(mode-1.0) > 2*p.GridStep {
		t.Errorf("steady-state mode = %g, want 1.0 within two grid steps", mode)
	}
}

func TestPosteriorsGrowthShiftsModeUp(t *testing.T) {
	p := DefaultParams()
	grid := p.Grid()

	// 10% daily growth implies R > 1.
	values := make([]float64, 30)
	values[0] = 20
	for i := 1; i < len(values); i++ {
		values[i] = math.Round(values[i-1] * 1.1)
	}
	posteriors, err := Posteriors(p, grid, "Washington", series(values...))
	if err != nil {
		t.Fatalf("Posteriors failed: %v", err)
	}

	last := posteriors[len(posteriors)-1]
	mode := grid[floats.MaxIdx(last.PMF)]
	if mode <= 1.0 {
		t.Errorf("mode under sustained growth = %g, want > 1.0", mode)
	}
}

func TestPosteriorsTooShortSeries(t *testing.T) {
	p := DefaultParams()
	grid := p.Grid()

	_, err := Posteriors(p, grid, "Washington", series(10))
	var emptyErr EmptySeriesError
	if !errors.As(err, &emptyErr) {
		t.Fatalf("expected EmptySeriesError, got %v", err)
	}
	if emptyErr.Region != "Washington" {
		t.Errorf("error names region %q, want Washington", emptyErr.Region)
	}
}

func TestPosteriorsDegenerateOnNegativeCounts(t *testing.T) {
	p := DefaultParams()
	grid := p.Grid()

	// A negative previous-day count makes every Poisson rate invalid, so
	// no grid point has a finite likelihood.
	smoothed := series(-5, 10, 12)
	_, err := Posteriors(p, grid, "Washington", smoothed)
	var degErr DegeneratePosteriorError
	if !errors.As(err, &degErr) {
		t.Fatalf("expected DegeneratePosteriorError, got %v", err)
	}
	if degErr.Region != "Washington" {
		t.Errorf("error names region %q, want Washington", degErr.Region)
	}
	if !degErr.Date.Equal(day(1)) {
		t.Errorf("error names date %v, want %v", degErr.Date, day(1))
	}
}

func TestPosteriorsDeterministic(t *testing.T) {
	p := DefaultParams()
	grid := p.Grid()
	smoothed := series(10, 12, 15, 14, 18, 22, 25)

	first, err := Posteriors(p, grid, "Washington", smoothed)
	if err != nil {
		t.Fatalf("Posteriors failed: %v", err)
	}
	second, err := Posteriors(p, grid, "Washington", smoothed)
	if err != nil {
		t.Fatalf("Posteriors failed: %v", err)
	}

	for d := range first {
		for i := range first[d].PMF {
			if first[d].PMF[i] != second[d].PMF[i] {
				t.Fatalf("posterior differs between identical runs on %v at index %d", first[d].Date, i)
			}
		}
	}
}
