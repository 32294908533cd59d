package rt

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/epimetrics/rtwatch/internal/logger"
	"github.com/epimetrics/rtwatch/internal/models"
)

// RegionFailure records why one region produced no estimates.
type RegionFailure struct {
	Region string
	Err    error
}

// Result is one run's output: the estimate table sorted by region then date,
// plus every region that was skipped and why. Partial results are valid: a
// multi-region batch keeps going when individual regions fail.
type Result struct {
	Estimates []models.Estimate
	Skipped   []RegionFailure
}

// EstimateAll runs smoothing, posterior estimation and interval extraction
// for every region in counts and assembles one table.
//
// Regions are independent, so they are fanned out over at most
// p.MaxParallel goroutines; the grid is built once and shared read-only.
// The output is sorted by (region, date) after the join, so the degree of
// parallelism never changes observable results. Per-region failures are
// logged and collected in Result.Skipped; only ctx cancellation aborts the
// whole run.
func EstimateAll(ctx context.Context, p Params, counts []models.CaseCount) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}

	series := groupByRegion(counts)
	regions := make([]string, 0, len(series))
	for region := range series {
		regions = append(regions, region)
	}
	sort.Strings(regions)

	grid := p.Grid()

	type slot struct {
		estimates []models.Estimate
		failure   *RegionFailure
	}
	slots := make([]slot, len(regions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.MaxParallel)
	for idx, region := range regions {
		idx, region := idx, region
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ests, err := estimateRegion(p, grid, region, series[region])
			if err != nil {
				logger.Warn("skipping region %s: %v", region, err)
				slots[idx].failure = &RegionFailure{Region: region, Err: err}
				return nil
			}
			slots[idx].estimates = ests
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var result Result
	for _, s := range slots {
		if s.failure != nil {
			result.Skipped = append(result.Skipped, *s.failure)
			continue
		}
		result.Estimates = append(result.Estimates, s.estimates...)
	}

	// Regions were processed in sorted order and each region's estimates are
	// date-ordered, but a stable sort keeps the contract independent of the
	// assembly above.
	sort.SliceStable(result.Estimates, func(i, j int) bool {
		a, b := result.Estimates[i], result.Estimates[j]
		if a.Region != b.Region {
			return a.Region < b.Region
		}
		return a.Date.Before(b.Date)
	})

	return result, nil
}

// estimateRegion runs the full pipeline for one region. A failed interval
// search drops that day's record only; empty series and degenerate
// posteriors skip the region.
func estimateRegion(p Params, grid []float64, region string, cumulative []DayValue) ([]models.Estimate, error) {
	if len(cumulative) < 2 {
		return nil, EmptySeriesError{Region: region, Points: len(cumulative)}
	}

	_, smoothed := Smooth(p, cumulative)
	if len(smoothed) < 2 {
		return nil, EmptySeriesError{Region: region, Points: len(smoothed)}
	}

	posteriors, err := Posteriors(p, grid, region, smoothed)
	if err != nil {
		return nil, err
	}

	estimates := make([]models.Estimate, 0, len(posteriors))
	for _, post := range posteriors {
		iv, err := HighestDensityInterval(p, grid, region, post)
		if err != nil {
			logger.Error("dropping record for %s on %s: %v", region, post.Date.Format("2006-01-02"), err)
			continue
		}
		est := models.Estimate{
			Region: region,
			Date:   post.Date,
			Mode:   iv.Mode,
			Low:    iv.Low,
			High:   iv.High,
		}
		// A mode outside its own interval means the interval search
		// degenerated; that day's record is dropped, not emitted.
		if err := est.Validate(); err != nil {
			logger.Error("dropping record for %s on %s: %v", region, post.Date.Format("2006-01-02"), err)
			continue
		}
		estimates = append(estimates, est)
	}
	return estimates, nil
}

// groupByRegion partitions the input into per-region date-ordered series.
func groupByRegion(counts []models.CaseCount) map[string][]DayValue {
	series := make(map[string][]DayValue)
	for _, c := range counts {
		series[c.Region] = append(series[c.Region], DayValue{
			Date:  models.Day(c.Date),
			Value: float64(c.Cumulative),
		})
	}
	for region := range series {
		s := series[region]
		sort.Slice(s, func(i, j int) bool { return s[i].Date.Before(s[j].Date) })
	}
	return series
}
