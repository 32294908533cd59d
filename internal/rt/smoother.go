package rt

import (
	"math"
	"time"
)

// DayValue is one day of a per-region series.
type DayValue struct {
	Date  time.Time
	Value float64
}

// Smooth converts one region's date-ordered cumulative case counts into a
// denoised daily-new-cases series.
//
// The cumulative series is first-differenced (the first date has no defined
// difference and is dropped), then averaged with a centered rolling window of
// p.SmoothWindow days using Gaussian kernel weights with standard deviation
// p.SmoothSigma, requiring at least p.SmoothMinPeriods points per window, and
// rounded to the nearest integer-valued float. Every day up to and including
// the LAST day whose smoothed value is exactly zero is then dropped: a zero
// run at the start of a series means reporting had not begun, not that
// transmission was zero. The raw differenced series is restricted to the same
// retained range, so both returned series cover an identical contiguous date
// suffix.
//
// A series that smooths to zero everywhere returns two empty slices; callers
// emit no estimates for such a region.
func Smooth(p Params, cumulative []DayValue) (original, smoothed []DayValue) {
	if len(cumulative) < 2 {
		return nil, nil
	}

	diffed := make([]DayValue, len(cumulative)-1)
	for i := 1; i < len(cumulative); i++ {
		diffed[i-1] = DayValue{
			Date:  cumulative[i].Date,
			Value: cumulative[i].Value - cumulative[i-1].Value,
		}
	}

	weights := gaussianKernel(p.SmoothWindow, p.SmoothSigma)
	half := p.SmoothWindow / 2

	sm := make([]DayValue, len(diffed))
	for i := range diffed {
		var sum, wsum float64
		points := 0
		for k := 0; k < p.SmoothWindow; k++ {
			j := i + k - half
			if j < 0 || j >= len(diffed) {
				continue
			}
			sum += weights[k] * diffed[j].Value
			wsum += weights[k]
			points++
		}
		v := math.NaN()
		if points >= p.SmoothMinPeriods && wsum > 0 {
			v = math.Round(sum / wsum)
		}
		sm[i] = DayValue{Date: diffed[i].Date, Value: v}
	}

	// Drop everything through the latest exactly-zero smoothed day.
	start := 0
	for i, dv := range sm {
		if dv.Value == 0 {
			start = i + 1
		}
	}
	if start >= len(sm) {
		return nil, nil
	}
	return diffed[start:], sm[start:]
}

// gaussianKernel returns window weights w[k] = exp(-((k-c)/sigma)^2 / 2)
// centered at c = (window-1)/2. The weights are unnormalized; Smooth divides
// by the sum of the weights actually inside the series.
func gaussianKernel(window int, sigma float64) []float64 {
	w := make([]float64, window)
	center := float64(window-1) / 2
	for k := range w {
		d := (float64(k) - center) / sigma
		w[k] = math.Exp(-0.5 * d * d)
	}
	return w
}
