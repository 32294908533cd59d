// Package rt estimates the effective reproduction number R(t) of an epidemic
// from a region's daily case counts.
//
// The estimator follows a sequential Bayesian scheme over a discretized grid
// of candidate R values:
//
//  1. the cumulative case series is differenced and denoised with a centered
//     Gaussian-weighted rolling mean (Smooth),
//  2. each day's Poisson log-likelihood over the grid is combined with the
//     preceding days' via a trailing rolling sum, which acts as an implicit
//     forgetting factor so R(t) can drift over time (Posteriors),
//  3. each day's posterior is reduced to its mode and the narrowest interval
//     holding the target probability mass (HighestDensityInterval).
//
// Regions are independent; EstimateAll fans the per-region pipeline out over
// a bounded worker pool and assembles one table sorted by region then date.
// Per-region failures are collected, not propagated: a region that cannot be
// estimated is skipped with a diagnostic and the rest of the batch proceeds.
package rt

import (
	"fmt"
)

// Default estimation constants. Gamma is the reciprocal of the assumed 4-day
// serial interval, relating case growth rate to R(t).
const (
	DefaultRMax             = 12.0
	DefaultGridStep         = 0.01
	DefaultGamma            = 0.25
	DefaultSmoothWindow     = 7
	DefaultSmoothSigma      = 2.0
	DefaultSmoothMinPeriods = 1
	DefaultLikelihoodWindow = 7
	DefaultLikelihoodMinPer = 1
	DefaultPriorShape       = 3.0
	DefaultCredMass         = 0.95
	DefaultMaxParallel      = 4
)

// priorFloor is added to the prior density before taking its log so grid
// points where the Gamma pdf is exactly zero stay finite.
const priorFloor = 1e-14

// Params is the immutable configuration for one estimation run. The zero
// value is not usable; start from DefaultParams.
type Params struct {
	// RMax and GridStep define the candidate grid [0, RMax] in steps of
	// GridStep. At the defaults the grid has 1201 points.
	RMax     float64
	GridStep float64

	// Gamma is 1 / serial interval (days^-1).
	Gamma float64

	// Case smoothing: centered rolling window, Gaussian kernel weights.
	SmoothWindow     int
	SmoothSigma      float64
	SmoothMinPeriods int

	// Likelihood rolling sum: trailing window over per-day log-likelihood
	// rows. Smaller windows let R(t) drift faster.
	LikelihoodWindow     int
	LikelihoodMinPeriods int

	// PriorShape is the shape of the Gamma prior over R on the first day.
	PriorShape float64

	// CredMass is the minimum probability mass the credible interval must
	// cover, in (0, 1).
	CredMass float64

	// MaxParallel bounds the number of regions estimated concurrently.
	// 1 means fully serial.
	MaxParallel int
}

// DefaultParams returns the standard estimation parameters.
func DefaultParams() Params {
	return Params{
		RMax:                 DefaultRMax,
		GridStep:             DefaultGridStep,
		Gamma:                DefaultGamma,
		SmoothWindow:         DefaultSmoothWindow,
		SmoothSigma:          DefaultSmoothSigma,
		SmoothMinPeriods:     DefaultSmoothMinPeriods,
		LikelihoodWindow:     DefaultLikelihoodWindow,
		LikelihoodMinPeriods: DefaultLikelihoodMinPer,
		PriorShape:           DefaultPriorShape,
		CredMass:             DefaultCredMass,
		MaxParallel:          DefaultMaxParallel,
	}
}

// Validate checks that all parameters are usable.
func (p Params) Validate() error {
	if p.RMax <= 0 {
		return fmt.Errorf("r_max must be positive, got %g", p.RMax)
	}
	if p.GridStep <= 0 || p.GridStep > p.RMax {
		return fmt.Errorf("grid_step must be in (0, r_max], got %g", p.GridStep)
	}
	if p.Gamma <= 0 {
		return fmt.Errorf("gamma must be positive, got %g", p.Gamma)
	}
	if p.SmoothWindow < 1 {
		return fmt.Errorf("smooth_window must be at least 1, got %d", p.SmoothWindow)
	}
	if p.SmoothSigma <= 0 {
		return fmt.Errorf("smooth_sigma must be positive, got %g", p.SmoothSigma)
	}
	if p.SmoothMinPeriods < 1 || p.SmoothMinPeriods > p.SmoothWindow {
		return fmt.Errorf("smooth_min_periods must be in [1, smooth_window], got %d", p.SmoothMinPeriods)
	}
	if p.LikelihoodWindow < 1 {
		return fmt.Errorf("likelihood_window must be at least 1, got %d", p.LikelihoodWindow)
	}
	if p.LikelihoodMinPeriods < 1 || p.LikelihoodMinPeriods > p.LikelihoodWindow {
		return fmt.Errorf("likelihood_min_periods must be in [1, likelihood_window], got %d", p.LikelihoodMinPeriods)
	}
	if p.PriorShape <= 0 {
		return fmt.Errorf("prior_shape must be positive, got %g", p.PriorShape)
	}
	if p.CredMass <= 0 || p.CredMass >= 1 {
		return fmt.Errorf("cred_mass must be in (0, 1), got %g", p.CredMass)
	}
	if p.MaxParallel < 1 {
		return fmt.Errorf("max_parallel must be at least 1, got %d", p.MaxParallel)
	}
	return nil
}

// GridLen returns the number of points in the candidate grid.
func (p Params) GridLen() int {
	return int(p.RMax/p.GridStep) + 1
}

// Grid materializes the candidate R grid: GridLen() uniformly spaced values
// from 0 to RMax inclusive. The returned slice is fresh on every call; the
// estimator builds it once per run and shares it read-only across regions.
func (p Params) Grid() []float64 {
	n := p.GridLen()
	grid := make([]float64, n)
	for i := range grid {
		grid[i] = float64(i) * p.GridStep
	}
	// Land exactly on RMax regardless of accumulated step error.
	grid[n-1] = p.RMax
	return grid
}
