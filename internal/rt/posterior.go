package rt

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// Posterior is one day's probability mass function over the candidate R grid.
type Posterior struct {
	Date time.Time
	PMF  []float64
}

// Posteriors runs the sequential Bayesian update over a smoothed new-cases
// series and returns one posterior per date from the second date onward; the
// first date only seeds the recurrence.
//
// For day t with previous smoothed count c and candidate reproduction number
// R, the expected count is lambda = c * exp(gamma*(R-1)) and the likelihood
// of the observed count is the Poisson mass at it. The first day's row is the
// log of a Gamma(PriorShape) density over the grid. Per grid point, the rows
// are combined with a trailing rolling sum over LikelihoodWindow days (at
// least LikelihoodMinPeriods), which is the log-space equivalent of
// multiplying the most recent likelihoods: older evidence falls out of the
// window, letting R(t) drift instead of converging to one lifetime estimate.
// Only the final rolling sums leave log space; each day's vector is shifted
// by its maximum before exponentiation (normalization cancels the shift) and
// normalized to sum to 1.
//
// A day whose rolling sums are non-finite at every grid point has no usable
// posterior; Posteriors stops there and returns a DegeneratePosteriorError
// naming the date. region is used only for error context.
func Posteriors(p Params, grid []float64, region string, smoothed []DayValue) ([]Posterior, error) {
	if len(smoothed) < 2 {
		return nil, EmptySeriesError{Region: region, Points: len(smoothed)}
	}

	n := len(smoothed)
	rows := make([][]float64, n)

	// Day one: log Gamma prior with a floor against log(0).
	prior := distuv.Gamma{Alpha: p.PriorShape, Beta: 1}
	row0 := make([]float64, len(grid))
	for i, r := range grid {
		row0[i] = math.Log(prior.Prob(r) + priorFloor)
	}
	rows[0] = row0

	// Days two onward: Poisson log-likelihood of the observed count under
	// each candidate R, given the previous day's smoothed count.
	for t := 1; t < n; t++ {
		prev := smoothed[t-1].Value
		obs := smoothed[t].Value
		row := make([]float64, len(grid))
		for i, r := range grid {
			lam := prev * math.Exp(p.Gamma*(r-1))
			if lam <= 0 {
				row[i] = math.Inf(-1)
				continue
			}
			row[i] = distuv.Poisson{Lambda: lam}.LogProb(obs)
		}
		rows[t] = row
	}

	posteriors := make([]Posterior, 0, n-1)
	sum := make([]float64, len(grid))
	for t := 1; t < n; t++ {
		lo := t - p.LikelihoodWindow + 1
		if lo < 0 {
			lo = 0
		}
		if t-lo+1 < p.LikelihoodMinPeriods {
			continue
		}

		for i := range sum {
			sum[i] = 0
		}
		for s := lo; s <= t; s++ {
			floats.Add(sum, rows[s])
		}

		maxLog := math.Inf(-1)
		for _, v := range sum {
			if !math.IsInf(v, -1) && !math.IsNaN(v) && v > maxLog {
				maxLog = v
			}
		}
		if math.IsInf(maxLog, -1) {
			return nil, DegeneratePosteriorError{Region: region, Date: smoothed[t].Date}
		}

		pmf := make([]float64, len(grid))
		for i, v := range sum {
			if math.IsNaN(v) {
				pmf[i] = 0
				continue
			}
			pmf[i] = math.Exp(v - maxLog)
		}
		total := floats.Sum(pmf)
		if total <= 0 || math.IsNaN(total) {
			return nil, DegeneratePosteriorError{Region: region, Date: smoothed[t].Date}
		}
		floats.Scale(1/total, pmf)

		posteriors = append(posteriors, Posterior{Date: smoothed[t].Date, PMF: pmf})
	}

	return posteriors, nil
}
