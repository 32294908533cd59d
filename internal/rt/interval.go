package rt

import (
	"gonum.org/v1/gonum/floats"
)

// Interval is the highest-density credible interval of one posterior, plus
// its mode, all expressed as grid values.
type Interval struct {
	Mode float64
	Low  float64
	High float64
}

// HighestDensityInterval finds the narrowest contiguous grid range whose
// probability mass exceeds p.CredMass.
//
// Over the ascending cumulative sum of the PMF it selects the pair (i, j),
// i < j, with cumsum[j]-cumsum[i] > CredMass minimizing j-i; ties go to the
// first qualifying pair in ascending i, then ascending j. The scan keeps two
// pointers: j only ever advances as i does, so the search is linear in the
// grid length while selecting the same pair as the quadratic all-pairs
// definition. The mode is the grid value at the first index of maximum mass.
//
// pmf must be the same length as grid. When no pair qualifies (degenerate
// PMF, or CredMass at/over the total mass) it returns an
// IntervalNotFoundError carrying a summary of the PMF; region and date give
// the error its context.
func HighestDensityInterval(p Params, grid []float64, region string, post Posterior) (Interval, error) {
	pmf := post.PMF
	cumsum := make([]float64, len(pmf))
	floats.CumSum(cumsum, pmf)

	bestLo, bestHi := -1, -1
	j := 1
	for i := 0; i < len(cumsum)-1; i++ {
		if j <= i {
			j = i + 1
		}
		for j < len(cumsum) && cumsum[j]-cumsum[i] <= p.CredMass {
			j++
		}
		if j == len(cumsum) {
			// Mass to the right of i can only shrink as i advances.
			break
		}
		if bestLo < 0 || j-i < bestHi-bestLo {
			bestLo, bestHi = i, j
		}
	}

	mode := floats.MaxIdx(pmf)
	if bestLo < 0 {
		return Interval{}, IntervalNotFoundError{
			Region:   region,
			Date:     post.Date,
			CredMass: p.CredMass,
			PMFSum:   floats.Sum(pmf),
			PMFMax:   pmf[mode],
			ArgMax:   mode,
		}
	}

	return Interval{
		Mode: grid[mode],
		Low:  grid[bestLo],
		High: grid[bestHi],
	}, nil
}
