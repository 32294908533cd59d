package rt

import (
	"fmt"
	"time"
)

// EmptySeriesError reports a region whose case series is too short to
// estimate, or collapsed to nothing after smoothing.
type EmptySeriesError struct {
	Region string
	Points int
}

func (e EmptySeriesError) Error() string {
	return fmt.Sprintf("region %s: series empty after preparation (%d usable points)", e.Region, e.Points)
}

// DegeneratePosteriorError reports a day whose rolling log-likelihood sum is
// non-finite at every grid point, leaving no usable posterior. Later days
// depend on the same rolling window, so the whole region is skipped.
type DegeneratePosteriorError struct {
	Region string
	Date   time.Time
}

func (e DegeneratePosteriorError) Error() string {
	return fmt.Sprintf("region %s: degenerate posterior on %s (log-likelihood non-finite at every grid point)",
		e.Region, e.Date.Format("2006-01-02"))
}

// IntervalNotFoundError reports a posterior for which no index pair reaches
// the target probability mass. This indicates a degenerate distribution or a
// misconfigured credible mass, so the summary fields carry enough of the PMF
// to diagnose it.
type IntervalNotFoundError struct {
	Region   string
	Date     time.Time
	CredMass float64
	PMFSum   float64
	PMFMax   float64
	ArgMax   int
}

func (e IntervalNotFoundError) Error() string {
	return fmt.Sprintf("region %s: no interval with mass > %g on %s (pmf sum=%g max=%g argmax=%d)",
		e.Region, e.CredMass, e.Date.Format("2006-01-02"), e.PMFSum, e.PMFMax, e.ArgMax)
}
