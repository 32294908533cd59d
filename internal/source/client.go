// Package source fetches the remote per-region cumulative case-count CSV and
// converts it into the internal case-count model. Column names are driven by
// configuration so any source with a (date, region, cumulative cases) header
// works; rows that fail to parse are counted and logged, not fatal.
package source

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/epimetrics/rtwatch/internal/logger"
	"github.com/epimetrics/rtwatch/internal/models"
)

// Client fetches case counts over HTTP.
type Client struct {
	url            string
	dateColumn     string
	regionColumn   string
	casesColumn    string
	excluded       map[string]bool
	maxRetries     int
	retryDelayBase time.Duration
	httpClient     *http.Client
}

// Options configures a Client beyond its URL and column mapping.
type Options struct {
	Timeout        time.Duration
	MaxRetries     int
	RetryDelayBase time.Duration
	ExcludeRegions []string
}

// FetchResult is one successful acquisition: the parsed counts, the raw CSV
// bytes for backup, and how many rows were rejected.
type FetchResult struct {
	Counts  []models.CaseCount
	Raw     []byte
	BadRows int
}

// NewClient creates a case-count client for a CSV with the given column names.
func NewClient(url, dateColumn, regionColumn, casesColumn string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelayBase <= 0 {
		opts.RetryDelayBase = time.Second
	}

	excluded := make(map[string]bool, len(opts.ExcludeRegions))
	for _, r := range opts.ExcludeRegions {
		excluded[r] = true
	}

	return &Client{
		url:            url,
		dateColumn:     dateColumn,
		regionColumn:   regionColumn,
		casesColumn:    casesColumn,
		excluded:       excluded,
		maxRetries:     opts.MaxRetries,
		retryDelayBase: opts.RetryDelayBase,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
	}
}

// Fetch downloads and parses the case-count CSV. The returned counts keep the
// source's row order within each region; regions on the exclusion list are
// dropped before parsing their numbers.
func (c *Client) Fetch(ctx context.Context) (*FetchResult, error) {
	resp, err := c.doRequest(ctx, c.url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch case counts: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	counts, bad, err := c.parse(raw)
	if err != nil {
		return nil, err
	}
	if bad > 0 {
		logger.Warn("source: rejected %d malformed rows out of %d parsed", bad, bad+len(counts))
	}

	return &FetchResult{Counts: counts, Raw: raw, BadRows: bad}, nil
}

func (c *Client) parse(raw []byte) ([]models.CaseCount, int, error) {
	reader := csv.NewReader(bytes.NewReader(raw))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read CSV header: %w", err)
	}

	dateIdx, regionIdx, casesIdx := -1, -1, -1
	for i, name := range header {
		switch name {
		case c.dateColumn:
			dateIdx = i
		case c.regionColumn:
			regionIdx = i
		case c.casesColumn:
			casesIdx = i
		}
	}
	if dateIdx < 0 || regionIdx < 0 || casesIdx < 0 {
		return nil, 0, fmt.Errorf("CSV header %v is missing one of columns %q, %q, %q",
			header, c.dateColumn, c.regionColumn, c.casesColumn)
	}

	var counts []models.CaseCount
	bad := 0
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			bad++
			logger.Debug("source: line %d: %v", line, err)
			continue
		}
		maxIdx := dateIdx
		if regionIdx > maxIdx {
			maxIdx = regionIdx
		}
		if casesIdx > maxIdx {
			maxIdx = casesIdx
		}
		if len(record) <= maxIdx {
			bad++
			logger.Debug("source: line %d: too few fields (%d)", line, len(record))
			continue
		}

		region := record[regionIdx]
		if c.excluded[region] {
			continue
		}

		date, err := models.ParseDate(record[dateIdx])
		if err != nil {
			bad++
			logger.Debug("source: line %d: bad date %q", line, record[dateIdx])
			continue
		}
		cases, err := strconv.Atoi(record[casesIdx])
		if err != nil || cases < 0 {
			bad++
			logger.Debug("source: line %d: bad case count %q", line, record[casesIdx])
			continue
		}

		counts = append(counts, models.CaseCount{
			Region:     region,
			Date:       date,
			Cumulative: cases,
		})
	}

	return counts, bad, nil
}

// doRequest performs HTTP request with retry logic
func (c *Client) doRequest(ctx context.Context, url string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/csv")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if !sleepCtx(ctx, c.retryDelayBase*time.Duration(i+1)) {
				return nil, ctx.Err()
			}
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			if !sleepCtx(ctx, c.retryDelayBase*time.Duration(i+1)) {
				return nil, ctx.Err()
			}
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// LatestDate returns the newest date across all counts, or the zero time for
// an empty slice. Used to skip recomputation when the source has no new data.
func LatestDate(counts []models.CaseCount) time.Time {
	var latest time.Time
	for _, c := range counts {
		if c.Date.After(latest) {
			latest = c.Date
		}
	}
	return latest
}

// Regions returns the sorted distinct regions present in counts.
func Regions(counts []models.CaseCount) []string {
	seen := make(map[string]bool)
	var regions []string
	for _, c := range counts {
		if !seen[c.Region] {
			seen[c.Region] = true
			regions = append(regions, c.Region)
		}
	}
	sort.Strings(regions)
	return regions
}
