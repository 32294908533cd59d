package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/epimetrics/rtwatch/internal/chart"
	"github.com/epimetrics/rtwatch/internal/config"
	"github.com/epimetrics/rtwatch/internal/export"
	"github.com/epimetrics/rtwatch/internal/logger"
	"github.com/epimetrics/rtwatch/internal/metrics"
	"github.com/epimetrics/rtwatch/internal/models"
	"github.com/epimetrics/rtwatch/internal/rt"
	"github.com/epimetrics/rtwatch/internal/source"
	"github.com/epimetrics/rtwatch/internal/state"
	"github.com/epimetrics/rtwatch/internal/store"
	"github.com/epimetrics/rtwatch/internal/telegram"
)

// app bundles the long-lived pieces of the service.
type app struct {
	cfg      *config.Config
	params   rt.Params
	store    *store.Store
	state    *state.Manager
	source   *source.Client
	telegram *telegram.Client // nil when disabled
	metrics  *metrics.Collector
}

func newApp() (*app, error) {
	cfg, st, err := loadApp()
	if err != nil {
		return nil, err
	}

	stateMgr, err := state.New(cfg.Storage.StatePath)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	client := source.NewClient(
		cfg.Source.URL,
		cfg.Source.DateColumn,
		cfg.Source.RegionColumn,
		cfg.Source.CasesColumn,
		source.Options{
			Timeout:        cfg.Source.Timeout,
			MaxRetries:     cfg.Source.MaxRetries,
			ExcludeRegions: cfg.Source.ExcludeRegions,
		},
	)

	var tg *telegram.Client
	if cfg.Telegram.Enabled {
		tg, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID,
			cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		logger.Info("Telegram client initialized")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	return &app{
		cfg:      cfg,
		params:   paramsFromConfig(cfg),
		store:    st,
		state:    stateMgr,
		source:   client,
		telegram: tg,
		metrics:  metrics.NewCollector("rtwatch"),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		logger.Error("Failed to close store: %v", err)
	}
}

func paramsFromConfig(cfg *config.Config) rt.Params {
	p := rt.DefaultParams()
	p.RMax = cfg.Estimator.RMax
	p.GridStep = cfg.Estimator.GridStep
	p.Gamma = cfg.Estimator.Gamma
	p.SmoothWindow = cfg.Estimator.SmoothWindow
	p.SmoothSigma = cfg.Estimator.SmoothSigma
	p.LikelihoodWindow = cfg.Estimator.LikelihoodWindow
	p.CredMass = cfg.Estimator.CredMass
	p.MaxParallel = cfg.Estimator.MaxParallel
	return p
}

// runCycle performs one full acquisition + estimation + publication pass.
func (a *app) runCycle(ctx context.Context) error {
	started := time.Now()
	logger.Info("Starting estimation cycle")

	fetched, err := a.source.Fetch(ctx)
	if err != nil {
		a.metrics.RunsTotal.WithLabelValues(models.RunStatusError).Inc()
		return fmt.Errorf("failed to fetch case counts: %w", err)
	}
	sourceDate := source.LatestDate(fetched.Counts)
	if sourceDate.IsZero() {
		a.metrics.RunsTotal.WithLabelValues(models.RunStatusError).Inc()
		return fmt.Errorf("source returned no usable rows (%d rejected)", fetched.BadRows)
	}
	logger.Info("Fetched %d rows across %d regions, newest date %s",
		len(fetched.Counts), len(source.Regions(fetched.Counts)), sourceDate.Format(models.DateLayout))

	if a.cfg.Storage.ExportCSV {
		if _, err := export.WriteRawBackup(a.cfg.Storage.DataDir, fetched.Raw, started); err != nil {
			logger.Warn("Failed to write raw backup: %v", err)
		}
	}

	if !sourceDate.After(a.state.LastSourceDate()) {
		logger.Info("No new source data (already processed through %s), skipping",
			a.state.LastSourceDate().Format(models.DateLayout))
		a.metrics.RunsTotal.WithLabelValues("skipped").Inc()
		return nil
	}

	result, err := rt.EstimateAll(ctx, a.params, fetched.Counts)
	if err != nil {
		a.metrics.RunsTotal.WithLabelValues(models.RunStatusError).Inc()
		return fmt.Errorf("estimation failed: %w", err)
	}
	for _, skip := range result.Skipped {
		a.metrics.RegionsSkippedTotal.WithLabelValues(skipReason(skip.Err)).Inc()
	}

	runID := uuid.New().String()
	if err := a.store.SaveEstimates(ctx, runID, result.Estimates); err != nil {
		a.metrics.RunsTotal.WithLabelValues(models.RunStatusError).Inc()
		return fmt.Errorf("failed to save estimates: %w", err)
	}

	regions := countRegions(result.Estimates)
	run := models.Run{
		ID:               runID,
		StartedAt:        started,
		FinishedAt:       time.Now(),
		Status:           models.RunStatusOK,
		SourceDate:       sourceDate,
		RegionsEstimated: regions,
		RegionsSkipped:   len(result.Skipped),
		Estimates:        len(result.Estimates),
	}
	if err := a.store.RecordRun(ctx, run); err != nil {
		logger.Warn("Failed to record run: %v", err)
	}

	if a.cfg.Storage.ExportCSV {
		if _, _, err := export.WriteLatest(a.cfg.Storage.DataDir, result.Estimates, started); err != nil {
			logger.Warn("Failed to export estimates: %v", err)
		}
	}

	if a.telegram != nil {
		if err := a.postDailySummary(sourceDate, result.Estimates); err != nil {
			logger.Warn("Failed to post daily summary: %v", err)
		}
	}

	if err := a.state.SetLastSourceDate(sourceDate); err != nil {
		logger.Warn("Failed to persist state: %v", err)
	}

	duration := time.Since(started)
	a.metrics.RecordRun(models.RunStatusOK, duration, regions, len(result.Estimates))
	logger.Info("Cycle complete in %v: %d estimates for %d regions (%d skipped)",
		duration.Round(time.Millisecond), len(result.Estimates), regions, len(result.Skipped))
	return nil
}

// postDailySummary sends the ranked table (and optionally one region's
// chart) for the newest date, threading onto the previous day's message.
// Dates that already have a recorded post are never posted again.
func (a *app) postDailySummary(sourceDate time.Time, estimates []models.Estimate) error {
	if _, posted := a.state.PostFor(sourceDate); posted {
		logger.Debug("Summary for %s already posted, skipping", sourceDate.Format(models.DateLayout))
		return nil
	}

	summary := chart.Summary(latestPerRegion(estimates), a.cfg.Telegram.TopN)
	chartText := ""
	if region := a.cfg.Telegram.ChartRegion; region != "" {
		chartText = chart.Render(region, tailFor(estimates, region, defaultChartDays), 40, 10)
	}

	replyTo := 0
	if prev, ok := a.state.LatestPost(); ok {
		replyTo = prev.MessageID
	}

	messageID, err := a.telegram.SendDailySummary(sourceDate, summary, chartText, replyTo)
	if err != nil {
		return err
	}
	return a.state.RecordPost(sourceDate, state.Post{
		MessageID: messageID,
		ChatID:    a.telegram.ChatID(),
		SentAt:    time.Now().UTC(),
	})
}

// latestPerRegion reduces a (region, date)-sorted table to each region's
// newest record.
func latestPerRegion(estimates []models.Estimate) []models.Estimate {
	var latest []models.Estimate
	for i, e := range estimates {
		if i+1 == len(estimates) || estimates[i+1].Region != e.Region {
			latest = append(latest, e)
		}
	}
	return latest
}

// tailFor returns the last n records of one region from the sorted table.
func tailFor(estimates []models.Estimate, region string, n int) []models.Estimate {
	var out []models.Estimate
	for _, e := range estimates {
		if e.Region == region {
			out = append(out, e)
		}
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

func countRegions(estimates []models.Estimate) int {
	count := 0
	for i, e := range estimates {
		if i == 0 || estimates[i-1].Region != e.Region {
			count++
		}
	}
	return count
}

func skipReason(err error) string {
	var emptyErr rt.EmptySeriesError
	if errors.As(err, &emptyErr) {
		return metrics.ReasonEmptySeries
	}
	var degErr rt.DegeneratePosteriorError
	if errors.As(err, &degErr) {
		return metrics.ReasonDegenerate
	}
	var intervalErr rt.IntervalNotFoundError
	if errors.As(err, &intervalErr) {
		return metrics.ReasonIntervalNotFound
	}
	return metrics.ReasonOther
}
