// Command rtwatch estimates per-region effective reproduction numbers from a
// remote case-count feed and publishes the results.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/epimetrics/rtwatch/internal/chart"
	"github.com/epimetrics/rtwatch/internal/config"
	"github.com/epimetrics/rtwatch/internal/export"
	"github.com/epimetrics/rtwatch/internal/logger"
	"github.com/epimetrics/rtwatch/internal/store"
	"github.com/epimetrics/rtwatch/internal/web"
)

const (
	defaultConfigPath = "configs/config.yaml"
	defaultChartDays  = 60
	fallbackTermWidth = 80
)

var (
	configPath string

	chartRegion string
	chartDays   int

	exportOut string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "rtwatch",
		Short:         "Per-region R(t) estimation from daily case counts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "path to configuration file")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the estimation daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon()
		},
	}

	onceCmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single estimation cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce()
		},
	}

	chartCmd := &cobra.Command{
		Use:   "chart",
		Short: "Render one region's R(t) chart from the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChart()
		},
	}
	chartCmd.Flags().StringVar(&chartRegion, "region", "", "region to chart (required)")
	chartCmd.Flags().IntVar(&chartDays, "days", defaultChartDays, "number of most recent days to chart")
	_ = chartCmd.MarkFlagRequired("region")

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Dump the stored estimates to a CSV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport()
		},
	}
	exportCmd.Flags().StringVar(&exportOut, "out", "estimates.csv", "output CSV path")

	regionsCmd := &cobra.Command{
		Use:   "regions",
		Short: "List regions in the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegions()
		},
	}

	rootCmd.AddCommand(runCmd, onceCmd, chartCmd, exportCmd, regionsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadApp builds the pieces every subcommand needs: config, logging, store.
func loadApp() (*config.Config, *store.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)

	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	return cfg, st, nil
}

func runDaemon() error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	var webSrv *web.Server
	if app.cfg.Server.Enabled {
		webSrv = web.NewServer(app.cfg.Server.ListenAddr, app.store)
		go func() {
			if err := webSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server failed: %v", err)
			}
		}()
	}

	logger.Info("Starting estimation service (interval: %v, source: %s)",
		app.cfg.Source.PollInterval, app.cfg.Source.URL)

	ticker := time.NewTicker(app.cfg.Source.PollInterval)
	defer ticker.Stop()

	consecutiveFailures := 0
	handleCycleResult := func(err error) {
		if err != nil {
			consecutiveFailures++
			logger.Error("Estimation cycle failed: %v", err)
			if consecutiveFailures == 1 && app.telegram != nil {
				if sendErr := app.telegram.SendError(err); sendErr != nil {
					logger.Warn("Failed to send error notification: %v", sendErr)
				}
			}
			return
		}
		if consecutiveFailures > 0 && app.telegram != nil {
			if sendErr := app.telegram.SendRecovery(consecutiveFailures); sendErr != nil {
				logger.Warn("Failed to send recovery notification: %v", sendErr)
			}
		}
		consecutiveFailures = 0
	}

	// Run the first cycle immediately rather than waiting a full interval.
	handleCycleResult(app.runCycle(ctx))

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			handleCycleResult(app.runCycle(ctx))
		}
	}

	if webSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := webSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown: %v", err)
		}
	}
	logger.Info("Service stopped")
	return nil
}

func runOnce() error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return app.runCycle(ctx)
}

func runChart() error {
	_, st, err := loadApp()
	if err != nil {
		return err
	}
	defer st.Close()

	estimates, err := st.EstimatesByRegion(context.Background(), chartRegion, time.Time{})
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no estimates for region %q", chartRegion)
	}
	if err != nil {
		return err
	}
	if chartDays > 0 && len(estimates) > chartDays {
		estimates = estimates[len(estimates)-chartDays:]
	}

	width := fallbackTermWidth
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		width = w
	}
	fmt.Print(chart.Render(chartRegion, estimates, width-8, 0))
	return nil
}

func runExport() error {
	_, st, err := loadApp()
	if err != nil {
		return err
	}
	defer st.Close()

	estimates, err := st.AllEstimates(context.Background())
	if err != nil {
		return err
	}
	if err := export.WriteEstimates(exportOut, estimates); err != nil {
		return err
	}
	fmt.Printf("wrote %d estimates to %s\n", len(estimates), exportOut)
	return nil
}

func runRegions() error {
	_, st, err := loadApp()
	if err != nil {
		return err
	}
	defer st.Close()

	regions, err := st.Regions(context.Background())
	if err != nil {
		return err
	}
	if len(regions) == 0 {
		fmt.Println("no regions in store")
		return nil
	}
	for _, info := range regions {
		fmt.Printf("%-30s %s  %d records\n", info.Region, info.LatestDate, info.Records)
	}
	return nil
}
