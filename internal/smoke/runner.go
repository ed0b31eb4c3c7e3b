package smoke

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/storymap/pkg/logger"
)

// ErrSessionsFailed reports that at least one map session did not behave.
var ErrSessionsFailed = errors.New("map sessions failed")

// Run executes the complete smoke run.
func Run(ctx context.Context, config *Config) error {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Sessions <= 0 {
		config.Sessions = 1
	}
	stats := &Stats{StartTime: time.Now()}

	logger.Get().Info(ctx, "starting story map smoke run",
		logger.String("baseURL", config.BaseURL),
		logger.Int("sessions", config.Sessions),
		logger.String("timeout", config.Timeout.String()),
		logger.String("logFile", config.LogFile),
		logger.Bool("verbose", config.Verbose))

	// Step 1: Check service health
	if err := checkServiceHealth(ctx, config); err != nil {
		return fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Read what sessions should show
	want, err := buildExpectation(ctx, config, stats)
	if err != nil {
		return fmt.Errorf("dataset retrieval failed: %w", err)
	}

	// Step 3: Drive map sessions concurrently
	runSessions(ctx, config, want, stats)

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(stats)

	if stats.SessionsFailed > 0 {
		return fmt.Errorf("%w: %d of %d", ErrSessionsFailed, stats.SessionsFailed, stats.SessionsOpened)
	}
	logger.Get().Info(ctx, "smoke run completed successfully")
	return nil
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, config *Config) error {
	logger.Get().Info(ctx, "checking service health")

	client := newHTTPClient(config.Timeout)
	if _, err := client.Get(ctx, config.BaseURL+"/healthz"); err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}

	logger.Get().Info(ctx, "service is healthy")
	return nil
}

func buildExpectation(ctx context.Context, config *Config, stats *Stats) (expectation, error) {
	client := newHTTPClient(config.Timeout)

	years, err := fetchYears(ctx, client, config.BaseURL)
	if err != nil {
		return expectation{}, err
	}
	total, err := fetchCount(ctx, client, config.BaseURL, "")
	if err != nil {
		return expectation{}, err
	}
	byYear := make(map[string]int, len(years))
	for _, y := range years {
		n, err := fetchCount(ctx, client, config.BaseURL, y)
		if err != nil {
			return expectation{}, err
		}
		byYear[y] = n
	}

	stats.Years = len(years)
	stats.Stories = total
	logger.Get().Info(ctx, "dataset retrieved",
		logger.Int("years", len(years)),
		logger.Int("stories", total))
	return expectation{years: years, total: total, byYear: byYear}, nil
}

func runSessions(ctx context.Context, config *Config, want expectation, stats *Stats) {
	var wg sync.WaitGroup
	for i := range config.Sessions {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			atomic.AddInt64(&stats.SessionsOpened, 1)

			verified, err := runSession(ctx, config, want)
			atomic.AddInt64(&stats.FiltersVerified, int64(verified))
			if err != nil {
				atomic.AddInt64(&stats.SessionsFailed, 1)
				logger.Get().Error(ctx, "map session failed", logger.Int("session", n), logger.Error(err))
				return
			}
			atomic.AddInt64(&stats.SessionsSucceeded, 1)
			if config.Verbose {
				logger.Get().Debug(ctx, "map session verified", logger.Int("session", n), logger.Int("filters", verified))
			}
		}(i)
	}
	wg.Wait()
}

func runSession(ctx context.Context, config *Config, want expectation) (int, error) {
	// one step per year plus load and the final All
	budget := time.Duration(len(want.years)+2) * config.Timeout
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	c, err := dialSession(ctx, config.BaseURL)
	if err != nil {
		return 0, err
	}
	defer func() { _ = c.Close() }()
	return c.exercise(ctx, want)
}

// displayFinalStats prints the final run statistics.
func displayFinalStats(stats *Stats) {
	var successRate float64
	if stats.SessionsOpened > 0 {
		successRate = float64(stats.SessionsSucceeded) / float64(stats.SessionsOpened) * PercentageMultiplier
	}

	logger.Get().Info(context.Background(), "final statistics",
		logger.Int("years", stats.Years),
		logger.Int("stories", stats.Stories),
		logger.Int("sessionsOpened", int(stats.SessionsOpened)),
		logger.Int("sessionsSucceeded", int(stats.SessionsSucceeded)),
		logger.Int("sessionsFailed", int(stats.SessionsFailed)),
		logger.Int("filtersVerified", int(stats.FiltersVerified)),
		logger.String("duration", stats.Duration.String()),
		logger.Float64("successRate", successRate))
}
