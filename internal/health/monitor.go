// Package health reports on the freshness of the price cache and runs the
// periodic cache-health job.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fabioitj/gatherin/internal/metrics"
	"github.com/fabioitj/gatherin/internal/model"
)

// StatsSource summarizes the price cache.
type StatsSource interface {
	SnapshotStats(ctx context.Context, recentSince time.Time) (*model.SnapshotStats, error)
}

// CacheHealth is the verdict on the price cache. The cache is healthy when
// at least one snapshot was refreshed within the staleness horizon.
type CacheHealth struct {
	IsHealthy          bool   `json:"isHealthy"`
	LastUpdateAgeHours *int64 `json:"lastUpdateAgeHours"`
}

// Report is the cache summary served by GET /assets/stats.
type Report struct {
	model.SnapshotStats
	CacheHealth CacheHealth `json:"cacheHealth"`
}

// Monitor computes reports on demand and on a cron schedule.
type Monitor struct {
	source     StatsSource
	staleAfter time.Duration
	notify     func(*Report)
	cron       *cron.Cron
	now        func() time.Time
}

// NewMonitor creates a monitor. notify, if non-nil, receives every report
// produced by the scheduled job.
func NewMonitor(source StatsSource, staleAfter time.Duration, notify func(*Report)) *Monitor {
	return &Monitor{
		source:     source,
		staleAfter: staleAfter,
		notify:     notify,
		cron:       cron.New(),
		now:        time.Now,
	}
}

// Check builds a report from the current cache contents.
func (m *Monitor) Check(ctx context.Context) (*Report, error) {
	now := m.now()
	stats, err := m.source.SnapshotStats(ctx, now.Add(-m.staleAfter))
	if err != nil {
		return nil, fmt.Errorf("snapshot stats: %w", err)
	}

	report := &Report{SnapshotStats: *stats}
	report.CacheHealth.IsHealthy = stats.RecentlyUpdated > 0
	if stats.LastUpdate != nil {
		hours := int64(math.Floor(now.Sub(*stats.LastUpdate).Hours()))
		report.CacheHealth.LastUpdateAgeHours = &hours
	}
	return report, nil
}

// Start registers the health job with schedule (robfig/cron syntax, e.g.
// "@every 5m") and starts the scheduler.
func (m *Monitor) Start(schedule string) error {
	if _, err := m.cron.AddFunc(schedule, m.run); err != nil {
		return fmt.Errorf("register health job: %w", err)
	}
	m.cron.Start()
	slog.Info("cache health monitor started", "schedule", schedule)
	return nil
}

// Stop stops the scheduler and waits for a running job to finish.
func (m *Monitor) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
	slog.Info("cache health monitor stopped")
}

// RunNow executes the job immediately (outside schedule).
func (m *Monitor) RunNow() {
	m.run()
}

func (m *Monitor) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	report, err := m.Check(ctx)
	if err != nil {
		slog.Error("cache health check failed", "err", err)
		return
	}

	metrics.ActiveSnapshots.WithLabelValues(string(model.AssetStock)).Set(float64(report.Stocks))
	metrics.ActiveSnapshots.WithLabelValues(string(model.AssetFII)).Set(float64(report.FIIs))
	if report.CacheHealth.LastUpdateAgeHours != nil {
		metrics.SnapshotAgeHours.Set(float64(*report.CacheHealth.LastUpdateAgeHours))
	}

	if report.CacheHealth.IsHealthy {
		slog.Debug("price cache healthy",
			"total", report.TotalActive, "recently_updated", report.RecentlyUpdated)
	} else {
		slog.Warn("price cache is stale",
			"total", report.TotalActive,
			"last_update", report.LastUpdate,
			"stale_after", m.staleAfter.String(),
		)
	}

	if m.notify != nil {
		m.notify(report)
	}
}
