package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabioitj/gatherin/internal/model"
	"github.com/fabioitj/gatherin/internal/store"
)

var fixedNow = time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)

func seeded(updated ...time.Time) *store.MemoryStore {
	ms := store.NewMemoryStore()
	tickers := []string{"PETR4", "VALE3", "HGLG11"}
	types := []model.AssetType{model.AssetStock, model.AssetStock, model.AssetFII}
	for i, ts := range updated {
		ms.PutSnapshot(model.PriceSnapshot{
			Ticker: tickers[i], Type: types[i], Sector: "Energy", LastUpdated: ts, IsActive: true,
		})
	}
	return ms
}

func newMonitor(src StatsSource, notify func(*Report)) *Monitor {
	m := NewMonitor(src, 24*time.Hour, notify)
	m.now = func() time.Time { return fixedNow }
	return m
}

func TestCheck_Healthy(t *testing.T) {
	m := newMonitor(seeded(fixedNow.Add(-2*time.Hour), fixedNow.Add(-30*time.Hour), fixedNow.Add(-90*time.Minute)), nil)

	report, err := m.Check(context.Background())
	require.NoError(t, err)

	assert.True(t, report.CacheHealth.IsHealthy)
	require.NotNil(t, report.CacheHealth.LastUpdateAgeHours)
	assert.Equal(t, int64(1), *report.CacheHealth.LastUpdateAgeHours) // 1.5h counts as 1
	assert.Equal(t, int64(3), report.TotalActive)
	assert.Equal(t, int64(2), report.Stocks)
	assert.Equal(t, int64(1), report.FIIs)
	assert.Equal(t, int64(2), report.RecentlyUpdated)
}

func TestCheck_Stale(t *testing.T) {
	m := newMonitor(seeded(fixedNow.Add(-48*time.Hour)), nil)

	report, err := m.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, report.CacheHealth.IsHealthy)
	assert.Equal(t, int64(48), *report.CacheHealth.LastUpdateAgeHours)
}

func TestCheck_AgeCountsWholeHours(t *testing.T) {
	cases := []struct {
		age  time.Duration
		want int64
	}{
		{59 * time.Minute, 0},
		{time.Hour, 1},
		{2*time.Hour + 36*time.Minute, 2},
		{23*time.Hour + 59*time.Minute, 23},
	}
	for _, tc := range cases {
		report, err := newMonitor(seeded(fixedNow.Add(-tc.age)), nil).Check(context.Background())
		require.NoError(t, err)
		require.NotNil(t, report.CacheHealth.LastUpdateAgeHours)
		assert.Equal(t, tc.want, *report.CacheHealth.LastUpdateAgeHours, "age %s", tc.age)
	}
}

func TestCheck_EmptyCache(t *testing.T) {
	report, err := newMonitor(store.NewMemoryStore(), nil).Check(context.Background())
	require.NoError(t, err)
	assert.False(t, report.CacheHealth.IsHealthy)
	assert.Nil(t, report.CacheHealth.LastUpdateAgeHours)
}

type failingStats struct{}

func (failingStats) SnapshotStats(context.Context, time.Time) (*model.SnapshotStats, error) {
	return nil, errors.New("db down")
}

func TestCheck_Error(t *testing.T) {
	_, err := newMonitor(failingStats{}, nil).Check(context.Background())
	assert.Error(t, err)
}

func TestRunNow_Notifies(t *testing.T) {
	var got *Report
	m := newMonitor(seeded(fixedNow), func(r *Report) { got = r })

	m.RunNow()

	require.NotNil(t, got)
	assert.True(t, got.CacheHealth.IsHealthy)
}

func TestRunNow_ErrorSkipsNotify(t *testing.T) {
	called := false
	m := newMonitor(failingStats{}, func(*Report) { called = true })

	m.RunNow()
	assert.False(t, called)
}

func TestStart_InvalidSchedule(t *testing.T) {
	m := newMonitor(store.NewMemoryStore(), nil)
	assert.Error(t, m.Start("every now and then"))
}

func TestStartStop(t *testing.T) {
	m := newMonitor(store.NewMemoryStore(), nil)
	require.NoError(t, m.Start("@every 1h"))
	m.Stop()
}
