package collector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jihoonkang/stockpipe/internal/calendar"
	"github.com/jihoonkang/stockpipe/internal/domain"
)

func TestPlanFetch(t *testing.T) {
	cal := calendar.NewService()
	seoul := cal.Timezone(domain.RegionKR)

	// Monday 2026-08-24 after the KR close: last completed session is 8/24.
	now := time.Date(2026, 8, 24, 16, 0, 0, 0, seoul)

	date := func(day int) *time.Time {
		d := time.Date(2026, 8, day, 0, 0, 0, 0, time.UTC)
		return &d
	}

	tests := []struct {
		name     string
		latest   *time.Time
		wantMode FetchMode
		wantDays int
	}{
		{
			name:     "no history fetches the full window",
			latest:   nil,
			wantMode: FetchFull,
			wantDays: RetentionRows,
		},
		{
			name:     "up to date skips",
			latest:   date(24),
			wantMode: FetchSkip,
		},
		{
			name:     "one session behind fetches a single day",
			latest:   date(21), // Friday; only Monday 8/24 is missing
			wantMode: FetchSingleDay,
			wantDays: 1,
		},
		{
			name:     "multi-day gap fetches the gap plus the rewrite buffer",
			latest:   date(14), // Friday; 8/17-8/21 + 8/24 = 6 sessions missing
			wantMode: FetchIncremental,
			wantDays: 6 + 50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := PlanFetch(cal, domain.RegionKR, tt.latest, now)
			assert.Equal(t, tt.wantMode, plan.Mode, "mode %s", plan.Mode)
			assert.Equal(t, tt.wantDays, plan.Days)
		})
	}
}

func TestPlanFetchWesternTimezone(t *testing.T) {
	cal := calendar.NewService()

	// Thursday 22:00 in New York is already Friday 02:00 UTC; the stored bar
	// date (timezone-less, parsed as UTC midnight) must still compare equal
	// to Thursday's completed session.
	now := time.Date(2026, 8, 21, 2, 0, 0, 0, time.UTC)

	date := func(day int) *time.Time {
		d := time.Date(2026, 8, day, 0, 0, 0, 0, time.UTC)
		return &d
	}

	t.Run("current history skips", func(t *testing.T) {
		plan := PlanFetch(cal, domain.RegionUS, date(20), now)
		assert.Equal(t, FetchSkip, plan.Mode, "mode %s", plan.Mode)
		assert.Zero(t, plan.Days)
	})

	t.Run("one session behind fetches a single day", func(t *testing.T) {
		plan := PlanFetch(cal, domain.RegionUS, date(19), now)
		assert.Equal(t, FetchSingleDay, plan.Mode, "mode %s", plan.Mode)
		assert.Equal(t, 1, plan.Days)
	})
}

func TestPlanFetchCapsAtRetention(t *testing.T) {
	cal := calendar.NewService()
	seoul := cal.Timezone(domain.RegionKR)
	now := time.Date(2026, 8, 24, 16, 0, 0, 0, seoul)

	// Two years stale: the gap alone exceeds the retention window.
	stale := time.Date(2024, 8, 23, 0, 0, 0, 0, time.UTC)
	plan := PlanFetch(cal, domain.RegionKR, &stale, now)

	assert.Equal(t, FetchIncremental, plan.Mode)
	assert.Equal(t, RetentionRows, plan.Days)
}

func TestMockBarSource(t *testing.T) {
	cal := calendar.NewService()
	src := NewMockBarSource(cal)
	end := time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC)

	ctx := context.Background()
	bars, err := src.GetOHLCV(ctx, "005930", domain.RegionKR, "KRX", 250, end)
	assert.NoError(t, err)
	assert.Len(t, bars, 250)

	for i, b := range bars {
		assert.NoError(t, b.Validate(), "bar %d", i)
		if i > 0 {
			assert.True(t, b.Date.After(bars[i-1].Date), "bars must ascend")
		}
	}

	// Same seed, same series.
	again, err := src.GetOHLCV(ctx, "005930", domain.RegionKR, "KRX", 250, end)
	assert.NoError(t, err)
	assert.Equal(t, bars, again)

	// A different ticker walks a different path.
	other, err := src.GetOHLCV(ctx, "000660", domain.RegionKR, "KRX", 250, end)
	assert.NoError(t, err)
	assert.NotEqual(t, bars[0].Close, other[0].Close)
}
