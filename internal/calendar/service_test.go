package calendar

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jihoonkang/stockpipe/internal/domain"
)

var seoul = mustLoadLocation("Asia/Seoul")

// kst builds a Seoul-local timestamp for a 2026 date.
func kst(month time.Month, day, hour, minute int) time.Time {
	return time.Date(2026, month, day, hour, minute, 0, 0, seoul)
}

func TestIsTradingDay(t *testing.T) {
	s := NewService()
	s.AddHoliday(domain.RegionKR, "2026-08-17")

	tests := []struct {
		name string
		when time.Time
		want bool
	}{
		{name: "regular Friday", when: kst(time.August, 21, 12, 0), want: true},
		{name: "Saturday", when: kst(time.August, 22, 12, 0), want: false},
		{name: "Sunday", when: kst(time.August, 23, 12, 0), want: false},
		{name: "registered holiday", when: kst(time.August, 17, 12, 0), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.IsTradingDay(domain.RegionKR, tt.when))
		})
	}
}

func TestSession(t *testing.T) {
	s := NewService()
	tokyo := mustLoadLocation("Asia/Tokyo")

	tests := []struct {
		name   string
		region domain.Region
		when   time.Time
		want   Session
	}{
		{name: "KR before the bell", region: domain.RegionKR, when: kst(time.August, 21, 8, 30), want: SessionPre},
		{name: "KR continuous trading", region: domain.RegionKR, when: kst(time.August, 21, 10, 0), want: SessionOpen},
		{name: "KR trades through midday", region: domain.RegionKR, when: kst(time.August, 21, 12, 15), want: SessionOpen},
		{name: "KR after the close", region: domain.RegionKR, when: kst(time.August, 21, 15, 30), want: SessionAfter},
		{name: "KR weekend", region: domain.RegionKR, when: kst(time.August, 22, 10, 0), want: SessionClosed},
		{name: "JP lunch break", region: domain.RegionJP, when: time.Date(2026, time.August, 21, 12, 0, 0, 0, tokyo), want: SessionLunch},
		{name: "JP afternoon session", region: domain.RegionJP, when: time.Date(2026, time.August, 21, 12, 30, 0, 0, tokyo), want: SessionOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Session(tt.region, tt.when))
		})
	}
}

func TestLastTradingDay(t *testing.T) {
	s := NewService()

	tests := []struct {
		name string
		when time.Time
		want time.Time
	}{
		{
			name: "mid-session counts the previous day",
			when: kst(time.August, 21, 10, 0),
			want: kst(time.August, 20, 0, 0),
		},
		{
			name: "after the close counts today",
			when: kst(time.August, 21, 16, 0),
			want: kst(time.August, 21, 0, 0),
		},
		{
			name: "Sunday falls back to Friday",
			when: kst(time.August, 23, 12, 0),
			want: kst(time.August, 21, 0, 0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.LastTradingDay(domain.RegionKR, tt.when)
			assert.True(t, got.Equal(tt.want), "got %s, want %s", got, tt.want)
		})
	}
}

func TestPrevTradingDaySkipsHolidayRuns(t *testing.T) {
	s := NewService()
	s.AddHoliday(domain.RegionKR, "2026-08-21")

	// From Monday 8/24: Friday 8/21 is a holiday, weekend follows, so the
	// previous trading day is Thursday 8/20.
	got := s.PrevTradingDay(domain.RegionKR, kst(time.August, 24, 0, 0))
	assert.True(t, got.Equal(kst(time.August, 20, 0, 0)), "got %s", got)
}

func TestTradingDaysBetween(t *testing.T) {
	s := NewService()
	s.AddHoliday(domain.RegionKR, "2026-08-17")

	from := kst(time.August, 13, 0, 0) // Thursday
	to := kst(time.August, 18, 0, 0)   // Tuesday

	// (8/13, 8/18]: Fri 14, Tue 18. Sat/Sun and the 8/17 holiday drop out.
	assert.Equal(t, 2, s.TradingDaysBetween(domain.RegionKR, from, to))
	assert.Equal(t, 0, s.TradingDaysBetween(domain.RegionKR, to, from))
	assert.Equal(t, 0, s.TradingDaysBetween(domain.RegionKR, from, from))
}

func TestNewServiceFromFile(t *testing.T) {
	t.Run("missing file yields weekend-only calendar", func(t *testing.T) {
		s, err := NewServiceFromFile(filepath.Join(t.TempDir(), "nope.json"))
		require.NoError(t, err)
		assert.True(t, s.IsTradingDay(domain.RegionKR, kst(time.August, 17, 12, 0)))
	})

	t.Run("holiday table is honored", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "schedule.json")
		require.NoError(t, os.WriteFile(path,
			[]byte(`{"holidays":{"KR":["2026-08-17"]}}`), 0644))

		s, err := NewServiceFromFile(path)
		require.NoError(t, err)
		assert.False(t, s.IsTradingDay(domain.RegionKR, kst(time.August, 17, 12, 0)))
	})

	t.Run("malformed file is an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "schedule.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"holidays":`), 0644))

		_, err := NewServiceFromFile(path)
		assert.Error(t, err)
	})

	t.Run("bad date is an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "schedule.json")
		require.NoError(t, os.WriteFile(path,
			[]byte(`{"holidays":{"KR":["17-08-2026"]}}`), 0644))

		_, err := NewServiceFromFile(path)
		assert.Error(t, err)
	})
}
