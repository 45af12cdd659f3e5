package collector

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jihoonkang/stockpipe/internal/database"
	"github.com/jihoonkang/stockpipe/internal/domain"
	"github.com/jihoonkang/stockpipe/pkg/logger"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	return db
}

func dailyBars(ticker string, start time.Time, n int) []domain.Bar {
	bars := make([]domain.Bar, n)
	for i := range bars {
		price := 10_000 + float64(i)*10
		bars[i] = domain.Bar{
			Ticker: ticker, Region: domain.RegionKR, Timeframe: domain.TimeframeDaily,
			Date: start.AddDate(0, 0, i),
			Open: price, High: price + 50, Low: price - 50, Close: price + 20,
			Volume: 1_000_000,
		}
	}
	return bars
}

func TestBarRepositoryRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBarRepository(db.Conn(), logger.Nop())

	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	bars := dailyBars("005930", start, 10)
	ma := 10_050.0
	bars[9].MA5 = &ma

	err := database.WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		return repo.UpsertBars(tx, bars)
	})
	require.NoError(t, err)

	t.Run("bars come back ascending, newest-limited", func(t *testing.T) {
		got, err := repo.Bars("005930", domain.TimeframeDaily, 5)
		require.NoError(t, err)
		require.Len(t, got, 5)
		assert.True(t, got[0].Date.Equal(start.AddDate(0, 0, 5)))
		assert.True(t, got[4].Date.Equal(start.AddDate(0, 0, 9)))
		require.NotNil(t, got[4].MA5)
		assert.Equal(t, ma, *got[4].MA5)
		assert.Nil(t, got[4].MA200)
	})

	t.Run("latest date and count", func(t *testing.T) {
		latest, err := repo.LatestDate("005930", domain.TimeframeDaily)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.True(t, latest.Equal(start.AddDate(0, 0, 9)))

		count, err := repo.BarCount("005930", domain.TimeframeDaily)
		require.NoError(t, err)
		assert.Equal(t, 10, count)
	})

	t.Run("unknown ticker has no latest date", func(t *testing.T) {
		latest, err := repo.LatestDate("999999", domain.TimeframeDaily)
		require.NoError(t, err)
		assert.Nil(t, latest)
	})

	t.Run("upsert overwrites the whole row", func(t *testing.T) {
		corrected := bars[9]
		corrected.Close = 99_999
		corrected.High = 100_000
		corrected.MA5 = nil

		err := database.WithTransaction(db.Conn(), func(tx *sql.Tx) error {
			return repo.UpsertBars(tx, []domain.Bar{corrected})
		})
		require.NoError(t, err)

		got, err := repo.Bars("005930", domain.TimeframeDaily, 1)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, 99_999.0, got[0].Close)
		assert.Nil(t, got[0].MA5, "stale indicator must be cleared")

		count, err := repo.BarCount("005930", domain.TimeframeDaily)
		require.NoError(t, err)
		assert.Equal(t, 10, count, "overwrite must not add rows")
	})
}

func TestApplyRetention(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBarRepository(db.Conn(), logger.Nop())

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	err := database.WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if err := repo.UpsertBars(tx, dailyBars("005930", start, RetentionRows+30)); err != nil {
			return err
		}
		return repo.UpsertBars(tx, dailyBars("000660", start, 100))
	})
	require.NoError(t, err)

	deleted, err := repo.ApplyRetention(domain.TimeframeDaily)
	require.NoError(t, err)
	assert.Equal(t, int64(30), deleted)

	count, err := repo.BarCount("005930", domain.TimeframeDaily)
	require.NoError(t, err)
	assert.Equal(t, RetentionRows, count)

	// The short history is untouched, and the survivors are the newest rows.
	count, err = repo.BarCount("000660", domain.TimeframeDaily)
	require.NoError(t, err)
	assert.Equal(t, 100, count)

	latest, err := repo.LatestDate("005930", domain.TimeframeDaily)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.Equal(start.AddDate(0, 0, RetentionRows+29)))
}
