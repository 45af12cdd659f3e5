package stage1

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jihoonkang/stockpipe/internal/database"
	"github.com/jihoonkang/stockpipe/internal/domain"
	"github.com/jihoonkang/stockpipe/pkg/logger"
)

func setupRepo(t *testing.T) (*Repository, *database.DB) {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	return NewRepository(db.Conn(), logger.Nop()), db
}

func snapshotEntry(ticker string, score float64, passed bool) Entry {
	ma20 := 69_000.0
	rsi := 57.5
	return Entry{
		Ticker: ticker, Region: domain.RegionKR, FilterDate: "2026-08-21",
		MA20: &ma20, RSI14: &rsi,
		PriceKRW: 71_000, Week52HighKRW: 80_000,
		Volume3dAvg: 20_000_000, Volume10dAvg: 15_000_000,
		CompositeScore: score, Passed: passed,
		Reason: "통과 (passed)",
	}
}

func replaceSnapshot(t *testing.T, db *database.DB, repo *Repository, date string, entries []Entry) {
	t.Helper()
	err := database.WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		return repo.ReplaceForDateTx(tx, domain.RegionKR, date, entries)
	})
	require.NoError(t, err)
}

func TestSnapshotRoundTrip(t *testing.T) {
	repo, db := setupRepo(t)

	failed := snapshotEntry("035420", 40, false)
	failed.Reason = "RSI 과매수 (RSI 75.0 > 70)"
	failed.MA5 = nil
	replaceSnapshot(t, db, repo, "2026-08-21", []Entry{
		snapshotEntry("005930", 96.25, true),
		snapshotEntry("000660", 88.75, true),
		failed,
	})

	entries, err := repo.Load(domain.RegionKR, "2026-08-21", false)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// Score-descending.
	assert.Equal(t, "005930", entries[0].Ticker)
	assert.Equal(t, 96.25, entries[0].CompositeScore)
	require.NotNil(t, entries[0].MA20)
	assert.Equal(t, 69_000.0, *entries[0].MA20)
	assert.Nil(t, entries[2].MA5)
	assert.False(t, entries[2].Passed)
	assert.Contains(t, entries[2].Reason, "RSI 과매수")

	t.Run("passed only", func(t *testing.T) {
		entries, err := repo.Load(domain.RegionKR, "2026-08-21", true)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		for _, e := range entries {
			assert.True(t, e.Passed)
		}
	})

	t.Run("other dates and regions are empty", func(t *testing.T) {
		entries, err := repo.Load(domain.RegionKR, "2026-08-20", false)
		require.NoError(t, err)
		assert.Empty(t, entries)

		entries, err = repo.Load(domain.RegionUS, "2026-08-21", false)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestReplaceSwapsTheSnapshot(t *testing.T) {
	repo, db := setupRepo(t)

	replaceSnapshot(t, db, repo, "2026-08-21", []Entry{
		snapshotEntry("005930", 96.25, true),
		snapshotEntry("000660", 88.75, true),
	})
	// A rerun for the same date replaces wholesale, never appends.
	replaceSnapshot(t, db, repo, "2026-08-21", []Entry{
		snapshotEntry("005930", 91.0, true),
	})
	// A different date is untouched by the swap.
	replaceSnapshot(t, db, repo, "2026-08-20", []Entry{
		snapshotEntry("035720", 77.0, true),
	})

	entries, err := repo.Load(domain.RegionKR, "2026-08-21", false)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 91.0, entries[0].CompositeScore)

	prev, err := repo.Load(domain.RegionKR, "2026-08-20", false)
	require.NoError(t, err)
	assert.Len(t, prev, 1)
}
