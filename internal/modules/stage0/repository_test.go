package stage0

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

func snapshotEntry(ticker string, capKRW int64, passed bool) Entry {
	return Entry{
		Ticker: ticker, Region: domain.RegionKR, FilterDate: "2026-08-21",
		Name: "종목 " + ticker, Exchange: "KRX",
		MarketCapKRW: capKRW, MarketCapLocal: capKRW,
		TradingValueKRW: 5_000_000_000, TradingValueLocal: 5_000_000_000,
		PriceKRW: 71_000, PriceLocal: 71_000, Currency: "KRW",
		ExchangeRateToKRW: 1, ExchangeRateDate: "2026-08-21",
		Passed: passed, Reason: "통과 (passed)",
	}
}

func replaceSnapshot(t *testing.T, db *database.DB, repo *Repository, entries []Entry) {
	t.Helper()
	err := database.WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		return repo.ReplaceForDateTx(tx, domain.RegionKR, "2026-08-21", entries)
	})
	require.NoError(t, err)
}

func TestSnapshotRoundTrip(t *testing.T) {
	repo, db := setupRepo(t)

	replaceSnapshot(t, db, repo, []Entry{
		snapshotEntry("005930", 400_000_000_000_000, true),
		snapshotEntry("000660", 120_000_000_000_000, true),
		snapshotEntry("900110", 50_000_000_000, false),
	})

	t.Run("full snapshot, cap-descending", func(t *testing.T) {
		entries, err := repo.Load(domain.RegionKR, "2026-08-21", false)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, "005930", entries[0].Ticker)
		assert.Equal(t, "000660", entries[1].Ticker)
		assert.Equal(t, "900110", entries[2].Ticker)
	})

	t.Run("passed-only filters rejections", func(t *testing.T) {
		entries, err := repo.Load(domain.RegionKR, "2026-08-21", true)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		for _, e := range entries {
			assert.True(t, e.Passed)
		}
	})

	t.Run("survivor count", func(t *testing.T) {
		count, err := repo.PassedCount(domain.RegionKR, "2026-08-21")
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("latest snapshot metadata", func(t *testing.T) {
		date, writtenAt, err := repo.LatestSnapshot(domain.RegionKR)
		require.NoError(t, err)
		assert.Equal(t, "2026-08-21", date)
		assert.False(t, writtenAt.IsZero())
	})

	t.Run("other regions stay empty", func(t *testing.T) {
		date, _, err := repo.LatestSnapshot(domain.RegionUS)
		require.NoError(t, err)
		assert.Empty(t, date)
	})
}

func TestReplaceSwapsTheWholeSnapshot(t *testing.T) {
	repo, db := setupRepo(t)

	replaceSnapshot(t, db, repo, []Entry{
		snapshotEntry("005930", 400_000_000_000_000, true),
		snapshotEntry("000660", 120_000_000_000_000, true),
	})
	replaceSnapshot(t, db, repo, []Entry{
		snapshotEntry("035420", 40_000_000_000_000, true),
	})

	entries, err := repo.Load(domain.RegionKR, "2026-08-21", false)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "035420", entries[0].Ticker)
}
