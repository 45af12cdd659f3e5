package stage2

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

func scoreEntry(ticker string, total int, ts int64) Entry {
	return Entry{
		Ticker: ticker, Region: domain.RegionKR, CacheTimestamp: ts,
		TotalScore: total,
		ModuleScores: map[string]int{
			"market_regime": 7, "volume_profile": 6, "price_action": 5,
			"stage_analysis": 12, "moving_average": 13, "relative_strength": 11,
			"pattern_recognition": 9, "volume_spike": 5, "momentum": 7,
		},
		MarketRegime: "BULL", VolatilityRegime: "NORMAL",
		Recommendation:  Classify(total),
		DetectedPattern: domain.PatternVCP, PatternConfidence: 0.75,
		ScoreExplanations: `{"market_regime":"uptrend"}`,
		ExecutionTimeMs:   12,
	}
}

func insertEntries(t *testing.T, db *database.DB, repo *Repository, entries ...Entry) {
	t.Helper()
	err := database.WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		for _, e := range entries {
			if err := repo.InsertTx(tx, e); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestLatestPicksNewestPerTicker(t *testing.T) {
	repo, db := setupRepo(t)

	insertEntries(t, db, repo,
		scoreEntry("005930", 60, 1000), // superseded
		scoreEntry("005930", 82, 2000),
		scoreEntry("000660", 74, 1500),
		scoreEntry("035420", 45, 1500),
	)

	entries, err := repo.Latest(domain.RegionKR, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3, "one row per ticker")

	// Strongest first, and the superseded 60 never appears.
	assert.Equal(t, "005930", entries[0].Ticker)
	assert.Equal(t, 82, entries[0].TotalScore)
	assert.Equal(t, domain.RecommendBuy, entries[0].Recommendation)
	assert.Equal(t, "000660", entries[1].Ticker)
	assert.Equal(t, domain.RecommendBuy, entries[1].Recommendation)
	assert.Equal(t, "035420", entries[2].Ticker)
	assert.Equal(t, domain.RecommendAvoid, entries[2].Recommendation)

	t.Run("limit truncates", func(t *testing.T) {
		entries, err := repo.Latest(domain.RegionKR, 2)
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("module scores round-trip", func(t *testing.T) {
		assert.Equal(t, 13, entries[0].ModuleScores["moving_average"])
		assert.Equal(t, domain.PatternVCP, entries[0].DetectedPattern)
		assert.Equal(t, 0.75, entries[0].PatternConfidence)
	})
}

func TestGet(t *testing.T) {
	repo, db := setupRepo(t)

	insertEntries(t, db, repo,
		scoreEntry("005930", 60, 1000),
		scoreEntry("005930", 82, 2000),
	)

	e, err := repo.Get("005930", domain.RegionKR)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, 82, e.TotalScore)
	assert.Equal(t, int64(2000), e.CacheTimestamp)

	e, err = repo.Get("999999", domain.RegionKR)
	require.NoError(t, err)
	assert.Nil(t, e)
}
