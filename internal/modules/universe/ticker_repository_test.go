package universe

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jihoonkang/stockpipe/internal/database"
	"github.com/jihoonkang/stockpipe/internal/domain"
	"github.com/jihoonkang/stockpipe/pkg/logger"
)

func setupRepo(t *testing.T) *TickerRepository {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	return NewTickerRepository(db.Conn(), logger.Nop())
}

func samsung() domain.Ticker {
	return domain.Ticker{
		Ticker: "005930", Region: domain.RegionKR, Name: "삼성전자",
		Exchange: "KRX", Currency: "KRW", AssetType: domain.AssetStock,
		LotSize: 1, IsActive: true,
	}
}

func TestUpsertAndGet(t *testing.T) {
	repo := setupRepo(t)

	require.NoError(t, repo.Upsert(samsung()))

	got, err := repo.Get("005930", domain.RegionKR)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "삼성전자", got.Name)
	assert.Equal(t, "KRX", got.Exchange)
	assert.True(t, got.IsActive)

	t.Run("unknown ticker is nil, not an error", func(t *testing.T) {
		got, err := repo.Get("999999", domain.RegionKR)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("missing identity is a validation error", func(t *testing.T) {
		err := repo.Upsert(domain.Ticker{Region: domain.RegionKR})
		require.Error(t, err)
		assert.True(t, domain.IsKind(err, domain.KindValidation))
	})

	t.Run("defaults fill asset type and lot size", func(t *testing.T) {
		require.NoError(t, repo.Upsert(domain.Ticker{
			Ticker: "035420", Region: domain.RegionKR, Name: "NAVER",
			Exchange: "KRX", Currency: "KRW",
		}))
		got, err := repo.Get("035420", domain.RegionKR)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, domain.AssetStock, got.AssetType)
		assert.Equal(t, 1, got.LotSize)
	})
}

func TestUpsertPreservesDeactivation(t *testing.T) {
	repo := setupRepo(t)

	require.NoError(t, repo.Upsert(samsung()))
	require.NoError(t, repo.Deactivate("005930", domain.RegionKR, "delisted"))

	// A master-file refresh must not resurrect an operator deactivation.
	refreshed := samsung()
	refreshed.Name = "삼성전자 (refreshed)"
	require.NoError(t, repo.Upsert(refreshed))

	got, err := repo.Get("005930", domain.RegionKR)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "삼성전자 (refreshed)", got.Name, "attributes refresh")
	assert.False(t, got.IsActive, "active flag survives the refresh")

	require.NoError(t, repo.Reactivate("005930", domain.RegionKR))
	got, err = repo.Get("005930", domain.RegionKR)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
}

func TestDeactivateUnknownTicker(t *testing.T) {
	repo := setupRepo(t)

	err := repo.Deactivate("999999", domain.RegionKR, "x")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestInactiveTickersAndCounts(t *testing.T) {
	repo := setupRepo(t)

	require.NoError(t, repo.BulkUpsert([]domain.Ticker{
		samsung(),
		{Ticker: "000660", Region: domain.RegionKR, Name: "SK하이닉스", Exchange: "KRX", Currency: "KRW"},
		{Ticker: "AAPL", Region: domain.RegionUS, Name: "APPLE INC", Exchange: "NAS", Currency: "USD"},
	}))
	require.NoError(t, repo.Deactivate("000660", domain.RegionKR, "suspended"))

	inactive, err := repo.InactiveTickers(domain.RegionKR)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"000660": true}, inactive)

	active, inactiveCount, err := repo.CountByRegion(domain.RegionKR)
	require.NoError(t, err)
	assert.Equal(t, 1, active)
	assert.Equal(t, 1, inactiveCount)

	active, inactiveCount, err = repo.CountByRegion(domain.RegionUS)
	require.NoError(t, err)
	assert.Equal(t, 1, active)
	assert.Zero(t, inactiveCount)
}
