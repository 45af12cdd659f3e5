package blacklist

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jihoonkang/stockpipe/internal/database"
	"github.com/jihoonkang/stockpipe/internal/domain"
	"github.com/jihoonkang/stockpipe/internal/modules/universe"
	"github.com/jihoonkang/stockpipe/pkg/logger"
)

func TestValidTickerFormat(t *testing.T) {
	tests := []struct {
		name   string
		ticker string
		region domain.Region
		want   bool
	}{
		{name: "KR six digits", ticker: "005930", region: domain.RegionKR, want: true},
		{name: "KR letters rejected", ticker: "AAPL", region: domain.RegionKR, want: false},
		{name: "US plain symbol", ticker: "AAPL", region: domain.RegionUS, want: true},
		{name: "US class share", ticker: "BRK.B", region: domain.RegionUS, want: true},
		{name: "US too long", ticker: "TOOLONG", region: domain.RegionUS, want: false},
		{name: "CN Shanghai suffix", ticker: "600519.SS", region: domain.RegionCN, want: true},
		{name: "CN missing suffix", ticker: "600519", region: domain.RegionCN, want: false},
		{name: "HK bare digits", ticker: "0700", region: domain.RegionHK, want: true},
		{name: "HK with suffix", ticker: "0700.HK", region: domain.RegionHK, want: true},
		{name: "JP four digits", ticker: "7203", region: domain.RegionJP, want: true},
		{name: "VN three letters", ticker: "VNM", region: domain.RegionVN, want: true},
		{name: "unknown region", ticker: "ABC", region: domain.Region("XX"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidTickerFormat(tt.ticker, tt.region))
		})
	}
}

func setupManager(t *testing.T) (*Manager, *universe.TickerRepository, string) {
	t.Helper()
	dir := t.TempDir()
	db, err := database.New(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	tickers := universe.NewTickerRepository(db.Conn(), logger.Nop())
	path := filepath.Join(dir, "blacklist.json")
	return NewManager(tickers, path, logger.Nop()), tickers, path
}

func TestTemporaryBlacklistRoundTrip(t *testing.T) {
	m, _, path := setupManager(t)

	assert.False(t, m.IsBlacklisted("005930", domain.RegionKR))

	require.True(t, m.Add("005930", domain.RegionKR, "trading suspended", "ops", nil, ""))
	assert.True(t, m.IsBlacklisted("005930", domain.RegionKR))

	// Malformed code never lands in the file.
	assert.False(t, m.Add("NOTKR", domain.RegionKR, "x", "ops", nil, ""))

	// The file survives a reload.
	reloaded := NewManager(nil, path, logger.Nop())
	_, ok := reloaded.file.get(domain.RegionKR, "005930")
	assert.True(t, ok)

	assert.True(t, m.Remove("005930", domain.RegionKR))
	assert.False(t, m.Remove("005930", domain.RegionKR), "second remove finds nothing")
	assert.False(t, m.IsBlacklisted("005930", domain.RegionKR))
}

func TestExpiredEntriesAreInvisible(t *testing.T) {
	m, _, _ := setupManager(t)

	past := time.Now().AddDate(0, 0, -10)
	future := time.Now().AddDate(0, 0, 10)
	require.True(t, m.Add("000100", domain.RegionKR, "lapsed", "ops", &past, ""))
	require.True(t, m.Add("000200", domain.RegionKR, "current", "ops", &future, ""))

	assert.False(t, m.IsBlacklisted("000100", domain.RegionKR))
	assert.True(t, m.IsBlacklisted("000200", domain.RegionKR))

	entries := m.Entries(domain.RegionKR)
	assert.NotContains(t, entries, "000100")
	assert.Contains(t, entries, "000200")

	assert.Equal(t, 1, m.CleanupExpired())
	assert.Zero(t, m.CleanupExpired(), "second pass finds nothing")
}

func TestPermanentBlacklistViaDB(t *testing.T) {
	m, tickers, _ := setupManager(t)

	require.NoError(t, tickers.Upsert(domain.Ticker{
		Ticker: "005930", Region: domain.RegionKR, Name: "삼성전자",
		Exchange: "KRX", Currency: "KRW", IsActive: true,
	}))
	assert.False(t, m.IsBlacklisted("005930", domain.RegionKR))

	require.True(t, m.Deactivate("005930", domain.RegionKR, "delisted"))
	assert.True(t, m.IsBlacklisted("005930", domain.RegionKR))

	require.True(t, m.Reactivate("005930", domain.RegionKR))
	assert.False(t, m.IsBlacklisted("005930", domain.RegionKR))
}

func TestFilterTickersUnionsBothSources(t *testing.T) {
	m, tickers, _ := setupManager(t)

	require.NoError(t, tickers.Upsert(domain.Ticker{
		Ticker: "000300", Region: domain.RegionKR, Name: "x",
		Exchange: "KRX", Currency: "KRW", IsActive: true,
	}))
	require.True(t, m.Deactivate("000300", domain.RegionKR, "delisted"))
	require.True(t, m.Add("000400", domain.RegionKR, "suspended", "ops", nil, ""))

	kept := m.FilterTickers([]string{"000300", "000400", "000500"}, domain.RegionKR)
	assert.Equal(t, []string{"000500"}, kept)
}

func TestCorruptFileIsQuarantined(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blacklist.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	m := NewManager(nil, path, logger.Nop())
	assert.Empty(t, m.Entries(domain.RegionKR))

	// The broken file was moved aside, not silently deleted.
	matches, err := filepath.Glob(path + ".corrupt.*")
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}
