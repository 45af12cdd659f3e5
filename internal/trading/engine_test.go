package trading

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jihoonkang/stockpipe/internal/blacklist"
	"github.com/jihoonkang/stockpipe/internal/domain"
	"github.com/jihoonkang/stockpipe/internal/modules/universe"
	"github.com/jihoonkang/stockpipe/pkg/logger"
)

// The broker is nil throughout: every case here must be rejected by a gate
// before submission, so reaching the broker is itself a test failure (panic).
func setupEngine(t *testing.T, limits RiskLimits) (*Engine, *TradeRepository) {
	t.Helper()
	db := setupTestDB(t)
	trades := NewTradeRepository(db.Conn(), logger.Nop())
	breakers := NewBreakerRepository(db.Conn(), logger.Nop())
	tickers := universe.NewTickerRepository(db.Conn(), logger.Nop())
	bl := blacklist.NewManager(tickers, filepath.Join(t.TempDir(), "blacklist.json"), logger.Nop())
	return NewEngine(nil, trades, breakers, bl, limits, logger.Nop()), trades
}

func buyIntent() OrderIntent {
	return OrderIntent{
		Ticker: "005930", Region: domain.RegionKR, Exchange: "KRX",
		Side: domain.SideBuy, Quantity: 10, LimitPrice: 70_000,
		Sector: "tech", PositionPercent: 8, PortfolioValue: 100_000_000,
	}
}

func defaultLimits() RiskLimits {
	return RiskLimits{
		Profile: "MODERATE", MaxPositions: 10,
		MaxSinglePositionPct: 15, MaxSectorExposurePct: 30,
		DailyLossLimitPct: 3, ConsecutiveLossLimit: 5,
	}
}

func TestExecuteGateRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("blacklisted ticker", func(t *testing.T) {
		e, _ := setupEngine(t, defaultLimits())
		require.True(t, e.blacklist.Add("005930", domain.RegionKR, "news risk", "test", nil, ""))

		outcome, err := e.Execute(ctx, buyIntent())
		require.NoError(t, err, "a gate rejection is an outcome, not an error")
		assert.False(t, outcome.Accepted)
		assert.Equal(t, "blacklist", outcome.GateFailed)
		assert.NotEmpty(t, outcome.OrderRef)
	})

	t.Run("tripped breaker blocks everything", func(t *testing.T) {
		e, _ := setupEngine(t, defaultLimits())
		require.NoError(t, e.Halt("manual halt", "operator"))

		outcome, err := e.Execute(ctx, buyIntent())
		require.NoError(t, err)
		assert.Equal(t, "circuit_breaker", outcome.GateFailed)
		assert.Contains(t, outcome.Reason, "MANUAL_HALT")

		// Resume clears the gate: the same intent, shrunk below the notional
		// floor, now reaches the later min-amount gate instead.
		require.NoError(t, e.Resume("operator"))
		small := buyIntent()
		small.Quantity = 1
		small.LimitPrice = 5_000
		outcome, err = e.Execute(ctx, small)
		require.NoError(t, err)
		assert.Equal(t, "min_order_amount", outcome.GateFailed)
	})

	t.Run("position count at limit", func(t *testing.T) {
		limits := defaultLimits()
		limits.MaxPositions = 1
		e, trades := setupEngine(t, limits)
		_, err := trades.Open(openTrade("000660", 200_000, 0, time.Now()))
		require.NoError(t, err)

		outcome, err := e.Execute(ctx, buyIntent())
		require.NoError(t, err)
		assert.Equal(t, "position_count", outcome.GateFailed)
		assert.Contains(t, outcome.Reason, "at limit 1")
	})

	t.Run("sells bypass the position-count gate", func(t *testing.T) {
		limits := defaultLimits()
		limits.MaxPositions = 1
		e, trades := setupEngine(t, limits)
		_, err := trades.Open(openTrade("005930", 70_000, 0, time.Now()))
		require.NoError(t, err)

		sell := buyIntent()
		sell.Side = domain.SideSell
		sell.LimitPrice = 500 // rejected further down, at the notional floor
		outcome, err := e.Execute(ctx, sell)
		require.NoError(t, err)
		assert.Equal(t, "min_order_amount", outcome.GateFailed)
	})

	t.Run("sector exposure cap", func(t *testing.T) {
		limits := defaultLimits()
		limits.MaxSectorExposurePct = 30
		e, trades := setupEngine(t, limits)

		// One open tech position worth 28% of the 100M portfolio.
		existing := openTrade("000660", 200_000, 0, time.Now())
		existing.AmountMinor = 28_000_000
		_, err := trades.Open(existing)
		require.NoError(t, err)

		intent := buyIntent() // +8% would land at 36%
		outcome, err := e.Execute(ctx, intent)
		require.NoError(t, err)
		assert.Equal(t, "sector_exposure", outcome.GateFailed)
		assert.Contains(t, outcome.Reason, "tech")
	})

	t.Run("notional below regional minimum", func(t *testing.T) {
		e, _ := setupEngine(t, defaultLimits())
		intent := buyIntent()
		intent.Quantity = 1
		intent.LimitPrice = 5_000 // KR floor is 10,000 KRW

		outcome, err := e.Execute(ctx, intent)
		require.NoError(t, err)
		assert.Equal(t, "min_order_amount", outcome.GateFailed)
	})

	t.Run("price rounds to zero", func(t *testing.T) {
		e, _ := setupEngine(t, defaultLimits())
		intent := buyIntent()
		intent.Quantity = 20_000
		intent.LimitPrice = 0.9 // notional clears the floor, tick floors to 0

		outcome, err := e.Execute(ctx, intent)
		require.NoError(t, err)
		assert.Equal(t, "tick_rounding", outcome.GateFailed)
	})
}

func TestCheckRiskBreakers(t *testing.T) {
	limits := defaultLimits()
	limits.DailyLossLimitPct = 3
	limits.ConsecutiveLossLimit = 2
	e, trades := setupEngine(t, limits)
	now := time.Now()

	// Two consecutive realized losses of 2M KRW each today.
	for i, ticker := range []string{"005930", "000660"} {
		tr := openTrade(ticker, 300_000, 0, now.Add(time.Duration(-4+i)*time.Hour))
		_, err := trades.Open(tr)
		require.NoError(t, err)
		_, err = trades.Close(ticker, domain.RegionKR, 100_000, 0, 0,
			now.Add(time.Duration(i-2)*time.Minute))
		require.NoError(t, err)
	}

	// 4M loss on a 100M portfolio breaches the 3% daily limit, and the
	// 2-loss streak breaches the consecutive limit.
	require.NoError(t, e.CheckRiskBreakers(100_000_000))

	active, err := e.breakers.Active()
	require.NoError(t, err)
	types := make(map[BreakerType]bool, len(active))
	for _, b := range active {
		types[b.Type] = true
	}
	assert.True(t, types[BreakerDailyLoss])
	assert.True(t, types[BreakerConsecutiveLoss])

	t.Run("a huge portfolio trips neither", func(t *testing.T) {
		e2, trades2 := setupEngine(t, defaultLimits()) // limit 5 losses
		tr := openTrade("005930", 300_000, 0, now.Add(-time.Hour))
		_, err := trades2.Open(tr)
		require.NoError(t, err)
		_, err = trades2.Close("005930", domain.RegionKR, 299_000, 0, 0, now)
		require.NoError(t, err)

		require.NoError(t, e2.CheckRiskBreakers(10_000_000_000))
		active, err := e2.breakers.Active()
		require.NoError(t, err)
		assert.Empty(t, active)
	})
}
