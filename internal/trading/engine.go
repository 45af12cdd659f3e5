package trading

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jihoonkang/stockpipe/internal/blacklist"
	"github.com/jihoonkang/stockpipe/internal/clients/broker"
	"github.com/jihoonkang/stockpipe/internal/domain"
)

// OrderIntent is what the caller wants to do; the engine decides whether it
// may happen.
type OrderIntent struct {
	Ticker          string
	Region          domain.Region
	Exchange        string
	Side            domain.Side
	Quantity        int64
	LimitPrice      float64 // local currency, pre-rounding
	Sector          string
	PositionPercent float64
	PortfolioValue  float64 // local currency, for exposure math
}

// OrderOutcome reports what happened to an intent. A gate rejection is a
// normal outcome, not an error.
type OrderOutcome struct {
	Accepted   bool
	GateFailed string // empty when accepted
	Reason     string
	OrderRef   string // internal idempotency reference
	OrderNo    string // upstream order number when submitted
	TradeID    int64
	PnLMinor   int64 // set on sells
}

// RiskLimits is the active risk_limits row.
type RiskLimits struct {
	Profile              string
	MaxPositions         int
	MaxSinglePositionPct float64
	MaxSectorExposurePct float64
	DailyLossLimitPct    float64
	ConsecutiveLossLimit int
}

// Engine runs the order gate sequence. Gate order is material: cheaper gates
// run first so a blacklisted ticker never costs a DB query.
type Engine struct {
	broker    *broker.Client
	trades    *TradeRepository
	breakers  *BreakerRepository
	blacklist *blacklist.Manager
	limits    RiskLimits
	feeRate   float64 // commission as a fraction of notional
	taxRate   float64 // sell tax as a fraction of notional
	log       zerolog.Logger
	now       func() time.Time

	// Sector exposure is recomputed at most once per tick cycle.
	sectorCache   map[string]float64
	sectorCacheAt time.Time
}

// NewEngine wires a trading engine.
func NewEngine(
	brokerClient *broker.Client,
	trades *TradeRepository,
	breakers *BreakerRepository,
	bl *blacklist.Manager,
	limits RiskLimits,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		broker:    brokerClient,
		trades:    trades,
		breakers:  breakers,
		blacklist: bl,
		limits:    limits,
		feeRate:   0.00015, // 0.015% commission
		taxRate:   0.0020,  // 0.20% sell tax (KR securities transaction tax)
		log:       log.With().Str("component", "trading").Logger(),
		now:       time.Now,
	}
}

// Execute runs the gate sequence and, if every gate passes, submits the
// order and records the trade.
func (e *Engine) Execute(ctx context.Context, intent OrderIntent) (*OrderOutcome, error) {
	ref := uuid.NewString()
	log := e.log.With().Str("order_ref", ref).Str("ticker", intent.Ticker).
		Str("side", string(intent.Side)).Logger()

	reject := func(gate, reason string) *OrderOutcome {
		log.Warn().Str("gate", gate).Str("reason", reason).Msg("Order rejected")
		return &OrderOutcome{GateFailed: gate, Reason: reason, OrderRef: ref}
	}

	// Gate 1: blacklist.
	if e.blacklist.IsBlacklisted(intent.Ticker, intent.Region) {
		return reject("blacklist", "ticker is blacklisted"), nil
	}

	// Gate 2: circuit breakers.
	if tripped, reason, err := e.checkBreakers(); err != nil {
		return nil, err
	} else if tripped {
		return reject("circuit_breaker", reason), nil
	}

	// Gates 3-5 protect new exposure only; sells reduce it.
	if intent.Side == domain.SideBuy {
		// Gate 3: position count.
		open, err := e.trades.CountOpen()
		if err != nil {
			return nil, err
		}
		if open >= e.limits.MaxPositions {
			return reject("position_count",
				fmt.Sprintf("open positions %d at limit %d", open, e.limits.MaxPositions)), nil
		}

		// Gate 4: sector exposure.
		if intent.Sector != "" && intent.PortfolioValue > 0 {
			exposure, err := e.sectorExposure(intent.Region, intent.Sector, intent.PortfolioValue)
			if err != nil {
				return nil, err
			}
			if exposure+intent.PositionPercent > e.limits.MaxSectorExposurePct {
				return reject("sector_exposure",
					fmt.Sprintf("sector %s at %.1f%% + %.1f%% exceeds %.1f%% cap",
						intent.Sector, exposure, intent.PositionPercent, e.limits.MaxSectorExposurePct)), nil
			}
		}
	}

	// Gate 5: minimum order amount.
	notional := float64(intent.Quantity) * intent.LimitPrice
	if min := MinOrderAmount[intent.Region]; notional < min {
		return reject("min_order_amount",
			fmt.Sprintf("notional %.2f below regional minimum %.2f", notional, min)), nil
	}

	// Gate 6: tick rounding.
	price := RoundToTick(intent.Region, intent.LimitPrice, intent.Side)
	if price <= 0 {
		return reject("tick_rounding", "price rounds to zero"), nil
	}

	// Gate 7: submit.
	result, err := e.broker.PlaceOrder(ctx, broker.OrderRequest{
		Ticker:   intent.Ticker,
		Region:   intent.Region,
		Exchange: intent.Exchange,
		Side:     intent.Side,
		Quantity: intent.Quantity,
		Price:    price,
	})
	if err != nil {
		return nil, fmt.Errorf("order submission %s: %w", intent.Ticker, err)
	}

	outcome := &OrderOutcome{Accepted: true, OrderRef: ref, OrderNo: result.OrderNo}
	currency := intent.Region.Currency()
	notionalMinor := domain.ToMinor(float64(intent.Quantity)*price, currency)
	feeMinor := domain.ToMinor(float64(intent.Quantity)*price*e.feeRate, currency)

	if intent.Side == domain.SideBuy {
		tradeID, err := e.trades.Open(Trade{
			Ticker:              intent.Ticker,
			Region:              intent.Region,
			Side:                intent.Side,
			Quantity:            intent.Quantity,
			EntryPriceMinor:     domain.ToMinor(price, currency),
			AmountMinor:         notionalMinor,
			FeeMinor:            feeMinor,
			Currency:            currency,
			OrderNo:             result.OrderNo,
			ExecutionNo:         result.ExecutionNo,
			EntryTimestamp:      result.SubmittedAt,
			Sector:              intent.Sector,
			PositionSizePercent: intent.PositionPercent,
		})
		if err != nil {
			return nil, err
		}
		outcome.TradeID = tradeID
	} else {
		taxMinor := domain.ToMinor(float64(intent.Quantity)*price*e.taxRate, currency)
		pnl, err := e.trades.Close(intent.Ticker, intent.Region,
			domain.ToMinor(price, currency), feeMinor, taxMinor, result.SubmittedAt)
		if err != nil {
			return nil, err
		}
		outcome.PnLMinor = pnl
	}

	e.invalidateSectorCache()
	log.Info().Str("order_no", result.OrderNo).Float64("price", price).
		Int64("qty", intent.Quantity).Msg("Order executed")
	return outcome, nil
}

// Halt trips the manual-halt breaker; no orders execute until Resume.
func (e *Engine) Halt(reason, by string) error {
	return e.breakers.Trip(BreakerManualHalt, 0, 0, reason, map[string]string{"halted_by": by})
}

// Resume resolves the manual-halt breaker.
func (e *Engine) Resume(by string) error {
	_, err := e.breakers.Resolve(BreakerManualHalt, "trading resumed", by)
	return err
}

// CheckRiskBreakers evaluates the loss-based breakers against the day's
// realized P&L and trips them as needed. Called after each close and at
// stage boundaries.
func (e *Engine) CheckRiskBreakers(portfolioValueMinor int64) error {
	if portfolioValueMinor > 0 {
		pnl, err := e.trades.RealizedPnLToday(e.now())
		if err != nil {
			return err
		}
		lossPct := -float64(pnl) / float64(portfolioValueMinor) * 100
		if lossPct >= e.limits.DailyLossLimitPct {
			if err := e.breakers.Trip(BreakerDailyLoss, lossPct, e.limits.DailyLossLimitPct,
				"daily realized loss limit reached", nil); err != nil {
				return err
			}
		}
	}

	streak, err := e.trades.ConsecutiveLosses()
	if err != nil {
		return err
	}
	if streak >= e.limits.ConsecutiveLossLimit {
		return e.breakers.Trip(BreakerConsecutiveLoss, float64(streak),
			float64(e.limits.ConsecutiveLossLimit), "consecutive loss limit reached", nil)
	}
	return nil
}

func (e *Engine) checkBreakers() (bool, string, error) {
	active, err := e.breakers.Active()
	if err != nil {
		return false, "", err
	}
	if len(active) == 0 {
		return false, "", nil
	}
	return true, fmt.Sprintf("%s tripped: %s", active[0].Type, active[0].Reason), nil
}

// sectorExposure returns the sector's share of portfolio value in percent,
// cached for one minute.
func (e *Engine) sectorExposure(region domain.Region, sector string, portfolioValue float64) (float64, error) {
	key := string(region) + ":" + sector
	if e.sectorCache != nil && e.now().Sub(e.sectorCacheAt) < time.Minute {
		if pct, ok := e.sectorCache[key]; ok {
			return pct, nil
		}
	}

	positions, err := e.trades.OpenPositions(region)
	if err != nil {
		return 0, err
	}

	cache := make(map[string]float64)
	for _, p := range positions {
		value := domain.FromMinor(p.AmountMinor, p.Currency)
		cache[string(region)+":"+p.Sector] += value / portfolioValue * 100
	}
	e.sectorCache = cache
	e.sectorCacheAt = e.now()
	return cache[key], nil
}

func (e *Engine) invalidateSectorCache() {
	e.sectorCache = nil
}
