// Package trading executes orders through a gate sequence: blacklist,
// circuit breakers, position and sector limits, minimum amounts, tick
// rounding, then submission and trade-record reconciliation.
package trading

import (
	"math"

	"github.com/jihoonkang/stockpipe/internal/domain"
)

// TickSize returns the minimum price increment for a price on a region's
// exchange. Banded markets (KR, JP, VN) step the tick with the price level;
// the rest use a flat decimal tick.
func TickSize(region domain.Region, price float64) float64 {
	switch region {
	case domain.RegionKR:
		return krxTick(price)
	case domain.RegionJP:
		return tseTick(price)
	case domain.RegionVN:
		return hoseTick(price)
	case domain.RegionHK:
		return hkexTick(price)
	default: // US, CN: decimal pricing
		return 0.01
	}
}

// RoundToTick rounds a limit price down to the nearest valid tick for buys
// and up for sells, so the rounded price is never more aggressive than the
// computed one.
func RoundToTick(region domain.Region, price float64, side domain.Side) float64 {
	tick := TickSize(region, price)
	if tick <= 0 {
		return price
	}
	steps := price / tick
	if side == domain.SideBuy {
		return math.Floor(steps+1e-9) * tick
	}
	return math.Ceil(steps-1e-9) * tick
}

// krxTick is the KRX price-band ladder.
func krxTick(price float64) float64 {
	switch {
	case price < 2_000:
		return 1
	case price < 5_000:
		return 5
	case price < 20_000:
		return 10
	case price < 50_000:
		return 50
	case price < 200_000:
		return 100
	case price < 500_000:
		return 500
	default:
		return 1_000
	}
}

// tseTick approximates the TSE ladder for TOPIX-listed issues.
func tseTick(price float64) float64 {
	switch {
	case price <= 1_000:
		return 0.1
	case price <= 3_000:
		return 0.5
	case price <= 10_000:
		return 1
	case price <= 30_000:
		return 5
	case price <= 100_000:
		return 10
	default:
		return 50
	}
}

// hkexTick is the HKEX spread table.
func hkexTick(price float64) float64 {
	switch {
	case price < 0.25:
		return 0.001
	case price < 0.5:
		return 0.005
	case price < 10:
		return 0.01
	case price < 20:
		return 0.02
	case price < 100:
		return 0.05
	case price < 200:
		return 0.1
	case price < 500:
		return 0.2
	case price < 1_000:
		return 0.5
	default:
		return 1
	}
}

// hoseTick is the HOSE ladder (VND).
func hoseTick(price float64) float64 {
	switch {
	case price < 10_000:
		return 10
	case price < 50_000:
		return 50
	default:
		return 100
	}
}

// MinOrderAmount is the minimum order value per region, in local currency.
var MinOrderAmount = map[domain.Region]float64{
	domain.RegionKR: 10_000,
	domain.RegionUS: 1,
	domain.RegionHK: 100,
	domain.RegionCN: 100,
	domain.RegionJP: 1_000,
	domain.RegionVN: 100_000,
}
