package collector

import (
	"time"

	"github.com/jihoonkang/stockpipe/internal/calendar"
	"github.com/jihoonkang/stockpipe/internal/domain"
)

// FetchMode classifies what a ticker's stored history needs.
type FetchMode int

const (
	// FetchSkip: history already extends to the last completed trading day.
	FetchSkip FetchMode = iota
	// FetchSingleDay: exactly one trading day is missing.
	FetchSingleDay
	// FetchIncremental: a multi-day gap; fetch the gap plus a rewrite buffer.
	FetchIncremental
	// FetchFull: no usable history; fetch the whole retention window.
	FetchFull
)

func (m FetchMode) String() string {
	switch m {
	case FetchSkip:
		return "skip"
	case FetchSingleDay:
		return "single_day"
	case FetchIncremental:
		return "incremental"
	default:
		return "full"
	}
}

// incrementalBuffer re-fetches this many extra days on a gap so late upstream
// corrections near the gap edge get overwritten too.
const incrementalBuffer = 50

// FetchPlan is the gap detector's verdict for one ticker.
type FetchPlan struct {
	Mode FetchMode
	Days int // requested history depth, 0 for FetchSkip
}

// PlanFetch compares the stored history edge against the region's last
// completed trading day and decides how much to fetch.
func PlanFetch(cal *calendar.Service, region domain.Region, latestStored *time.Time, now time.Time) FetchPlan {
	if latestStored == nil {
		return FetchPlan{Mode: FetchFull, Days: RetentionRows}
	}

	// Bar dates are stored timezone-less; anchor the stored edge at the
	// exchange's midnight so it compares against LastTradingDay's frame.
	target := cal.LastTradingDay(region, now)
	stored := time.Date(latestStored.Year(), latestStored.Month(), latestStored.Day(),
		0, 0, 0, 0, cal.Timezone(region))
	if !stored.Before(target) {
		return FetchPlan{Mode: FetchSkip}
	}

	gap := cal.TradingDaysBetween(region, stored, target)
	switch {
	case gap <= 0:
		return FetchPlan{Mode: FetchSkip}
	case gap == 1:
		return FetchPlan{Mode: FetchSingleDay, Days: 1}
	default:
		days := gap + incrementalBuffer
		if days > RetentionRows {
			days = RetentionRows
		}
		return FetchPlan{Mode: FetchIncremental, Days: days}
	}
}
