// Package calendar computes market sessions and trading days from per-region
// exchange configurations and a holiday table.
package calendar

import (
	"time"

	"github.com/jihoonkang/stockpipe/internal/domain"
)

// Session labels the market state at a point in time.
type Session string

const (
	SessionPre    Session = "PRE"    // Trading day, before the opening bell
	SessionOpen   Session = "OPEN"   // Continuous trading
	SessionLunch  Session = "LUNCH"  // Midday break (Asian markets)
	SessionAfter  Session = "AFTER"  // Trading day, after the close
	SessionClosed Session = "CLOSED" // Weekend or holiday
)

// ClockTime is a wall-clock time of day in the exchange's timezone.
type ClockTime struct {
	Hour   int
	Minute int
}

// TradingHours represents regular trading hours for an exchange
type TradingHours struct {
	Open  ClockTime
	Close ClockTime
}

// LunchBreak represents a midday trading break
type LunchBreak struct {
	Start ClockTime
	End   ClockTime
}

// ExchangeConfig describes one region's primary exchange session.
type ExchangeConfig struct {
	Region   domain.Region
	Timezone *time.Location
	Hours    TradingHours
	Lunch    *LunchBreak // nil when the market trades through midday
}

// mustLoadLocation panics on unknown zone names; the table below only uses
// IANA names present in the zoneinfo bundle.
func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// exchangeConfigs is the per-region session table.
var exchangeConfigs = map[domain.Region]*ExchangeConfig{
	domain.RegionKR: {
		Region:   domain.RegionKR,
		Timezone: mustLoadLocation("Asia/Seoul"),
		Hours:    TradingHours{Open: ClockTime{9, 0}, Close: ClockTime{15, 30}},
	},
	domain.RegionUS: {
		Region:   domain.RegionUS,
		Timezone: mustLoadLocation("America/New_York"),
		Hours:    TradingHours{Open: ClockTime{9, 30}, Close: ClockTime{16, 0}},
	},
	domain.RegionHK: {
		Region:   domain.RegionHK,
		Timezone: mustLoadLocation("Asia/Hong_Kong"),
		Hours:    TradingHours{Open: ClockTime{9, 30}, Close: ClockTime{16, 0}},
		Lunch:    &LunchBreak{Start: ClockTime{12, 0}, End: ClockTime{13, 0}},
	},
	domain.RegionCN: {
		Region:   domain.RegionCN,
		Timezone: mustLoadLocation("Asia/Shanghai"),
		Hours:    TradingHours{Open: ClockTime{9, 30}, Close: ClockTime{15, 0}},
		Lunch:    &LunchBreak{Start: ClockTime{11, 30}, End: ClockTime{13, 0}},
	},
	domain.RegionJP: {
		Region:   domain.RegionJP,
		Timezone: mustLoadLocation("Asia/Tokyo"),
		Hours:    TradingHours{Open: ClockTime{9, 0}, Close: ClockTime{15, 0}},
		Lunch:    &LunchBreak{Start: ClockTime{11, 30}, End: ClockTime{12, 30}},
	},
	domain.RegionVN: {
		Region:   domain.RegionVN,
		Timezone: mustLoadLocation("Asia/Ho_Chi_Minh"),
		Hours:    TradingHours{Open: ClockTime{9, 0}, Close: ClockTime{15, 0}},
		Lunch:    &LunchBreak{Start: ClockTime{11, 30}, End: ClockTime{13, 0}},
	},
}

// at builds a timestamp for the given clock time on date's day.
func (c ClockTime) at(date time.Time, loc *time.Location) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), c.Hour, c.Minute, 0, 0, loc)
}
