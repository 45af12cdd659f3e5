package calendar

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jihoonkang/stockpipe/internal/domain"
)

// Service answers market-state questions for every supported region.
// It is a pure function of (config, holiday table, clock); all methods take
// the evaluation time explicitly so tests can pin it.
type Service struct {
	holidays map[domain.Region]map[string]bool // region -> "2006-01-02" -> true
}

// scheduleFile is the on-disk holiday table format (config/market_schedule.json).
type scheduleFile struct {
	Holidays map[string][]string `json:"holidays"` // region -> ISO dates
}

// NewService creates a calendar service with an empty holiday table.
// Weekends are always non-trading days regardless of the table.
func NewService() *Service {
	return &Service{holidays: make(map[domain.Region]map[string]bool)}
}

// NewServiceFromFile loads the holiday table from a market schedule file.
// A missing file yields a weekend-only calendar; a malformed file is an error
// so a typo doesn't silently erase every holiday.
func NewServiceFromFile(path string) (*Service, error) {
	s := NewService()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read market schedule: %w", err)
	}

	var file scheduleFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse market schedule %s: %w", path, err)
	}

	for regionStr, dates := range file.Holidays {
		region, err := domain.ParseRegion(regionStr)
		if err != nil {
			return nil, fmt.Errorf("market schedule: %w", err)
		}
		for _, d := range dates {
			if _, err := time.Parse("2006-01-02", d); err != nil {
				return nil, fmt.Errorf("market schedule: bad date %q for %s: %w", d, region, err)
			}
			s.AddHoliday(region, d)
		}
	}
	return s, nil
}

// AddHoliday registers a non-trading date (ISO "2006-01-02") for a region.
func (s *Service) AddHoliday(region domain.Region, date string) {
	if s.holidays[region] == nil {
		s.holidays[region] = make(map[string]bool)
	}
	s.holidays[region][date] = true
}

// IsTradingDay reports whether the date (evaluated in the exchange's
// timezone) is a weekday and not a holiday.
func (s *Service) IsTradingDay(region domain.Region, t time.Time) bool {
	cfg := exchangeConfigs[region]
	if cfg == nil {
		return false
	}
	local := t.In(cfg.Timezone)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}
	return !s.holidays[region][local.Format("2006-01-02")]
}

// Session returns the market state at time t.
func (s *Service) Session(region domain.Region, t time.Time) Session {
	cfg := exchangeConfigs[region]
	if cfg == nil {
		return SessionClosed
	}
	local := t.In(cfg.Timezone)
	if !s.IsTradingDay(region, local) {
		return SessionClosed
	}

	open := cfg.Hours.Open.at(local, cfg.Timezone)
	close := cfg.Hours.Close.at(local, cfg.Timezone)

	switch {
	case local.Before(open):
		return SessionPre
	case !local.Before(close):
		return SessionAfter
	}

	if cfg.Lunch != nil {
		lunchStart := cfg.Lunch.Start.at(local, cfg.Timezone)
		lunchEnd := cfg.Lunch.End.at(local, cfg.Timezone)
		// Break window is [start, end)
		if !local.Before(lunchStart) && local.Before(lunchEnd) {
			return SessionLunch
		}
	}
	return SessionOpen
}

// IsMarketOpen reports whether continuous trading is running at time t.
func (s *Service) IsMarketOpen(region domain.Region, t time.Time) bool {
	return s.Session(region, t) == SessionOpen
}

// LastTradingDay returns the most recent date (exchange-local midnight) whose
// session has completed by time t. A trading day counts only once its close
// has passed, so during Thursday's session this returns Wednesday, and after
// Thursday's close it returns Thursday.
func (s *Service) LastTradingDay(region domain.Region, t time.Time) time.Time {
	cfg := exchangeConfigs[region]
	local := t.In(cfg.Timezone)

	day := midnight(local)
	if s.IsTradingDay(region, day) {
		close := cfg.Hours.Close.at(day, cfg.Timezone)
		if !local.Before(close) {
			return day
		}
	}
	return s.PrevTradingDay(region, day)
}

// PrevTradingDay returns the trading day strictly before the given date.
func (s *Service) PrevTradingDay(region domain.Region, date time.Time) time.Time {
	cfg := exchangeConfigs[region]
	day := midnight(date.In(cfg.Timezone))
	for {
		day = day.AddDate(0, 0, -1)
		if s.IsTradingDay(region, day) {
			return day
		}
	}
}

// NextTradingDay returns the trading day strictly after the given date.
func (s *Service) NextTradingDay(region domain.Region, date time.Time) time.Time {
	cfg := exchangeConfigs[region]
	day := midnight(date.In(cfg.Timezone))
	for {
		day = day.AddDate(0, 0, 1)
		if s.IsTradingDay(region, day) {
			return day
		}
	}
}

// TradingDaysBetween counts trading days in (from, to], both exchange-local
// dates. Returns 0 when to <= from.
func (s *Service) TradingDaysBetween(region domain.Region, from, to time.Time) int {
	cfg := exchangeConfigs[region]
	fromDay := midnight(from.In(cfg.Timezone))
	toDay := midnight(to.In(cfg.Timezone))

	count := 0
	for day := fromDay.AddDate(0, 0, 1); !day.After(toDay); day = day.AddDate(0, 0, 1) {
		if s.IsTradingDay(region, day) {
			count++
		}
	}
	return count
}

// Timezone returns the exchange timezone for a region.
func (s *Service) Timezone(region domain.Region) *time.Location {
	if cfg := exchangeConfigs[region]; cfg != nil {
		return cfg.Timezone
	}
	return time.UTC
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
