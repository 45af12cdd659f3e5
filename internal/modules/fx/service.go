// Package fx supplies KRW-normalization exchange rates backed by the
// exchange_rate_history table, fetching from the broker when the stored
// snapshot is stale.
package fx

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jihoonkang/stockpipe/internal/domain"
)

// RateSource fetches a live rate; implemented by the broker client.
type RateSource interface {
	GetExchangeRate(ctx context.Context, currency string) (*domain.ExchangeRate, error)
}

// Service resolves same-day KRW rates with a one-trading-day staleness bound.
type Service struct {
	db     *sql.DB
	source RateSource
	log    zerolog.Logger
	now    func() time.Time
}

// NewService creates an fx service.
func NewService(db *sql.DB, source RateSource, log zerolog.Logger) *Service {
	return &Service{
		db:     db,
		source: source,
		log:    log.With().Str("component", "fx").Logger(),
		now:    time.Now,
	}
}

// RateToKRW returns the KRW rate for a currency dated no earlier than
// maxAge before today. A fresh-enough stored row is served directly;
// otherwise the broker is queried and the snapshot recorded.
func (s *Service) RateToKRW(ctx context.Context, currency string, maxAge time.Duration) (*domain.ExchangeRate, error) {
	if currency == "KRW" {
		return &domain.ExchangeRate{Currency: "KRW", RateKRW: 1, Date: s.now()}, nil
	}

	if stored := s.latestStored(currency); stored != nil && s.now().Sub(stored.Date) <= maxAge {
		return stored, nil
	}

	rate, err := s.source.GetExchangeRate(ctx, currency)
	if err != nil {
		// A stale snapshot beats a hard failure during market data outages,
		// but only within double the staleness bound.
		if stored := s.latestStored(currency); stored != nil && s.now().Sub(stored.Date) <= 2*maxAge {
			s.log.Warn().Err(err).Str("currency", currency).Msg("Live rate fetch failed, using stored snapshot")
			return stored, nil
		}
		return nil, fmt.Errorf("no usable exchange rate for %s: %w", currency, err)
	}

	if err := s.record(rate); err != nil {
		s.log.Warn().Err(err).Str("currency", currency).Msg("Failed to record exchange rate")
	}
	return rate, nil
}

func (s *Service) latestStored(currency string) *domain.ExchangeRate {
	var dateStr string
	var rate float64
	err := s.db.QueryRow(
		"SELECT date, rate_krw FROM exchange_rate_history WHERE currency = ? ORDER BY date DESC LIMIT 1",
		currency).Scan(&dateStr, &rate)
	if err != nil {
		return nil
	}
	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return nil
	}
	return &domain.ExchangeRate{Currency: currency, RateKRW: rate, Date: date}
}

func (s *Service) record(rate *domain.ExchangeRate) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO exchange_rate_history (currency, date, rate_krw) VALUES (?, ?, ?)",
		rate.Currency, rate.Date.Format("2006-01-02"), rate.RateKRW)
	if err != nil {
		return domain.NewStorageError("failed to record exchange rate", err)
	}
	return nil
}
