package stage0

import (
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/jihoonkang/stockpipe/internal/domain"
)

// Repository persists Stage-0 snapshots in filter_cache_stage0. A snapshot is
// the full set of (region, filter_date) rows and is replaced atomically.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a stage0 repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("repo", "stage0").Logger()}
}

// ReplaceForDateTx swaps the (region, filter_date) snapshot inside a
// caller-owned transaction. A partially written snapshot never becomes
// visible to Stage 1.
func (r *Repository) ReplaceForDateTx(tx *sql.Tx, region domain.Region, filterDate string, entries []Entry) error {
	if _, err := tx.Exec(
		"DELETE FROM filter_cache_stage0 WHERE region = ? AND filter_date = ?",
		string(region), filterDate); err != nil {
		return domain.NewStorageError("failed to clear stage0 snapshot", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO filter_cache_stage0
		(ticker, region, filter_date, name, exchange,
		 market_cap_krw, market_cap_local, trading_value_krw, trading_value_local,
		 current_price_krw, current_price_local, currency,
		 exchange_rate_to_krw, exchange_rate_date, stage0_passed, filter_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return domain.NewStorageError("failed to prepare stage0 insert", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, e := range entries {
		if _, err := stmt.Exec(
			e.Ticker, string(e.Region), e.FilterDate, e.Name, e.Exchange,
			e.MarketCapKRW, e.MarketCapLocal, e.TradingValueKRW, e.TradingValueLocal,
			e.PriceKRW, e.PriceLocal, e.Currency,
			e.ExchangeRateToKRW, e.ExchangeRateDate, boolToInt(e.Passed), e.Reason, now,
		); err != nil {
			return domain.NewStorageError("failed to insert stage0 entry", err)
		}
	}
	return nil
}

// Load returns the (region, filter_date) snapshot, optionally only the rows
// that passed.
func (r *Repository) Load(region domain.Region, filterDate string, passedOnly bool) ([]Entry, error) {
	query := `
		SELECT ticker, region, filter_date, name, exchange,
		       market_cap_krw, market_cap_local, trading_value_krw, trading_value_local,
		       current_price_krw, current_price_local, currency,
		       exchange_rate_to_krw, exchange_rate_date, stage0_passed, filter_reason
		FROM filter_cache_stage0
		WHERE region = ? AND filter_date = ?`
	if passedOnly {
		query += " AND stage0_passed = 1"
	}
	query += " ORDER BY market_cap_krw DESC"

	rows, err := r.db.Query(query, string(region), filterDate)
	if err != nil {
		return nil, domain.NewStorageError("failed to query stage0 snapshot", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var regionStr string
		var passed int
		if err := rows.Scan(
			&e.Ticker, &regionStr, &e.FilterDate, &e.Name, &e.Exchange,
			&e.MarketCapKRW, &e.MarketCapLocal, &e.TradingValueKRW, &e.TradingValueLocal,
			&e.PriceKRW, &e.PriceLocal, &e.Currency,
			&e.ExchangeRateToKRW, &e.ExchangeRateDate, &passed, &e.Reason,
		); err != nil {
			return nil, err
		}
		e.Region = domain.Region(regionStr)
		e.Passed = passed == 1
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// LatestSnapshot returns the most recent filter_date for a region and the
// snapshot's write time, or ("", zero) when no snapshot exists.
func (r *Repository) LatestSnapshot(region domain.Region) (string, time.Time, error) {
	var filterDate string
	var createdAt int64
	err := r.db.QueryRow(`
		SELECT filter_date, MAX(created_at)
		FROM filter_cache_stage0
		WHERE region = ?
		GROUP BY filter_date
		ORDER BY filter_date DESC LIMIT 1`,
		string(region)).Scan(&filterDate, &createdAt)
	if err == sql.ErrNoRows {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, domain.NewStorageError("failed to query stage0 snapshot age", err)
	}
	return filterDate, time.Unix(createdAt, 0), nil
}

// PassedCount counts survivors in a snapshot.
func (r *Repository) PassedCount(region domain.Region, filterDate string) (int, error) {
	var count int
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM filter_cache_stage0
		WHERE region = ? AND filter_date = ? AND stage0_passed = 1`,
		string(region), filterDate).Scan(&count)
	if err != nil {
		return 0, domain.NewStorageError("failed to count stage0 survivors", err)
	}
	return count, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
