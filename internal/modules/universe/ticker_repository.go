// Package universe maintains the ticker master table: every security the
// pipeline has ever seen, its static attributes, and its active flag.
package universe

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jihoonkang/stockpipe/internal/database"
	"github.com/jihoonkang/stockpipe/internal/domain"
)

// TickerRepository handles ticker master-table operations.
type TickerRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// tickersColumns is the list of columns for the tickers table.
// Used to avoid SELECT * which can break when schema changes.
const tickersColumns = `ticker, region, name, exchange, currency, asset_type,
listing_date, lot_size, is_active, deactivated_reason, created_at, updated_at`

// NewTickerRepository creates a new ticker repository
func NewTickerRepository(db *sql.DB, log zerolog.Logger) *TickerRepository {
	return &TickerRepository{
		db:  db,
		log: log.With().Str("repo", "ticker").Logger(),
	}
}

// Get returns a ticker by identity, or nil when unknown.
func (r *TickerRepository) Get(ticker string, region domain.Region) (*domain.Ticker, error) {
	query := "SELECT " + tickersColumns + " FROM tickers WHERE ticker = ? AND region = ?"
	rows, err := r.db.Query(query, strings.TrimSpace(ticker), string(region))
	if err != nil {
		return nil, fmt.Errorf("failed to query ticker: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	t, err := scanTicker(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan ticker: %w", err)
	}
	return t, nil
}

// Upsert inserts or refreshes a ticker master row. The active flag is only
// set on first sight; an operator deactivation survives refreshes.
func (r *TickerRepository) Upsert(t domain.Ticker) error {
	return r.upsertExec(r.db, t)
}

// UpsertTx is Upsert inside a caller-owned transaction (stage snapshots).
func (r *TickerRepository) UpsertTx(tx *sql.Tx, t domain.Ticker) error {
	return r.upsertExec(tx, t)
}

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func (r *TickerRepository) upsertExec(e execer, t domain.Ticker) error {
	if t.Ticker == "" || t.Region == "" {
		return domain.NewValidationError("ticker and region are required")
	}
	if t.AssetType == "" {
		t.AssetType = domain.AssetStock
	}
	if t.LotSize <= 0 {
		t.LotSize = 1
	}

	var listingDate interface{}
	if t.ListingDate != nil {
		listingDate = t.ListingDate.Format("2006-01-02")
	}

	now := time.Now().Unix()
	query := `
		INSERT INTO tickers
		(ticker, region, name, exchange, currency, asset_type, listing_date, lot_size, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT (ticker, region) DO UPDATE SET
			name = excluded.name,
			exchange = excluded.exchange,
			currency = excluded.currency,
			asset_type = excluded.asset_type,
			listing_date = COALESCE(excluded.listing_date, tickers.listing_date),
			lot_size = excluded.lot_size,
			updated_at = excluded.updated_at
	`
	_, err := e.Exec(query,
		strings.TrimSpace(t.Ticker), string(t.Region), t.Name, t.Exchange, t.Currency,
		string(t.AssetType), listingDate, t.LotSize, now, now)
	if err != nil {
		return domain.NewStorageError("failed to upsert ticker", err)
	}
	return nil
}

// Deactivate flips is_active off with a recorded reason (permanent blacklist).
func (r *TickerRepository) Deactivate(ticker string, region domain.Region, reason string) error {
	res, err := r.db.Exec(
		"UPDATE tickers SET is_active = 0, deactivated_reason = ?, updated_at = ? WHERE ticker = ? AND region = ?",
		reason, time.Now().Unix(), strings.TrimSpace(ticker), string(region))
	if err != nil {
		return domain.NewStorageError("failed to deactivate ticker", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewValidationError(fmt.Sprintf("unknown ticker %s/%s", ticker, region))
	}
	r.log.Info().Str("ticker", ticker).Str("region", string(region)).Str("reason", reason).Msg("Ticker deactivated")
	return nil
}

// Reactivate flips is_active back on.
func (r *TickerRepository) Reactivate(ticker string, region domain.Region) error {
	res, err := r.db.Exec(
		"UPDATE tickers SET is_active = 1, deactivated_reason = NULL, updated_at = ? WHERE ticker = ? AND region = ?",
		time.Now().Unix(), strings.TrimSpace(ticker), string(region))
	if err != nil {
		return domain.NewStorageError("failed to reactivate ticker", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewValidationError(fmt.Sprintf("unknown ticker %s/%s", ticker, region))
	}
	return nil
}

// InactiveTickers returns the permanently excluded set for a region.
func (r *TickerRepository) InactiveTickers(region domain.Region) (map[string]bool, error) {
	rows, err := r.db.Query("SELECT ticker FROM tickers WHERE region = ? AND is_active = 0", string(region))
	if err != nil {
		return nil, domain.NewStorageError("failed to query inactive tickers", err)
	}
	defer rows.Close()

	inactive := make(map[string]bool)
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan inactive ticker: %w", err)
		}
		inactive[t] = true
	}
	return inactive, rows.Err()
}

// CountByRegion returns (active, inactive) counts for a region.
func (r *TickerRepository) CountByRegion(region domain.Region) (active, inactive int, err error) {
	err = r.db.QueryRow(
		"SELECT COALESCE(SUM(is_active), 0), COALESCE(SUM(1 - is_active), 0) FROM tickers WHERE region = ?",
		string(region)).Scan(&active, &inactive)
	if err != nil {
		return 0, 0, domain.NewStorageError("failed to count tickers", err)
	}
	return active, inactive, nil
}

// BulkUpsert refreshes many master rows inside one transaction.
func (r *TickerRepository) BulkUpsert(tickers []domain.Ticker) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		for _, t := range tickers {
			if err := r.upsertExec(tx, t); err != nil {
				return err
			}
		}
		return nil
	})
}

func scanTicker(rows *sql.Rows) (*domain.Ticker, error) {
	var t domain.Ticker
	var region, assetType string
	var listingDate, deactivatedReason sql.NullString
	var isActive int
	var createdAt, updatedAt int64

	if err := rows.Scan(&t.Ticker, &region, &t.Name, &t.Exchange, &t.Currency, &assetType,
		&listingDate, &t.LotSize, &isActive, &deactivatedReason, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	t.Region = domain.Region(region)
	t.AssetType = domain.AssetType(assetType)
	t.IsActive = isActive == 1
	if listingDate.Valid {
		if d, err := time.Parse("2006-01-02", listingDate.String); err == nil {
			t.ListingDate = &d
		}
	}
	return &t, nil
}
