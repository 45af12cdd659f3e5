package trading

import (
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/jihoonkang/stockpipe/internal/domain"
)

// Trade is one trades-table row. Money columns are integer minor units in
// the trade's local currency.
type Trade struct {
	ID                  int64
	Ticker              string
	Region              domain.Region
	Side                domain.Side
	Quantity            int64
	EntryPriceMinor     int64
	ExitPriceMinor      *int64
	AmountMinor         int64
	FeeMinor            int64
	TaxMinor            int64
	RealizedPnLMinor    *int64
	Currency            string
	OrderNo             string
	ExecutionNo         string
	EntryTimestamp      time.Time
	ExitTimestamp       *time.Time
	Status              domain.TradeStatus
	Sector              string
	PositionSizePercent float64
}

// TradeRepository persists trade lifecycles.
type TradeRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewTradeRepository creates a trade repository.
func NewTradeRepository(db *sql.DB, log zerolog.Logger) *TradeRepository {
	return &TradeRepository{db: db, log: log.With().Str("repo", "trades").Logger()}
}

// Open records a filled buy as an OPEN trade and returns its id.
func (r *TradeRepository) Open(t Trade) (int64, error) {
	res, err := r.db.Exec(`
		INSERT INTO trades
		(ticker, region, side, quantity, entry_price_minor, amount_minor,
		 fee_minor, tax_minor, currency, order_no, execution_no,
		 entry_timestamp, trade_status, sector, position_size_percent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'OPEN', ?, ?, ?)`,
		t.Ticker, string(t.Region), string(t.Side), t.Quantity,
		t.EntryPriceMinor, t.AmountMinor, t.FeeMinor, t.TaxMinor,
		t.Currency, t.OrderNo, t.ExecutionNo,
		t.EntryTimestamp.Unix(), t.Sector, t.PositionSizePercent,
		time.Now().Unix())
	if err != nil {
		return 0, domain.NewStorageError("failed to record open trade", err)
	}
	return res.LastInsertId()
}

// Close reconciles the oldest matching OPEN trade to CLOSED, computing
// realized P&L net of the exit fee and tax. Returns the realized P&L in
// minor units.
func (r *TradeRepository) Close(ticker string, region domain.Region, exitPriceMinor, exitFeeMinor, exitTaxMinor int64, exitAt time.Time) (int64, error) {
	open, err := r.oldestOpen(ticker, region)
	if err != nil {
		return 0, err
	}
	if open == nil {
		return 0, domain.NewValidationError("no open trade to close for " + ticker)
	}

	gross := (exitPriceMinor - open.EntryPriceMinor) * open.Quantity
	pnl := gross - open.FeeMinor - exitFeeMinor - exitTaxMinor

	_, err = r.db.Exec(`
		UPDATE trades SET
			exit_price_minor = ?, realized_pnl_minor = ?,
			fee_minor = fee_minor + ?, tax_minor = tax_minor + ?,
			exit_timestamp = ?, trade_status = 'CLOSED'
		WHERE id = ?`,
		exitPriceMinor, pnl, exitFeeMinor, exitTaxMinor, exitAt.Unix(), open.ID)
	if err != nil {
		return 0, domain.NewStorageError("failed to close trade", err)
	}

	r.log.Info().Str("ticker", ticker).Int64("trade_id", open.ID).
		Int64("pnl_minor", pnl).Msg("Trade closed")
	return pnl, nil
}

// OpenPositions returns every OPEN trade for a region.
func (r *TradeRepository) OpenPositions(region domain.Region) ([]Trade, error) {
	rows, err := r.db.Query(`
		SELECT id, ticker, region, side, quantity, entry_price_minor,
		       amount_minor, fee_minor, tax_minor, currency, order_no,
		       execution_no, entry_timestamp, sector, position_size_percent
		FROM trades
		WHERE region = ? AND trade_status = 'OPEN'
		ORDER BY entry_timestamp ASC`,
		string(region))
	if err != nil {
		return nil, domain.NewStorageError("failed to query open positions", err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var t Trade
		var regionStr, side string
		var entryTS int64
		if err := rows.Scan(
			&t.ID, &t.Ticker, &regionStr, &side, &t.Quantity, &t.EntryPriceMinor,
			&t.AmountMinor, &t.FeeMinor, &t.TaxMinor, &t.Currency, &t.OrderNo,
			&t.ExecutionNo, &entryTS, &t.Sector, &t.PositionSizePercent,
		); err != nil {
			return nil, err
		}
		t.Region = domain.Region(regionStr)
		t.Side = domain.Side(side)
		t.Status = domain.TradeOpen
		t.EntryTimestamp = time.Unix(entryTS, 0)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// CountOpen counts OPEN trades across all regions.
func (r *TradeRepository) CountOpen() (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM trades WHERE trade_status = 'OPEN'").Scan(&count)
	if err != nil {
		return 0, domain.NewStorageError("failed to count open trades", err)
	}
	return count, nil
}

// RealizedPnLToday sums realized P&L (minor units, mixed currencies summed
// as-is; the caller normalizes) for trades closed since midnight UTC.
func (r *TradeRepository) RealizedPnLToday(now time.Time) (int64, error) {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	var pnl sql.NullInt64
	err := r.db.QueryRow(`
		SELECT SUM(realized_pnl_minor) FROM trades
		WHERE trade_status = 'CLOSED' AND exit_timestamp >= ?`,
		midnight.Unix()).Scan(&pnl)
	if err != nil {
		return 0, domain.NewStorageError("failed to sum realized pnl", err)
	}
	return pnl.Int64, nil
}

// ConsecutiveLosses counts the streak of losing closed trades, newest first.
func (r *TradeRepository) ConsecutiveLosses() (int, error) {
	rows, err := r.db.Query(`
		SELECT realized_pnl_minor FROM trades
		WHERE trade_status = 'CLOSED' AND realized_pnl_minor IS NOT NULL
		ORDER BY exit_timestamp DESC LIMIT 20`)
	if err != nil {
		return 0, domain.NewStorageError("failed to query closed trades", err)
	}
	defer rows.Close()

	streak := 0
	for rows.Next() {
		var pnl int64
		if err := rows.Scan(&pnl); err != nil {
			return 0, err
		}
		if pnl >= 0 {
			break
		}
		streak++
	}
	return streak, rows.Err()
}

func (r *TradeRepository) oldestOpen(ticker string, region domain.Region) (*Trade, error) {
	var t Trade
	var regionStr, side string
	err := r.db.QueryRow(`
		SELECT id, ticker, region, side, quantity, entry_price_minor, fee_minor
		FROM trades
		WHERE ticker = ? AND region = ? AND trade_status = 'OPEN'
		ORDER BY entry_timestamp ASC LIMIT 1`,
		ticker, string(region)).Scan(
		&t.ID, &t.Ticker, &regionStr, &side, &t.Quantity, &t.EntryPriceMinor, &t.FeeMinor)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewStorageError("failed to query open trade", err)
	}
	t.Region = domain.Region(regionStr)
	t.Side = domain.Side(side)
	return &t, nil
}
