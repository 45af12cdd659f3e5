// Package collector maintains per-ticker daily OHLCV history: gap-aware
// incremental fetches, indicator enrichment, a 250-row retention window, and
// a mock fallback for full upstream outages.
package collector

import (
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/jihoonkang/stockpipe/internal/domain"
)

// RetentionRows is the per-(ticker, timeframe) history depth. 250 daily bars
// cover one trading year, enough for MA200 plus warmup.
const RetentionRows = 250

// BarRepository persists ohlcv_data rows.
type BarRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewBarRepository creates a bar repository.
func NewBarRepository(db *sql.DB, log zerolog.Logger) *BarRepository {
	return &BarRepository{db: db, log: log.With().Str("repo", "ohlcv").Logger()}
}

const barColumns = `ticker, region, timeframe, date, open, high, low, close, volume,
	ma5, ma20, ma60, ma120, ma200, rsi_14, macd, macd_signal, macd_hist,
	bb_upper, bb_middle, bb_lower, atr_14, volume_ma20, volume_ratio`

// UpsertBars writes bars in one transaction. An existing (ticker, timeframe,
// date) row is fully overwritten, indicator columns included, so corrected
// upstream data replaces stale values.
func (r *BarRepository) UpsertBars(tx *sql.Tx, bars []domain.Bar) error {
	stmt, err := tx.Prepare(`
		INSERT INTO ohlcv_data (` + barColumns + `, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (ticker, timeframe, date) DO UPDATE SET
			region = excluded.region,
			open = excluded.open, high = excluded.high,
			low = excluded.low, close = excluded.close, volume = excluded.volume,
			ma5 = excluded.ma5, ma20 = excluded.ma20, ma60 = excluded.ma60,
			ma120 = excluded.ma120, ma200 = excluded.ma200,
			rsi_14 = excluded.rsi_14,
			macd = excluded.macd, macd_signal = excluded.macd_signal, macd_hist = excluded.macd_hist,
			bb_upper = excluded.bb_upper, bb_middle = excluded.bb_middle, bb_lower = excluded.bb_lower,
			atr_14 = excluded.atr_14,
			volume_ma20 = excluded.volume_ma20, volume_ratio = excluded.volume_ratio`)
	if err != nil {
		return domain.NewStorageError("failed to prepare bar upsert", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, b := range bars {
		if _, err := stmt.Exec(
			b.Ticker, string(b.Region), string(b.Timeframe), b.Date.Format("2006-01-02"),
			b.Open, b.High, b.Low, b.Close, b.Volume,
			b.MA5, b.MA20, b.MA60, b.MA120, b.MA200, b.RSI14,
			b.MACD, b.MACDSignal, b.MACDHist,
			b.BBUpper, b.BBMiddle, b.BBLower, b.ATR14,
			b.VolumeMA20, b.VolumeRatio, now,
		); err != nil {
			return domain.NewStorageError("failed to upsert bar", err)
		}
	}
	return nil
}

// Bars returns up to limit most-recent bars in ascending date order.
func (r *BarRepository) Bars(ticker string, timeframe domain.Timeframe, limit int) ([]domain.Bar, error) {
	rows, err := r.db.Query(`
		SELECT * FROM (
			SELECT `+barColumns+`
			FROM ohlcv_data
			WHERE ticker = ? AND timeframe = ?
			ORDER BY date DESC LIMIT ?
		) ORDER BY date ASC`,
		ticker, string(timeframe), limit)
	if err != nil {
		return nil, domain.NewStorageError("failed to query bars", err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		b, err := scanBar(rows)
		if err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// LatestDate returns the newest stored bar date, or nil when no history
// exists.
func (r *BarRepository) LatestDate(ticker string, timeframe domain.Timeframe) (*time.Time, error) {
	var dateStr sql.NullString
	err := r.db.QueryRow(
		"SELECT MAX(date) FROM ohlcv_data WHERE ticker = ? AND timeframe = ?",
		ticker, string(timeframe)).Scan(&dateStr)
	if err != nil {
		return nil, domain.NewStorageError("failed to query latest bar date", err)
	}
	if !dateStr.Valid || dateStr.String == "" {
		return nil, nil
	}
	d, err := time.Parse("2006-01-02", dateStr.String)
	if err != nil {
		return nil, domain.NewStorageError("corrupt bar date "+dateStr.String, err)
	}
	return &d, nil
}

// BarCount counts stored history for a ticker/timeframe.
func (r *BarRepository) BarCount(ticker string, timeframe domain.Timeframe) (int, error) {
	var count int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM ohlcv_data WHERE ticker = ? AND timeframe = ?",
		ticker, string(timeframe)).Scan(&count)
	if err != nil {
		return 0, domain.NewStorageError("failed to count bars", err)
	}
	return count, nil
}

// ApplyRetention trims each ticker's history to RetentionRows and returns the
// number of rows deleted. The caller runs an incremental vacuum afterwards.
func (r *BarRepository) ApplyRetention(timeframe domain.Timeframe) (int64, error) {
	res, err := r.db.Exec(`
		DELETE FROM ohlcv_data
		WHERE timeframe = ?
		  AND (ticker, timeframe, date) NOT IN (
			SELECT ticker, timeframe, date FROM (
				SELECT ticker, timeframe, date,
				       ROW_NUMBER() OVER (PARTITION BY ticker ORDER BY date DESC) AS rn
				FROM ohlcv_data WHERE timeframe = ?
			) WHERE rn <= ?
		)`,
		string(timeframe), string(timeframe), RetentionRows)
	if err != nil {
		return 0, domain.NewStorageError("failed to apply retention", err)
	}
	deleted, _ := res.RowsAffected()
	if deleted > 0 {
		r.log.Info().Int64("deleted", deleted).Msg("Retention applied")
	}
	return deleted, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBar(row rowScanner) (domain.Bar, error) {
	var b domain.Bar
	var region, timeframe, dateStr string
	err := row.Scan(
		&b.Ticker, &region, &timeframe, &dateStr,
		&b.Open, &b.High, &b.Low, &b.Close, &b.Volume,
		&b.MA5, &b.MA20, &b.MA60, &b.MA120, &b.MA200, &b.RSI14,
		&b.MACD, &b.MACDSignal, &b.MACDHist,
		&b.BBUpper, &b.BBMiddle, &b.BBLower, &b.ATR14,
		&b.VolumeMA20, &b.VolumeRatio,
	)
	if err != nil {
		return b, err
	}
	b.Region = domain.Region(region)
	b.Timeframe = domain.Timeframe(timeframe)
	b.Date, err = time.Parse("2006-01-02", dateStr)
	return b, err
}
