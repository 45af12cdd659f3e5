package stage1

import (
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/jihoonkang/stockpipe/internal/domain"
)

// Entry is one filter_cache_stage1 row.
type Entry struct {
	Ticker         string
	Region         domain.Region
	FilterDate     string
	MA5            *float64
	MA20           *float64
	MA60           *float64
	RSI14          *float64
	PriceKRW       int64
	Week52HighKRW  int64
	Volume3dAvg    int64
	Volume10dAvg   int64
	CompositeScore float64
	Passed         bool
	Reason         string
}

// Repository persists Stage-1 snapshots.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a stage1 repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("repo", "stage1").Logger()}
}

// ReplaceForDateTx swaps the (region, filter_date) snapshot inside a
// caller-owned transaction.
func (r *Repository) ReplaceForDateTx(tx *sql.Tx, region domain.Region, filterDate string, entries []Entry) error {
	if _, err := tx.Exec(
		"DELETE FROM filter_cache_stage1 WHERE region = ? AND filter_date = ?",
		string(region), filterDate); err != nil {
		return domain.NewStorageError("failed to clear stage1 snapshot", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO filter_cache_stage1
		(ticker, region, filter_date, ma5, ma20, ma60, rsi_14,
		 current_price_krw, week_52_high_krw, volume_3d_avg, volume_10d_avg,
		 composite_score, stage1_passed, filter_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return domain.NewStorageError("failed to prepare stage1 insert", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, e := range entries {
		passed := 0
		if e.Passed {
			passed = 1
		}
		if _, err := stmt.Exec(
			e.Ticker, string(e.Region), e.FilterDate,
			e.MA5, e.MA20, e.MA60, e.RSI14,
			e.PriceKRW, e.Week52HighKRW, e.Volume3dAvg, e.Volume10dAvg,
			e.CompositeScore, passed, e.Reason, now,
		); err != nil {
			return domain.NewStorageError("failed to insert stage1 entry", err)
		}
	}
	return nil
}

// Load returns a (region, filter_date) snapshot ordered by composite score.
func (r *Repository) Load(region domain.Region, filterDate string, passedOnly bool) ([]Entry, error) {
	query := `
		SELECT ticker, region, filter_date, ma5, ma20, ma60, rsi_14,
		       current_price_krw, week_52_high_krw, volume_3d_avg, volume_10d_avg,
		       composite_score, stage1_passed, filter_reason
		FROM filter_cache_stage1
		WHERE region = ? AND filter_date = ?`
	if passedOnly {
		query += " AND stage1_passed = 1"
	}
	query += " ORDER BY composite_score DESC"

	rows, err := r.db.Query(query, string(region), filterDate)
	if err != nil {
		return nil, domain.NewStorageError("failed to query stage1 snapshot", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var regionStr string
		var passed int
		if err := rows.Scan(
			&e.Ticker, &regionStr, &e.FilterDate,
			&e.MA5, &e.MA20, &e.MA60, &e.RSI14,
			&e.PriceKRW, &e.Week52HighKRW, &e.Volume3dAvg, &e.Volume10dAvg,
			&e.CompositeScore, &passed, &e.Reason,
		); err != nil {
			return nil, err
		}
		e.Region = domain.Region(regionStr)
		e.Passed = passed == 1
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
