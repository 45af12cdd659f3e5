package stage2

import (
	"database/sql"

	"github.com/rs/zerolog"

	"github.com/jihoonkang/stockpipe/internal/domain"
)

// Module score column order, fixed by the schema.
var scoreColumns = []string{
	"market_regime", "volume_profile", "price_action",
	"stage_analysis", "moving_average", "relative_strength",
	"pattern_recognition", "volume_spike", "momentum",
}

// Entry is one filter_cache_stage2 row.
type Entry struct {
	Ticker            string
	Region            domain.Region
	CacheTimestamp    int64
	TotalScore        int
	ModuleScores      map[string]int // keyed by module name
	MarketRegime      string
	VolatilityRegime  string
	Recommendation    domain.Recommendation
	DetectedPattern   domain.DetectedPattern
	PatternConfidence float64
	ScoreExplanations string // JSON blob, module name -> explanation
	ExecutionTimeMs   int64
}

// Repository persists scoring results.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a stage2 repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("repo", "stage2").Logger()}
}

// InsertTx appends one scoring result. Results are append-only, keyed by
// cache_timestamp; Latest picks the newest per ticker.
func (r *Repository) InsertTx(tx *sql.Tx, e Entry) error {
	_, err := tx.Exec(`
		INSERT OR REPLACE INTO filter_cache_stage2
		(ticker, region, cache_timestamp, total_score,
		 market_regime_score, volume_profile_score, price_action_score,
		 stage_analysis_score, moving_average_score, relative_strength_score,
		 pattern_score, volume_spike_score, momentum_score,
		 market_regime, volatility_regime, recommendation,
		 detected_pattern, pattern_confidence, score_explanations, execution_time_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Ticker, string(e.Region), e.CacheTimestamp, e.TotalScore,
		e.ModuleScores["market_regime"], e.ModuleScores["volume_profile"], e.ModuleScores["price_action"],
		e.ModuleScores["stage_analysis"], e.ModuleScores["moving_average"], e.ModuleScores["relative_strength"],
		e.ModuleScores["pattern_recognition"], e.ModuleScores["volume_spike"], e.ModuleScores["momentum"],
		e.MarketRegime, e.VolatilityRegime, string(e.Recommendation),
		string(e.DetectedPattern), e.PatternConfidence, e.ScoreExplanations, e.ExecutionTimeMs)
	if err != nil {
		return domain.NewStorageError("failed to insert stage2 entry", err)
	}
	return nil
}

// Latest returns the newest scoring result per ticker for a region,
// strongest first.
func (r *Repository) Latest(region domain.Region, limit int) ([]Entry, error) {
	query := `
		SELECT ticker, region, cache_timestamp, total_score,
		       market_regime_score, volume_profile_score, price_action_score,
		       stage_analysis_score, moving_average_score, relative_strength_score,
		       pattern_score, volume_spike_score, momentum_score,
		       market_regime, volatility_regime, recommendation,
		       detected_pattern, pattern_confidence, score_explanations, execution_time_ms
		FROM filter_cache_stage2
		WHERE region = ?
		  AND cache_timestamp = (
			SELECT MAX(cache_timestamp) FROM filter_cache_stage2 s2
			WHERE s2.ticker = filter_cache_stage2.ticker AND s2.region = filter_cache_stage2.region
		  )
		ORDER BY total_score DESC`
	args := []interface{}{string(region)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, domain.NewStorageError("failed to query stage2 results", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e := Entry{ModuleScores: make(map[string]int, len(scoreColumns))}
		var regionStr, rec, pattern string
		scores := make([]int, len(scoreColumns))
		if err := rows.Scan(
			&e.Ticker, &regionStr, &e.CacheTimestamp, &e.TotalScore,
			&scores[0], &scores[1], &scores[2],
			&scores[3], &scores[4], &scores[5],
			&scores[6], &scores[7], &scores[8],
			&e.MarketRegime, &e.VolatilityRegime, &rec,
			&pattern, &e.PatternConfidence, &e.ScoreExplanations, &e.ExecutionTimeMs,
		); err != nil {
			return nil, err
		}
		e.Region = domain.Region(regionStr)
		e.Recommendation = domain.Recommendation(rec)
		e.DetectedPattern = domain.DetectedPattern(pattern)
		for i, name := range scoreColumns {
			e.ModuleScores[name] = scores[i]
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Get returns the newest result for one ticker, or nil when never scored.
func (r *Repository) Get(ticker string, region domain.Region) (*Entry, error) {
	entries, err := r.latestFor(ticker, region)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

func (r *Repository) latestFor(ticker string, region domain.Region) ([]Entry, error) {
	rows, err := r.db.Query(`
		SELECT ticker, region, cache_timestamp, total_score,
		       market_regime_score, volume_profile_score, price_action_score,
		       stage_analysis_score, moving_average_score, relative_strength_score,
		       pattern_score, volume_spike_score, momentum_score,
		       market_regime, volatility_regime, recommendation,
		       detected_pattern, pattern_confidence, score_explanations, execution_time_ms
		FROM filter_cache_stage2
		WHERE ticker = ? AND region = ?
		ORDER BY cache_timestamp DESC LIMIT 1`,
		ticker, string(region))
	if err != nil {
		return nil, domain.NewStorageError("failed to query stage2 result", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e := Entry{ModuleScores: make(map[string]int, len(scoreColumns))}
		var regionStr, rec, pattern string
		scores := make([]int, len(scoreColumns))
		if err := rows.Scan(
			&e.Ticker, &regionStr, &e.CacheTimestamp, &e.TotalScore,
			&scores[0], &scores[1], &scores[2],
			&scores[3], &scores[4], &scores[5],
			&scores[6], &scores[7], &scores[8],
			&e.MarketRegime, &e.VolatilityRegime, &rec,
			&pattern, &e.PatternConfidence, &e.ScoreExplanations, &e.ExecutionTimeMs,
		); err != nil {
			return nil, err
		}
		e.Region = domain.Region(regionStr)
		e.Recommendation = domain.Recommendation(rec)
		e.DetectedPattern = domain.DetectedPattern(pattern)
		for i, name := range scoreColumns {
			e.ModuleScores[name] = scores[i]
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
