// Package execlog records one append-only row per (execution_date, stage,
// region) pipeline run: input/output counts, reduction rate, elapsed time.
package execlog

import (
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/jihoonkang/stockpipe/internal/domain"
)

// Entry is one pipeline execution record.
type Entry struct {
	ExecutionDate  string        `json:"execution_date"`
	Stage          int           `json:"stage"`
	Region         domain.Region `json:"region"`
	InputCount     int           `json:"input_count"`
	OutputCount    int           `json:"output_count"`
	ReductionRate  float64       `json:"reduction_rate"`
	ElapsedSeconds float64       `json:"elapsed_seconds"`
}

// Repository appends and reads filter_execution_log rows.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates an execution-log repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("repo", "execlog").Logger()}
}

// Record appends one execution row. Reduction rate is derived from the
// counts; a zero input logs a 0 rate rather than dividing by zero.
func (r *Repository) Record(stage int, region domain.Region, inputCount, outputCount int, elapsed time.Duration) error {
	reduction := 0.0
	if inputCount > 0 {
		reduction = 1 - float64(outputCount)/float64(inputCount)
	}

	_, err := r.db.Exec(`
		INSERT INTO filter_execution_log
		(execution_date, stage, region, input_count, output_count, reduction_rate, elapsed_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		time.Now().Format("2006-01-02"), stage, string(region),
		inputCount, outputCount, reduction, elapsed.Seconds(), time.Now().Unix())
	if err != nil {
		return domain.NewStorageError("failed to record execution log", err)
	}
	return nil
}

// RecordTx appends inside a caller-owned transaction (stage snapshot commit).
func (r *Repository) RecordTx(tx *sql.Tx, stage int, region domain.Region, inputCount, outputCount int, elapsed time.Duration) error {
	reduction := 0.0
	if inputCount > 0 {
		reduction = 1 - float64(outputCount)/float64(inputCount)
	}
	_, err := tx.Exec(`
		INSERT INTO filter_execution_log
		(execution_date, stage, region, input_count, output_count, reduction_rate, elapsed_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		time.Now().Format("2006-01-02"), stage, string(region),
		inputCount, outputCount, reduction, elapsed.Seconds(), time.Now().Unix())
	if err != nil {
		return domain.NewStorageError("failed to record execution log", err)
	}
	return nil
}

// Recent returns the newest rows for a stage/region (status reporting).
func (r *Repository) Recent(stage int, region domain.Region, limit int) ([]Entry, error) {
	rows, err := r.db.Query(`
		SELECT execution_date, stage, region, input_count, output_count, reduction_rate, elapsed_seconds
		FROM filter_execution_log
		WHERE stage = ? AND region = ?
		ORDER BY id DESC LIMIT ?`,
		stage, string(region), limit)
	if err != nil {
		return nil, domain.NewStorageError("failed to query execution log", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var region string
		if err := rows.Scan(&e.ExecutionDate, &e.Stage, &region, &e.InputCount, &e.OutputCount, &e.ReductionRate, &e.ElapsedSeconds); err != nil {
			return nil, err
		}
		e.Region = domain.Region(region)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
