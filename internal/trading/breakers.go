package trading

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/jihoonkang/stockpipe/internal/domain"
)

// BreakerType names a circuit breaker.
type BreakerType string

const (
	BreakerDailyLoss       BreakerType = "DAILY_LOSS_LIMIT"
	BreakerConsecutiveLoss BreakerType = "CONSECUTIVE_LOSS"
	BreakerManualHalt      BreakerType = "MANUAL_HALT"
)

// BreakerLog is one circuit_breaker_logs row.
type BreakerLog struct {
	ID           int64
	Type         BreakerType
	TriggerValue float64
	LimitValue   float64
	Reason       string
	Metadata     map[string]string
	TrippedAt    time.Time
	ActionTaken  *string
	ResolvedAt   *time.Time
	ResolvedBy   *string
}

// BreakerRepository persists breaker trips. A tripped breaker blocks orders
// until a resolution row is written; restarts do not reset it.
type BreakerRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewBreakerRepository creates a breaker repository.
func NewBreakerRepository(db *sql.DB, log zerolog.Logger) *BreakerRepository {
	return &BreakerRepository{db: db, log: log.With().Str("repo", "breakers").Logger()}
}

// Trip records a breaker activation. An already-active breaker of the same
// type is not duplicated.
func (r *BreakerRepository) Trip(bt BreakerType, triggerValue, limitValue float64, reason string, metadata map[string]string) error {
	active, err := r.isActive(bt)
	if err != nil {
		return err
	}
	if active {
		return nil
	}

	meta, err := json.Marshal(metadata)
	if err != nil {
		meta = []byte("{}")
	}
	_, err = r.db.Exec(`
		INSERT INTO circuit_breaker_logs
		(breaker_type, trigger_value, limit_value, reason, metadata, tripped_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(bt), triggerValue, limitValue, reason, string(meta), time.Now().Unix())
	if err != nil {
		return domain.NewStorageError("failed to record breaker trip", err)
	}

	r.log.Error().Str("breaker", string(bt)).Float64("trigger", triggerValue).
		Float64("limit", limitValue).Str("reason", reason).Msg("Circuit breaker tripped")
	return nil
}

// Active returns the unresolved breaker trips.
func (r *BreakerRepository) Active() ([]BreakerLog, error) {
	rows, err := r.db.Query(`
		SELECT id, breaker_type, trigger_value, limit_value, reason, metadata, tripped_at
		FROM circuit_breaker_logs
		WHERE resolved_at IS NULL
		ORDER BY tripped_at ASC`)
	if err != nil {
		return nil, domain.NewStorageError("failed to query active breakers", err)
	}
	defer rows.Close()

	var logs []BreakerLog
	for rows.Next() {
		var l BreakerLog
		var bt, meta string
		var trippedAt int64
		if err := rows.Scan(&l.ID, &bt, &l.TriggerValue, &l.LimitValue, &l.Reason, &meta, &trippedAt); err != nil {
			return nil, err
		}
		l.Type = BreakerType(bt)
		l.TrippedAt = time.Unix(trippedAt, 0)
		_ = json.Unmarshal([]byte(meta), &l.Metadata)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// Resolve closes every active trip of a breaker type.
func (r *BreakerRepository) Resolve(bt BreakerType, actionTaken, resolvedBy string) (int64, error) {
	res, err := r.db.Exec(`
		UPDATE circuit_breaker_logs
		SET action_taken = ?, resolved_at = ?, resolved_by = ?
		WHERE breaker_type = ? AND resolved_at IS NULL`,
		actionTaken, time.Now().Unix(), resolvedBy, string(bt))
	if err != nil {
		return 0, domain.NewStorageError("failed to resolve breaker", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		r.log.Info().Str("breaker", string(bt)).Int64("resolved", n).
			Str("by", resolvedBy).Msg("Circuit breaker resolved")
	}
	return n, nil
}

func (r *BreakerRepository) isActive(bt BreakerType) (bool, error) {
	var count int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM circuit_breaker_logs WHERE breaker_type = ? AND resolved_at IS NULL",
		string(bt)).Scan(&count)
	if err != nil {
		return false, domain.NewStorageError("failed to check breaker state", err)
	}
	return count > 0, nil
}
