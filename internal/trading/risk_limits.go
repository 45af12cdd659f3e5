package trading

import (
	"database/sql"

	"github.com/jihoonkang/stockpipe/internal/domain"
)

// LoadRiskLimits reads the risk_limits row for a profile. Profiles are
// seeded by migration; a missing row is a configuration error.
func LoadRiskLimits(db *sql.DB, profile string) (RiskLimits, error) {
	var l RiskLimits
	err := db.QueryRow(`
		SELECT profile, max_positions, max_single_position_percent,
		       max_sector_exposure_percent, daily_loss_limit_percent, consecutive_loss_limit
		FROM risk_limits WHERE profile = ?`,
		profile).Scan(
		&l.Profile, &l.MaxPositions, &l.MaxSinglePositionPct,
		&l.MaxSectorExposurePct, &l.DailyLossLimitPct, &l.ConsecutiveLossLimit)
	if err == sql.ErrNoRows {
		return l, domain.NewValidationError("unknown risk profile: " + profile)
	}
	if err != nil {
		return l, domain.NewStorageError("failed to load risk limits", err)
	}
	return l, nil
}
