// Package blacklist implements the dual-source exclusion set applied before
// any network or database-heavy work: the permanent DB flag (tickers with
// is_active=0) unioned with a file-backed temporary list carrying optional
// expiry dates.
package blacklist

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/jihoonkang/stockpipe/internal/domain"
	"github.com/jihoonkang/stockpipe/internal/modules/universe"
)

// Manager exposes the blacklist to the pipeline stages.
type Manager struct {
	tickers *universe.TickerRepository
	file    *fileStore
	log     zerolog.Logger
}

// NewManager creates a blacklist manager over the ticker repository and the
// temporary-blacklist file.
func NewManager(tickers *universe.TickerRepository, filePath string, log zerolog.Logger) *Manager {
	l := log.With().Str("component", "blacklist").Logger()
	return &Manager{
		tickers: tickers,
		file:    newFileStore(filePath, l),
		log:     l,
	}
}

// IsBlacklisted reports whether a ticker is excluded by either source.
func (m *Manager) IsBlacklisted(ticker string, region domain.Region) bool {
	if _, ok := m.file.get(region, ticker); ok {
		return true
	}
	t, err := m.tickers.Get(ticker, region)
	if err != nil {
		m.log.Warn().Err(err).Str("ticker", ticker).Msg("Blacklist DB check failed, treating as not blacklisted")
		return false
	}
	return t != nil && !t.IsActive
}

// FilterTickers removes blacklisted tickers, preserving input order. This is
// the hot path: one DB query for the region's inactive set plus the in-memory
// file entries, then a set difference.
func (m *Manager) FilterTickers(tickers []string, region domain.Region) []string {
	inactive, err := m.tickers.InactiveTickers(region)
	if err != nil {
		m.log.Warn().Err(err).Str("region", string(region)).Msg("Failed to load inactive tickers, using file blacklist only")
		inactive = map[string]bool{}
	}
	fileEntries := m.file.active(region)

	kept := make([]string, 0, len(tickers))
	for _, t := range tickers {
		if inactive[t] {
			continue
		}
		if _, listed := fileEntries[t]; listed {
			continue
		}
		kept = append(kept, t)
	}

	if dropped := len(tickers) - len(kept); dropped > 0 {
		m.log.Debug().
			Str("region", string(region)).
			Int("input", len(tickers)).
			Int("dropped", dropped).
			Msg("Blacklist filter applied")
	}
	return kept
}

// Add inserts a temporary-blacklist entry. Returns false (no insert) when the
// ticker code is malformed for the region.
func (m *Manager) Add(ticker string, region domain.Region, reason, addedBy string, expireDate *time.Time, notes string) bool {
	if !ValidTickerFormat(ticker, region) {
		m.log.Warn().Str("ticker", ticker).Str("region", string(region)).Msg("Rejecting malformed ticker for blacklist add")
		return false
	}

	entry := Entry{
		Reason:    reason,
		AddedDate: time.Now().Format("2006-01-02"),
		AddedBy:   addedBy,
		Notes:     notes,
	}
	if expireDate != nil {
		entry.ExpireDate = expireDate.Format("2006-01-02")
	}

	if err := m.file.put(region, ticker, entry); err != nil {
		m.log.Error().Err(err).Str("ticker", ticker).Msg("Failed to persist blacklist entry")
		return false
	}
	return true
}

// Remove deletes a temporary-blacklist entry; returns whether one existed.
func (m *Manager) Remove(ticker string, region domain.Region) bool {
	removed, err := m.file.remove(region, ticker)
	if err != nil {
		m.log.Error().Err(err).Str("ticker", ticker).Msg("Failed to persist blacklist removal")
		return false
	}
	return removed
}

// Deactivate permanently excludes a ticker (DB flag). Returns false when the
// code is malformed or the ticker is unknown.
func (m *Manager) Deactivate(ticker string, region domain.Region, reason string) bool {
	if !ValidTickerFormat(ticker, region) {
		return false
	}
	if err := m.tickers.Deactivate(ticker, region, reason); err != nil {
		m.log.Warn().Err(err).Str("ticker", ticker).Msg("Deactivate failed")
		return false
	}
	return true
}

// Reactivate reverses a permanent exclusion.
func (m *Manager) Reactivate(ticker string, region domain.Region) bool {
	if err := m.tickers.Reactivate(ticker, region); err != nil {
		m.log.Warn().Err(err).Str("ticker", ticker).Msg("Reactivate failed")
		return false
	}
	return true
}

// Entries returns the region's unexpired temporary entries (for the CLI list).
func (m *Manager) Entries(region domain.Region) map[string]Entry {
	return m.file.active(region)
}

// CleanupExpired removes lapsed file entries; returns how many were purged.
func (m *Manager) CleanupExpired() int {
	removed, err := m.file.cleanupExpired()
	if err != nil {
		m.log.Error().Err(err).Msg("Failed to persist blacklist cleanup")
	}
	if removed > 0 {
		m.log.Info().Int("removed", removed).Msg("Expired blacklist entries purged")
	}
	return removed
}

// RegionSummary holds per-region blacklist counts.
type RegionSummary struct {
	Region    domain.Region `json:"region"`
	Permanent int           `json:"permanent"`
	Temporary int           `json:"temporary"`
}

// Summary reports blacklist sizes for every region.
func (m *Manager) Summary() []RegionSummary {
	summaries := make([]RegionSummary, 0, len(domain.AllRegions))
	for _, region := range domain.AllRegions {
		_, inactive, err := m.tickers.CountByRegion(region)
		if err != nil {
			m.log.Warn().Err(err).Str("region", string(region)).Msg("Failed to count inactive tickers")
		}
		summaries = append(summaries, RegionSummary{
			Region:    region,
			Permanent: inactive,
			Temporary: len(m.file.active(region)),
		})
	}
	return summaries
}
