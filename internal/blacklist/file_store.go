package blacklist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/jihoonkang/stockpipe/internal/domain"
)

// Entry is one temporary-blacklist record. An entry whose ExpireDate has
// passed is treated as absent by every reader.
type Entry struct {
	Reason     string `json:"reason"`
	AddedDate  string `json:"added_date"` // ISO "2006-01-02"
	AddedBy    string `json:"added_by"`
	ExpireDate string `json:"expire_date,omitempty"` // Empty = permanent until removed
	Notes      string `json:"notes,omitempty"`
}

// expired reports whether the entry has lapsed as of today.
func (e Entry) expired(today time.Time) bool {
	if e.ExpireDate == "" {
		return false
	}
	expire, err := time.Parse("2006-01-02", e.ExpireDate)
	if err != nil {
		return false // Unparseable expiry keeps the entry active
	}
	todayDate := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	return expire.Before(todayDate)
}

// fileStore owns the temporary-blacklist JSON file. The on-disk shape is
// region -> ticker -> Entry, pretty-printed for hand editing.
type fileStore struct {
	path string
	log  zerolog.Logger
	now  func() time.Time

	entries map[domain.Region]map[string]Entry
}

func newFileStore(path string, log zerolog.Logger) *fileStore {
	s := &fileStore{
		path: path,
		log:  log,
		now:  time.Now,
	}
	s.load()
	return s
}

// load reads the file, quarantining an unparseable one (timestamped rename)
// and starting empty so a hand-edit typo never blocks the pipeline.
func (s *fileStore) load() {
	s.entries = make(map[domain.Region]map[string]Entry)

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("Failed to read blacklist file, starting empty")
		return
	}

	var raw map[string]map[string]Entry
	if err := json.Unmarshal(data, &raw); err != nil {
		quarantine := fmt.Sprintf("%s.corrupt.%s", s.path, s.now().Format("20060102_150405"))
		if renameErr := os.Rename(s.path, quarantine); renameErr == nil {
			s.log.Warn().Err(err).Str("quarantine", quarantine).Msg("Corrupt blacklist file moved aside")
		} else {
			s.log.Warn().Err(err).Msg("Corrupt blacklist file could not be quarantined")
		}
		return
	}

	for regionStr, tickers := range raw {
		region, err := domain.ParseRegion(regionStr)
		if err != nil {
			s.log.Warn().Str("region", regionStr).Msg("Skipping unknown region in blacklist file")
			continue
		}
		s.entries[region] = tickers
	}
}

// save writes the file pretty-printed, via temp file + rename.
func (s *fileStore) save() error {
	raw := make(map[string]map[string]Entry, len(s.entries))
	for region, tickers := range s.entries {
		if len(tickers) > 0 {
			raw[string(region)] = tickers
		}
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode blacklist: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create blacklist directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write blacklist: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace blacklist: %w", err)
	}
	return nil
}

// get returns the entry for (region, ticker) if present and unexpired.
func (s *fileStore) get(region domain.Region, ticker string) (Entry, bool) {
	entry, ok := s.entries[region][ticker]
	if !ok || entry.expired(s.now()) {
		return Entry{}, false
	}
	return entry, true
}

// active returns the unexpired ticker set for a region.
func (s *fileStore) active(region domain.Region) map[string]Entry {
	out := make(map[string]Entry)
	for ticker, entry := range s.entries[region] {
		if !entry.expired(s.now()) {
			out[ticker] = entry
		}
	}
	return out
}

func (s *fileStore) put(region domain.Region, ticker string, entry Entry) error {
	if s.entries[region] == nil {
		s.entries[region] = make(map[string]Entry)
	}
	s.entries[region][ticker] = entry
	return s.save()
}

func (s *fileStore) remove(region domain.Region, ticker string) (bool, error) {
	if _, ok := s.entries[region][ticker]; !ok {
		return false, nil
	}
	delete(s.entries[region], ticker)
	return true, s.save()
}

// cleanupExpired physically removes lapsed entries, returning the count.
func (s *fileStore) cleanupExpired() (int, error) {
	removed := 0
	for region, tickers := range s.entries {
		for ticker, entry := range tickers {
			if entry.expired(s.now()) {
				delete(s.entries[region], ticker)
				removed++
			}
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.save()
}
