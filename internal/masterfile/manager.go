// Package masterfile downloads, verifies, caches, and parses per-exchange
// ticker master files. It is the authoritative overseas ticker universe and
// exclusively owns the master-file cache directory.
package masterfile

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/jihoonkang/stockpipe/internal/domain"
)

// backupRetain is how many timestamped backups survive per market.
const backupRetain = 7

// MarketCodes lists the supported master-file market codes per region.
var MarketCodes = map[domain.Region][]string{
	domain.RegionUS: {"nas", "nys", "ams"},
	domain.RegionHK: {"hks"},
	domain.RegionCN: {"shs", "szs"},
	domain.RegionJP: {"tse"},
	domain.RegionVN: {"hnx", "hsx"},
}

// ExchangeCodeFor maps a master-file market code to the broker EXCD code.
var ExchangeCodeFor = map[string]string{
	"nas": "NAS", "nys": "NYS", "ams": "AMS",
	"hks": "HKS", "shs": "SHS", "szs": "SZS",
	"tse": "TSE", "hnx": "HNX", "hsx": "HSX",
}

// Manager maintains the on-disk master-file cache with size-delta change
// detection against the CDN and a per-market backup ring.
type Manager struct {
	baseURL    string // CDN base, e.g. https://new.real.download.dws.co.kr/common/master
	dir        string // data/master_files
	httpClient *http.Client
	log        zerolog.Logger
	now        func() time.Time
}

// NewManager creates a master-file manager rooted at dir.
func NewManager(baseURL, dir string, log zerolog.Logger) *Manager {
	return &Manager{
		baseURL:    baseURL,
		dir:        dir,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		log:        log.With().Str("component", "masterfile").Logger(),
		now:        time.Now,
	}
}

// archivePath is the local cache location for a market's archive.
func (m *Manager) archivePath(market string) string {
	return filepath.Join(m.dir, market+".cod.zip")
}

func (m *Manager) remoteURL(market string) string {
	return fmt.Sprintf("%s/%smst.cod.zip", m.baseURL, market)
}

// EnsureFresh downloads the market's archive when the remote copy differs
// from the local cache, then returns the parsed records. Change detection is
// an HTTP HEAD comparing Content-Length: equal size means unchanged, a
// strictly larger remote means new listings, and a smaller remote is treated
// as possible upstream corruption and forces a download after backing up the
// local copy.
func (m *Manager) EnsureFresh(market string) ([]Record, error) {
	changed, suspicious, err := m.remoteChanged(market)
	if err != nil {
		// HEAD failure: serve the cached archive when one exists.
		if _, statErr := os.Stat(m.archivePath(market)); statErr == nil {
			m.log.Warn().Err(err).Str("market", market).Msg("Change check failed, using cached master file")
			return m.Parse(market)
		}
		return nil, err
	}

	if changed {
		if suspicious {
			m.log.Warn().Str("market", market).
				Msg("Remote master file smaller than local cache, forcing download with backup")
		}
		if err := m.download(market); err != nil {
			return nil, err
		}
	}
	return m.Parse(market)
}

// remoteChanged compares remote Content-Length against the cached archive.
func (m *Manager) remoteChanged(market string) (changed, suspicious bool, err error) {
	resp, err := m.httpClient.Head(m.remoteURL(market))
	if err != nil {
		return false, false, domain.NewTransientError("master file HEAD failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, false, domain.NewTransientError(fmt.Sprintf("master file HEAD returned HTTP %d", resp.StatusCode), nil)
	}

	remoteSize, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	if err != nil || remoteSize <= 0 {
		return false, false, domain.NewTransientError("master file HEAD missing Content-Length", err)
	}

	info, statErr := os.Stat(m.archivePath(market))
	if statErr != nil {
		return true, false, nil // No local cache yet
	}

	localSize := info.Size()
	switch {
	case remoteSize == localSize:
		return false, false, nil
	case remoteSize < localSize:
		return true, true, nil
	default:
		return true, false, nil
	}
}

// download streams the archive to a temp path, verifies non-zero size, backs
// up the existing file, and atomically renames into place.
func (m *Manager) download(market string) error {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return fmt.Errorf("failed to create master file directory: %w", err)
	}

	resp, err := m.httpClient.Get(m.remoteURL(market))
	if err != nil {
		return domain.NewTransientError("master file download failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.NewTransientError(fmt.Sprintf("master file download returned HTTP %d", resp.StatusCode), nil)
	}

	target := m.archivePath(market)
	tmp := target + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create temp archive: %w", err)
	}
	written, err := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if err != nil {
		_ = os.Remove(tmp)
		return domain.NewTransientError("master file stream interrupted", err)
	}
	if closeErr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to close temp archive: %w", closeErr)
	}
	if written == 0 {
		_ = os.Remove(tmp)
		return domain.NewTransientError("master file download was empty", nil)
	}

	if err := m.backup(market); err != nil {
		m.log.Warn().Err(err).Str("market", market).Msg("Backup before overwrite failed")
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace master file: %w", err)
	}
	m.invalidateParseCache(market)

	m.log.Info().Str("market", market).Int64("bytes", written).Msg("Master file updated")
	return nil
}

// backup copies the current archive into the ring and prunes to the newest
// backupRetain entries.
func (m *Manager) backup(market string) error {
	src := m.archivePath(market)
	if _, err := os.Stat(src); err != nil {
		return nil // Nothing to back up
	}

	backupDir := filepath.Join(m.dir, "backups")
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	stamp := m.now().Format("20060102_150405")
	dst := filepath.Join(backupDir, fmt.Sprintf("%s.%s.bak", market, stamp))
	if err := copyFile(src, dst); err != nil {
		return fmt.Errorf("failed to copy backup: %w", err)
	}

	return m.pruneBackups(market, backupDir)
}

func (m *Manager) pruneBackups(market, backupDir string) error {
	matches, err := filepath.Glob(filepath.Join(backupDir, market+".*.bak"))
	if err != nil {
		return err
	}
	if len(matches) <= backupRetain {
		return nil
	}
	// Timestamped names sort chronologically.
	sort.Strings(matches)
	for _, stale := range matches[:len(matches)-backupRetain] {
		if err := os.Remove(stale); err != nil {
			m.log.Warn().Err(err).Str("backup", stale).Msg("Failed to prune backup")
		}
	}
	return nil
}

// restoreLatestBackup replaces a corrupt archive with the newest ring entry.
func (m *Manager) restoreLatestBackup(market string) error {
	matches, err := filepath.Glob(filepath.Join(m.dir, "backups", market+".*.bak"))
	if err != nil || len(matches) == 0 {
		return fmt.Errorf("no backups available for %s", market)
	}
	sort.Strings(matches)
	newest := matches[len(matches)-1]

	if err := copyFile(newest, m.archivePath(market)); err != nil {
		return fmt.Errorf("failed to restore backup %s: %w", newest, err)
	}
	m.invalidateParseCache(market)
	m.log.Info().Str("market", market).Str("backup", newest).Msg("Restored master file from backup")
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
