package masterfile

import (
	"archive/zip"
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Record is one parsed master-file row for a tradable instrument.
type Record struct {
	Ticker       string `msgpack:"ticker"` // Normalized (see NormalizeTicker)
	RawSymbol    string `msgpack:"raw_symbol"`
	Name         string `msgpack:"name"`
	EnglishName  string `msgpack:"english_name"`
	MarketCode   string `msgpack:"market_code"` // nas/nys/ams/hks/shs/szs/tse/hnx/hsx
	Exchange     string `msgpack:"exchange"`    // Broker EXCD code
	SecurityType string `msgpack:"security_type"`
	Currency     string `msgpack:"currency"`
	LotSize      int    `msgpack:"lot_size"`
}

// Master-file rows are tab-separated with a fixed 24-column layout. Only the
// columns below are consumed; the rest are carried by the upstream for its
// own clients.
const (
	masterColumns   = 24
	colSymbol       = 4
	colKoreanName   = 6
	colEnglishName  = 7
	colSecurityType = 8
	colCurrency     = 9
	colLotSize      = 12

	// Security type 2 = common stock; everything else (indexes, warrants,
	// bonds) is filtered out.
	securityTypeStock = "2"
)

// Parse extracts and parses a market's cached archive, serving a msgpack
// sidecar cache when it is newer than the archive. A corrupt archive is
// restored from the backup ring and re-parsed once.
func (m *Manager) Parse(market string) ([]Record, error) {
	if records, ok := m.loadParseCache(market); ok {
		return records, nil
	}

	records, err := m.parseArchive(market)
	if err != nil {
		m.log.Warn().Err(err).Str("market", market).Msg("Master file parse failed, restoring from backup")
		if restoreErr := m.restoreLatestBackup(market); restoreErr != nil {
			return nil, fmt.Errorf("parse failed and restore failed: %v (parse error: %w)", restoreErr, err)
		}
		records, err = m.parseArchive(market)
		if err != nil {
			return nil, fmt.Errorf("parse failed after restore: %w", err)
		}
	}

	m.writeParseCache(market, records)
	return records, nil
}

func (m *Manager) parseArchive(market string) ([]Record, error) {
	reader, err := zip.OpenReader(m.archivePath(market))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer reader.Close()

	if len(reader.File) == 0 {
		return nil, fmt.Errorf("archive is empty")
	}

	// Archives contain a single .cod member.
	inner, err := reader.File[0].Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open archive member: %w", err)
	}
	defer inner.Close()

	return m.parseRecords(market, inner)
}

func (m *Manager) parseRecords(market string, r io.Reader) ([]Record, error) {
	var records []Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) < masterColumns {
			return nil, fmt.Errorf("line %d: expected %d columns, got %d", lineNo, masterColumns, len(fields))
		}

		if strings.TrimSpace(fields[colSecurityType]) != securityTypeStock {
			continue
		}

		raw := strings.TrimSpace(fields[colSymbol])
		if raw == "" {
			continue
		}

		lot := 1
		if v := strings.TrimSpace(fields[colLotSize]); v != "" {
			fmt.Sscanf(v, "%d", &lot)
			if lot <= 0 {
				lot = 1
			}
		}

		records = append(records, Record{
			Ticker:       NormalizeTicker(raw, market),
			RawSymbol:    raw,
			Name:         strings.TrimSpace(fields[colKoreanName]),
			EnglishName:  strings.TrimSpace(fields[colEnglishName]),
			MarketCode:   market,
			Exchange:     ExchangeCodeFor[market],
			SecurityType: securityTypeStock,
			Currency:     strings.TrimSpace(fields[colCurrency]),
			LotSize:      lot,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no common-stock records found")
	}
	return records, nil
}

// Parse-cache sidecar: parsed records serialized as msgpack next to the
// archive, valid while newer than the archive itself.

func (m *Manager) parseCachePath(market string) string {
	return filepath.Join(m.dir, market+".records.msgpack")
}

func (m *Manager) loadParseCache(market string) ([]Record, bool) {
	cachePath := m.parseCachePath(market)
	cacheInfo, err := os.Stat(cachePath)
	if err != nil {
		return nil, false
	}
	archiveInfo, err := os.Stat(m.archivePath(market))
	if err != nil || cacheInfo.ModTime().Before(archiveInfo.ModTime()) {
		return nil, false
	}

	data, err := os.ReadFile(cachePath)
	if err != nil {
		return nil, false
	}
	var records []Record
	if err := msgpack.Unmarshal(data, &records); err != nil {
		_ = os.Remove(cachePath)
		return nil, false
	}
	return records, true
}

func (m *Manager) writeParseCache(market string, records []Record) {
	data, err := msgpack.Marshal(records)
	if err != nil {
		return
	}
	if err := os.WriteFile(m.parseCachePath(market), data, 0644); err != nil {
		m.log.Debug().Err(err).Str("market", market).Msg("Failed to write parse cache")
	}
}

func (m *Manager) invalidateParseCache(market string) {
	_ = os.Remove(m.parseCachePath(market))
}
