package blacklist

import (
	"regexp"

	"github.com/jihoonkang/stockpipe/internal/domain"
)

// tickerFormats validates ticker codes per region before mutating operations.
// An invalid code is a caller error: the operation returns false and nothing
// is inserted.
var tickerFormats = map[domain.Region]*regexp.Regexp{
	domain.RegionKR: regexp.MustCompile(`^\d{6}$`),
	domain.RegionUS: regexp.MustCompile(`^[A-Z]{1,5}(\.[A-Z])?$`),
	domain.RegionCN: regexp.MustCompile(`^\d{6}\.(SS|SZ)$`),
	domain.RegionHK: regexp.MustCompile(`^\d{4,5}(\.HK)?$`),
	domain.RegionJP: regexp.MustCompile(`^\d{4}$`),
	domain.RegionVN: regexp.MustCompile(`^[A-Z]{3}$`),
}

// ValidTickerFormat reports whether a ticker code matches its region's shape.
func ValidTickerFormat(ticker string, region domain.Region) bool {
	re, ok := tickerFormats[region]
	if !ok {
		return false
	}
	return re.MatchString(ticker)
}
