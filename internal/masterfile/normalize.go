package masterfile

import "strings"

// NormalizeTicker converts a raw master-file symbol into the canonical form
// used for joins against OHLCV rows and order endpoints. The mapping is
// idempotent: normalizing an already-normalized symbol is a no-op.
//
//	nas/nys/ams  AAPL, aapl   -> AAPL
//	hks          700, 0700    -> 0700.HK
//	shs          600519       -> 600519.SS
//	szs          000001       -> 000001.SZ
//	tse          7203         -> 7203
//	hnx/hsx      vnm          -> VNM
func NormalizeTicker(symbol, marketCode string) string {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return ""
	}

	switch marketCode {
	case "nas", "nys", "ams":
		return strings.ToUpper(symbol)
	case "hks":
		base := strings.ToUpper(strings.TrimSuffix(strings.ToUpper(symbol), ".HK"))
		for len(base) < 4 {
			base = "0" + base
		}
		return base + ".HK"
	case "shs":
		return strings.TrimSuffix(strings.ToUpper(symbol), ".SS") + ".SS"
	case "szs":
		return strings.TrimSuffix(strings.ToUpper(symbol), ".SZ") + ".SZ"
	case "tse":
		return symbol
	case "hnx", "hsx":
		return strings.ToUpper(symbol)
	}
	return symbol
}
