package symbols

import (
	"strings"

	"liqflow/internal/models"
)

// aliases lists tickers that name the same base asset on some venues.
var aliases = map[string][]string{
	"BTC": {"BTC", "XBT"},
	"XBT": {"BTC", "XBT"},
}

func candidates(asset string) []string {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if a, ok := aliases[asset]; ok {
		return a
	}
	return []string{asset}
}

// Contains reports whether the instrument name mentions the base asset.
// BTC and XBT are treated as the same asset.
func Contains(symbol, asset string) bool {
	if asset == "" {
		return false
	}
	symbol = strings.ToUpper(symbol)
	for _, c := range candidates(asset) {
		if strings.Contains(symbol, c) {
			return true
		}
	}
	return false
}

// HasBase reports whether the instrument starts with the base asset, as HTX
// contract codes do ("BTC-USDT").
func HasBase(symbol, asset string) bool {
	if asset == "" {
		return false
	}
	symbol = strings.ToUpper(symbol)
	for _, c := range candidates(asset) {
		if strings.HasPrefix(symbol, c) {
			return true
		}
	}
	return false
}

// IsInverse reports whether a BitMEX instrument is XBT-margined and quoted in
// USD contracts.
func IsInverse(symbol string) bool {
	return strings.Contains(strings.ToUpper(symbol), "XBT")
}

// Normalize converts exchange-specific instrument names to one style:
// uppercase, no separators, BTC instead of XBT.
func Normalize(exchange models.Exchange, sym string) string {
	sym = strings.ToUpper(strings.TrimSpace(sym))
	switch exchange {
	case models.Binance, models.Bybit:
		switch sym {
		case "1000PEPEUSDT":
			sym = "PEPEUSDT"
		case "1000SHIBUSDT", "SHIB1000USDT":
			sym = "SHIBUSDT"
		}
	case models.OKX:
		sym = strings.TrimSuffix(sym, "-SWAP")
		sym = strings.ReplaceAll(sym, "-", "")
	case models.HTX:
		sym = strings.ReplaceAll(sym, "-", "")
	case models.BitMEX:
		if strings.HasPrefix(sym, "XBT") {
			sym = "BTC" + sym[3:]
		}
	}
	return sym
}
