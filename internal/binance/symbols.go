package binance

import "strings"

// BaseAsset derives the base asset of a trading pair symbol by stripping
// the first matching quote-asset suffix, e.g. "LTCUSDC" -> "LTC" for a
// quote list containing "USDC". Symbols without a recognized quote suffix
// are returned unchanged; the balance lookup will then fail loudly instead
// of polling the wrong asset.
func BaseAsset(symbol string, quoteAssets []string) string {
	for _, quote := range quoteAssets {
		if quote == "" || len(quote) >= len(symbol) {
			continue
		}
		if strings.HasSuffix(symbol, quote) {
			return strings.TrimSuffix(symbol, quote)
		}
	}
	return symbol
}
