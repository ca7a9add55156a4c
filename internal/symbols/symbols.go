// Package symbols maps between exchange-native symbol spellings and the
// canonical "BASE/QUOTE" form used everywhere inside the platform.
//
// Normalize is idempotent on already-canonical input and returns unrecognized
// symbols unchanged. Denormalize(Normalize(x)) need not reproduce x exactly
// (aliasing is lossy) but always yields a spelling the exchange accepts.
package symbols

import (
	"sort"
	"strings"
)

// quoteSuffixes lists the quote currencies each exchange concatenates onto
// the base asset, matched longest-first so "ZUSD" wins over "USD".
var quoteSuffixes = map[string][]string{
	"binance": {
		"USDT", "FDUSD", "USDC", "TUSD", "BUSD", "USD",
		"BTC", "ETH", "BNB", "EUR", "TRY", "DAI",
	},
	"kraken": {
		"ZUSD", "ZEUR", "ZGBP", "ZJPY", "ZCAD",
		"USDT", "USDC", "USD", "EUR", "GBP", "DAI",
	},
}

// assetAliases maps exchange-native asset codes to canonical ones.
var assetAliases = map[string]map[string]string{
	"kraken": {
		"XBT": "BTC", "XXBT": "BTC",
		"XETH": "ETH",
		"XDG": "DOGE", "XXDG": "DOGE",
		"XXRP": "XRP", "XLTC": "LTC", "XXLM": "XLM",
		"XXMR": "XMR", "XZEC": "ZEC", "XETC": "ETC", "XMLN": "MLN",
		"ZUSD": "USD", "ZEUR": "EUR", "ZGBP": "GBP",
		"ZJPY": "JPY", "ZCAD": "CAD",
	},
}

// nativeAliases inverts assetAliases for Denormalize, preferring the short
// spelling where the exchange has several (XBT over XXBT).
var nativeAliases = map[string]map[string]string{
	"kraken": {
		"BTC":  "XBT",
		"DOGE": "XDG",
	},
}

func init() {
	for _, suffixes := range quoteSuffixes {
		sort.SliceStable(suffixes, func(i, j int) bool {
			return len(suffixes[i]) > len(suffixes[j])
		})
	}
}

// Normalize converts an exchange-native symbol to canonical "BASE/QUOTE".
// A raw symbol matching no known quote suffix is returned unchanged.
func Normalize(raw, exchange string) string {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if raw == "" {
		return raw
	}

	// Already-delimited input (canonical or kraken WS pair): re-alias the
	// parts so Normalize is idempotent and canonicalizes "XBT/USD".
	if base, quote, found := strings.Cut(raw, "/"); found {
		return alias(base, exchange) + "/" + alias(quote, exchange)
	}
	if base, quote, found := strings.Cut(raw, "-"); found {
		return alias(base, exchange) + "/" + alias(quote, exchange)
	}

	for _, suffix := range quoteSuffixes[exchange] {
		if len(raw) > len(suffix) && strings.HasSuffix(raw, suffix) {
			base := raw[:len(raw)-len(suffix)]
			return alias(base, exchange) + "/" + alias(suffix, exchange)
		}
	}
	return raw
}

// Denormalize converts a canonical "BASE/QUOTE" symbol to the spelling the
// given exchange accepts in subscribe payloads.
func Denormalize(canonical, exchange string) string {
	base, quote, found := strings.Cut(strings.ToUpper(canonical), "/")
	if !found {
		return canonical
	}

	switch exchange {
	case "binance":
		return base + quote
	case "coinbase":
		return base + "-" + quote
	case "kraken":
		// Kraken WS v1 takes slash-delimited pairs with native codes.
		return nativeAlias(base, exchange) + "/" + nativeAlias(quote, exchange)
	default:
		return base + "/" + quote
	}
}

func alias(asset, exchange string) string {
	if m := assetAliases[exchange]; m != nil {
		if canonical, ok := m[asset]; ok {
			return canonical
		}
	}
	return asset
}

func nativeAlias(asset, exchange string) string {
	if m := nativeAliases[exchange]; m != nil {
		if native, ok := m[asset]; ok {
			return native
		}
	}
	return asset
}
