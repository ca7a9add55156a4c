package symbols

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw      string
		exchange string
		want     string
	}{
		{"BTCUSDT", "binance", "BTC/USDT"},
		{"ETHBTC", "binance", "ETH/BTC"},
		{"SOLFDUSD", "binance", "SOL/FDUSD"},
		{"XXBTZUSD", "kraken", "BTC/USD"},
		{"XETHZEUR", "kraken", "ETH/EUR"},
		{"XBTUSDT", "kraken", "BTC/USDT"},
		{"XBT/USD", "kraken", "BTC/USD"},
		{"XDG/USD", "kraken", "DOGE/USD"},
		{"BTC-USD", "coinbase", "BTC/USD"},
		{"ETH-EUR", "coinbase", "ETH/EUR"},

		// Already canonical: idempotent.
		{"BTC/USDT", "binance", "BTC/USDT"},
		{"BTC/USD", "kraken", "BTC/USD"},
		{"BTC/USD", "coinbase", "BTC/USD"},

		// Unknown quote suffix: returned unchanged, never an error.
		{"FOOBARBAZ", "binance", "FOOBARBAZ"},
		{"WEIRD", "kraken", "WEIRD"},
		{"NODASH", "coinbase", "NODASH"},

		// Whitespace and case are cleaned up.
		{" btcusdt ", "binance", "BTC/USDT"},
	}

	for _, tt := range tests {
		if got := Normalize(tt.raw, tt.exchange); got != tt.want {
			t.Errorf("Normalize(%q, %q) = %q, want %q", tt.raw, tt.exchange, got, tt.want)
		}
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []struct{ raw, exchange string }{
		{"BTCUSDT", "binance"},
		{"XXBTZUSD", "kraken"},
		{"BTC-USD", "coinbase"},
	}
	for _, in := range inputs {
		once := Normalize(in.raw, in.exchange)
		twice := Normalize(once, in.exchange)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q on %s: %q then %q",
				in.raw, in.exchange, once, twice)
		}
	}
}

func TestDenormalize(t *testing.T) {
	tests := []struct {
		canonical string
		exchange  string
		want      string
	}{
		{"BTC/USDT", "binance", "BTCUSDT"},
		{"BTC/USD", "coinbase", "BTC-USD"},
		{"BTC/USD", "kraken", "XBT/USD"},
		{"DOGE/USD", "kraken", "XDG/USD"},
		{"ETH/EUR", "kraken", "ETH/EUR"},
		{"BTC/USD", "coingecko", "BTC/USD"},
	}

	for _, tt := range tests {
		if got := Denormalize(tt.canonical, tt.exchange); got != tt.want {
			t.Errorf("Denormalize(%q, %q) = %q, want %q", tt.canonical, tt.exchange, got, tt.want)
		}
	}
}

func TestDenormalize_RoundTripAccepted(t *testing.T) {
	// Denormalize(Normalize(x)) need not equal x, but re-normalizing the
	// native spelling must land back on the same canonical symbol.
	tests := []struct{ raw, exchange string }{
		{"BTCUSDT", "binance"},
		{"XXBTZUSD", "kraken"},
		{"BTC-USD", "coinbase"},
	}
	for _, tt := range tests {
		canonical := Normalize(tt.raw, tt.exchange)
		native := Denormalize(canonical, tt.exchange)
		if got := Normalize(native, tt.exchange); got != canonical {
			t.Errorf("round trip %q on %s: canonical %q, native %q, re-normalized %q",
				tt.raw, tt.exchange, canonical, native, got)
		}
	}
}
