package model

import (
	"fmt"
	"math"
	"time"
)

// Tick is one normalized price update for one symbol from one exchange.
type Tick struct {
	Symbol    string    // Canonical "BASE/QUOTE" (e.g., "BTC/USDT")
	Exchange  string    // Source exchange (e.g., "binance", "coingecko")
	Bid       float64   // Best bid, 0 if not provided
	Ask       float64   // Best ask, 0 if not provided
	Last      float64   // Last traded price
	Volume24h float64   // 24-hour volume in base units
	Change24h float64   // 24-hour change percent
	Timestamp time.Time // Exchange timestamp, or receive time when absent
	RawSymbol string    // Exchange-native spelling (e.g., "BTCUSDT")
}

// HasQuote reports whether both sides of the book are present.
func (t Tick) HasQuote() bool {
	return t.Bid > 0 && t.Ask > 0
}

// SpreadRatio returns (ask-bid)/bid. Returns +Inf when either side is
// missing, so one-sided ticks always lose a tightest-spread comparison.
func (t Tick) SpreadRatio() float64 {
	if !t.HasQuote() {
		return math.Inf(1)
	}
	return (t.Ask - t.Bid) / t.Bid
}

// Crossed reports bid > ask with both sides present. A crossed quote is a
// data-quality signal, not an error.
func (t Tick) Crossed() bool {
	return t.HasQuote() && t.Bid > t.Ask
}

// Payload converts the tick to an envelope payload.
func (t Tick) Payload() map[string]any {
	return map[string]any{
		"symbol":     t.Symbol,
		"exchange":   t.Exchange,
		"bid":        t.Bid,
		"ask":        t.Ask,
		"last":       t.Last,
		"volume_24h": t.Volume24h,
		"change_24h": t.Change24h,
		"ts":         t.Timestamp.UTC().Format(time.RFC3339Nano),
		"raw_symbol": t.RawSymbol,
	}
}

// TickFromPayload reconstructs a tick from an envelope payload.
func TickFromPayload(p map[string]any) (Tick, error) {
	symbol, ok := p["symbol"].(string)
	if !ok || symbol == "" {
		return Tick{}, fmt.Errorf("payload missing symbol")
	}
	exchange, ok := p["exchange"].(string)
	if !ok || exchange == "" {
		return Tick{}, fmt.Errorf("payload missing exchange")
	}

	t := Tick{
		Symbol:    symbol,
		Exchange:  exchange,
		Bid:       payloadFloat(p, "bid"),
		Ask:       payloadFloat(p, "ask"),
		Last:      payloadFloat(p, "last"),
		Volume24h: payloadFloat(p, "volume_24h"),
		Change24h: payloadFloat(p, "change_24h"),
	}
	if raw, ok := p["raw_symbol"].(string); ok {
		t.RawSymbol = raw
	}
	if ts, ok := p["ts"].(string); ok {
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return Tick{}, fmt.Errorf("parse payload ts: %w", err)
		}
		t.Timestamp = parsed
	}
	return t, nil
}

// payloadFloat reads a numeric payload field. JSON round-trips deliver
// float64; in-process payloads may carry other numeric types.
func payloadFloat(p map[string]any, key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}
