package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/quantfabric/feedbus/internal/model"
	"github.com/quantfabric/feedbus/internal/symbols"
)

const coinbaseWSURL = "wss://ws-feed.exchange.coinbase.com"

// coinbaseSubscribe is the exchange feed subscribe message. Product ids are
// dash-delimited ("BTC-USD").
type coinbaseSubscribe struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

// coinbaseTickerWire is the ticker channel payload.
type coinbaseTickerWire struct {
	Type      string `json:"type"` // "ticker", "subscriptions", "error", ...
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	BestBid   string `json:"best_bid"`
	BestAsk   string `json:"best_ask"`
	Volume24h string `json:"volume_24h"`
	Open24h   string `json:"open_24h"`
	Time      string `json:"time"` // RFC3339
	Message   string `json:"message"`
}

type coinbaseTransport struct {
	cfg    VenueConfig
	logger *slog.Logger
	conn   connGuard
}

func newCoinbase(cfg VenueConfig, logger *slog.Logger) Transport {
	return &coinbaseTransport{cfg: cfg, logger: logger}
}

func (t *coinbaseTransport) Name() string { return "coinbase" }

func (t *coinbaseTransport) Connect(ctx context.Context) error {
	conn, err := dialWS(ctx, coinbaseWSURL)
	if err != nil {
		return err
	}
	t.conn.set(conn)
	return nil
}

func (t *coinbaseTransport) Subscribe(syms []string) error {
	conn := t.conn.get()
	if conn == nil {
		return errNotConnected
	}
	return conn.WriteJSON(coinbaseSubscribeCommand(syms))
}

func coinbaseSubscribeCommand(syms []string) coinbaseSubscribe {
	products := make([]string, len(syms))
	for i, s := range syms {
		products[i] = symbols.Denormalize(s, "coinbase")
	}
	return coinbaseSubscribe{
		Type:       "subscribe",
		ProductIDs: products,
		Channels:   []string{"ticker"},
	}
}

func (t *coinbaseTransport) ReadTick() (model.Tick, bool, error) {
	conn := t.conn.get()
	if conn == nil {
		return model.Tick{}, false, errNotConnected
	}
	data, err := conn.ReadMessage()
	if err != nil {
		return model.Tick{}, false, err
	}
	return parseCoinbaseFrame(data)
}

func (t *coinbaseTransport) Close() error {
	return t.conn.closeConn()
}

// parseCoinbaseFrame converts one inbound frame to a tick. The
// "subscriptions" confirmation and heartbeats are skipped.
func parseCoinbaseFrame(data []byte) (model.Tick, bool, error) {
	var wire coinbaseTickerWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return model.Tick{}, false, ErrBadFrame
	}
	if wire.Type != "ticker" {
		return model.Tick{}, false, nil
	}

	bid, err1 := strconv.ParseFloat(wire.BestBid, 64)
	ask, err2 := strconv.ParseFloat(wire.BestAsk, 64)
	last, err3 := strconv.ParseFloat(wire.Price, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return model.Tick{}, false, ErrBadFrame
	}
	volume, _ := strconv.ParseFloat(wire.Volume24h, 64)

	var change float64
	if open, err := strconv.ParseFloat(wire.Open24h, 64); err == nil && open > 0 {
		change = (last - open) / open * 100
	}

	tick := model.Tick{
		Symbol:    symbols.Normalize(wire.ProductID, "coinbase"),
		Exchange:  "coinbase",
		Bid:       bid,
		Ask:       ask,
		Last:      last,
		Volume24h: volume,
		Change24h: change,
		RawSymbol: wire.ProductID,
	}
	if ts, err := time.Parse(time.RFC3339, wire.Time); err == nil {
		tick.Timestamp = ts.UTC()
	}
	return tick, true, nil
}
