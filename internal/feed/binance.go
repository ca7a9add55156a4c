package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/quantfabric/feedbus/internal/model"
	"github.com/quantfabric/feedbus/internal/symbols"
)

const binanceWSURL = "wss://stream.binance.com:9443/ws"

// binanceSubscribe is the combined-stream subscribe command.
// Docs: method SUBSCRIBE, params ["btcusdt@ticker", ...], numeric id.
type binanceSubscribe struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// binanceTickerWire is the 24hr rolling window ticker stream payload.
type binanceTickerWire struct {
	EventType string `json:"e"` // "24hrTicker"
	EventTime int64  `json:"E"` // ms
	Symbol    string `json:"s"`
	Change24h string `json:"P"` // price change percent
	Last      string `json:"c"`
	Bid       string `json:"b"`
	Ask       string `json:"a"`
	Volume24h string `json:"v"` // base asset volume
}

type binanceTransport struct {
	cfg    VenueConfig
	logger *slog.Logger
	conn   connGuard
	cmdID  atomic.Int64
}

func newBinance(cfg VenueConfig, logger *slog.Logger) Transport {
	return &binanceTransport{cfg: cfg, logger: logger}
}

func (t *binanceTransport) Name() string { return "binance" }

func (t *binanceTransport) Connect(ctx context.Context) error {
	conn, err := dialWS(ctx, binanceWSURL)
	if err != nil {
		return err
	}
	t.conn.set(conn)
	return nil
}

func (t *binanceTransport) Subscribe(syms []string) error {
	conn := t.conn.get()
	if conn == nil {
		return errNotConnected
	}
	return conn.WriteJSON(t.subscribeCommand(syms))
}

func (t *binanceTransport) subscribeCommand(syms []string) binanceSubscribe {
	params := make([]string, len(syms))
	for i, s := range syms {
		params[i] = strings.ToLower(symbols.Denormalize(s, "binance")) + "@ticker"
	}
	return binanceSubscribe{
		Method: "SUBSCRIBE",
		Params: params,
		ID:     t.cmdID.Add(1),
	}
}

func (t *binanceTransport) ReadTick() (model.Tick, bool, error) {
	conn := t.conn.get()
	if conn == nil {
		return model.Tick{}, false, errNotConnected
	}
	data, err := conn.ReadMessage()
	if err != nil {
		return model.Tick{}, false, err
	}
	return parseBinanceFrame(data)
}

func (t *binanceTransport) Close() error {
	return t.conn.closeConn()
}

// parseBinanceFrame converts one inbound frame to a tick. Subscribe acks
// ({"result":null,"id":1}) and unknown event types are skipped.
func parseBinanceFrame(data []byte) (model.Tick, bool, error) {
	var wire binanceTickerWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return model.Tick{}, false, ErrBadFrame
	}
	if wire.EventType != "24hrTicker" {
		return model.Tick{}, false, nil
	}

	bid, err1 := strconv.ParseFloat(wire.Bid, 64)
	ask, err2 := strconv.ParseFloat(wire.Ask, 64)
	last, err3 := strconv.ParseFloat(wire.Last, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return model.Tick{}, false, ErrBadFrame
	}
	volume, _ := strconv.ParseFloat(wire.Volume24h, 64)
	change, _ := strconv.ParseFloat(wire.Change24h, 64)

	return model.Tick{
		Symbol:    symbols.Normalize(wire.Symbol, "binance"),
		Exchange:  "binance",
		Bid:       bid,
		Ask:       ask,
		Last:      last,
		Volume24h: volume,
		Change24h: change,
		Timestamp: time.UnixMilli(wire.EventTime).UTC(),
		RawSymbol: wire.Symbol,
	}, true, nil
}
