package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/quantfabric/feedbus/internal/model"
	"github.com/quantfabric/feedbus/internal/symbols"
)

const krakenWSURL = "wss://ws.kraken.com"

// krakenSubscribe is the WS v1 subscribe event. Pairs use Kraken's
// slash-delimited native codes ("XBT/USD").
type krakenSubscribe struct {
	Event        string             `json:"event"`
	Pair         []string           `json:"pair"`
	Subscription krakenSubscription `json:"subscription"`
}

type krakenSubscription struct {
	Name string `json:"name"`
}

// krakenEvent covers the object-shaped control frames (systemStatus,
// subscriptionStatus, heartbeat). Data frames are JSON arrays instead.
type krakenEvent struct {
	Event        string `json:"event"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage"`
}

// krakenTickerWire is the payload element of a ticker data frame:
// [channelID, {ticker}, "ticker", "XBT/USD"]. Fields are arrays of strings:
// a/b = [price, wholeLotVolume, lotVolume], c = [price, lotVolume],
// v = [today, last24h], o = [today, last24h].
type krakenTickerWire struct {
	Ask    []string `json:"a"`
	Bid    []string `json:"b"`
	Last   []string `json:"c"`
	Volume []string `json:"v"`
	Open   []string `json:"o"`
}

type krakenTransport struct {
	cfg    VenueConfig
	logger *slog.Logger
	conn   connGuard
}

func newKraken(cfg VenueConfig, logger *slog.Logger) Transport {
	return &krakenTransport{cfg: cfg, logger: logger}
}

func (t *krakenTransport) Name() string { return "kraken" }

func (t *krakenTransport) Connect(ctx context.Context) error {
	conn, err := dialWS(ctx, krakenWSURL)
	if err != nil {
		return err
	}
	t.conn.set(conn)
	return nil
}

func (t *krakenTransport) Subscribe(syms []string) error {
	conn := t.conn.get()
	if conn == nil {
		return errNotConnected
	}
	return conn.WriteJSON(krakenSubscribeCommand(syms))
}

func krakenSubscribeCommand(syms []string) krakenSubscribe {
	pairs := make([]string, len(syms))
	for i, s := range syms {
		pairs[i] = symbols.Denormalize(s, "kraken")
	}
	return krakenSubscribe{
		Event:        "subscribe",
		Pair:         pairs,
		Subscription: krakenSubscription{Name: "ticker"},
	}
}

func (t *krakenTransport) ReadTick() (model.Tick, bool, error) {
	conn := t.conn.get()
	if conn == nil {
		return model.Tick{}, false, errNotConnected
	}
	data, err := conn.ReadMessage()
	if err != nil {
		return model.Tick{}, false, err
	}
	return parseKrakenFrame(data)
}

func (t *krakenTransport) Close() error {
	return t.conn.closeConn()
}

// parseKrakenFrame converts one inbound frame to a tick. Control events
// (heartbeat, systemStatus, subscriptionStatus) are skipped; data frames
// are arrays of [channelID, payload, channelName, pair].
func parseKrakenFrame(data []byte) (model.Tick, bool, error) {
	if len(data) == 0 {
		return model.Tick{}, false, ErrBadFrame
	}

	if data[0] != '[' {
		var event krakenEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return model.Tick{}, false, ErrBadFrame
		}
		// Control frame; a rejected subscription surfaces here.
		return model.Tick{}, false, nil
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil || len(parts) < 4 {
		return model.Tick{}, false, ErrBadFrame
	}

	var channel string
	if err := json.Unmarshal(parts[2], &channel); err != nil || channel != "ticker" {
		return model.Tick{}, false, nil
	}
	var pair string
	if err := json.Unmarshal(parts[len(parts)-1], &pair); err != nil {
		return model.Tick{}, false, ErrBadFrame
	}
	var wire krakenTickerWire
	if err := json.Unmarshal(parts[1], &wire); err != nil {
		return model.Tick{}, false, ErrBadFrame
	}

	bid, err1 := firstFloat(wire.Bid)
	ask, err2 := firstFloat(wire.Ask)
	last, err3 := firstFloat(wire.Last)
	if err1 != nil || err2 != nil || err3 != nil {
		return model.Tick{}, false, ErrBadFrame
	}

	var volume, change float64
	if len(wire.Volume) > 1 {
		volume, _ = strconv.ParseFloat(wire.Volume[1], 64)
	}
	if len(wire.Open) > 1 && last > 0 {
		if open, err := strconv.ParseFloat(wire.Open[1], 64); err == nil && open > 0 {
			change = (last - open) / open * 100
		}
	}

	return model.Tick{
		Symbol:    symbols.Normalize(pair, "kraken"),
		Exchange:  "kraken",
		Bid:       bid,
		Ask:       ask,
		Last:      last,
		Volume24h: volume,
		Change24h: change,
		RawSymbol: pair,
	}, true, nil
}

func firstFloat(fields []string) (float64, error) {
	if len(fields) == 0 {
		return 0, ErrBadFrame
	}
	return strconv.ParseFloat(fields[0], 64)
}
