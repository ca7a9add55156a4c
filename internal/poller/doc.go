// Package poller implements the REST fallback poller.
//
// The poller:
//   - Polls the CoinGecko simple/price endpoint on a fixed interval
//   - Feeds results through the same ingest path as streaming ticks
//   - Emits ticks with exchange="coingecko" and no bid/ask quote
//   - Keeps prices flowing when every websocket venue is down
package poller
