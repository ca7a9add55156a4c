// Package feed implements the exchange feed layer.
//
// The Manager runs one independent connection task per enabled venue:
// connect, resubscribe the full symbol set, read ticks until the transport
// fails, then reconnect after a jittered backoff, forever. There is no
// terminal failure state; one venue failing never blocks another. Every
// parsed tick updates the latest-tick table, fires local callbacks, and is
// published on the bus under ticks.<exchange>.
package feed
