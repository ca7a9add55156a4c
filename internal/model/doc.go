// Package model defines shared data types used across the feed core.
//
// Conventions:
//   - Symbols: canonical "BASE/QUOTE" spelling (see internal/symbols)
//   - Prices: float64 in quote-currency units
//   - Timestamps: time.Time in UTC
package model
