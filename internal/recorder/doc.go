// Package recorder implements the tick archiver.
//
// The recorder:
//   - Subscribes to ticks.* on the bus
//   - Batches rows and writes to the ticks table (TimescaleDB-ready)
//   - Uses append-only semantics (never update, only insert)
//   - Decouples bus delivery from the database with a buffered queue,
//     so a slow insert never stalls a publisher
package recorder
