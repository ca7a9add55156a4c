// Package bus implements the platform-wide typed publish/subscribe bus.
//
// Two interchangeable backends:
//   - Embedded: single-process, synchronous fan-out, JSONL durable journal
//   - Redis: cross-process fan-out via Pub/Sub plus a capped durable stream
//
// Delivery guarantee (both backends): at-least-once. The embedded backend
// journals before fan-out and preserves per-publisher order; the distributed
// backend gives no ordering across processes. Consumers must be idempotent.
package bus
