// Package dlq implements the dead-letter queue.
//
// Messages a subscriber failed to process are recorded in a local SQLite
// store and redelivered on a timer, up to a configured retry count. Entries
// that outlive the retention window are purged and reported as permanent
// failures. This gives at-least-once semantics for subscriber-side
// processing failures; broker transport failures are handled by the broker
// itself and never land here.
package dlq
