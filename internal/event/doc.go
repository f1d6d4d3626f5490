// Package event defines the structured records that flow through the bus.
//
// Event kinds:
//   - Candle: one OHLCV bar for a symbol
//   - Status: per-cycle health summary from a publisher
//   - Breadth: aggregate advance/decline statistics
//   - Trend: moving-average trend reading for a symbol
//
// Each kind has a default channel. Events are immutable once published;
// timestamps are microseconds since epoch unless noted otherwise.
package event
