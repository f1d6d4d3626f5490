// Package subscriber implements the consumers on the bus.
//
// Every subscriber shares the same lifecycle: Start subscribes its declared
// channels, Stop unsubscribes and flushes pending work, and OnMessage is
// invoked by the broker with an already-decoded event. Each subscriber owns
// its accumulated state exclusively; nothing is shared between consumers
// except through the broker.
//
// Concrete subscribers:
//   - Persist: batches candles into a bulk-write sink, dead-letters failed batches
//   - State: last-write-wins latest candle per symbol / status per publisher
//   - Breadth: advance/decline aggregation, published on an interval
//   - Trend: rolling close windows, SMA-based trend, published on an interval
//
// The WebSocket fan-out server in internal/ws is a subscriber too.
package subscriber
