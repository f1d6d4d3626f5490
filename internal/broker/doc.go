// Package broker provides the pub/sub transport between publishers and
// subscribers.
//
// Two interchangeable backends:
//   - memory: direct in-process dispatch, no serialization
//   - nats: networked pub/sub via a NATS server
//
// Subscribers observe identical behavior on both: handlers always receive
// decoded events, Publish never waits for subscriber processing, and
// transport failures are the broker's own problem (reconnect on next use),
// never surfaced to handlers.
package broker
