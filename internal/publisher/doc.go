// Package publisher originates events from the external quote source.
//
// On each interval tick a publisher fetches its symbol set in rate-limited
// batches, publishes one Candle per row on market.candle, and always emits
// exactly one Status event per cycle on market.status. A failed symbol or
// batch is counted and skipped; it never aborts the cycle.
package publisher
