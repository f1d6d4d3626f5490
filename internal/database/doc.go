// Package database manages the PostgreSQL connection pool used by the
// persistence subscriber. Candle bars land in a single candles table keyed
// by (symbol, timestamp); replays are absorbed by ON CONFLICT DO NOTHING.
package database
