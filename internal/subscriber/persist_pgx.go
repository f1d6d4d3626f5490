package subscriber

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/marketbus/internal/event"
)

// PgxSink writes candle batches to the candles table. Duplicate bars are
// absorbed by the primary key conflict.
type PgxSink struct {
	db *pgxpool.Pool
}

// NewPgxSink wraps a connection pool as a CandleSink.
func NewPgxSink(db *pgxpool.Pool) *PgxSink {
	return &PgxSink{db: db}
}

// WriteBatch inserts all candles in one round trip using pgx.Batch and
// returns the number of rows actually inserted.
func (s *PgxSink) WriteBatch(ctx context.Context, candles []*event.Candle) (int64, error) {
	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(`
			INSERT INTO candles (symbol, trade_date, ts, open, high, low, close, volume, prev_close, series, source)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (symbol, ts, series) DO NOTHING
		`, c.Symbol, c.TradeDate, c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume, c.PrevClose, c.Series, c.Source)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	var inserted int64
	for range candles {
		ct, err := results.Exec()
		if err != nil {
			return inserted, err
		}
		inserted += ct.RowsAffected()
	}

	return inserted, nil
}
