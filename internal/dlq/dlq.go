package dlq

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/rickgao/marketbus/internal/codec"
	"github.com/rickgao/marketbus/internal/event"
)

// RedeliverFunc re-attempts delivery of a recovered event. The orchestrator
// wires this to broker.Publish.
type RedeliverFunc func(ctx context.Context, channel string, ev event.Event) error

// Config holds dead-letter queue settings.
type Config struct {
	Path          string        // sqlite file path, or ":memory:" for tests
	MaxRetries    int           // retry budget per entry
	Retention     time.Duration // entries older than this are purged
	AutoRetry     bool          // run the background retry loop
	RetryInterval time.Duration // retry loop wake interval
}

// Entry is one dead-lettered message.
type Entry struct {
	ID          string
	Channel     string
	Kind        event.Kind
	Payload     []byte // encoded with the queue's codec
	Reason      string
	RetryCount  int
	FirstSeen   time.Time
	LastAttempt time.Time
}

// Stats holds queue counters.
type Stats struct {
	Recorded    int64 `json:"recorded"`
	Redelivered int64 `json:"redelivered"`
	Failed      int64 `json:"failed"`  // failed redelivery attempts
	Purged      int64 `json:"purged"`  // permanent failures
	Pending     int64 `json:"pending"` // entries currently in the store
}

// Queue is the SQLite-backed dead-letter queue.
type Queue struct {
	cfg       Config
	codec     codec.Codec
	redeliver RedeliverFunc
	logger    *slog.Logger

	db *sql.DB

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	statsMu sync.Mutex
	stats   Stats
}

// New opens the store and prepares the queue. The retry loop does not run
// until Start.
func New(cfg Config, c codec.Codec, redeliver RedeliverFunc, logger *slog.Logger) (*Queue, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open dlq store: %w", err)
	}
	// SQLite allows one writer; a single pooled connection also keeps
	// ":memory:" databases from silently splitting per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS dead_letters (
			id           TEXT PRIMARY KEY,
			channel      TEXT NOT NULL,
			kind         TEXT NOT NULL,
			payload      BLOB NOT NULL,
			reason       TEXT NOT NULL,
			retry_count  INTEGER NOT NULL DEFAULT 0,
			first_seen   INTEGER NOT NULL,
			last_attempt INTEGER NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create dlq table: %w", err)
	}

	return &Queue{
		cfg:       cfg,
		codec:     c,
		redeliver: redeliver,
		logger:    logger,
		db:        db,
	}, nil
}

// Start launches the auto-retry loop when enabled.
func (q *Queue) Start(ctx context.Context) error {
	q.ctx, q.cancel = context.WithCancel(ctx)

	if q.cfg.AutoRetry {
		q.wg.Add(1)
		go q.retryLoop()
		q.logger.Info("dlq auto-retry started",
			"interval", q.cfg.RetryInterval,
			"max_retries", q.cfg.MaxRetries,
		)
	}
	return nil
}

// Stop cancels the retry loop and closes the store.
func (q *Queue) Stop(ctx context.Context) error {
	if q.cancel != nil {
		q.cancel()
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		q.logger.Warn("dlq stop timed out")
	}

	return q.db.Close()
}

// Record stores a message whose processing failed.
func (q *Queue) Record(ctx context.Context, channel string, ev event.Event, reason string) error {
	payload, err := q.codec.Encode(ev)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}

	now := time.Now().UnixMicro()
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO dead_letters (id, channel, kind, payload, reason, retry_count, first_seen, last_attempt)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
	`, uuid.NewString(), channel, string(ev.Kind()), payload, reason, now, now)
	if err != nil {
		return fmt.Errorf("record dead letter: %w", err)
	}

	q.statsMu.Lock()
	q.stats.Recorded++
	q.statsMu.Unlock()

	q.logger.Warn("message dead-lettered",
		"channel", channel,
		"kind", ev.Kind(),
		"reason", reason,
	)
	return nil
}

// Stats returns queue counters, including the current backlog size.
func (q *Queue) Stats() Stats {
	q.statsMu.Lock()
	s := q.stats
	q.statsMu.Unlock()

	var pending int64
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM dead_letters`).Scan(&pending); err == nil {
		s.Pending = pending
	}
	return s
}

// retryLoop wakes on the configured interval and processes the backlog.
func (q *Queue) retryLoop() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.retryOnce(q.ctx, time.Now())
		}
	}
}

// retryOnce makes one pass over the backlog: purge expired entries, then
// re-attempt delivery of entries that still have retry budget.
func (q *Queue) retryOnce(ctx context.Context, now time.Time) {
	entries, err := q.list(ctx)
	if err != nil {
		q.logger.Error("dlq list failed", "error", err)
		return
	}

	cutoff := now.Add(-q.cfg.Retention)

	for _, e := range entries {
		if ctx.Err() != nil {
			return
		}

		if e.FirstSeen.Before(cutoff) {
			q.purge(ctx, e)
			continue
		}

		if e.RetryCount >= q.cfg.MaxRetries {
			// Out of budget. The entry sits until the retention window
			// expires, at which point it is purged and reported.
			continue
		}

		q.attempt(ctx, e, now)
	}
}

// attempt re-delivers one entry.
func (q *Queue) attempt(ctx context.Context, e Entry, now time.Time) {
	ev, err := q.codec.Decode(e.Payload)
	if err != nil {
		// Undecodable entries can never succeed; treat as terminal.
		q.logger.Error("dead letter payload undecodable, purging",
			"id", e.ID,
			"channel", e.Channel,
			"error", err,
		)
		q.purge(ctx, e)
		return
	}

	if err := q.redeliver(ctx, e.Channel, ev); err != nil {
		q.statsMu.Lock()
		q.stats.Failed++
		q.statsMu.Unlock()

		if _, uerr := q.db.ExecContext(ctx, `
			UPDATE dead_letters SET retry_count = retry_count + 1, last_attempt = ? WHERE id = ?
		`, now.UnixMicro(), e.ID); uerr != nil {
			q.logger.Error("dlq update failed", "id", e.ID, "error", uerr)
		}

		q.logger.Warn("dead letter redelivery failed",
			"id", e.ID,
			"channel", e.Channel,
			"retry_count", e.RetryCount+1,
			"error", err,
		)
		return
	}

	if _, err := q.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = ?`, e.ID); err != nil {
		q.logger.Error("dlq delete failed", "id", e.ID, "error", err)
		return
	}

	q.statsMu.Lock()
	q.stats.Redelivered++
	q.statsMu.Unlock()

	q.logger.Info("dead letter redelivered",
		"id", e.ID,
		"channel", e.Channel,
		"retries", e.RetryCount,
	)
}

// purge removes an entry past its retention window. Permanent failures are
// surfaced through the log and the Purged counter, never dropped silently.
func (q *Queue) purge(ctx context.Context, e Entry) {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = ?`, e.ID); err != nil {
		q.logger.Error("dlq purge failed", "id", e.ID, "error", err)
		return
	}

	q.statsMu.Lock()
	q.stats.Purged++
	q.statsMu.Unlock()

	q.logger.Error("dead letter permanently failed",
		"id", e.ID,
		"channel", e.Channel,
		"kind", e.Kind,
		"reason", e.Reason,
		"retries", e.RetryCount,
		"first_seen", e.FirstSeen,
	)
}

// list loads the full backlog ordered by age.
func (q *Queue) list(ctx context.Context) ([]Entry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, channel, kind, payload, reason, retry_count, first_seen, last_attempt
		FROM dead_letters
		ORDER BY first_seen
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var kind string
		var firstSeen, lastAttempt int64
		if err := rows.Scan(&e.ID, &e.Channel, &kind, &e.Payload, &e.Reason, &e.RetryCount, &firstSeen, &lastAttempt); err != nil {
			return nil, err
		}
		e.Kind = event.Kind(kind)
		e.FirstSeen = time.UnixMicro(firstSeen)
		e.LastAttempt = time.UnixMicro(lastAttempt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
