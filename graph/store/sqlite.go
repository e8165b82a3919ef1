package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/madmag77/wirl/graph"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a single-process graph.Checkpointer backed by a SQLite
// file. SQLite has no real row-level locking, so concurrent writers are
// avoided entirely rather than emulated: SetMaxOpenConns(1) serializes
// every statement through one connection, and each Put runs inside a
// BEGIN IMMEDIATE transaction so its insert can never interleave with
// another writer — there never is one, following the single-writer SQLite connection pool convention.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) a SQLite-backed checkpoint store
// at path. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	thread_id      TEXT NOT NULL,
	step           INTEGER NOT NULL,
	channel_values TEXT NOT NULL,
	pending_writes TEXT NOT NULL,
	metadata       TEXT NOT NULL,
	created_at     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_thread_step ON checkpoints(thread_id, step DESC);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ListByThread returns every checkpoint recorded for threadID, oldest
// (lowest step) first, for the Run-Details Reader (spec §4.7).
func (s *SQLiteStore) ListByThread(ctx context.Context, threadID string) ([]graph.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, step, channel_values, pending_writes, metadata, created_at
		 FROM checkpoints WHERE thread_id = ? ORDER BY step ASC`,
		threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", graph.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []graph.Checkpoint
	for rows.Next() {
		var (
			id                                          int64
			step                                        int
			channelValuesRaw, pendingWritesRaw, metaRaw string
			createdAt                                   time.Time
		)
		if err := rows.Scan(&id, &step, &channelValuesRaw, &pendingWritesRaw, &metaRaw, &createdAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		channelValues, err := decodeChannelValues([]byte(channelValuesRaw))
		if err != nil {
			return nil, err
		}
		writes, err := decodeWrites([]byte(pendingWritesRaw))
		if err != nil {
			return nil, err
		}
		metadata, err := decodeMetadata([]byte(metaRaw))
		if err != nil {
			return nil, err
		}
		out = append(out, graph.Checkpoint{
			ID:            fmt.Sprintf("%d", id),
			ThreadID:      threadID,
			Step:          step,
			ChannelValues: channelValues,
			PendingWrites: writes,
			Metadata:      metadata,
			Timestamp:     createdAt,
		})
	}
	return out, rows.Err()
}

// Put persists a new checkpoint row for cp.ThreadID (spec §4.4, §4.8).
// BEGIN IMMEDIATE acquires SQLite's write lock up front; combined with
// the single-connection pool this makes the insert equivalent to the
// MySQL backend's row-locked claim, without needing SKIP LOCKED (there
// is only ever one writer).
func (s *SQLiteStore) Put(ctx context.Context, cp graph.Checkpoint) error {
	channelValues, pendingWrites, metadata, err := encodeCheckpoint(cp)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		return fmt.Errorf("%w: %v", graph.ErrStoreUnavailable, err)
	}

	ts := cp.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (thread_id, step, channel_values, pending_writes, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		cp.ThreadID, cp.Step, string(channelValues), string(pendingWrites), string(metadata), ts,
	); err != nil {
		_, _ = s.db.ExecContext(ctx, `ROLLBACK`)
		return fmt.Errorf("insert checkpoint: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `COMMIT`); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// Latest returns the highest-step checkpoint recorded for threadID, or
// found=false if the thread has never been started.
func (s *SQLiteStore) Latest(ctx context.Context, threadID string) (graph.Checkpoint, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, step, channel_values, pending_writes, metadata, created_at
		 FROM checkpoints WHERE thread_id = ? ORDER BY step DESC LIMIT 1`,
		threadID,
	)

	var (
		id                                        int64
		step                                      int
		channelValuesRaw, pendingWritesRaw, metaRaw string
		createdAt                                 time.Time
	)
	if err := row.Scan(&id, &step, &channelValuesRaw, &pendingWritesRaw, &metaRaw, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return graph.Checkpoint{}, false, nil
		}
		return graph.Checkpoint{}, false, fmt.Errorf("%w: %v", graph.ErrStoreUnavailable, err)
	}

	channelValues, err := decodeChannelValues([]byte(channelValuesRaw))
	if err != nil {
		return graph.Checkpoint{}, false, err
	}
	writes, err := decodeWrites([]byte(pendingWritesRaw))
	if err != nil {
		return graph.Checkpoint{}, false, err
	}
	metadata, err := decodeMetadata([]byte(metaRaw))
	if err != nil {
		return graph.Checkpoint{}, false, err
	}

	return graph.Checkpoint{
		ID:            fmt.Sprintf("%d", id),
		ThreadID:      threadID,
		Step:          step,
		ChannelValues: channelValues,
		PendingWrites: writes,
		Metadata:      metadata,
		Timestamp:     createdAt,
	}, true, nil
}
