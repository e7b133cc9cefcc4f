// Package postgres implements the storage backend on PostgreSQL: one row per
// key in a client_state table, with LISTEN/NOTIFY carrying the change
// notification to other nodes. Values are stored as raw bytes so the
// persisted JSON round-trips exactly.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"shopstate/internal/storage"
	"shopstate/pkg/database"
	apperrors "shopstate/pkg/errors"
)

const notifyChannel = "shopstate_storage"

// DB is the query surface the backend needs. Both *pgxpool.Pool and the
// pgxmock pool satisfy it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Backend implements storage.Backend using PostgreSQL.
type Backend struct {
	db        DB
	pool      *pgxpool.Pool
	namespace string
	logger    *slog.Logger
}

// New creates a PostgreSQL-backed storage backend. The pool is retained for
// the LISTEN connection used by Watch.
func New(pool *pgxpool.Pool, namespace string, logger *slog.Logger) *Backend {
	return &Backend{db: pool, pool: pool, namespace: namespace, logger: logger}
}

// NewWithDB creates a backend over an arbitrary DB, for tests. Watch is
// unavailable without a pool.
func NewWithDB(db DB, namespace string, logger *slog.Logger) *Backend {
	return &Backend{db: db, namespace: namespace, logger: logger}
}

func (b *Backend) key(key string) string {
	if b.namespace == "" {
		return key
	}
	return b.namespace + ":" + key
}

// Get returns the value stored at key.
func (b *Backend) Get(ctx context.Context, key string) (data []byte, err error) {
	query := `SELECT value FROM client_state WHERE key = $1`

	ctx, end := database.TraceQuery(ctx, "GetClientState", query)
	defer func() { end(err) }()

	if err = b.db.QueryRow(ctx, query, b.key(key)).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("storage key", key)
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return data, nil
}

// Set upserts the value and raises a notification on the shared channel.
// The payload carries the namespaced key so nodes with different namespaces
// on one database do not wake each other.
func (b *Backend) Set(ctx context.Context, key string, data []byte, origin string) (err error) {
	query := `
		INSERT INTO client_state (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`

	ctx, end := database.TraceQuery(ctx, "SetClientState", query)
	defer func() { end(err) }()

	if _, err := b.db.Exec(ctx, query, b.key(key), data); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}

	payload, err := json.Marshal(storage.Notification{Key: b.key(key), Origin: origin})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	if _, err := b.db.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, string(payload)); err != nil {
		return fmt.Errorf("notify %s: %w", key, err)
	}
	return nil
}

// Watch holds a dedicated connection on LISTEN and forwards notifications
// for key until ctx is canceled.
func (b *Backend) Watch(ctx context.Context, key string) (<-chan storage.Notification, error) {
	if b.pool == nil {
		return nil, fmt.Errorf("watch %s: no connection pool", key)
	}

	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", notifyChannel, err)
	}

	namespaced := b.key(key)
	out := make(chan storage.Notification)
	go func() {
		defer close(out)
		defer conn.Release()

		for {
			pgn, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					b.logger.Warn("storage listen ended",
						slog.String("key", key),
						slog.String("error", err.Error()),
					)
				}
				return
			}

			var n storage.Notification
			if err := json.Unmarshal([]byte(pgn.Payload), &n); err != nil || n.Key != namespaced {
				continue
			}

			n.Key = key
			select {
			case out <- n:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Close releases the pool when the backend owns one.
func (b *Backend) Close() error {
	if b.pool != nil {
		b.pool.Close()
	}
	return nil
}
