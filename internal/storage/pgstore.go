// internal/storage/pgstore.go
//
// 以 PostgreSQL 保存快照：每個快照名稱一列 jsonb。
// 寫入為單一 upsert 敘述，交易失敗時舊列保持不變。
package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DefaultSnapshotName 為預設快照名稱（ledger_snapshots.name）。
const DefaultSnapshotName = "default"

const (
	createSnapshotTable = `
CREATE TABLE IF NOT EXISTS ledger_snapshots (
	name     TEXT PRIMARY KEY,
	payload  JSONB NOT NULL,
	saved_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

	upsertSnapshot = `
INSERT INTO ledger_snapshots (name, payload, saved_at)
VALUES ($1, $2, now())
ON CONFLICT (name) DO UPDATE SET payload = EXCLUDED.payload, saved_at = EXCLUDED.saved_at`

	selectSnapshot = `SELECT payload FROM ledger_snapshots WHERE name = $1`
)

// PgxQuerier 為 PostgresBackend 所需的最小介面；*pgxpool.Pool 與 pgx.Tx 皆符合。
type PgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresBackend 將快照存入 ledger_snapshots 資料表。
type PostgresBackend struct {
	db   PgxQuerier
	name string
}

// NewPostgresBackend 建立 Postgres 後端；name 為空時使用 DefaultSnapshotName。
func NewPostgresBackend(db PgxQuerier, name string) *PostgresBackend {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultSnapshotName
	}
	return &PostgresBackend{db: db, name: name}
}

func (b *PostgresBackend) Name() string { return "postgres" }

// EnsureSchema 建立 ledger_snapshots 資料表（若不存在）。
func (b *PostgresBackend) EnsureSchema(ctx context.Context) error {
	_, err := b.db.Exec(ctx, createSnapshotTable)
	return err
}

func (b *PostgresBackend) Write(ctx context.Context, payload []byte) error {
	_, err := b.db.Exec(ctx, upsertSnapshot, b.name, string(payload))
	return err
}

func (b *PostgresBackend) Read(ctx context.Context) ([]byte, error) {
	var payload []byte
	err := b.db.QueryRow(ctx, selectSnapshot, b.name).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}
