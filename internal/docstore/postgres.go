package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Postgres persists documents in two tables: a keyed documents table with a
// version column for optimistic concurrency, and an append-only array_items
// table ordered by a sequence column.
//
// Expected schema:
//
//	CREATE TABLE documents (
//	    key     TEXT PRIMARY KEY,
//	    value   JSONB NOT NULL,
//	    version BIGINT NOT NULL
//	);
//	CREATE TABLE array_items (
//	    key  TEXT NOT NULL,
//	    seq  BIGSERIAL,
//	    item JSONB NOT NULL,
//	    PRIMARY KEY (key, seq)
//	);
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a postgres-backed document store. The caller owns the
// *sql.DB lifecycle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) InsertIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO documents (key, value, version) VALUES ($1, $2, 1)
		 ON CONFLICT (key) DO NOTHING`, key, value)
	if err != nil {
		return false, fmt.Errorf("insert document: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert document: %w", err)
	}
	return rows == 1, nil
}

func (p *Postgres) Get(ctx context.Context, key string) (Document, error) {
	var doc Document
	doc.Key = key
	err := p.db.QueryRowContext(ctx,
		`SELECT value, version FROM documents WHERE key = $1`, key).
		Scan(&doc.Value, &doc.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

func (p *Postgres) UpdateIfVersion(ctx context.Context, key string, value []byte, expectedVersion int64) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE documents SET value = $2, version = version + 1
		 WHERE key = $1 AND version = $3`, key, value, expectedVersion)
	if err != nil {
		return false, fmt.Errorf("update document: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update document: %w", err)
	}
	if rows == 1 {
		return true, nil
	}
	// Distinguish a missing key from a version mismatch.
	if _, err := p.Get(ctx, key); errors.Is(err, ErrNotFound) {
		return false, ErrNotFound
	}
	return false, nil
}

func (p *Postgres) AppendToArray(ctx context.Context, key string, item []byte) (int, error) {
	var length int
	err := p.db.QueryRowContext(ctx,
		`WITH inserted AS (
		     INSERT INTO array_items (key, item) VALUES ($1, $2)
		 )
		 SELECT COUNT(*) + 1 FROM array_items WHERE key = $1`, key, item).
		Scan(&length)
	if err != nil {
		return 0, fmt.Errorf("append to array: %w", err)
	}
	return length, nil
}

func (p *Postgres) ListArray(ctx context.Context, key string) ([][]byte, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT item FROM array_items WHERE key = $1 ORDER BY seq ASC`, key)
	if err != nil {
		return nil, fmt.Errorf("list array: %w", err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var item []byte
		if err := rows.Scan(&item); err != nil {
			return nil, fmt.Errorf("scan array item: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list array: %w", err)
	}
	return out, nil
}

func (p *Postgres) QueryByField(ctx context.Context, field, value string) ([]Document, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT key, value, version FROM documents WHERE value ->> $1 = $2 ORDER BY key`,
		field, value)
	if err != nil {
		return nil, fmt.Errorf("query by field: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.Key, &doc.Value, &doc.Version); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query by field: %w", err)
	}
	return out, nil
}
