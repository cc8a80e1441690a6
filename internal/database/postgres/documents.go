package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/camflow/internal/database"
)

// DocumentStore implements database.Store on the documents table.
type DocumentStore struct {
	pool *Pool
}

var _ database.Store = (*DocumentStore)(nil)

// NewDocumentStore creates a document store on pool. Closing the store closes the pool.
func NewDocumentStore(pool *Pool) *DocumentStore {
	return &DocumentStore{pool: pool}
}

func (s *DocumentStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM documents WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", key, err)
	}
	return value, nil
}

func (s *DocumentStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, key, value)
	if err != nil {
		return fmt.Errorf("set document %s: %w", key, err)
	}
	return nil
}

func (s *DocumentStore) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE key = $1`, key)
	if err != nil {
		return false, fmt.Errorf("delete document %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete document %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *DocumentStore) List(ctx context.Context, prefix string) ([]database.Entry, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value FROM documents WHERE starts_with(key, $1) ORDER BY key`, prefix)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var entries []database.Entry
	for rows.Next() {
		var e database.Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return entries, nil
}

func (s *DocumentStore) Close() error {
	return s.pool.Close()
}
