package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// IssuedID is one row of issued_ids: a value handed out by a pool.
type IssuedID struct {
	ID         int64     `json:"id"`
	Pool       string    `json:"pool"`
	Index      uint32    `json:"index"`
	Value      uint32    `json:"value"`
	KeyVersion string    `json:"key_version,omitempty"`
	IssuedAt   time.Time `json:"issued_at"`
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// InsertIssued records a drawn value. It returns (nil, nil) when the pool
// already holds that value, i.e. an earlier process issued it.
func (s *Store) InsertIssued(ctx context.Context, pool string, index, value uint32, keyVersion string) (*IssuedID, error) {
	row := s.db.QueryRowContext(ctx, `
        INSERT INTO issued_ids (pool, seq_index, value, key_version)
        VALUES ($1, $2, $3, NULLIF($4, ''))
        ON CONFLICT (pool, value) DO NOTHING
        RETURNING id, issued_at
    `, pool, int64(index), int64(value), keyVersion)

	var id int64
	var issuedAt time.Time
	if err := row.Scan(&id, &issuedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("insert scan: %w", err)
	}

	return &IssuedID{
		ID:         id,
		Pool:       pool,
		Index:      index,
		Value:      value,
		KeyVersion: keyVersion,
		IssuedAt:   issuedAt,
	}, nil
}

// GetByValue returns the ledger row for value in pool, or nil if none.
func (s *Store) GetByValue(ctx context.Context, pool string, value uint32) (*IssuedID, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, pool, seq_index, value, key_version, issued_at
        FROM issued_ids
        WHERE pool = $1 AND value = $2
        LIMIT 1
    `, pool, int64(value))

	r, err := scanIssued(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan error: %w", err)
	}
	return r, nil
}

// Each streams every ledger row to fn, stopping at the first error fn returns.
func (s *Store) Each(ctx context.Context, fn func(*IssuedID) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, pool, seq_index, value, key_version, issued_at FROM issued_ids`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanIssued(rows)
		if err != nil {
			return fmt.Errorf("scan error: %w", err)
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIssued(sc scanner) (*IssuedID, error) {
	var (
		r          IssuedID
		index      int64
		value      int64
		keyVersion sql.NullString
	)
	if err := sc.Scan(&r.ID, &r.Pool, &index, &value, &keyVersion, &r.IssuedAt); err != nil {
		return nil, err
	}
	r.Index = uint32(index)
	r.Value = uint32(value)
	r.KeyVersion = keyVersion.String
	return &r, nil
}
