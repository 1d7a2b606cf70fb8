package db

import (
	"context"
	"database/sql"
	"time"
)

// SetKV upserts a runtime marker such as the last completed run timestamp.
func (d *Database) SetKV(ctx context.Context, key, value string) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	return err
}

// GetKV reads a marker. Returns ErrNotFound when the key was never set.
func (d *Database) GetKV(ctx context.Context, key string) (string, time.Time, error) {
	var value string
	var updatedAt time.Time
	err := d.DB.QueryRowContext(ctx,
		`SELECT value, updated_at FROM kv WHERE key = ?`, key).Scan(&value, &updatedAt)
	if err == sql.ErrNoRows {
		return "", time.Time{}, ErrNotFound
	}
	return value, updatedAt, err
}
