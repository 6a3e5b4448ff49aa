package db

import (
	"context"
	"errors"
	"time"
)

// SetMetaIfAbsent stores key=value unless key is already present. It
// reports whether the value was written.
func SetMetaIfAbsent(ctx context.Context, a Adapter, key, value string, now time.Time) (bool, error) {
	n, err := a.Exec(ctx,
		`INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT (key) DO NOTHING`,
		key, value, now.UTC())
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetMeta returns the stored value for key; ok is false when absent.
func GetMeta(ctx context.Context, a Adapter, key string) (value string, ok bool, err error) {
	row, err := a.QueryOne(ctx, `SELECT value FROM metadata WHERE key = ?`, key)
	if errors.Is(err, ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return row.String("value"), true, nil
}
