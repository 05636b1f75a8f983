package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CacheGet returns the cached value for key. A value past its expiry is a
// miss; eviction happens lazily on the next write cycle.
func (s *Store) CacheGet(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value   []byte
		expires string
	)
	err := s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM cache WHERE key = ?`, key).
		Scan(&value, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	expiresAt, err := parseStoredTime(expires)
	if err != nil {
		return nil, false, err
	}
	if !s.clock.Now().UTC().Before(expiresAt) {
		return nil, false, nil
	}
	return value, true, nil
}

// CacheSet stores a value with a TTL, evicting expired entries as part of
// the write cycle.
func (s *Store) CacheSet(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if _, err := s.CacheEvictExpired(ctx); err != nil {
		return err
	}
	expiresAt := s.clock.Now().UTC().Add(ttl).Format(timeLayout)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// CacheEvictExpired removes entries past their expiry and reports how many
// went away.
func (s *Store) CacheEvictExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache WHERE expires_at <= ?`, s.now())
	if err != nil {
		return 0, fmt.Errorf("cache evict: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}
