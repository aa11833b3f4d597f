package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Meta returns a metadata value. Returns ErrNotFound if the key is unset.
func (s *Store) Meta(ctx context.Context, key string) (string, error) {
	db, release, err := s.conn("meta")
	if err != nil {
		return "", err
	}
	defer release()

	var value string
	err = db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", ioFailure("meta "+key, err)
	}
	return value, nil
}

// SetMeta upserts a metadata value.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	db, release, err := s.conn("set meta")
	if err != nil {
		return err
	}
	defer release()

	_, err = db.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return ioFailure("set meta "+key, err)
	}
	return nil
}

// DeviceID returns the id assigned to this device on first initialization.
func (s *Store) DeviceID(ctx context.Context) (string, error) {
	return s.Meta(ctx, MetaDeviceID)
}

// SetTime stores a timestamp metadata value in RFC 3339.
func (s *Store) SetTime(ctx context.Context, key string, t time.Time) error {
	return s.SetMeta(ctx, key, t.UTC().Format(time.RFC3339Nano))
}

// Time reads a timestamp metadata value. The zero time is returned when the
// key is unset.
func (s *Store) Time(ctx context.Context, key string) (time.Time, error) {
	value, err := s.Meta(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, ioFailure("parse meta "+key, err)
	}
	return t, nil
}
