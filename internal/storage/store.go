// Package storage persists terminal-local state as JSON strings under
// fixed keys. Drivers give last-write-wins per key and nothing more.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// Store is durable key to string storage.
type Store interface {
	// Get returns the value for key. found is false when the key is absent.
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	Close() error
}

// LoadJSON decodes the value stored under key into v. It returns false
// when the key is absent. A decode failure is returned as an error so the
// caller can fall back to its empty default.
func LoadJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	raw, found, err := s.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if !found {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// SaveJSON encodes v and writes it under key.
func SaveJSON(ctx context.Context, s Store, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.Set(ctx, key, string(body)); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// Key namespaces a record name to one outlet so terminals sharing a
// backing store never collide.
func Key(outletID, name string) string {
	if outletID == "" {
		return "pos:" + name
	}
	return "pos:" + outletID + ":" + name
}
