// Package cache provides the analysis result cache: a Store interface
// with Redis, SQLite and in-memory backends, plus request
// fingerprinting. Values are msgpack-encoded; keys are namespaced
// sha256 fingerprints, so identical requests always hit the same entry.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Store is the backend contract. All implementations are safe for
// concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
	Close() error
}

// Fingerprint derives a stable cache key from any request value: the
// sha256 of its canonical msgpack encoding, hex-encoded. Struct field
// order is fixed at compile time, so equal requests always produce
// equal fingerprints.
func Fingerprint(prefix string, v any) (string, error) {
	encoded, err := msgpack.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode fingerprint input: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return prefix + ":" + hex.EncodeToString(sum[:]), nil
}

// GetTyped fetches and msgpack-decodes an entry into dest.
func GetTyped(ctx context.Context, s Store, key string, dest any) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := msgpack.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("failed to decode cached value for %s: %w", key, err)
	}
	return nil
}

// SetTyped msgpack-encodes a value and stores it.
func SetTyped(ctx context.Context, s Store, key string, value any, ttl time.Duration) error {
	raw, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for %s: %w", key, err)
	}
	return s.Set(ctx, key, raw, ttl)
}
