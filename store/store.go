// Package store is the key-value persistence and pub/sub layer. Redis backs
// it in production; Memory serves tests and single-process runs.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by Get for a missing or expired key.
var ErrNotFound = errors.New("key not found")

// KV is the narrow persistence interface the engine depends on. Lists are
// newest first: Push prepends, Trim keeps the first n entries.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Push(ctx context.Context, key string, values ...string) error
	Trim(ctx context.Context, key string, keep int64) error
	Range(ctx context.Context, key string, start, stop int64) ([]string, error)
	Publish(ctx context.Context, channel, message string) error
	// Subscribe delivers messages until ctx is done, then closes the channel.
	Subscribe(ctx context.Context, channel string) (<-chan string, error)
	Close() error
}

// PushCapped prepends values to key and trims the list to keep entries.
func PushCapped(ctx context.Context, kv KV, key string, keep int64, values ...string) error {
	if err := kv.Push(ctx, key, values...); err != nil {
		return err
	}
	if keep <= 0 {
		return nil
	}
	return kv.Trim(ctx, key, keep)
}

func SetJSON(ctx context.Context, kv KV, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return kv.Set(ctx, key, string(b), ttl)
}

// GetJSON decodes key into dest. A missing key returns ErrNotFound.
func GetJSON(ctx context.Context, kv KV, key string, dest any) error {
	s, err := kv.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(s), dest)
}

// PushJSON encodes v and pushes it with PushCapped.
func PushJSON(ctx context.Context, kv KV, key string, keep int64, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return PushCapped(ctx, kv, key, keep, string(b))
}

// Key layout.
func SignalsKey(strategyID string) string  { return "signals:" + strategyID }
func AlertsKey(accountID string) string    { return "alerts:" + accountID }
func PositionsKey(accountID string) string { return "positions:" + accountID }
func MetricsKey(accountID string) string   { return "risk_metrics:" + accountID }
func StressKey(accountID string) string    { return "stress:" + accountID }
