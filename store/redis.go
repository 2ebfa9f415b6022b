package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rustyeddy/tradeguard/pkg/logger"
)

type RedisConfig struct {
	Addr         string        `json:"addr" yaml:"addr"`
	Password     string        `json:"password,omitempty" yaml:"password,omitempty"`
	DB           int           `json:"db" yaml:"db"`
	PoolSize     int           `json:"pool_size" yaml:"pool_size"`
	DialTimeout  time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	// Prefix namespaces every key, e.g. "tradeguard:".
	Prefix string `json:"prefix" yaml:"prefix"`
}

// Redis implements KV on a go-redis client.
type Redis struct {
	client *redis.Client
	prefix string
	log    *zap.Logger
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg RedisConfig, log *zap.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connect %s: %w", cfg.Addr, err)
	}

	log = logger.OrNop(log)
	log.Info("redis connected", zap.String("addr", cfg.Addr))
	return &Redis{client: client, prefix: cfg.Prefix, log: log}, nil
}

func (r *Redis) key(k string) string { return r.prefix + k }

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		r.log.Error("redis get failed", zap.String("key", key), zap.Error(err))
		return "", err
	}
	return val, nil
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		r.log.Error("redis set failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

func (r *Redis) Push(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	if err := r.client.LPush(ctx, r.key(key), args...).Err(); err != nil {
		r.log.Error("redis lpush failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

func (r *Redis) Trim(ctx context.Context, key string, keep int64) error {
	if keep <= 0 {
		return r.client.Del(ctx, r.key(key)).Err()
	}
	return r.client.LTrim(ctx, r.key(key), 0, keep-1).Err()
}

func (r *Redis) Range(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := r.client.LRange(ctx, r.key(key), start, stop).Result()
	if err != nil {
		r.log.Error("redis lrange failed", zap.String("key", key), zap.Error(err))
		return nil, err
	}
	return vals, nil
}

func (r *Redis) Publish(ctx context.Context, channel, message string) error {
	return r.client.Publish(ctx, r.key(channel), message).Err()
}

func (r *Redis) Subscribe(ctx context.Context, channel string) (<-chan string, error) {
	sub := r.client.Subscribe(ctx, r.key(channel))
	// Wait for the subscription to be confirmed so no message published
	// after Subscribe returns is lost.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan string, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- m.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
