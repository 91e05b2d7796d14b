// Package redis wraps go-redis with the key layout and the handful of
// commands the service uses: response replay, webhook de-duplication, token
// revocation and the cron lease.
package redis

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/apmatch-backend/pkg/config"
	"github.com/angelmondragon/apmatch-backend/pkg/logger"
)

const keyNamespace = "apm"

// KeyKind is the second segment of every key, e.g. apm:lock:<name>.
type KeyKind string

const (
	KindIdempotency KeyKind = "idempotency"
	KindLock        KeyKind = "lock"
	KindRevoked     KeyKind = "revoked"
)

// compareAndDelete removes KEYS[1] only while it still holds ARGV[1].
const compareAndDelete = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

var ErrNotConnected = errors.New("redis client not connected")

// commands is the subset of redis.Cmdable in use, narrowed so tests can
// supply an in-memory fake.
type commands interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

type Client struct {
	cmd    commands
	closer func() error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// IdempotencyStore is what the replay middleware and webhook guard need.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// New dials redis and fails unless the server answers PING.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := buildOptions(cfg)
	if err != nil {
		return nil, err
	}
	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"redis_addr": opts.Addr,
			"redis_db":   opts.DB,
			"pool_size":  opts.PoolSize,
		}), "redis.connected")
	}
	return &Client{cmd: raw, closer: raw.Close}, nil
}

// buildOptions prefers the URL and falls back to address fields. Explicit
// pool and timeout settings apply either way.
func buildOptions(cfg config.RedisConfig) (*redis.Options, error) {
	var opts *redis.Options
	switch {
	case strings.TrimSpace(cfg.URL) != "":
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url %s: %w", redactURL(cfg.URL), err)
		}
		opts = parsed
	case strings.TrimSpace(cfg.Address) != "":
		opts = &redis.Options{Addr: cfg.Address, Password: cfg.Password, DB: cfg.DB}
	default:
		return nil, errors.New("redis url or address is required")
	}
	if opts.DB == 0 && cfg.DB > 0 {
		opts.DB = cfg.DB
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	return opts, nil
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid>"
	}
	return u.Redacted()
}

func (c *Client) commands() (commands, error) {
	if c == nil || c.cmd == nil {
		return nil, ErrNotConnected
	}
	return c.cmd, nil
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	cmd, err := c.commands()
	if err != nil {
		return "", err
	}
	return cmd.Get(ctx, key).Result()
}

func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	cmd, err := c.commands()
	if err != nil {
		return err
	}
	return cmd.Set(ctx, key, value, ttl).Err()
}

func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	cmd, err := c.commands()
	if err != nil {
		return false, err
	}
	return cmd.SetNX(ctx, key, value, ttl).Result()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	cmd, err := c.commands()
	if err != nil {
		return err
	}
	return cmd.Del(ctx, keys...).Err()
}

// CompareAndDelete deletes key only if its value is still expected, in one
// round trip. It reports whether a key was removed.
func (c *Client) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	cmd, err := c.commands()
	if err != nil {
		return false, err
	}
	removed, err := cmd.Eval(ctx, compareAndDelete, []string{key}, expected).Int64()
	if err != nil {
		return false, fmt.Errorf("compare and delete %s: %w", key, err)
	}
	return removed == 1, nil
}

func (c *Client) Ping(ctx context.Context) error {
	cmd, err := c.commands()
	if err != nil {
		return err
	}
	return cmd.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c == nil || c.closer == nil {
		return nil
	}
	return c.closer()
}

// Key joins non-blank parts under the namespace and kind.
func Key(kind KeyKind, parts ...string) string {
	segments := make([]string, 0, len(parts)+2)
	segments = append(segments, keyNamespace, string(kind))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			segments = append(segments, part)
		}
	}
	return strings.Join(segments, ":")
}

func (c *Client) IdempotencyKey(scope, id string) string { return Key(KindIdempotency, scope, id) }
func (c *Client) LockKey(name string) string             { return Key(KindLock, name) }
func (c *Client) RevocationKey(tokenID string) string    { return Key(KindRevoked, tokenID) }

// IsNil reports whether err is the redis "key does not exist" reply.
func IsNil(err error) bool {
	return errors.Is(err, redis.Nil)
}
