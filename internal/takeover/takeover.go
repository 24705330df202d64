// Package takeover reports whether a human agent has taken over a chat
// session, in which case the bot must stay silent.
package takeover

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Gate reads and sets the live-human-takeover flag of a session. Both
// storage backends implement it directly; RedisGate shares the flag across
// replicas without touching the database.
type Gate interface {
	IsTakenOver(ctx context.Context, sessionID string) (bool, error)
	SetTakeover(ctx context.Context, sessionID string, on bool) error
}

const (
	keyPrefix = "takeover:"
	// DefaultTTL bounds how long a forgotten takeover silences the bot.
	DefaultTTL = 24 * time.Hour
)

var _ Gate = (*RedisGate)(nil)

// RedisGate stores one key per taken-over session.
type RedisGate struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisOptions locates the Redis server.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// DialRedis connects to Redis and verifies the connection.
func DialRedis(ctx context.Context, opts RedisOptions) (*RedisGate, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis address is empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", opts.Addr, err)
	}
	return NewRedisGate(client, opts.TTL), nil
}

// NewRedisGate wraps an existing client. ttl <= 0 uses DefaultTTL.
func NewRedisGate(client *redis.Client, ttl time.Duration) *RedisGate {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisGate{client: client, ttl: ttl}
}

func (g *RedisGate) IsTakenOver(ctx context.Context, sessionID string) (bool, error) {
	n, err := g.client.Exists(ctx, Key(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("reading takeover flag: %w", err)
	}
	return n > 0, nil
}

func (g *RedisGate) SetTakeover(ctx context.Context, sessionID string, on bool) error {
	var err error
	if on {
		err = g.client.Set(ctx, Key(sessionID), "1", g.ttl).Err()
	} else {
		err = g.client.Del(ctx, Key(sessionID)).Err()
	}
	if err != nil {
		return fmt.Errorf("setting takeover flag: %w", err)
	}
	return nil
}

func (g *RedisGate) Close() error {
	return g.client.Close()
}

// Key is the Redis key holding the flag for sessionID.
func Key(sessionID string) string {
	return keyPrefix + sessionID
}
