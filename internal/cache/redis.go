// Package cache backs the slot cache and the worker locks with Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrKeyEmpty = errors.New("cache: key cannot be empty")

// Redis implements service.Cache.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
}

// New wraps client; every key is namespaced with prefix (e.g. "consultation:").
func New(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (c *Redis) key(k string) string { return c.prefix + k }

func (c *Redis) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrKeyEmpty
	}
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (c *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrKeyEmpty
	}
	return c.client.Set(ctx, c.key(key), value, ttl).Err()
}

// DeleteByPrefix удаляет ключи через SCAN пачками по 100, без KEYS.
func (c *Redis) DeleteByPrefix(ctx context.Context, prefix string) error {
	if prefix == "" {
		return ErrKeyEmpty
	}

	iter := c.client.Scan(ctx, 0, c.key(prefix)+"*", 100).Iterator()
	keys := make([]string, 0, 100)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 100 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return c.client.Del(ctx, keys...).Err()
	}
	return nil
}

// Compare-and-delete: снимаем лок, только если он всё ещё наш.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock is a held lease on a named job.
type Lock struct {
	c     *Redis
	key   string
	token string
}

// TryLock acquires name for ttl. ok is false when another replica holds it.
func (c *Redis) TryLock(ctx context.Context, name string, ttl time.Duration) (*Lock, bool, error) {
	if name == "" {
		return nil, false, ErrKeyEmpty
	}
	l := &Lock{c: c, key: c.key("lock:" + name), token: uuid.NewString()}
	ok, err := c.client.SetNX(ctx, l.key, l.token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}
	return l, true, nil
}

func (l *Lock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.c.client, []string{l.key}, l.token).Err()
}
