package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aman-churiwal/gatekeeper/internal/models"
	"github.com/aman-churiwal/gatekeeper/internal/ratelimit"
	"github.com/aman-churiwal/gatekeeper/internal/storage"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultRedisPrefix = "ratelimit:"
	maxCASAttempts     = 5
	scanBatch          = 100
)

// RateLimitRedisRepository keeps entries as JSON strings and updates them with
// WATCH/MULTI/EXEC, retrying when another writer touched the key first.
type RateLimitRedisRepository struct {
	client *storage.RedisClient
	prefix string
	ttl    time.Duration
}

// ttl <= 0 keeps entries forever.
func NewRateLimitRedisRepository(client *storage.RedisClient, prefix string, ttl time.Duration) *RateLimitRedisRepository {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if ttl < 0 {
		ttl = 0
	}
	return &RateLimitRedisRepository{client: client, prefix: prefix, ttl: ttl}
}

func (r *RateLimitRedisRepository) key(k ratelimit.EntryKey) string {
	return r.prefix + k.String()
}

func (r *RateLimitRedisRepository) Update(ctx context.Context, key ratelimit.EntryKey, fn ratelimit.UpdateFunc) error {
	redisKey := r.key(key)

	txf := func(tx *redis.Tx) error {
		current, err := load(ctx, tx, redisKey)
		if err != nil {
			return err
		}

		next, err := fn(current)
		if err != nil || next == nil {
			return err
		}

		next.IdentityHash = key.IdentityHash
		next.Endpoint = key.Endpoint
		next.UpdatedAt = time.Now().UTC()

		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to encode rate limit entry: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, data, r.ttl)
			return nil
		})
		return err
	}

	return r.watch(ctx, txf, redisKey)
}

func (r *RateLimitRedisRepository) Get(ctx context.Context, key ratelimit.EntryKey) (*models.RateLimitEntry, error) {
	return load(ctx, r.client.Client, r.key(key))
}

func (r *RateLimitRedisRepository) CountBlocked(ctx context.Context) (int64, error) {
	var n int64

	err := r.scan(ctx, func(redisKey string) error {
		entry, err := load(ctx, r.client.Client, redisKey)
		if err != nil {
			return err
		}
		if entry != nil && entry.Blocked {
			n++
		}
		return nil
	})

	return n, err
}

// ClearBlocks unblocks entries one key at a time. Remaining TTLs are preserved.
func (r *RateLimitRedisRepository) ClearBlocks(ctx context.Context) (int64, error) {
	var n int64

	err := r.scan(ctx, func(redisKey string) error {
		cleared := false

		txf := func(tx *redis.Tx) error {
			cleared = false

			entry, err := load(ctx, tx, redisKey)
			if err != nil || entry == nil || !entry.Blocked {
				return err
			}

			entry.Blocked = false
			data, err := json.Marshal(entry)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.SetArgs(ctx, redisKey, data, redis.SetArgs{KeepTTL: true})
				return nil
			})
			cleared = err == nil
			return err
		}

		if err := r.watch(ctx, txf, redisKey); err != nil {
			return err
		}
		if cleared {
			n++
		}
		return nil
	})

	return n, err
}

func (r *RateLimitRedisRepository) watch(ctx context.Context, txf func(*redis.Tx) error, redisKey string) error {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		err := r.client.Client.Watch(ctx, txf, redisKey)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return ratelimit.ErrConflict
}

func (r *RateLimitRedisRepository) scan(ctx context.Context, fn func(redisKey string) error) error {
	iter := r.client.Client.Scan(ctx, 0, r.prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		if err := fn(iter.Val()); err != nil {
			return err
		}
	}
	return iter.Err()
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func load(ctx context.Context, c stringGetter, redisKey string) (*models.RateLimitEntry, error) {
	data, err := c.Get(ctx, redisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entry models.RateLimitEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode rate limit entry %q: %w", redisKey, err)
	}
	return &entry, nil
}
