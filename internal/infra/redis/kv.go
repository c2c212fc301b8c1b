package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KV stores device state as plain Redis strings.
// Keys are prefixed so device state can share a database with session markers:
// GET/SET proctor:{namespace}{key}
type KV struct {
	client *redis.Client
	prefix string
}

func NewKV(client *redis.Client) *KV {
	return &KV{client: client, prefix: "proctor:"}
}

func (kv *KV) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := kv.client.Get(ctx, kv.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (kv *KV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return kv.client.Set(ctx, kv.prefix+key, value, ttl).Err()
}

func (kv *KV) Delete(ctx context.Context, key string) error {
	return kv.client.Del(ctx, kv.prefix+key).Err()
}

// maxUpdateRetries bounds optimistic retries when another writer races a
// WATCHed key.
const maxUpdateRetries = 100

// Update is an optimistic WATCH/MULTI transaction, retried when the key
// changes underneath it.
func (kv *KV) Update(ctx context.Context, key string, fn func(current string, ok bool) (string, error)) error {
	key = kv.prefix + key
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Result()
		ok := true
		if errors.Is(err, redis.Nil) {
			current, ok = "", false
		} else if err != nil {
			return err
		}
		next, err := fn(current, ok)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		return err
	}
	for i := 0; i < maxUpdateRetries; i++ {
		err := kv.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("update %s: %w", key, redis.TxFailedErr)
}
