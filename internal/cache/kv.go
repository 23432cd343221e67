package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrCacheMiss means the key does not exist or has expired.
var ErrCacheMiss = errors.New("cache miss")

// KVStore is the key-value store holding dedup marks, flags and locks.
type KVStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	// SetNX sets key only if it does not exist and reports whether it did.
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	// TTL returns the remaining lifetime of key, ErrCacheMiss when absent.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// DeleteIfValue removes key only while it still holds value.
	DeleteIfValue(ctx context.Context, key, value string) (bool, error)
	// ExtendIfValue sets key's lifetime to ttl while it holds value, or
	// recreates it when absent. It reports false when another value is set.
	ExtendIfValue(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

// deleteIfValueScript deletes KEYS[1] only if it equals ARGV[1].
var deleteIfValueScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
	return 0
end
redis.call("DEL", KEYS[1])
return 1
`)

// extendIfValueScript sets the expiry of KEYS[1] to ARGV[2] ms if it holds
// ARGV[1], or sets it when missing.
var extendIfValueScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current == false then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
end
if current ~= ARGV[1] then
	return 0
end
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return 1
`)

// RedisKVStore is the go-redis implementation of KVStore.
type RedisKVStore struct {
	client *redis.Client
}

func NewRedisKVStore(client *redis.Client) *RedisKVStore {
	return &RedisKVStore{client: client}
}

func (r *RedisKVStore) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrCacheMiss
		}
		return "", err
	}
	return val, nil
}

func (r *RedisKVStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisKVStore) SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, value, ttl).Result()
}

func (r *RedisKVStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisKVStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := r.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	// go-redis passes -2 (missing) and -1 (no expiry) through unscaled
	if d == -2 {
		return 0, ErrCacheMiss
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

func (r *RedisKVStore) DeleteIfValue(ctx context.Context, key, value string) (bool, error) {
	n, err := deleteIfValueScript.Run(ctx, r.client, []string{key}, value).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *RedisKVStore) ExtendIfValue(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ms := ttl.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	n, err := extendIfValueScript.Run(ctx, r.client, []string{key}, value, ms).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkOnce records key for ttl and reports whether this call created it.
func MarkOnce(ctx context.Context, kv KVStore, key string, ttl time.Duration) (bool, error) {
	return kv.SetNX(ctx, key, "1", ttl)
}

// Lock is a best-effort mutual exclusion held in the KV store. It expires
// after its ttl so a crashed holder cannot block others forever.
type Lock struct {
	kv    KVStore
	key   string
	token string
}

// TryLock acquires key for ttl. ok is false when someone else holds it.
func TryLock(ctx context.Context, kv KVStore, key string, ttl time.Duration) (lock *Lock, ok bool, err error) {
	token := uuid.NewString()
	ok, err = kv.SetNX(ctx, key, token, ttl)
	if err != nil || !ok {
		return nil, false, err
	}
	return &Lock{kv: kv, key: key, token: token}, true, nil
}

// Release frees the lock if it is still ours.
func (l *Lock) Release(ctx context.Context) error {
	_, err := l.kv.DeleteIfValue(ctx, l.key, l.token)
	return err
}

// Refresh extends the lock to ttl. It reports false when the lock has
// expired and been taken by someone else.
func (l *Lock) Refresh(ctx context.Context, ttl time.Duration) (bool, error) {
	return l.kv.ExtendIfValue(ctx, l.key, l.token, ttl)
}
