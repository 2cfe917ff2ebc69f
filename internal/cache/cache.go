// Package cache keeps serialized published datasets in redis so repeated
// reads skip the relation preloads.
package cache

import (
	"fmt"
	"time"

	"github.com/go-redis/redis"
	"github.com/google/uuid"
	"github.com/zeebo/errs"
)

// Error is the error class for cache failures.
var Error = errs.Class("cache")

// Cache stores opaque payloads by key. A miss is reported with ok false and
// a nil error.
type Cache interface {
	Get(key string) (value []byte, ok bool, err error)
	Set(key string, value []byte) error
	Delete(keys ...string) error
}

// DatasetKey is the cache key of a serialized dataset.
func DatasetKey(id uuid.UUID) string {
	return fmt.Sprintf("dataset:%s", id)
}

// Redis is a Cache backed by a redis server.
type Redis struct {
	db  *redis.Client
	ttl time.Duration
}

// NewRedis connects to the redis server at address and verifies the
// connection with a ping.
func NewRedis(address, password string, db int, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})

	if err := client.Ping().Err(); err != nil {
		_ = client.Close()
		return nil, Error.New("ping failed: %v", err)
	}

	return &Redis{db: client, ttl: ttl}, nil
}

func (r *Redis) Get(key string) ([]byte, bool, error) {
	value, err := r.db.Get(key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, Error.New("get %q: %v", key, err)
	}
	return value, true, nil
}

func (r *Redis) Set(key string, value []byte) error {
	if err := r.db.Set(key, value, r.ttl).Err(); err != nil {
		return Error.New("set %q: %v", key, err)
	}
	return nil
}

func (r *Redis) Delete(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.db.Del(keys...).Err(); err != nil {
		return Error.New("delete: %v", err)
	}
	return nil
}

// Close closes the redis connection.
func (r *Redis) Close() error {
	return r.db.Close()
}

// Nop is a Cache that never stores anything.
type Nop struct{}

func (Nop) Get(string) ([]byte, bool, error) { return nil, false, nil }
func (Nop) Set(string, []byte) error         { return nil }
func (Nop) Delete(...string) error           { return nil }
