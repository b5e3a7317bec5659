package csrf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "csrf:"

// RedisStore shares tokens between server instances. Keys carry a TTL so
// Redis expires them on its own; Sweep handles entries written with a
// longer TTL than the current one.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: defaultRedisPrefix, ttl: ttl}
}

func (s *RedisStore) key(sessionKey string) string {
	return s.prefix + sessionKey
}

func (s *RedisStore) Put(ctx context.Context, sessionKey string, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode token entry: %w", err)
	}
	if err := s.client.Set(ctx, s.key(sessionKey), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, sessionKey string) (Entry, bool, error) {
	data, err := s.client.Get(ctx, s.key(sessionKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("load token: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, false, fmt.Errorf("decode token entry: %w", err)
	}
	return e, true, nil
}

// deleteIfUnchanged drops KEYS[1] only while it still holds ARGV[1], so a
// token issued between the sweep's GET and DEL survives.
var deleteIfUnchanged = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (s *RedisStore) Sweep(ctx context.Context, olderThan time.Time) (int, error) {
	removed := 0
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("load token %s: %w", key, err)
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil || e.IssuedAt.Before(olderThan) {
			n, err := deleteIfUnchanged.Run(ctx, s.client, []string{key}, data).Int()
			if err != nil {
				return removed, fmt.Errorf("delete token %s: %w", key, err)
			}
			removed += n
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("scan tokens: %w", err)
	}
	return removed, nil
}

// Len counts the keys under the store prefix. It returns 0 if Redis is
// unreachable.
func (s *RedisStore) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n := 0
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if iter.Err() != nil {
		return 0
	}
	return n
}
