package throttle

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrStoreUnavailable indicates the throttle backend is unreachable.
var ErrStoreUnavailable = errors.New("throttle store unavailable")

// RedisStore is an AttemptStore shared across processes. Failures are
// counted with INCR under a TTL that opens on the first failure, and a
// separate lock key carries the lockout expiry. Redis serializes the
// increments, so concurrent failures from one address are not under-counted.
//
// Unlike MemoryStore, the counter expires with the window, so the
// never-pruned-window quirk does not carry over here.
type RedisStore struct {
	client redis.UniversalClient
	cfg    Config
}

// NewRedisStore returns a Redis-backed store using the given client.
func NewRedisStore(client redis.UniversalClient, cfg Config) *RedisStore {
	return &RedisStore{client: client, cfg: cfg}
}

func failKey(addr string) string { return "throttle:fail:" + addr }
func lockKey(addr string) string { return "throttle:lock:" + addr }

func (s *RedisStore) RecordFailure(ctx context.Context, addr string) (bool, error) {
	locked, err := s.IsLocked(ctx, addr)
	if err != nil {
		return false, err
	}

	count, err := s.client.Incr(ctx, failKey(addr)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, failKey(addr), s.cfg.Window).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	if locked {
		return true, nil
	}

	if count >= int64(s.cfg.Threshold) {
		if err := s.client.Set(ctx, lockKey(addr), 1, s.cfg.LockDuration).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return true, nil
	}
	return false, nil
}

func (s *RedisStore) IsLocked(ctx context.Context, addr string) (bool, error) {
	n, err := s.client.Exists(ctx, lockKey(addr)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Reset(ctx context.Context, addr string) error {
	if err := s.client.Del(ctx, failKey(addr), lockKey(addr)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
