package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "entrance:lock:"

// Compare-and-delete so a lock that expired and was taken by another node is
// left alone.
const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var (
	ErrLockUnavailable = errors.New("lock client not configured")
	ErrLockKeyRequired = errors.New("lock key is required")
	ErrLockTTLInvalid  = errors.New("lock ttl must be positive")
)

// Locker hands out short-lived exclusive leases on named work items, such as
// the billing backfill of a single account. A nil Locker never grants a
// lease.
type Locker struct {
	client *redis.Client
	script *redis.Script
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
	}
}

// TryLock returns the lease token when key was free.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, ErrLockUnavailable
	}
	name, err := lockKey(key)
	if err != nil {
		return "", false, err
	}
	if ttl <= 0 {
		return "", false, ErrLockTTLInvalid
	}

	lease := uuid.NewString()
	ok, err := l.client.SetNX(ctx, name, lease, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return lease, ok, nil
}

// Release drops the lease if it is still held by token.
func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil || token == "" {
		return nil
	}
	name, err := lockKey(key)
	if err != nil {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{name}, token).Err()
}

func lockKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrLockKeyRequired
	}
	return lockKeyPrefix + key, nil
}
