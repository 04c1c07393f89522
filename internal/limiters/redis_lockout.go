package limiters

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/labcore/authcore/identity"
	"github.com/redis/go-redis/v9"
)

const minCounterTTL = 24 * time.Hour

// KEYS[1] lockout hash
// ARGV[1] now (unix ms), ARGV[2] threshold, ARGV[3] lock duration ms, ARGV[4] key ttl ms
var recordFailureScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local count = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
local locked = tonumber(redis.call('HGET', KEYS[1], 'until') or '0')
if locked > 0 and locked <= now then
  count = 0
  locked = 0
end
count = count + 1
if locked == 0 and count >= tonumber(ARGV[2]) then
  locked = now + tonumber(ARGV[3])
end
redis.call('HSET', KEYS[1], 'count', count, 'until', locked)
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return {count, locked}
`)

// RedisLockoutStore keeps lockout state in a Redis hash per identity.
// It is the alternative to keeping the counter on the identity row.
type RedisLockoutStore struct {
	redis redis.UniversalClient
}

func NewRedisLockoutStore(client redis.UniversalClient) *RedisLockoutStore {
	return &RedisLockoutStore{redis: client}
}

func lockoutKey(identityID string) string {
	return "lockout:" + identityID
}

func (s *RedisLockoutStore) LockState(ctx context.Context, identityID string) (identity.LockState, error) {
	vals, err := s.redis.HMGet(ctx, lockoutKey(identityID), "count", "until").Result()
	if err != nil {
		return identity.LockState{}, err
	}

	var state identity.LockState
	if v, ok := vals[0].(string); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return identity.LockState{}, errors.New("corrupt lockout counter")
		}
		state.FailedAttempts = n
	}
	if v, ok := vals[1].(string); ok {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return identity.LockState{}, errors.New("corrupt lockout expiry")
		}
		if ms > 0 {
			state.LockedUntil = time.UnixMilli(ms)
		}
	}
	return state, nil
}

func (s *RedisLockoutStore) RecordFailure(ctx context.Context, identityID string, policy identity.LockPolicy, now time.Time) (identity.LockState, error) {
	ttl := 2 * policy.Duration
	if ttl < minCounterTTL {
		ttl = minCounterTTL
	}

	res, err := recordFailureScript.Run(ctx, s.redis, []string{lockoutKey(identityID)},
		now.UnixMilli(), policy.Threshold, policy.Duration.Milliseconds(), ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return identity.LockState{}, err
	}
	if len(res) != 2 {
		return identity.LockState{}, errors.New("unexpected lockout script reply")
	}

	state := identity.LockState{FailedAttempts: int(res[0])}
	if res[1] > 0 {
		state.LockedUntil = time.UnixMilli(res[1])
	}
	return state, nil
}

func (s *RedisLockoutStore) ResetFailures(ctx context.Context, identityID string) error {
	return s.redis.Del(ctx, lockoutKey(identityID)).Err()
}
