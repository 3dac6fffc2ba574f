package ratelimiter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var tokenBucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local interval = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local requested = tonumber(ARGV[5])

local data = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end

if now > ts then
  local intervals = math.floor((now - ts) / interval)
  local cap = math.floor(capacity / rate) + 1
  if intervals > cap then intervals = cap end
  if intervals > 0 then
    tokens = math.min(capacity, tokens + intervals * rate)
    if tokens == capacity then
      ts = now
    else
      ts = ts + intervals * interval
    end
  end
end

local remaining = tokens - requested
if remaining >= 0 then tokens = remaining end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'ts', ts)
redis.call('PEXPIRE', KEYS[1], (math.floor(capacity / rate) + 2) * interval)
return {remaining, ts + interval}
`)

// RedisStore keeps token buckets in Redis hashes.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit:bucket:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) ConsumeTokens(ctx context.Context, key string, tokens int, cfg Config, now time.Time) (int, time.Time, error) {
	res, err := tokenBucketScript.Run(ctx, s.client, []string{s.prefix + key},
		cfg.Capacity, cfg.RefillRate, cfg.RefillInterval.Milliseconds(), now.UnixMilli(), tokens,
	).Int64Slice()
	if err != nil {
		return 0, time.Time{}, errors.Join(ErrStoreUnavailable, err)
	}
	if len(res) != 2 {
		return 0, time.Time{}, fmt.Errorf("%w: unexpected script reply %v", ErrStoreUnavailable, res)
	}
	return int(res[0]), time.UnixMilli(res[1]), nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}

// Reply layout: {admitted, count1, oldest1, count2, oldest2, ...}.
var slidingWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local member = ARGV[2]
local reply = {1}

for i = 1, #KEYS do
  local size = tonumber(ARGV[1 + i * 2])
  local limit = tonumber(ARGV[2 + i * 2])
  redis.call('ZREMRANGEBYSCORE', KEYS[i], '-inf', now - size)
  local count = redis.call('ZCARD', KEYS[i])
  local oldest = 0
  if count > 0 then
    local first = redis.call('ZRANGE', KEYS[i], 0, 0, 'WITHSCORES')
    oldest = tonumber(first[2])
  end
  reply[#reply + 1] = count
  reply[#reply + 1] = oldest
  if count >= limit then reply[1] = 0 end
end

if reply[1] == 1 then
  for i = 1, #KEYS do
    redis.call('ZADD', KEYS[i], now, member)
    redis.call('PEXPIRE', KEYS[i], tonumber(ARGV[1 + i * 2]))
  end
end
return reply
`)

// RedisWindowStore keeps sliding windows in sorted sets scored by
// millisecond timestamps. Keys share a hash tag so one script can touch all
// windows of a key on Redis Cluster.
type RedisWindowStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisWindowStore(client redis.UniversalClient, prefix string) *RedisWindowStore {
	if prefix == "" {
		prefix = "ratelimit:window:"
	}
	return &RedisWindowStore{client: client, prefix: prefix}
}

func (s *RedisWindowStore) Admit(ctx context.Context, key string, windows []Window, now time.Time) ([]WindowCount, bool, error) {
	if key == "" {
		return nil, false, ErrKeyRequired
	}
	keys := s.keys(key, windows)
	args := make([]any, 0, 2+2*len(windows))
	args = append(args, now.UnixMilli(), strconv.FormatInt(now.UnixMilli(), 10)+"-"+uuid.NewString())
	for _, w := range windows {
		args = append(args, w.Size.Milliseconds(), w.Limit)
	}

	res, err := slidingWindowScript.Run(ctx, s.client, keys, args...).Int64Slice()
	if err != nil {
		return nil, false, errors.Join(ErrStoreUnavailable, err)
	}
	if len(res) != 1+2*len(windows) {
		return nil, false, fmt.Errorf("%w: unexpected script reply %v", ErrStoreUnavailable, res)
	}

	counts := make([]WindowCount, len(windows))
	for i := range windows {
		counts[i].Count = int(res[1+2*i])
		if oldest := res[2+2*i]; oldest > 0 {
			counts[i].Oldest = time.UnixMilli(oldest)
		}
	}
	return counts, res[0] == 1, nil
}

func (s *RedisWindowStore) Reset(ctx context.Context, key string, windows []Window) error {
	if err := s.client.Del(ctx, s.keys(key, windows)...).Err(); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisWindowStore) keys(key string, windows []Window) []string {
	keys := make([]string, len(windows))
	for i, w := range windows {
		keys[i] = s.prefix + "{" + key + "}:" + w.Name
	}
	return keys
}
