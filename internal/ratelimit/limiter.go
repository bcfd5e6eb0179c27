// Package ratelimit throttles results-callback ingestion per tenant with a
// Redis-backed token bucket, so one noisy tenant cannot starve the queue.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter is a distributed token bucket keyed by tenant.
type Limiter struct {
	client   *redis.Client
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration

	now func() time.Time
}

// New constructs a limiter with the provided capacity and refill rate.
func New(client *redis.Client, capacity int, refillPerSecond float64, ttl time.Duration) *Limiter {
	return &Limiter{
		client:   client,
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Allow consumes one token from the tenant's bucket if available. It returns
// the allowed flag and the remaining token count.
func (l *Limiter) Allow(ctx context.Context, tenant string) (bool, float64, error) {
	key := "callbacks:bucket:" + tenant
	now := l.now().UnixMilli()
	res, err := bucketScript.Run(ctx, l.client, []string{key}, l.capacity, l.refill, now, l.ttl.Milliseconds()).Result()
	if err != nil {
		return false, 0, err
	}
	return parseBucketReply(res)
}

func parseBucketReply(res interface{}) (bool, float64, error) {
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return false, 0, fmt.Errorf("unexpected reply from bucket script: %T", res)
	}
	flag, ok := arr[0].(int64)
	if !ok {
		return false, 0, fmt.Errorf("unexpected allowed flag from bucket script: %T", arr[0])
	}
	var tokens float64
	switch v := arr[1].(type) {
	case int64:
		tokens = float64(v)
	case float64:
		tokens = v
	default:
		return false, 0, fmt.Errorf("unexpected token count from bucket script: %T", arr[1])
	}
	return flag == 1, tokens, nil
}

var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2]) -- tokens per second
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local delta = math.max(0, now - last)
local add = delta / 1000 * refill
tokens = math.min(capacity, tokens + add)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HMSET', key, 'tokens', tokens, 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, tokens}
`)
