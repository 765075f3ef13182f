package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// windowScript increments the counter and starts the window on first hit in
// one round trip, so a crash between INCR and PEXPIRE cannot leave a counter
// without expiry.
var windowScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// RateLimiter is a fixed-window counter keyed per client.
type RateLimiter struct {
	client RedisClient
}

func NewRateLimiter(client RedisClient) *RateLimiter {
	return &RateLimiter{client: client}
}

// Allow counts one hit against key and reports whether it is within limit
// for the current window.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	res, err := r.client.RunScript(ctx, windowScript, []string{key}, window.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}
	count, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("rate limit %s: unexpected reply %T", key, res)
	}
	return count <= int64(limit), nil
}

// SubmitKey is the per-client counter for idea submissions.
func SubmitKey(client string) string {
	return fmt.Sprintf("rate_limit:submit:%s", client)
}
