package guard

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// CallGuard enforces the one-active-call-per-agent rule across dialer
// instances using a Redis claim key.
type CallGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCallGuard constructs a call guard.
func NewCallGuard(client *redis.Client, ttl time.Duration) *CallGuard {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &CallGuard{client: client, ttl: ttl}
}

// Claim attempts to reserve the agent's single call slot. It returns false
// when another dialer instance already holds the slot.
func (g *CallGuard) Claim(ctx context.Context, identity string) (bool, error) {
	script := redis.NewScript(`
local key = KEYS[1]
local ttl = tonumber(ARGV[1])
if redis.call('EXISTS', key) == 1 then
  return 0
end
redis.call('SET', key, '1', 'PX', ttl)
return 1
`)
	res, err := script.Run(ctx, g.client, []string{g.key(identity)}, g.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("call guard claim: %w", err)
	}
	return res == 1, nil
}

// Release frees the agent's call slot.
func (g *CallGuard) Release(ctx context.Context, identity string) error {
	if err := g.client.Del(ctx, g.key(identity)).Err(); err != nil {
		return fmt.Errorf("call guard release: %w", err)
	}
	return nil
}

func (g *CallGuard) key(identity string) string {
	return fmt.Sprintf("dialer:agent:%s:active", identity)
}
