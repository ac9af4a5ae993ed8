package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const stepGuardTTL = 10 * time.Minute

// acceptStep stores ARGV[1] under KEYS[1] only when it is greater than the
// step already recorded, so concurrent verifications cannot both win.
var acceptStep = redis.NewScript(`
local last = redis.call("GET", KEYS[1])
if last and tonumber(last) >= tonumber(ARGV[1]) then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`)

// StepGuard rejects TOTP codes whose time step is not newer than the last
// one accepted for the same user.
// Key format: totp:last_step:<user_id>
type StepGuard struct {
	client redis.Scripter
}

// NewStepGuard creates a StepGuard wrapping the given Redis client.
func NewStepGuard(client redis.Scripter) *StepGuard {
	return &StepGuard{client: client}
}

// Accept records step for userID and reports whether it moved forward.
func (g *StepGuard) Accept(ctx context.Context, userID int64, step int64) (bool, error) {
	n, err := acceptStep.Run(ctx, g.client, []string{g.key(userID)}, step, stepGuardTTL.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("totp step guard: %w", err)
	}
	return n == 1, nil
}

func (g *StepGuard) key(userID int64) string {
	return fmt.Sprintf("totp:last_step:%d", userID)
}
