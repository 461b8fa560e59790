package guard

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

const (
	rateCeiling = 60
	rateWindow  = 60 * time.Second
)

// RateLimiter enforces a fixed-window send quota shared across workers.
// The window key is floor(now/60s); the counter expires on its own once
// the window closes. Like the breaker, it degrades open when the store
// is down.
type RateLimiter struct {
	store   Store
	channel string

	ceiling int
	window  time.Duration
	now     func() time.Time
}

func NewRateLimiter(store Store, channel string) *RateLimiter {
	return &RateLimiter{
		store:   store,
		channel: channel,
		ceiling: rateCeiling,
		window:  rateWindow,
		now:     time.Now,
	}
}

func (rl *RateLimiter) windowKey() string {
	bucket := rl.now().Unix() / int64(rl.window/time.Second)
	return fmt.Sprintf("courier:rate:%s:%d", rl.channel, bucket)
}

// CheckLimit reports whether the current window still has capacity and
// how many sends remain. It never mutates the counter.
func (rl *RateLimiter) CheckLimit(ctx context.Context) (bool, int) {
	v, ok, err := rl.store.Get(ctx, rl.windowKey())
	if err != nil {
		slog.Warn("rate store unavailable, allowing send", "channel", rl.channel, "err", err)
		return true, rl.ceiling
	}
	if !ok {
		return true, rl.ceiling
	}
	count, cerr := strconv.Atoi(v)
	if cerr != nil {
		return true, rl.ceiling
	}
	remaining := rl.ceiling - count
	if remaining < 0 {
		remaining = 0
	}
	return count < rl.ceiling, remaining
}

// Increment counts one confirmed send against the current window. The
// window expiry is applied on the first write of the window.
func (rl *RateLimiter) Increment(ctx context.Context) {
	if _, err := rl.store.Incr(ctx, rl.windowKey(), rl.window); err != nil {
		slog.Warn("rate window not incremented", "channel", rl.channel, "err", err)
	}
}
