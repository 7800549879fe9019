package distribution

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"estatesettle/internal/errs"
)

// CooldownGuard is a cross-process fast path for the manual trigger cooldown.
// Acquire reports false while key is still cooling down.
type CooldownGuard interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisCooldown implements CooldownGuard with SET NX + TTL.
type RedisCooldown struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisCooldown(rdb *redis.Client) *RedisCooldown {
	return &RedisCooldown{rdb: rdb, prefix: "estatesettle:cooldown:"}
}

func (r *RedisCooldown) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.rdb.SetNX(ctx, r.prefix+key, time.Now().Unix(), ttl).Result()
}

// checkCooldown enforces the minimum gap between a manual trigger and the
// last distribution. The database is authoritative; the guard additionally
// rejects bursts of manual triggers that have not produced a distribution yet.
func (e *Engine) checkCooldown(ctx context.Context, tokenizationID uint, now time.Time) error {
	if e.cfg.ManualCooldown <= 0 {
		return nil
	}
	last, err := e.store.LastDistributionAt(ctx, tokenizationID)
	if err != nil {
		return fmt.Errorf("load last distribution: %w", err)
	}
	if last != nil {
		if elapsed := now.Sub(*last); elapsed < e.cfg.ManualCooldown {
			return errs.Cooldown(tokenizationID, (e.cfg.ManualCooldown - elapsed).Round(time.Second).String())
		}
	}
	if e.cooldown == nil {
		return nil
	}
	ok, err := e.cooldown.Acquire(ctx, fmt.Sprintf("trigger:%d", tokenizationID), e.cfg.ManualCooldown)
	if err != nil {
		e.log.WithError(err).Warn("> cooldown guard unavailable, relying on database")
		return nil
	}
	if !ok {
		return errs.Cooldown(tokenizationID, e.cfg.ManualCooldown.String())
	}
	return nil
}
