package queue

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petmatch/dispatchhub/internal/config"
)

// schedClient is the slice of redis the scheduler needs.
type schedClient interface {
	ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// Scheduler promotes due entries from the scheduled-retry set back onto
// the primary stream. Keeping the delay in redis rather than in an
// in-process timer means a scheduled retry survives a restart during its
// delay window.
type Scheduler struct {
	rc  schedClient
	cfg config.QueueConfig
}

func NewScheduler(rc schedClient, cfg config.QueueConfig) *Scheduler {
	return &Scheduler{rc: rc, cfg: cfg}
}

func (s *Scheduler) Start(ctx context.Context) error {
	log.Printf("[scheduler] pumping %s -> %s every %v", s.cfg.ScheduledSet, s.cfg.Stream, s.cfg.PumpInterval)

	t := time.NewTicker(s.cfg.PumpInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[scheduler] stopped (%v)", ctx.Err())
			return ctx.Err()
		case <-t.C:
			if n, err := s.promoteDue(ctx); err != nil {
				log.Printf("[scheduler] promotion failed: %v", err)
			} else if n > 0 {
				log.Printf("[scheduler] promoted %d scheduled message(s)", n)
			}
		}
	}
}

// promoteDue moves every entry whose due time has passed onto the
// stream. XADD happens before ZREM: a crash in between re-promotes the
// same payload, which at-least-once delivery already tolerates.
func (s *Scheduler) promoteDue(ctx context.Context) (int, error) {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	members, err := s.rc.ZRangeByScore(ctx, s.cfg.ScheduledSet, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: 100,
	}).Result()
	if err != nil || len(members) == 0 {
		return 0, err
	}

	promoted := 0
	for _, payload := range members {
		err := s.rc.XAdd(ctx, &redis.XAddArgs{
			Stream: s.cfg.Stream,
			MaxLen: s.cfg.MaxLen,
			Approx: true,
			Values: map[string]any{"payload": payload},
		}).Err()
		if err != nil {
			return promoted, err
		}
		if err := s.rc.ZRem(ctx, s.cfg.ScheduledSet, payload).Err(); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}
