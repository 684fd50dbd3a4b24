package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const dueQueueKey = "sync_due"

func lockKey(userID int64) string {
	return fmt.Sprintf("syncing:%d", userID)
}

// Schedule queues a user for syncing at the given time. Re-scheduling
// an already queued user just moves its score.
func (c *Client) Schedule(ctx context.Context, userID int64, at time.Time) error {
	member := strconv.FormatInt(userID, 10)
	score := float64(at.Unix())

	if err := c.rdb.ZAdd(ctx, dueQueueKey, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return fmt.Errorf("zadd failed: %w", err)
	}
	return nil
}

// PopDue pops the next user whose scheduled time has passed.
func (c *Client) PopDue(ctx context.Context, now time.Time) (userID int64, found bool, err error) {
	results, err := c.rdb.ZRangeByScoreWithScores(ctx, dueQueueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: 1,
	}).Result()
	if err != nil {
		return 0, false, fmt.Errorf("zrangebyscore failed: %w", err)
	}
	if len(results) == 0 {
		return 0, false, nil
	}

	member := results[0].Member.(string)
	userID, err = strconv.ParseInt(member, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid queue member: %w", err)
	}

	if err := c.rdb.ZRem(ctx, dueQueueKey, member).Err(); err != nil {
		return 0, false, fmt.Errorf("zrem failed: %w", err)
	}
	return userID, true, nil
}

// AcquireSyncLock takes a per-user lock so that two processes never sync
// the same user concurrently. The engine itself stays safe without it
// (idempotent writes plus the cursor CAS), the lock only avoids wasted
// duplicate work.
func (c *Client) AcquireSyncLock(ctx context.Context, userID int64, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, lockKey(userID), "locked", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

// ReleaseSyncLock releases a per-user sync lock.
func (c *Client) ReleaseSyncLock(ctx context.Context, userID int64) error {
	return c.rdb.Del(ctx, lockKey(userID)).Err()
}
