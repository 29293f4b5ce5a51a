package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"competition-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// LeaderboardCache keeps finalized leaderboards in Redis. Results never
// change after finalize, so the TTL only bounds memory use.
type LeaderboardCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewLeaderboardCache(client *redis.Client, ttl time.Duration) *LeaderboardCache {
	return &LeaderboardCache{client: client, ttl: ttl}
}

func (c *LeaderboardCache) GetLeaderboard(ctx context.Context, competitionID string) (domain.Leaderboard, bool, error) {
	raw, err := c.client.Get(ctx, c.key(competitionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Leaderboard{}, false, nil
	}
	if err != nil {
		return domain.Leaderboard{}, false, fmt.Errorf("get leaderboard: %w", err)
	}
	var lb domain.Leaderboard
	if err := json.Unmarshal(raw, &lb); err != nil {
		return domain.Leaderboard{}, false, fmt.Errorf("unmarshal leaderboard: %w", err)
	}
	return lb, true, nil
}

func (c *LeaderboardCache) PutLeaderboard(ctx context.Context, lb domain.Leaderboard) error {
	raw, err := json.Marshal(lb)
	if err != nil {
		return fmt.Errorf("marshal leaderboard: %w", err)
	}
	return c.client.Set(ctx, c.key(lb.CompetitionID), raw, c.ttl).Err()
}

func (c *LeaderboardCache) key(competitionID string) string {
	return "competition:" + competitionID + ":leaderboard"
}
