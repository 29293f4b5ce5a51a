package memory

import (
	"context"
	"sync"

	"competition-service/internal/domain"
)

// LeaderboardCache keeps finalized leaderboards in process.
type LeaderboardCache struct {
	mu     sync.RWMutex
	boards map[string]domain.Leaderboard
}

func NewLeaderboardCache() *LeaderboardCache {
	return &LeaderboardCache{boards: make(map[string]domain.Leaderboard)}
}

func (c *LeaderboardCache) GetLeaderboard(_ context.Context, competitionID string) (domain.Leaderboard, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	lb, ok := c.boards[competitionID]
	return lb, ok, nil
}

func (c *LeaderboardCache) PutLeaderboard(_ context.Context, lb domain.Leaderboard) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.boards[lb.CompetitionID] = lb
	return nil
}
