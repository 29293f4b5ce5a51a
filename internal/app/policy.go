package app

import (
	"errors"
	"fmt"
	"math"
	"time"

	"competition-service/internal/domain"
)

// PointsTable maps rank and score to points earned. Points never decrease
// as score rises or rank improves.
type PointsTable struct {
	Participation int
	PerScorePoint float64
	RankBonus     map[int]int
}

// DefaultPointsTable awards 10 for taking part, one point per percent and a top-3 bonus.
func DefaultPointsTable() PointsTable {
	return PointsTable{
		Participation: 10,
		PerScorePoint: 1,
		RankBonus:     map[int]int{1: 100, 2: 50, 3: 25},
	}
}

var ErrInvalidPointsTable = errors.New("invalid points table")

// Validate rejects tables that could award a worse rank or a lower score
// more points. Ranks missing from RankBonus get no bonus, so bonuses must be
// listed from rank 1 without gaps and must not grow with rank.
func (t PointsTable) Validate() error {
	if t.Participation < 0 || t.PerScorePoint < 0 {
		return fmt.Errorf("%w: negative participation or per-score points", ErrInvalidPointsTable)
	}
	maxRank := 0
	for rank, bonus := range t.RankBonus {
		if rank < 1 || bonus < 0 {
			return fmt.Errorf("%w: rank %d bonus %d", ErrInvalidPointsTable, rank, bonus)
		}
		if rank > maxRank {
			maxRank = rank
		}
	}
	for rank := 2; rank <= maxRank; rank++ {
		if t.RankBonus[rank] > t.RankBonus[rank-1] {
			return fmt.Errorf("%w: rank %d bonus %d exceeds rank %d bonus %d",
				ErrInvalidPointsTable, rank, t.RankBonus[rank], rank-1, t.RankBonus[rank-1])
		}
	}
	return nil
}

func (t PointsTable) Points(rank int, score float64) int {
	return t.Participation + int(math.Round(score*t.PerScorePoint)) + t.RankBonus[rank]
}

// RewardTable maps a rank to the subscription credit it earns.
type RewardTable map[int]domain.RewardTier

// DefaultRewardTable grants a free month to first place and half a month to second.
func DefaultRewardTable() RewardTable {
	return RewardTable{1: domain.RewardFreeMonth, 2: domain.RewardHalfMonth}
}

func (t RewardTable) TierFor(rank int) (domain.RewardTier, bool) {
	tier, ok := t[rank]
	return tier, ok
}

// BackoffKind selects how retry delays grow.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

// BackoffPolicy computes the delay before retry number n (1-based).
type BackoffPolicy struct {
	Kind BackoffKind
	Base time.Duration
	Max  time.Duration
}

func (p BackoffPolicy) Delay(retry int) time.Duration {
	if p.Base <= 0 {
		return 0
	}
	if p.Kind != BackoffExponential || retry <= 1 {
		return p.capped(p.Base)
	}
	d := p.Base
	for i := 1; i < retry; i++ {
		d *= 2
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
	}
	return p.capped(d)
}

func (p BackoffPolicy) capped(d time.Duration) time.Duration {
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}
