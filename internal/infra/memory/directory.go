package memory

import (
	"context"
	"sort"
	"sync"

	"competition-service/internal/domain"
)

// UserDirectory is a static user directory for tests and demos.
type UserDirectory struct {
	mu       sync.RWMutex
	users    map[string]domain.User
	inactive map[string]bool
}

func NewUserDirectory(users ...domain.User) *UserDirectory {
	d := &UserDirectory{users: make(map[string]domain.User), inactive: make(map[string]bool)}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

// Deactivate keeps the user resolvable but drops them from ActiveUsers.
func (d *UserDirectory) Deactivate(id string) {
	d.mu.Lock()
	d.inactive[id] = true
	d.mu.Unlock()
}

func (d *UserDirectory) ActiveUsers(_ context.Context) ([]domain.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]domain.User, 0, len(d.users))
	for id, u := range d.users {
		if !d.inactive[id] {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *UserDirectory) GetUser(_ context.Context, id string) (domain.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}

// RewardLedger records reward grants once per (competition, user).
type RewardLedger struct {
	mu     sync.Mutex
	grants map[string]domain.RewardTier
}

func NewRewardLedger() *RewardLedger {
	return &RewardLedger{grants: make(map[string]domain.RewardTier)}
}

func (l *RewardLedger) ApplyReward(_ context.Context, competitionID, userID string, tier domain.RewardTier) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := pairKey(competitionID, userID)
	if _, ok := l.grants[key]; ok {
		return nil
	}
	l.grants[key] = tier
	return nil
}

// Grants returns recorded grants keyed by "competition|user".
func (l *RewardLedger) Grants() map[string]domain.RewardTier {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]domain.RewardTier, len(l.grants))
	for k, v := range l.grants {
		out[k] = v
	}
	return out
}
