package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"competition-service/internal/domain"
	"competition-service/internal/infra/memory"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// QuestionCache caches question banks in Redis and falls back to a loader on
// cache miss. Banks are stored as JSON at competition:{id}:questions.
type QuestionCache struct {
	client *redis.Client
	loader memory.QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group
	rndMu  sync.Mutex
	rnd    *rand.Rand
}

func NewQuestionCache(client *redis.Client, loader memory.QuestionLoader, ttl time.Duration) *QuestionCache {
	return &QuestionCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuestionCache) Questions(ctx context.Context, competitionID string) ([]domain.Question, error) {
	if qs, ok := r.lookup(ctx, competitionID); ok {
		return qs, nil
	}

	result, err, _ := r.sf.Do(competitionID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if qs, ok := r.lookup(ctx, competitionID); ok {
			return qs, nil
		}

		questions, err := r.loader.LoadQuestions(ctx, competitionID)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(questions)
		if err != nil {
			return nil, fmt.Errorf("marshal questions: %w", err)
		}
		// Cache write is best effort; the loader result is authoritative.
		_ = r.client.Set(ctx, r.key(competitionID), raw, r.ttlWithJitter()).Err()
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

// Invalidate drops the cached bank so the next read reloads it.
func (r *QuestionCache) Invalidate(ctx context.Context, competitionID string) error {
	return r.client.Del(ctx, r.key(competitionID)).Err()
}

func (r *QuestionCache) lookup(ctx context.Context, competitionID string) ([]domain.Question, bool) {
	raw, err := r.client.Get(ctx, r.key(competitionID)).Bytes()
	if err != nil {
		return nil, false
	}
	var qs []domain.Question
	if err := json.Unmarshal(raw, &qs); err != nil || len(qs) == 0 {
		return nil, false
	}
	return qs, true
}

func (r *QuestionCache) key(competitionID string) string {
	return "competition:" + competitionID + ":questions"
}

func (r *QuestionCache) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
