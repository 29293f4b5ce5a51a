package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"competition-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// QuestionLoader fetches a competition's question bank from a backing store.
type QuestionLoader interface {
	LoadQuestions(ctx context.Context, competitionID string) ([]domain.Question, error)
}

// QuestionCache caches question banks with TTL to avoid repeated DB hits
// when many participants start at once.
type QuestionCache struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex

	mu    sync.RWMutex
	cache map[string]cachedBank
}

type cachedBank struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewQuestionCache(loader QuestionLoader, ttl time.Duration) *QuestionCache {
	return &QuestionCache{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedBank),
	}
}

func (r *QuestionCache) Questions(ctx context.Context, competitionID string) ([]domain.Question, error) {
	if qs, ok := r.lookup(competitionID); ok {
		return qs, nil
	}

	result, err, _ := r.sf.Do(competitionID, func() (interface{}, error) {
		if qs, ok := r.lookup(competitionID); ok {
			return qs, nil
		}
		questions, err := r.loader.LoadQuestions(ctx, competitionID)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.cache[competitionID] = cachedBank{
			questions: questions,
			expiresAt: r.clock().Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

// Invalidate drops a cached bank after it was edited.
func (r *QuestionCache) Invalidate(_ context.Context, competitionID string) error {
	r.mu.Lock()
	delete(r.cache, competitionID)
	r.mu.Unlock()
	return nil
}

func (r *QuestionCache) lookup(competitionID string) ([]domain.Question, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[competitionID]
	if !ok || !entry.expiresAt.After(r.clock()) {
		return nil, false
	}
	return entry.questions, true
}

func (r *QuestionCache) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticQuestionLoader serves banks from a map (useful for tests/demos).
type StaticQuestionLoader struct {
	mu    sync.RWMutex
	banks map[string][]domain.Question
}

func NewStaticQuestionLoader(banks map[string][]domain.Question) *StaticQuestionLoader {
	if banks == nil {
		banks = make(map[string][]domain.Question)
	}
	return &StaticQuestionLoader{banks: banks}
}

// Set replaces the bank for a competition.
func (l *StaticQuestionLoader) Set(competitionID string, questions []domain.Question) {
	l.mu.Lock()
	l.banks[competitionID] = questions
	l.mu.Unlock()
}

func (l *StaticQuestionLoader) LoadQuestions(_ context.Context, competitionID string) ([]domain.Question, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if qs, ok := l.banks[competitionID]; ok {
		return qs, nil
	}
	return nil, domain.ErrQuestionBankNotFound
}

// SaveQuestions is Set behind the app.QuestionBankWriter signature.
func (l *StaticQuestionLoader) SaveQuestions(_ context.Context, competitionID string, questions []domain.Question) error {
	l.Set(competitionID, questions)
	return nil
}

// Questions lets the loader be used directly without a cache.
func (l *StaticQuestionLoader) Questions(ctx context.Context, competitionID string) ([]domain.Question, error) {
	return l.LoadQuestions(ctx, competitionID)
}
