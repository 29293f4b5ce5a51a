package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"competition-service/internal/app"
	"competition-service/internal/domain"
)

// Store is an in-memory implementation of app.Store. A single mutex stands
// in for the uniqueness constraints and conditional updates of a database.
type Store struct {
	mu sync.RWMutex

	competitions  map[string]domain.Competition
	attempts      map[string]domain.Attempt
	attemptByUser map[string]string
	notifications map[string]domain.Notification
	notifByKey    map[string]string
	emails        map[string]domain.EmailQueueEntry
	emailByDedupe map[string]string
}

var _ app.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		competitions:  make(map[string]domain.Competition),
		attempts:      make(map[string]domain.Attempt),
		attemptByUser: make(map[string]string),
		notifications: make(map[string]domain.Notification),
		notifByKey:    make(map[string]string),
		emails:        make(map[string]domain.EmailQueueEntry),
		emailByDedupe: make(map[string]string),
	}
}

func pairKey(competitionID, userID string) string {
	return competitionID + "|" + userID
}

func (s *Store) CreateCompetition(_ context.Context, c domain.Competition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.competitions[c.ID] = c
	return nil
}

func (s *Store) GetCompetition(_ context.Context, id string) (domain.Competition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.competitions[id]
	if !ok {
		return domain.Competition{}, domain.ErrCompetitionNotFound
	}
	return c, nil
}

func (s *Store) ListCompetitions(_ context.Context) ([]domain.Competition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Competition, 0, len(s.competitions))
	for _, c := range s.competitions {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (s *Store) ListDueForFinalize(_ context.Context, now time.Time) ([]domain.Competition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Competition
	for _, c := range s.competitions {
		if !c.EndDate.After(now) && c.ResultsDispatchedAt == nil {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndDate.Before(out[j].EndDate) })
	return out, nil
}

func (s *Store) CompleteCompetition(_ context.Context, id string, at time.Time, rank app.RankFunc) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.competitions[id]
	if !ok {
		return false, domain.ErrCompetitionNotFound
	}
	if c.FinalizedAt != nil {
		return false, nil
	}

	var attempts []domain.Attempt
	for _, a := range s.attempts {
		if a.CompetitionID == id {
			attempts = append(attempts, copyAttempt(a))
		}
	}
	sort.Slice(attempts, func(i, j int) bool { return attempts[i].ID < attempts[j].ID })

	for _, r := range rank(attempts, at) {
		a := s.attempts[r.AttemptID]
		submittedAt, score, rnk := r.SubmittedAt, r.Score, r.Rank
		a.SubmittedAt = &submittedAt
		a.Outcome = r.Outcome
		a.Score = &score
		a.Rank = &rnk
		a.PointsEarned = r.PointsEarned
		s.attempts[r.AttemptID] = a
	}
	c.FinalizedAt = &at
	s.competitions[id] = c
	return true, nil
}

func (s *Store) MarkResultsDispatched(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.competitions[id]
	if !ok {
		return domain.ErrCompetitionNotFound
	}
	if c.ResultsDispatchedAt == nil {
		c.ResultsDispatchedAt = &at
		s.competitions[id] = c
	}
	return nil
}

func (s *Store) CreateAttempt(_ context.Context, a domain.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.competitions[a.CompetitionID]
	if !ok {
		return domain.ErrCompetitionNotFound
	}
	if c.FinalizedAt != nil {
		return domain.ErrCompetitionNotActive
	}
	key := pairKey(a.CompetitionID, a.UserID)
	if _, ok := s.attemptByUser[key]; ok {
		return domain.ErrAlreadyStarted
	}
	s.attempts[a.ID] = copyAttempt(a)
	s.attemptByUser[key] = a.ID
	return nil
}

func (s *Store) GetAttempt(_ context.Context, id string) (domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attempts[id]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return copyAttempt(a), nil
}

func (s *Store) GetAttemptByUser(_ context.Context, competitionID, userID string) (domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.attemptByUser[pairKey(competitionID, userID)]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return copyAttempt(s.attempts[id]), nil
}

func (s *Store) SaveAnswer(_ context.Context, attemptID string, questionIndex, answerIndex int, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[attemptID]
	if !ok {
		return domain.ErrAttemptNotFound
	}
	if !a.IsOpen(now) {
		return domain.ErrAttemptClosed
	}
	answers := make(map[int]int, len(a.Answers)+1)
	for k, v := range a.Answers {
		answers[k] = v
	}
	answers[questionIndex] = answerIndex
	a.Answers = answers
	s.attempts[attemptID] = a
	return nil
}

func (s *Store) SubmitAttempt(_ context.Context, attemptID string, submittedAt time.Time, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[attemptID]
	if !ok {
		return domain.ErrAttemptNotFound
	}
	if a.SubmittedAt != nil {
		return domain.ErrAttemptClosed
	}
	a.SubmittedAt = &submittedAt
	a.Outcome = domain.OutcomeSubmitted
	a.Score = &score
	s.attempts[attemptID] = a
	return nil
}

func (s *Store) ListAttempts(_ context.Context, competitionID string) ([]domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Attempt
	for _, a := range s.attempts {
		if a.CompetitionID == competitionID {
			out = append(out, copyAttempt(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := out[i].Rank, out[j].Rank
		switch {
		case ri != nil && rj != nil && *ri != *rj:
			return *ri < *rj
		case ri != nil && rj == nil:
			return true
		case ri == nil && rj != nil:
			return false
		}
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (s *Store) InsertNotification(_ context.Context, n domain.Notification) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := domain.EmailDedupeKey(n.CompetitionID, n.UserID, n.Type)
	if _, ok := s.notifByKey[key]; ok {
		return false, nil
	}
	s.notifications[n.ID] = n
	s.notifByKey[key] = n.ID
	return true, nil
}

func (s *Store) ListNotifications(_ context.Context, userID string, now time.Time) ([]domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Notification
	for _, n := range s.notifications {
		if n.UserID == userID && !n.SentAt.After(now) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.After(out[j].SentAt) })
	return out, nil
}

func (s *Store) MarkNotificationRead(_ context.Context, id, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return domain.ErrNotificationNotFound
	}
	if n.IsRead {
		return nil
	}
	n.IsRead = true
	n.ReadAt = &at
	s.notifications[id] = n
	return nil
}

// Notifications returns every stored notification, for inspection.
func (s *Store) Notifications() []domain.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Notification, 0, len(s.notifications))
	for _, n := range s.notifications {
		out = append(out, n)
	}
	return out
}

func (s *Store) EnqueueEmail(_ context.Context, e domain.EmailQueueEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.emailByDedupe[e.DedupeKey]; ok {
		return false, nil
	}
	if e.NextAttemptAt.IsZero() {
		e.NextAttemptAt = e.ScheduledFor
	}
	s.emails[e.ID] = e
	s.emailByDedupe[e.DedupeKey] = e.ID
	return true, nil
}

func (s *Store) LeaseDueEmails(_ context.Context, now time.Time, limit int, leaseTTL time.Duration) ([]domain.EmailQueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []domain.EmailQueueEntry
	for _, e := range s.emails {
		if e.Status != domain.EmailPending || e.NextAttemptAt.After(now) {
			continue
		}
		if e.LockedUntil != nil && e.LockedUntil.After(now) {
			continue
		}
		due = append(due, e)
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextAttemptAt.Equal(due[j].NextAttemptAt) {
			return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
		}
		return due[i].ID < due[j].ID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	until := now.Add(leaseTTL)
	for i := range due {
		due[i].LockedUntil = &until
		due[i].UpdatedAt = now
		s.emails[due[i].ID] = due[i]
	}
	return due, nil
}

func (s *Store) MarkEmailSent(_ context.Context, id string, at time.Time) error {
	return s.updateEmail(id, func(e *domain.EmailQueueEntry) {
		e.Status = domain.EmailSent
		e.SentAt = &at
		e.LockedUntil = nil
		e.LastError = ""
		e.UpdatedAt = at
	})
}

func (s *Store) MarkEmailRetry(_ context.Context, id string, nextAttemptAt time.Time, lastError string, at time.Time) error {
	return s.updateEmail(id, func(e *domain.EmailQueueEntry) {
		e.RetryCount++
		e.NextAttemptAt = nextAttemptAt
		e.LastError = lastError
		e.LockedUntil = nil
		e.UpdatedAt = at
	})
}

func (s *Store) MarkEmailFailed(_ context.Context, id string, lastError string, at time.Time) error {
	return s.updateEmail(id, func(e *domain.EmailQueueEntry) {
		e.RetryCount++
		e.Status = domain.EmailFailed
		e.LastError = lastError
		e.LockedUntil = nil
		e.UpdatedAt = at
	})
}

func (s *Store) updateEmail(id string, fn func(*domain.EmailQueueEntry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.emails[id]
	if !ok || e.Status != domain.EmailPending {
		return domain.ErrEmailNotFound
	}
	fn(&e)
	s.emails[id] = e
	return nil
}

func (s *Store) ListFailedEmails(_ context.Context) ([]domain.EmailQueueEntry, error) {
	return s.emailsWithStatus(domain.EmailFailed), nil
}

func (s *Store) RequeueFailedEmail(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.emails[id]
	if !ok || e.Status != domain.EmailFailed {
		return domain.ErrEmailNotFound
	}
	e.Status = domain.EmailPending
	e.RetryCount = 0
	e.NextAttemptAt = at
	e.LastError = ""
	e.UpdatedAt = at
	s.emails[id] = e
	return nil
}

// Emails returns every queued email, for inspection.
func (s *Store) Emails() []domain.EmailQueueEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.EmailQueueEntry, 0, len(s.emails))
	for _, e := range s.emails {
		out = append(out, e)
	}
	return out
}

func (s *Store) emailsWithStatus(status domain.EmailStatus) []domain.EmailQueueEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.EmailQueueEntry
	for _, e := range s.emails {
		if e.Status == status {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out
}

func copyAttempt(a domain.Attempt) domain.Attempt {
	out := a
	out.Questions = make([]domain.Question, len(a.Questions))
	for i, q := range a.Questions {
		q.Options = append([]string(nil), q.Options...)
		out.Questions[i] = q
	}
	out.Answers = make(map[int]int, len(a.Answers))
	for k, v := range a.Answers {
		out.Answers[k] = v
	}
	return out
}
