package app

import (
	"context"
	"errors"
	"fmt"

	"competition-service/internal/clock"
	"competition-service/internal/domain"
	"competition-service/internal/logger"
	"competition-service/internal/metrics"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AttemptService runs the attempt lifecycle: start, answer, submit.
// The server clock is authoritative; client countdowns are advisory.
type AttemptService struct {
	store     Store
	questions QuestionRepository
	clock     clock.Clock
	log       logrus.FieldLogger
	metrics   *metrics.Metrics
}

func NewAttemptService(store Store, questions QuestionRepository, clk clock.Clock, log logrus.FieldLogger, m *metrics.Metrics) *AttemptService {
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &AttemptService{store: store, questions: questions, clock: clk, log: log, metrics: m}
}

// Start opens the single attempt a user gets for a competition and returns
// the question snapshot without the answer key.
func (s *AttemptService) Start(ctx context.Context, competitionID, userID string) (domain.AttemptView, error) {
	comp, err := s.store.GetCompetition(ctx, competitionID)
	if err != nil {
		return domain.AttemptView{}, err
	}
	now := s.clock.Now()
	if comp.Status(now) != domain.StatusActive {
		return domain.AttemptView{}, domain.ErrCompetitionNotActive
	}

	if _, err := s.store.GetAttemptByUser(ctx, competitionID, userID); err == nil {
		return domain.AttemptView{}, domain.ErrAlreadyStarted
	} else if !errors.Is(err, domain.ErrAttemptNotFound) {
		return domain.AttemptView{}, err
	}

	bank, err := s.questions.Questions(ctx, competitionID)
	if err != nil {
		return domain.AttemptView{}, fmt.Errorf("load questions: %w", err)
	}

	attempt := domain.Attempt{
		ID:            uuid.NewString(),
		CompetitionID: competitionID,
		UserID:        userID,
		Questions:     snapshotQuestions(bank, comp.QuestionCount),
		Answers:       map[int]int{},
		StartedAt:     now,
		Deadline:      now.Add(comp.TimeLimit()),
	}
	// The store's uniqueness constraint settles concurrent starts.
	if err := s.store.CreateAttempt(ctx, attempt); err != nil {
		return domain.AttemptView{}, err
	}
	s.metrics.AttemptStarted()
	s.log.WithFields(logrus.Fields{
		"competition_id": competitionID,
		"user_id":        userID,
		"attempt_id":     attempt.ID,
	}).Info("attempt started")
	return attempt.View(now), nil
}

// Current returns the user's attempt for a competition.
func (s *AttemptService) Current(ctx context.Context, competitionID, userID string) (domain.AttemptView, error) {
	attempt, err := s.store.GetAttemptByUser(ctx, competitionID, userID)
	if err != nil {
		return domain.AttemptView{}, err
	}
	return attempt.View(s.clock.Now()), nil
}

// Get returns an attempt with its state derived from now.
func (s *AttemptService) Get(ctx context.Context, attemptID string) (domain.AttemptView, error) {
	attempt, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return domain.AttemptView{}, err
	}
	return attempt.View(s.clock.Now()), nil
}

// RecordAnswer stores the selected option for a question, replacing any
// earlier answer. It fails with ErrAttemptClosed once submitted or past the deadline.
func (s *AttemptService) RecordAnswer(ctx context.Context, attemptID string, questionIndex, answerIndex int) error {
	attempt, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	if !attempt.IsOpen(now) {
		return domain.ErrAttemptClosed
	}
	if questionIndex < 0 || questionIndex >= len(attempt.Questions) {
		return fmt.Errorf("%w: question %d", domain.ErrInvalidAnswer, questionIndex)
	}
	if answerIndex < 0 || answerIndex >= len(attempt.Questions[questionIndex].Options) {
		return fmt.Errorf("%w: option %d", domain.ErrInvalidAnswer, answerIndex)
	}
	return s.store.SaveAnswer(ctx, attemptID, questionIndex, answerIndex, now)
}

// Submit closes the attempt. A submit after the deadline is accepted, but
// the recorded submission time is clamped to the deadline.
func (s *AttemptService) Submit(ctx context.Context, attemptID string) (domain.AttemptView, error) {
	attempt, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return domain.AttemptView{}, err
	}
	if attempt.SubmittedAt != nil {
		return domain.AttemptView{}, domain.ErrAttemptClosed
	}

	now := s.clock.Now()
	submittedAt := attempt.ClampToDeadline(now)
	score := Score(attempt.Questions, attempt.Answers)
	if err := s.store.SubmitAttempt(ctx, attemptID, submittedAt, score); err != nil {
		return domain.AttemptView{}, err
	}

	attempt.SubmittedAt = &submittedAt
	attempt.Outcome = domain.OutcomeSubmitted
	attempt.Score = &score
	s.log.WithFields(logrus.Fields{
		"attempt_id": attemptID,
		"user_id":    attempt.UserID,
		"score":      score,
		"late":       now.After(attempt.Deadline),
	}).Info("attempt submitted")
	return attempt.View(now), nil
}

// snapshotQuestions copies the first count questions so later bank edits
// cannot change an attempt in flight.
func snapshotQuestions(bank []domain.Question, count int) []domain.Question {
	if count <= 0 || count > len(bank) {
		count = len(bank)
	}
	out := make([]domain.Question, count)
	for i := 0; i < count; i++ {
		out[i] = domain.Question{
			Prompt:       bank[i].Prompt,
			Options:      append([]string(nil), bank[i].Options...),
			CorrectIndex: bank[i].CorrectIndex,
		}
	}
	return out
}
