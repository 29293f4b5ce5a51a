package app

import (
	"context"
	"fmt"

	"competition-service/internal/domain"
	"competition-service/internal/logger"
	"github.com/sirupsen/logrus"
)

// QuestionBankWriter persists a competition's question bank.
type QuestionBankWriter interface {
	SaveQuestions(ctx context.Context, competitionID string, questions []domain.Question) error
}

// QuestionCacheInvalidator is implemented by question caches that can drop an entry.
type QuestionCacheInvalidator interface {
	Invalidate(ctx context.Context, competitionID string) error
}

// QuestionBankService uploads question banks. Attempts already started keep
// their snapshot; only later starts see the new bank.
type QuestionBankService struct {
	competitions CompetitionRepository
	writer       QuestionBankWriter
	cache        QuestionCacheInvalidator
	log          logrus.FieldLogger
}

func NewQuestionBankService(competitions CompetitionRepository, writer QuestionBankWriter, cache QuestionCacheInvalidator, log logrus.FieldLogger) *QuestionBankService {
	if log == nil {
		log = logger.Discard()
	}
	return &QuestionBankService{competitions: competitions, writer: writer, cache: cache, log: log}
}

func (s *QuestionBankService) SetQuestions(ctx context.Context, competitionID string, questions []domain.Question) error {
	if err := validateBank(questions); err != nil {
		return err
	}
	if _, err := s.competitions.GetCompetition(ctx, competitionID); err != nil {
		return err
	}
	if err := s.writer.SaveQuestions(ctx, competitionID, questions); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, competitionID); err != nil {
			s.log.WithField("competition_id", competitionID).WithError(err).Warn("question cache invalidation failed")
		}
	}
	s.log.WithFields(logrus.Fields{
		"competition_id": competitionID,
		"questions":      len(questions),
	}).Info("question bank stored")
	return nil
}

func validateBank(questions []domain.Question) error {
	if len(questions) == 0 {
		return fmt.Errorf("%w: no questions", domain.ErrInvalidQuestionBank)
	}
	for i, q := range questions {
		switch {
		case q.Prompt == "":
			return fmt.Errorf("%w: question %d has no prompt", domain.ErrInvalidQuestionBank, i)
		case len(q.Options) < 2:
			return fmt.Errorf("%w: question %d needs at least two options", domain.ErrInvalidQuestionBank, i)
		case q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options):
			return fmt.Errorf("%w: question %d correct index out of range", domain.ErrInvalidQuestionBank, i)
		}
	}
	return nil
}
