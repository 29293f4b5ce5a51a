package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"competition-service/internal/clock"
	"competition-service/internal/domain"
	"competition-service/internal/logger"
	"competition-service/internal/metrics"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CreateCompetitionInput is the administrative payload for a new competition.
type CreateCompetitionInput struct {
	Title            string    `json:"title" validate:"required,max=200"`
	Description      string    `json:"description" validate:"max=4000"`
	StartDate        time.Time `json:"startDate" validate:"required"`
	EndDate          time.Time `json:"endDate" validate:"required,gtfield=StartDate"`
	TimeLimitMinutes int       `json:"timeLimitMinutes" validate:"required,gt=0"`
	QuestionCount    int       `json:"questionCount" validate:"required,gt=0"`
}

// CompetitionView pairs a competition with its status at read time.
type CompetitionView struct {
	domain.Competition
	Status domain.CompetitionStatus `json:"status"`
}

// FinalizeReport describes what one Finalize call did.
type FinalizeReport struct {
	// Completed is true only for the call that flipped the competition to completed.
	Completed         bool `json:"completed"`
	ResultsDispatched bool `json:"resultsDispatched"`
	Participants      int  `json:"participants"`
	Rewards           int  `json:"rewards"`
}

// CompetitionConfig holds the policy tables used at finalize.
type CompetitionConfig struct {
	Points  PointsTable
	Rewards RewardTable
}

// CompetitionService owns the competition lifecycle and results finalization.
type CompetitionService struct {
	store     Store
	scheduler *NotificationScheduler
	rewards   RewardApplier
	boards    LeaderboardCache
	clock     clock.Clock
	log       logrus.FieldLogger
	metrics   *metrics.Metrics
	cfg       CompetitionConfig
	validate  *validator.Validate
}

func NewCompetitionService(store Store, scheduler *NotificationScheduler, rewards RewardApplier, boards LeaderboardCache, clk clock.Clock, log logrus.FieldLogger, m *metrics.Metrics, cfg CompetitionConfig) *CompetitionService {
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = logger.Discard()
	}
	if cfg.Points.RankBonus == nil && cfg.Points.Participation == 0 && cfg.Points.PerScorePoint == 0 {
		cfg.Points = DefaultPointsTable()
	}
	if cfg.Rewards == nil {
		cfg.Rewards = DefaultRewardTable()
	}
	return &CompetitionService{
		store:     store,
		scheduler: scheduler,
		rewards:   rewards,
		boards:    boards,
		clock:     clk,
		log:       log,
		metrics:   m,
		cfg:       cfg,
		validate:  validator.New(),
	}
}

// CreateCompetition validates and stores a new competition.
func (s *CompetitionService) CreateCompetition(ctx context.Context, in CreateCompetitionInput) (CompetitionView, error) {
	if err := s.validate.Struct(in); err != nil {
		return CompetitionView{}, fmt.Errorf("%w: %v", domain.ErrInvalidCompetition, err)
	}
	now := s.clock.Now()
	c := domain.Competition{
		ID:               uuid.NewString(),
		Title:            in.Title,
		Description:      in.Description,
		StartDate:        in.StartDate.UTC(),
		EndDate:          in.EndDate.UTC(),
		TimeLimitMinutes: in.TimeLimitMinutes,
		QuestionCount:    in.QuestionCount,
		CreatedAt:        now,
	}
	if err := s.store.CreateCompetition(ctx, c); err != nil {
		return CompetitionView{}, err
	}
	s.log.WithField("competition_id", c.ID).Info("competition created")
	return CompetitionView{Competition: c, Status: c.Status(now)}, nil
}

func (s *CompetitionService) GetCompetition(ctx context.Context, id string) (CompetitionView, error) {
	c, err := s.store.GetCompetition(ctx, id)
	if err != nil {
		return CompetitionView{}, err
	}
	return CompetitionView{Competition: c, Status: c.Status(s.clock.Now())}, nil
}

func (s *CompetitionService) ListCompetitions(ctx context.Context) ([]CompetitionView, error) {
	list, err := s.store.ListCompetitions(ctx)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	out := make([]CompetitionView, len(list))
	for i, c := range list {
		out[i] = CompetitionView{Competition: c, Status: c.Status(now)}
	}
	return out, nil
}

// Finalize closes the competition: open attempts are expired, every attempt
// is scored and ranked, the status flips to completed, rewards are granted
// and results notifications are enqueued. Only the call that wins the
// status flip dispatches results; a later call resumes dispatch if an
// earlier one stopped before finishing, and is otherwise a no-op.
func (s *CompetitionService) Finalize(ctx context.Context, id string) (FinalizeReport, error) {
	report, err := s.finalize(ctx, id)
	switch {
	case err != nil:
		s.metrics.Finalize("error")
	case report.Completed:
		s.metrics.Finalize("completed")
	case report.ResultsDispatched:
		s.metrics.Finalize("resumed")
	default:
		s.metrics.Finalize("noop")
	}
	return report, err
}

func (s *CompetitionService) finalize(ctx context.Context, id string) (FinalizeReport, error) {
	comp, err := s.store.GetCompetition(ctx, id)
	if err != nil {
		return FinalizeReport{}, err
	}
	log := s.log.WithField("competition_id", id)
	if comp.ResultsDispatchedAt != nil {
		return FinalizeReport{}, nil
	}

	now := s.clock.Now()
	var report FinalizeReport
	if !comp.Finalized() {
		if now.Before(comp.StartDate) {
			return FinalizeReport{}, domain.ErrCompetitionNotActive
		}
		won, err := s.store.CompleteCompetition(ctx, id, now, func(attempts []domain.Attempt, at time.Time) []domain.AttemptResult {
			return RankAttempts(attempts, at, s.cfg.Points)
		})
		if err != nil {
			return FinalizeReport{}, fmt.Errorf("complete competition: %w", err)
		}
		if !won {
			log.Info("competition finalized concurrently, nothing to do")
			return FinalizeReport{}, nil
		}
		comp.FinalizedAt = &now
		report.Completed = true
		log.Info("competition completed")
	}

	attempts, err := s.store.ListAttempts(ctx, id)
	if err != nil {
		return report, fmt.Errorf("list ranked attempts: %w", err)
	}
	report.Participants = len(attempts)

	for _, a := range attempts {
		if a.Rank == nil {
			continue
		}
		tier, ok := s.cfg.Rewards.TierFor(*a.Rank)
		if !ok || s.rewards == nil {
			continue
		}
		if err := s.rewards.ApplyReward(ctx, id, a.UserID, tier); err != nil {
			return report, fmt.Errorf("apply reward for %s: %w", a.UserID, err)
		}
		report.Rewards++
		log.WithFields(logrus.Fields{"user_id": a.UserID, "tier": tier, "rank": *a.Rank}).Info("reward applied")
	}

	if s.scheduler != nil {
		if _, err := s.scheduler.SendResultsNotifications(ctx, comp, attempts); err != nil {
			return report, fmt.Errorf("send results notifications: %w", err)
		}
	}

	lb := buildLeaderboard(id, attempts, now)
	if s.boards != nil {
		if err := s.boards.PutLeaderboard(ctx, lb); err != nil {
			log.WithError(err).Warn("leaderboard cache write failed")
		}
	}

	if err := s.store.MarkResultsDispatched(ctx, id, now); err != nil {
		return report, fmt.Errorf("mark results dispatched: %w", err)
	}
	report.ResultsDispatched = true
	return report, nil
}

// FinalizeDue finalizes every competition whose end date has passed and
// whose results were not dispatched yet. Errors on one competition do not
// stop the others.
func (s *CompetitionService) FinalizeDue(ctx context.Context) (int, error) {
	due, err := s.store.ListDueForFinalize(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}
	var errs []error
	done := 0
	for _, c := range due {
		if _, err := s.Finalize(ctx, c.ID); err != nil {
			s.log.WithField("competition_id", c.ID).WithError(err).Error("finalize failed")
			errs = append(errs, err)
			continue
		}
		done++
	}
	return done, errors.Join(errs...)
}

// RunFinalizeSweeper calls FinalizeDue every interval until ctx is done.
func (s *CompetitionService) RunFinalizeSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.FinalizeDue(ctx); err != nil && ctx.Err() == nil {
			s.log.WithError(err).Warn("finalize sweep finished with errors")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Leaderboard returns the ranked results of a finalized competition; it is
// empty before finalize.
func (s *CompetitionService) Leaderboard(ctx context.Context, id string) (domain.Leaderboard, error) {
	if s.boards != nil {
		lb, ok, err := s.boards.GetLeaderboard(ctx, id)
		if err != nil {
			s.log.WithField("competition_id", id).WithError(err).Warn("leaderboard cache read failed")
		} else if ok {
			return lb, nil
		}
	}

	comp, err := s.store.GetCompetition(ctx, id)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	now := s.clock.Now()
	if !comp.Finalized() {
		return domain.Leaderboard{CompetitionID: id, Entries: []domain.LeaderboardEntry{}, UpdatedAt: now}, nil
	}
	attempts, err := s.store.ListAttempts(ctx, id)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	lb := buildLeaderboard(id, attempts, now)
	if s.boards != nil {
		if err := s.boards.PutLeaderboard(ctx, lb); err != nil {
			s.log.WithField("competition_id", id).WithError(err).Warn("leaderboard cache write failed")
		}
	}
	return lb, nil
}

func buildLeaderboard(id string, attempts []domain.Attempt, now time.Time) domain.Leaderboard {
	entries := make([]domain.LeaderboardEntry, 0, len(attempts))
	for _, a := range attempts {
		if a.Rank == nil {
			continue
		}
		var score float64
		if a.Score != nil {
			score = *a.Score
		}
		entries = append(entries, domain.LeaderboardEntry{
			Rank:            *a.Rank,
			UserID:          a.UserID,
			AttemptID:       a.ID,
			Score:           score,
			DurationSeconds: a.Duration().Seconds(),
			PointsEarned:    a.PointsEarned,
		})
	}
	return domain.Leaderboard{CompetitionID: id, Entries: entries, UpdatedAt: now}
}
