package app

import (
	"context"
	"time"

	"competition-service/internal/domain"
)

// CompetitionRepository persists competitions. Implementations enforce the
// sticky completed status with a conditional update.
type CompetitionRepository interface {
	CreateCompetition(ctx context.Context, c domain.Competition) error
	GetCompetition(ctx context.Context, id string) (domain.Competition, error)
	ListCompetitions(ctx context.Context) ([]domain.Competition, error)
	// ListDueForFinalize returns competitions past EndDate whose results were not dispatched.
	ListDueForFinalize(ctx context.Context, now time.Time) ([]domain.Competition, error)
	// CompleteCompetition atomically loads the competition's attempts, applies
	// rank to them and flips the competition to completed. It returns false
	// without writing anything when the competition was already finalized.
	CompleteCompetition(ctx context.Context, id string, at time.Time, rank RankFunc) (bool, error)
	MarkResultsDispatched(ctx context.Context, id string, at time.Time) error
}

// RankFunc turns every attempt of a competition into its final result.
type RankFunc func(attempts []domain.Attempt, at time.Time) []domain.AttemptResult

// AttemptRepository persists attempts. CreateAttempt returns
// domain.ErrAlreadyStarted when the (competition, user) pair already exists
// and domain.ErrCompetitionNotActive once the competition is finalized.
type AttemptRepository interface {
	CreateAttempt(ctx context.Context, a domain.Attempt) error
	GetAttempt(ctx context.Context, id string) (domain.Attempt, error)
	GetAttemptByUser(ctx context.Context, competitionID, userID string) (domain.Attempt, error)
	// SaveAnswer writes the answer only while the attempt is unsubmitted and now is before its deadline.
	SaveAnswer(ctx context.Context, attemptID string, questionIndex, answerIndex int, now time.Time) error
	// SubmitAttempt closes the attempt only if it is still unsubmitted.
	SubmitAttempt(ctx context.Context, attemptID string, submittedAt time.Time, score float64) error
	// ListAttempts returns attempts ordered by rank, unranked last.
	ListAttempts(ctx context.Context, competitionID string) ([]domain.Attempt, error)
}

// NotificationRepository stores dashboard notifications. InsertNotification
// ignores duplicates of the (competition, user, type) triple.
type NotificationRepository interface {
	InsertNotification(ctx context.Context, n domain.Notification) (bool, error)
	ListNotifications(ctx context.Context, userID string, now time.Time) ([]domain.Notification, error)
	MarkNotificationRead(ctx context.Context, id, userID string, at time.Time) error
}

// EmailQueue is the durable outbox. EnqueueEmail ignores duplicate dedupe keys.
type EmailQueue interface {
	EnqueueEmail(ctx context.Context, e domain.EmailQueueEntry) (bool, error)
	// LeaseDueEmails claims up to limit pending entries due at now for leaseTTL.
	LeaseDueEmails(ctx context.Context, now time.Time, limit int, leaseTTL time.Duration) ([]domain.EmailQueueEntry, error)
	MarkEmailSent(ctx context.Context, id string, at time.Time) error
	MarkEmailRetry(ctx context.Context, id string, nextAttemptAt time.Time, lastError string, at time.Time) error
	MarkEmailFailed(ctx context.Context, id string, lastError string, at time.Time) error
	ListFailedEmails(ctx context.Context) ([]domain.EmailQueueEntry, error)
	RequeueFailedEmail(ctx context.Context, id string, at time.Time) error
}

// Store is everything the engine persists.
type Store interface {
	CompetitionRepository
	AttemptRepository
	NotificationRepository
	EmailQueue
}

// QuestionRepository returns the current question bank for a competition.
type QuestionRepository interface {
	Questions(ctx context.Context, competitionID string) ([]domain.Question, error)
}

// UserDirectory resolves users and their emails.
type UserDirectory interface {
	ActiveUsers(ctx context.Context) ([]domain.User, error)
	GetUser(ctx context.Context, id string) (domain.User, error)
}

// RewardApplier grants a subscription credit. Implementations must be
// idempotent per (competitionID, userID).
type RewardApplier interface {
	ApplyReward(ctx context.Context, competitionID, userID string, tier domain.RewardTier) error
}

// MailTransport delivers one email.
type MailTransport interface {
	Send(ctx context.Context, msg domain.EmailMessage) error
}

// LeaderboardCache keeps finalized leaderboards close to readers.
type LeaderboardCache interface {
	GetLeaderboard(ctx context.Context, competitionID string) (domain.Leaderboard, bool, error)
	PutLeaderboard(ctx context.Context, lb domain.Leaderboard) error
}
