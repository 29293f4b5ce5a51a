package postgres

import (
	"time"

	"competition-service/internal/domain"
	"github.com/uptrace/bun"
)

type competitionRow struct {
	bun.BaseModel `bun:"table:competitions,alias:c"`

	ID                  string     `bun:"id,pk"`
	Title               string     `bun:"title"`
	Description         string     `bun:"description"`
	StartDate           time.Time  `bun:"start_date"`
	EndDate             time.Time  `bun:"end_date"`
	TimeLimitMinutes    int        `bun:"time_limit_minutes"`
	QuestionCount       int        `bun:"question_count"`
	FinalizedAt         *time.Time `bun:"finalized_at"`
	ResultsDispatchedAt *time.Time `bun:"results_dispatched_at"`
	CreatedAt           time.Time  `bun:"created_at"`
}

func newCompetitionRow(c domain.Competition) *competitionRow {
	return &competitionRow{
		ID:                  c.ID,
		Title:               c.Title,
		Description:         c.Description,
		StartDate:           c.StartDate,
		EndDate:             c.EndDate,
		TimeLimitMinutes:    c.TimeLimitMinutes,
		QuestionCount:       c.QuestionCount,
		FinalizedAt:         c.FinalizedAt,
		ResultsDispatchedAt: c.ResultsDispatchedAt,
		CreatedAt:           c.CreatedAt,
	}
}

func (r competitionRow) toDomain() domain.Competition {
	return domain.Competition{
		ID:                  r.ID,
		Title:               r.Title,
		Description:         r.Description,
		StartDate:           r.StartDate.UTC(),
		EndDate:             r.EndDate.UTC(),
		TimeLimitMinutes:    r.TimeLimitMinutes,
		QuestionCount:       r.QuestionCount,
		FinalizedAt:         utcPtr(r.FinalizedAt),
		ResultsDispatchedAt: utcPtr(r.ResultsDispatchedAt),
		CreatedAt:           r.CreatedAt.UTC(),
	}
}

type attemptRow struct {
	bun.BaseModel `bun:"table:attempts,alias:a"`

	ID            string                `bun:"id,pk"`
	CompetitionID string                `bun:"competition_id"`
	UserID        string                `bun:"user_id"`
	Questions     []domain.Question     `bun:"questions,type:jsonb"`
	Answers       map[int]int           `bun:"answers,type:jsonb"`
	StartedAt     time.Time             `bun:"started_at"`
	Deadline      time.Time             `bun:"deadline"`
	SubmittedAt   *time.Time            `bun:"submitted_at"`
	Outcome       domain.AttemptOutcome `bun:"outcome"`
	Score         *float64              `bun:"score"`
	Rank          *int                  `bun:"final_rank"`
	PointsEarned  int                   `bun:"points_earned"`
}

func newAttemptRow(a domain.Attempt) *attemptRow {
	answers := a.Answers
	if answers == nil {
		answers = map[int]int{}
	}
	return &attemptRow{
		ID:            a.ID,
		CompetitionID: a.CompetitionID,
		UserID:        a.UserID,
		Questions:     a.Questions,
		Answers:       answers,
		StartedAt:     a.StartedAt,
		Deadline:      a.Deadline,
		SubmittedAt:   a.SubmittedAt,
		Outcome:       a.Outcome,
		Score:         a.Score,
		Rank:          a.Rank,
		PointsEarned:  a.PointsEarned,
	}
}

func (r attemptRow) toDomain() domain.Attempt {
	answers := r.Answers
	if answers == nil {
		answers = map[int]int{}
	}
	return domain.Attempt{
		ID:            r.ID,
		CompetitionID: r.CompetitionID,
		UserID:        r.UserID,
		Questions:     r.Questions,
		Answers:       answers,
		StartedAt:     r.StartedAt.UTC(),
		Deadline:      r.Deadline.UTC(),
		SubmittedAt:   utcPtr(r.SubmittedAt),
		Outcome:       r.Outcome,
		Score:         r.Score,
		Rank:          r.Rank,
		PointsEarned:  r.PointsEarned,
	}
}

type notificationRow struct {
	bun.BaseModel `bun:"table:notifications,alias:n"`

	ID            string                  `bun:"id,pk"`
	CompetitionID string                  `bun:"competition_id"`
	UserID        string                  `bun:"user_id"`
	Type          domain.NotificationType `bun:"notification_type"`
	Channel       domain.Channel          `bun:"channel"`
	Title         string                  `bun:"title"`
	Message       string                  `bun:"message"`
	IsRead        bool                    `bun:"is_read"`
	ReadAt        *time.Time              `bun:"read_at"`
	SentAt        time.Time               `bun:"sent_at"`
	CreatedAt     time.Time               `bun:"created_at"`
}

func (r notificationRow) toDomain() domain.Notification {
	return domain.Notification{
		ID:            r.ID,
		CompetitionID: r.CompetitionID,
		UserID:        r.UserID,
		Type:          r.Type,
		Channel:       r.Channel,
		Title:         r.Title,
		Message:       r.Message,
		IsRead:        r.IsRead,
		ReadAt:        utcPtr(r.ReadAt),
		SentAt:        r.SentAt.UTC(),
		CreatedAt:     r.CreatedAt.UTC(),
	}
}

type emailRow struct {
	bun.BaseModel `bun:"table:email_queue,alias:e"`

	ID             string             `bun:"id,pk"`
	DedupeKey      string             `bun:"dedupe_key"`
	RecipientEmail string             `bun:"recipient_email"`
	SenderEmail    string             `bun:"sender_email"`
	Subject        string             `bun:"subject"`
	HTMLContent    string             `bun:"html_content"`
	TextContent    string             `bun:"text_content"`
	ScheduledFor   time.Time          `bun:"scheduled_for"`
	NextAttemptAt  time.Time          `bun:"next_attempt_at"`
	Status         domain.EmailStatus `bun:"status"`
	RetryCount     int                `bun:"retry_count"`
	LastError      string             `bun:"last_error"`
	LockedUntil    *time.Time         `bun:"locked_until"`
	SentAt         *time.Time         `bun:"sent_at"`
	CreatedAt      time.Time          `bun:"created_at"`
	UpdatedAt      time.Time          `bun:"updated_at"`
}

func newEmailRow(e domain.EmailQueueEntry) *emailRow {
	return &emailRow{
		ID:             e.ID,
		DedupeKey:      e.DedupeKey,
		RecipientEmail: e.RecipientEmail,
		SenderEmail:    e.SenderEmail,
		Subject:        e.Subject,
		HTMLContent:    e.HTMLContent,
		TextContent:    e.TextContent,
		ScheduledFor:   e.ScheduledFor,
		NextAttemptAt:  e.NextAttemptAt,
		Status:         e.Status,
		RetryCount:     e.RetryCount,
		LastError:      e.LastError,
		LockedUntil:    e.LockedUntil,
		SentAt:         e.SentAt,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

func (r emailRow) toDomain() domain.EmailQueueEntry {
	return domain.EmailQueueEntry{
		ID:             r.ID,
		DedupeKey:      r.DedupeKey,
		RecipientEmail: r.RecipientEmail,
		SenderEmail:    r.SenderEmail,
		Subject:        r.Subject,
		HTMLContent:    r.HTMLContent,
		TextContent:    r.TextContent,
		ScheduledFor:   r.ScheduledFor.UTC(),
		NextAttemptAt:  r.NextAttemptAt.UTC(),
		Status:         r.Status,
		RetryCount:     r.RetryCount,
		LastError:      r.LastError,
		LockedUntil:    utcPtr(r.LockedUntil),
		SentAt:         utcPtr(r.SentAt),
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
