package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"competition-service/internal/app"
	"competition-service/internal/domain"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// Store is the Postgres implementation of app.Store. Uniqueness and
// conditional updates in SQL carry the concurrency guarantees, so several
// service and worker processes can share one database.
type Store struct {
	db *bun.DB
}

// Open connects bun to Postgres through pgdriver.
func Open(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

var _ app.Store = (*Store)(nil)

func notFound(err, sentinel error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel
	}
	return err
}

func affected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func (s *Store) CreateCompetition(ctx context.Context, c domain.Competition) error {
	if _, err := s.db.NewInsert().Model(newCompetitionRow(c)).Exec(ctx); err != nil {
		return fmt.Errorf("insert competition: %w", err)
	}
	return nil
}

func (s *Store) GetCompetition(ctx context.Context, id string) (domain.Competition, error) {
	var row competitionRow
	if err := s.db.NewSelect().Model(&row).Where("c.id = ?", id).Scan(ctx); err != nil {
		return domain.Competition{}, notFound(err, domain.ErrCompetitionNotFound)
	}
	return row.toDomain(), nil
}

func (s *Store) ListCompetitions(ctx context.Context) ([]domain.Competition, error) {
	var rows []competitionRow
	if err := s.db.NewSelect().Model(&rows).Order("c.start_date ASC", "c.id ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list competitions: %w", err)
	}
	out := make([]domain.Competition, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *Store) ListDueForFinalize(ctx context.Context, now time.Time) ([]domain.Competition, error) {
	var rows []competitionRow
	err := s.db.NewSelect().Model(&rows).
		Where("c.end_date <= ?", now).
		Where("c.results_dispatched_at IS NULL").
		Order("c.end_date ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list due competitions: %w", err)
	}
	out := make([]domain.Competition, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// CompleteCompetition locks the competition and its attempts, writes the
// ranked results and sets finalized_at in one transaction. It reports false
// when another caller finalized first.
func (s *Store) CompleteCompetition(ctx context.Context, id string, at time.Time, rank app.RankFunc) (bool, error) {
	won := false
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var comp competitionRow
		if err := tx.NewSelect().Model(&comp).Where("c.id = ?", id).For("UPDATE").Scan(ctx); err != nil {
			return notFound(err, domain.ErrCompetitionNotFound)
		}
		if comp.FinalizedAt != nil {
			return nil
		}

		var rows []attemptRow
		if err := tx.NewSelect().Model(&rows).Where("a.competition_id = ?", id).Order("a.id ASC").For("UPDATE").Scan(ctx); err != nil {
			return fmt.Errorf("lock attempts: %w", err)
		}
		attempts := make([]domain.Attempt, len(rows))
		for i, r := range rows {
			attempts[i] = r.toDomain()
		}

		for _, r := range rank(attempts, at) {
			_, err := tx.NewUpdate().Model((*attemptRow)(nil)).
				Set("submitted_at = ?", r.SubmittedAt).
				Set("outcome = ?", r.Outcome).
				Set("score = ?", r.Score).
				Set("final_rank = ?", r.Rank).
				Set("points_earned = ?", r.PointsEarned).
				Where("a.id = ?", r.AttemptID).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("store result for %s: %w", r.AttemptID, err)
			}
		}

		res, err := tx.NewUpdate().Model((*competitionRow)(nil)).
			Set("finalized_at = ?", at).
			Where("c.id = ?", id).
			Where("c.finalized_at IS NULL").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("flip competition: %w", err)
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		won = n == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return won, nil
}

func (s *Store) MarkResultsDispatched(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.NewUpdate().Model((*competitionRow)(nil)).
		Set("results_dispatched_at = ?", at).
		Where("c.id = ?", id).
		Where("c.results_dispatched_at IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark results dispatched: %w", err)
	}
	return nil
}

// CreateAttempt inserts the attempt unless the competition was finalized.
// FOR SHARE queues behind a finalize holding the row FOR UPDATE, so an
// attempt either lands before the ranking snapshot or is refused.
func (s *Store) CreateAttempt(ctx context.Context, a domain.Attempt) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var comp competitionRow
		if err := tx.NewSelect().Model(&comp).Where("c.id = ?", a.CompetitionID).For("SHARE").Scan(ctx); err != nil {
			return notFound(err, domain.ErrCompetitionNotFound)
		}
		if comp.FinalizedAt != nil {
			return domain.ErrCompetitionNotActive
		}

		res, err := tx.NewInsert().Model(newAttemptRow(a)).
			On("CONFLICT (competition_id, user_id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("insert attempt: %w", err)
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrAlreadyStarted
		}
		return nil
	})
}

func (s *Store) GetAttempt(ctx context.Context, id string) (domain.Attempt, error) {
	var row attemptRow
	if err := s.db.NewSelect().Model(&row).Where("a.id = ?", id).Scan(ctx); err != nil {
		return domain.Attempt{}, notFound(err, domain.ErrAttemptNotFound)
	}
	return row.toDomain(), nil
}

func (s *Store) GetAttemptByUser(ctx context.Context, competitionID, userID string) (domain.Attempt, error) {
	var row attemptRow
	err := s.db.NewSelect().Model(&row).
		Where("a.competition_id = ?", competitionID).
		Where("a.user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		return domain.Attempt{}, notFound(err, domain.ErrAttemptNotFound)
	}
	return row.toDomain(), nil
}

// SaveAnswer writes one answer only while the attempt is open at now.
func (s *Store) SaveAnswer(ctx context.Context, attemptID string, questionIndex, answerIndex int, now time.Time) error {
	res, err := s.db.NewUpdate().Model((*attemptRow)(nil)).
		Set("answers = jsonb_set(answers, ?, to_jsonb(CAST(? AS integer)))", pgdialect.Array([]string{strconv.Itoa(questionIndex)}), answerIndex).
		Where("a.id = ?", attemptID).
		Where("a.submitted_at IS NULL").
		Where("a.deadline > ?", now).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("save answer: %w", err)
	}
	return s.closedOrMissing(ctx, res, attemptID)
}

// SubmitAttempt closes an open attempt; a second submit loses the
// submitted_at IS NULL guard.
func (s *Store) SubmitAttempt(ctx context.Context, attemptID string, submittedAt time.Time, score float64) error {
	res, err := s.db.NewUpdate().Model((*attemptRow)(nil)).
		Set("submitted_at = ?", submittedAt).
		Set("outcome = ?", domain.OutcomeSubmitted).
		Set("score = ?", score).
		Where("a.id = ?", attemptID).
		Where("a.submitted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("submit attempt: %w", err)
	}
	return s.closedOrMissing(ctx, res, attemptID)
}

func (s *Store) closedOrMissing(ctx context.Context, res sql.Result, attemptID string) error {
	n, err := affected(res)
	if err != nil || n > 0 {
		return err
	}
	exists, err := s.db.NewSelect().Model((*attemptRow)(nil)).Where("a.id = ?", attemptID).Exists(ctx)
	if err != nil {
		return fmt.Errorf("check attempt: %w", err)
	}
	if !exists {
		return domain.ErrAttemptNotFound
	}
	return domain.ErrAttemptClosed
}

func (s *Store) ListAttempts(ctx context.Context, competitionID string) ([]domain.Attempt, error) {
	var rows []attemptRow
	err := s.db.NewSelect().Model(&rows).
		Where("a.competition_id = ?", competitionID).
		OrderExpr("a.final_rank ASC NULLS LAST, a.started_at ASC, a.user_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	out := make([]domain.Attempt, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *Store) InsertNotification(ctx context.Context, n domain.Notification) (bool, error) {
	row := &notificationRow{
		ID:            n.ID,
		CompetitionID: n.CompetitionID,
		UserID:        n.UserID,
		Type:          n.Type,
		Channel:       n.Channel,
		Title:         n.Title,
		Message:       n.Message,
		IsRead:        n.IsRead,
		ReadAt:        n.ReadAt,
		SentAt:        n.SentAt,
		CreatedAt:     n.CreatedAt,
	}
	res, err := s.db.NewInsert().Model(row).
		On("CONFLICT (competition_id, user_id, notification_type) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}
	inserted, err := affected(res)
	return inserted == 1, err
}

func (s *Store) ListNotifications(ctx context.Context, userID string, now time.Time) ([]domain.Notification, error) {
	var rows []notificationRow
	err := s.db.NewSelect().Model(&rows).
		Where("n.user_id = ?", userID).
		Where("n.sent_at <= ?", now).
		Order("n.sent_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	out := make([]domain.Notification, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, id, userID string, at time.Time) error {
	res, err := s.db.NewUpdate().Model((*notificationRow)(nil)).
		Set("is_read = TRUE").
		Set("read_at = ?", at).
		Where("n.id = ?", id).
		Where("n.user_id = ?", userID).
		Where("n.is_read = FALSE").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	n, err := affected(res)
	if err != nil || n > 0 {
		return err
	}
	exists, err := s.db.NewSelect().Model((*notificationRow)(nil)).
		Where("n.id = ?", id).
		Where("n.user_id = ?", userID).
		Exists(ctx)
	if err != nil {
		return fmt.Errorf("check notification: %w", err)
	}
	if !exists {
		return domain.ErrNotificationNotFound
	}
	return nil
}

func (s *Store) EnqueueEmail(ctx context.Context, e domain.EmailQueueEntry) (bool, error) {
	if e.NextAttemptAt.IsZero() {
		e.NextAttemptAt = e.ScheduledFor
	}
	res, err := s.db.NewInsert().Model(newEmailRow(e)).
		On("CONFLICT (dedupe_key) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("enqueue email: %w", err)
	}
	inserted, err := affected(res)
	return inserted == 1, err
}

// LeaseDueEmails claims up to limit due entries for leaseTTL. Rows locked by
// a concurrent worker are skipped rather than waited on.
func (s *Store) LeaseDueEmails(ctx context.Context, now time.Time, limit int, leaseTTL time.Duration) ([]domain.EmailQueueEntry, error) {
	var rows []emailRow
	until := now.Add(leaseTTL)
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		err := tx.NewSelect().Model(&rows).
			Where("e.status = ?", domain.EmailPending).
			Where("e.next_attempt_at <= ?", now).
			Where("(e.locked_until IS NULL OR e.locked_until <= ?)", now).
			Order("e.next_attempt_at ASC", "e.id ASC").
			Limit(limit).
			For("UPDATE SKIP LOCKED").
			Scan(ctx)
		if err != nil {
			return fmt.Errorf("select due emails: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		ids := make([]string, len(rows))
		for i, r := range rows {
			ids[i] = r.ID
		}
		_, err = tx.NewUpdate().Model((*emailRow)(nil)).
			Set("locked_until = ?", until).
			Set("updated_at = ?", now).
			Where("e.id IN (?)", bun.In(ids)).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("lease emails: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.EmailQueueEntry, len(rows))
	for i, r := range rows {
		r.LockedUntil = &until
		r.UpdatedAt = now
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *Store) MarkEmailSent(ctx context.Context, id string, at time.Time) error {
	return s.updatePending(ctx, id, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("status = ?", domain.EmailSent).
			Set("sent_at = ?", at).
			Set("last_error = ''").
			Set("updated_at = ?", at)
	})
}

func (s *Store) MarkEmailRetry(ctx context.Context, id string, nextAttemptAt time.Time, lastError string, at time.Time) error {
	return s.updatePending(ctx, id, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("retry_count = retry_count + 1").
			Set("next_attempt_at = ?", nextAttemptAt).
			Set("last_error = ?", lastError).
			Set("updated_at = ?", at)
	})
}

func (s *Store) MarkEmailFailed(ctx context.Context, id string, lastError string, at time.Time) error {
	return s.updatePending(ctx, id, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("retry_count = retry_count + 1").
			Set("status = ?", domain.EmailFailed).
			Set("last_error = ?", lastError).
			Set("updated_at = ?", at)
	})
}

func (s *Store) updatePending(ctx context.Context, id string, set func(*bun.UpdateQuery) *bun.UpdateQuery) error {
	q := s.db.NewUpdate().Model((*emailRow)(nil)).Set("locked_until = NULL")
	res, err := set(q).
		Where("e.id = ?", id).
		Where("e.status = ?", domain.EmailPending).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update email %s: %w", id, err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrEmailNotFound
	}
	return nil
}

func (s *Store) ListFailedEmails(ctx context.Context) ([]domain.EmailQueueEntry, error) {
	var rows []emailRow
	err := s.db.NewSelect().Model(&rows).
		Where("e.status = ?", domain.EmailFailed).
		Order("e.updated_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list failed emails: %w", err)
	}
	out := make([]domain.EmailQueueEntry, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *Store) RequeueFailedEmail(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.NewUpdate().Model((*emailRow)(nil)).
		Set("status = ?", domain.EmailPending).
		Set("retry_count = 0").
		Set("next_attempt_at = ?", at).
		Set("last_error = ''").
		Set("updated_at = ?", at).
		Where("e.id = ?", id).
		Where("e.status = ?", domain.EmailFailed).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("requeue email: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrEmailNotFound
	}
	return nil
}
