package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"competition-service/internal/domain"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

var jan31 = time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	sqldb, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := bun.NewDB(sqldb, pgdialect.New())
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db), mock
}

var competitionColumns = []string{
	"id", "title", "description", "start_date", "end_date", "time_limit_minutes",
	"question_count", "finalized_at", "results_dispatched_at", "created_at",
}

var attemptColumns = []string{
	"id", "competition_id", "user_id", "questions", "answers", "started_at", "deadline",
	"submitted_at", "outcome", "score", "final_rank", "points_earned",
}

func TestGetCompetition(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		wantErr   error
	}{
		{
			name: "found",
			setupMock: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows(competitionColumns).
					AddRow("comp-1", "January", "", jan31, jan31.Add(24*time.Hour), 60, 10, nil, nil, jan31)
				mock.ExpectQuery(`SELECT .* FROM "competitions" AS "c" WHERE \(c\.id = 'comp-1'\)`).WillReturnRows(rows)
			},
		},
		{
			name: "missing",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`FROM "competitions"`).WillReturnRows(sqlmock.NewRows(competitionColumns))
			},
			wantErr: domain.ErrCompetitionNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tt.setupMock(mock)

			comp, err := store.GetCompetition(context.Background(), "comp-1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "January", comp.Title)
				assert.Equal(t, time.Hour, comp.TimeLimit())
				assert.Nil(t, comp.FinalizedAt)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCreateAttempt(t *testing.T) {
	finalized := jan31.Add(24 * time.Hour)
	openRow := func() *sqlmock.Rows {
		return sqlmock.NewRows(competitionColumns).
			AddRow("comp-1", "January", "", jan31, jan31.Add(24*time.Hour), 60, 10, nil, nil, jan31)
	}
	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		wantErr   error
	}{
		{
			name: "inserted",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(`FROM "competitions" AS "c" WHERE \(c\.id = 'comp-1'\) FOR SHARE`).WillReturnRows(openRow())
				mock.ExpectExec(`INSERT INTO "attempts" .* ON CONFLICT \(competition_id, user_id\) DO NOTHING`).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "conflict means already started",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(`FROM "competitions" AS "c" WHERE \(c\.id = 'comp-1'\) FOR SHARE`).WillReturnRows(openRow())
				mock.ExpectExec(`INSERT INTO "attempts" .* ON CONFLICT \(competition_id, user_id\) DO NOTHING`).
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectRollback()
			},
			wantErr: domain.ErrAlreadyStarted,
		},
		{
			name: "finalized competition refuses the insert",
			setupMock: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows(competitionColumns).
					AddRow("comp-1", "January", "", jan31, jan31.Add(24*time.Hour), 60, 10, finalized, nil, jan31)
				mock.ExpectBegin()
				mock.ExpectQuery(`FROM "competitions" AS "c" WHERE \(c\.id = 'comp-1'\) FOR SHARE`).WillReturnRows(rows)
				mock.ExpectRollback()
			},
			wantErr: domain.ErrCompetitionNotActive,
		},
		{
			name: "missing competition",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(`FROM "competitions"`).WillReturnRows(sqlmock.NewRows(competitionColumns))
				mock.ExpectRollback()
			},
			wantErr: domain.ErrCompetitionNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tt.setupMock(mock)

			err := store.CreateAttempt(context.Background(), domain.Attempt{
				ID:            "a-1",
				CompetitionID: "comp-1",
				UserID:        "u",
				Questions:     []domain.Question{{Prompt: "p", Options: []string{"a", "b"}}},
				StartedAt:     jan31,
				Deadline:      jan31.Add(time.Hour),
			})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGetAttemptDecodesSnapshot(t *testing.T) {
	store, mock := newMockStore(t)
	submitted := jan31.Add(30 * time.Minute)
	rows := sqlmock.NewRows(attemptColumns).AddRow(
		"a-1", "comp-1", "u",
		[]byte(`[{"prompt":"2+2","options":["3","4"],"correctIndex":1}]`),
		[]byte(`{"0":1}`),
		jan31, jan31.Add(time.Hour), submitted, "submitted", 100.0, nil, 0,
	)
	mock.ExpectQuery(`FROM "attempts" AS "a" WHERE \(a\.id = 'a-1'\)`).WillReturnRows(rows)

	a, err := store.GetAttempt(context.Background(), "a-1")
	require.NoError(t, err)
	assert.Equal(t, 1, a.Questions[0].CorrectIndex)
	assert.Equal(t, map[int]int{0: 1}, a.Answers)
	assert.Equal(t, domain.OutcomeSubmitted, a.Outcome)
	require.NotNil(t, a.SubmittedAt)
	assert.True(t, a.SubmittedAt.Equal(submitted))
	assert.Nil(t, a.Rank)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAnswer(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		wantErr   error
	}{
		{
			name: "open attempt",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE "attempts" AS "a" SET answers = jsonb_set\(answers, '\{"2"\}', to_jsonb\(CAST\(3 AS integer\)\)\)`).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "closed attempt",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE "attempts"`).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery(`SELECT EXISTS`).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
			},
			wantErr: domain.ErrAttemptClosed,
		},
		{
			name: "missing attempt",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE "attempts"`).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery(`SELECT EXISTS`).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
			},
			wantErr: domain.ErrAttemptNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tt.setupMock(mock)

			err := store.SaveAnswer(context.Background(), "a-1", 2, 3, jan31)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCompleteCompetition(t *testing.T) {
	finalized := jan31.Add(24 * time.Hour)

	rankAll := func(attempts []domain.Attempt, at time.Time) []domain.AttemptResult {
		out := make([]domain.AttemptResult, len(attempts))
		for i, a := range attempts {
			out[i] = domain.AttemptResult{
				AttemptID:    a.ID,
				SubmittedAt:  a.Deadline,
				Outcome:      domain.OutcomeExpired,
				Score:        0,
				Rank:         i + 1,
				PointsEarned: 10,
			}
		}
		return out
	}

	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		wantWon   bool
	}{
		{
			name: "first caller ranks and flips",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(`FROM "competitions" AS "c" WHERE \(c\.id = 'comp-1'\) FOR UPDATE`).
					WillReturnRows(sqlmock.NewRows(competitionColumns).
						AddRow("comp-1", "January", "", jan31, finalized, 60, 1, nil, nil, jan31))
				mock.ExpectQuery(`FROM "attempts" AS "a" WHERE \(a\.competition_id = 'comp-1'\) ORDER BY .* FOR UPDATE`).
					WillReturnRows(sqlmock.NewRows(attemptColumns).
						AddRow("a-1", "comp-1", "u", []byte(`[]`), []byte(`{}`), jan31, jan31.Add(time.Hour), nil, "", nil, nil, 0))
				mock.ExpectExec(`UPDATE "attempts" AS "a" SET submitted_at = .*final_rank = 1.*WHERE \(a\.id = 'a-1'\)`).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec(`UPDATE "competitions" AS "c" SET finalized_at = .* WHERE \(c\.id = 'comp-1'\) AND \(c\.finalized_at IS NULL\)`).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
			wantWon: true,
		},
		{
			name: "already finalized",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(`FROM "competitions"`).
					WillReturnRows(sqlmock.NewRows(competitionColumns).
						AddRow("comp-1", "January", "", jan31, finalized, 60, 1, finalized, nil, jan31))
				mock.ExpectCommit()
			},
		},
		{
			name: "lost the flip",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(`FROM "competitions"`).
					WillReturnRows(sqlmock.NewRows(competitionColumns).
						AddRow("comp-1", "January", "", jan31, finalized, 60, 1, nil, nil, jan31))
				mock.ExpectQuery(`FROM "attempts"`).WillReturnRows(sqlmock.NewRows(attemptColumns))
				mock.ExpectExec(`UPDATE "competitions"`).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectCommit()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tt.setupMock(mock)

			won, err := store.CompleteCompetition(context.Background(), "comp-1", finalized, rankAll)
			require.NoError(t, err)
			assert.Equal(t, tt.wantWon, won)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCompleteCompetitionRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM "competitions"`).WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	_, err := store.CompleteCompetition(context.Background(), "comp-1", jan31, nil)
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertNotificationConflict(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO "notifications" .* ON CONFLICT \(competition_id, user_id, notification_type\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := store.InsertNotification(context.Background(), domain.Notification{
		ID: "n-1", CompetitionID: "comp-1", UserID: "u",
		Type: domain.NotificationDayOf, Channel: domain.ChannelDashboard,
		SentAt: jan31, CreatedAt: jan31,
	})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueEmailUsesDedupeKey(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO "email_queue" .*'comp-1:u:day_of'.* ON CONFLICT \(dedupe_key\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	inserted, err := store.EnqueueEmail(context.Background(), domain.EmailQueueEntry{
		ID:             "e-1",
		DedupeKey:      domain.EmailDedupeKey("comp-1", "u", domain.NotificationDayOf),
		RecipientEmail: "u@example.com",
		ScheduledFor:   jan31,
		Status:         domain.EmailPending,
	})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaseDueEmails(t *testing.T) {
	store, mock := newMockStore(t)
	cols := []string{
		"id", "dedupe_key", "recipient_email", "sender_email", "subject", "html_content",
		"text_content", "scheduled_for", "next_attempt_at", "status", "retry_count",
		"last_error", "locked_until", "sent_at", "created_at", "updated_at",
	}
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM "email_queue" AS "e" WHERE \(e\.status = 'pending'\) .* LIMIT 5 FOR UPDATE SKIP LOCKED`).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"e-1", "comp-1:u:day_of", "u@example.com", "noreply@example.com", "s", "<p>h</p>", "t",
			jan31, jan31, "pending", 0, "", nil, nil, jan31, jan31,
		))
	mock.ExpectExec(`UPDATE "email_queue" AS "e" SET locked_until = .* WHERE \(e\.id IN \('e-1'\)\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	leased, err := store.LeaseDueEmails(context.Background(), jan31, 5, time.Minute)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	require.NotNil(t, leased[0].LockedUntil)
	assert.True(t, leased[0].LockedUntil.Equal(jan31.Add(time.Minute)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkEmailRequiresPendingRow(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE "email_queue" AS "e" SET locked_until = NULL, retry_count = retry_count \+ 1.* WHERE \(e\.id = 'e-1'\) AND \(e\.status = 'pending'\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.MarkEmailRetry(context.Background(), "e-1", jan31.Add(time.Minute), "421", jan31)
	assert.ErrorIs(t, err, domain.ErrEmailNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequeueFailedEmail(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE "email_queue" AS "e" SET status = 'pending', retry_count = 0.* AND \(e\.status = 'failed'\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.RequeueFailedEmail(context.Background(), "e-1", jan31))
	assert.NoError(t, mock.ExpectationsWereMet())
}
