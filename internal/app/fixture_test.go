package app_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"competition-service/internal/app"
	"competition-service/internal/clock"
	"competition-service/internal/domain"
	"competition-service/internal/infra/memory"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

var jan31 = time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)

type fixture struct {
	clock        *clock.Fake
	store        *memory.Store
	questions    *memory.StaticQuestionLoader
	users        *memory.UserDirectory
	rewards      *memory.RewardLedger
	boards       *memory.LeaderboardCache
	logHook      *logtest.Hook
	scheduler    *app.NotificationScheduler
	attempts     *app.AttemptService
	competitions *app.CompetitionService
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	f := &fixture{
		clock:     clock.NewFake(now),
		store:     memory.NewStore(),
		questions: memory.NewStaticQuestionLoader(nil),
		users: memory.NewUserDirectory(
			domain.User{ID: "u", Email: "u@example.com", FirstName: "Una"},
			domain.User{ID: "v", Email: "v@example.com", FirstName: "Vic"},
			domain.User{ID: "w", Email: "w@example.com", FirstName: "Wen"},
		),
		rewards: memory.NewRewardLedger(),
		boards:  memory.NewLeaderboardCache(),
		logHook: hook,
	}
	f.scheduler = app.NewNotificationScheduler(f.store, f.users, f.clock, log, nil, app.SchedulerConfig{
		SenderEmail:   "competitions@example.com",
		AdvanceNotice: 72 * time.Hour,
	})
	f.attempts = app.NewAttemptService(f.store, f.questions, f.clock, log, nil)
	f.competitions = app.NewCompetitionService(f.store, f.scheduler, f.rewards, f.boards, f.clock, log, nil, app.CompetitionConfig{
		Points:  app.DefaultPointsTable(),
		Rewards: app.DefaultRewardTable(),
	})
	return f
}

// createCompetition stores a competition whose bank has count questions,
// each with four options and option 0 correct.
func (f *fixture) createCompetition(t *testing.T, start time.Time, limitMinutes, count int) domain.Competition {
	t.Helper()
	view, err := f.competitions.CreateCompetition(context.Background(), app.CreateCompetitionInput{
		Title:            "January Challenge",
		StartDate:        start,
		EndDate:          start.Add(24 * time.Hour),
		TimeLimitMinutes: limitMinutes,
		QuestionCount:    count,
	})
	if err != nil {
		t.Fatalf("create competition: %v", err)
	}
	bank := make([]domain.Question, count)
	for i := range bank {
		bank[i] = domain.Question{
			Prompt:       fmt.Sprintf("question %d", i),
			Options:      []string{"a", "b", "c", "d"},
			CorrectIndex: 0,
		}
	}
	f.questions.Set(view.ID, bank)
	return view.Competition
}

// answer records `correct` right answers followed by wrong ones up to total.
func (f *fixture) answer(t *testing.T, attemptID string, correct, total int) {
	t.Helper()
	for i := 0; i < total; i++ {
		choice := 1
		if i < correct {
			choice = 0
		}
		if err := f.attempts.RecordAnswer(context.Background(), attemptID, i, choice); err != nil {
			t.Fatalf("record answer %d: %v", i, err)
		}
	}
}

func (f *fixture) notificationsOf(userID string, typ domain.NotificationType) []domain.Notification {
	var out []domain.Notification
	for _, n := range f.store.Notifications() {
		if n.UserID == userID && n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

func (f *fixture) emailsFor(userID string, typ domain.NotificationType) []domain.EmailQueueEntry {
	var out []domain.EmailQueueEntry
	for _, e := range f.store.Emails() {
		if strings.HasSuffix(e.DedupeKey, ":"+userID+":"+string(typ)) {
			out = append(out, e)
		}
	}
	return out
}

// recordingTransport captures delivered mail and can fail on demand.
type recordingTransport struct {
	mu       sync.Mutex
	sent     []domain.EmailMessage
	failures int
}

func (r *recordingTransport) Send(_ context.Context, msg domain.EmailMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return errors.New("smtp: 421 service not available")
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingTransport) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}
