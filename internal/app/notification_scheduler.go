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
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SchedulerConfig tunes the notification campaign.
type SchedulerConfig struct {
	SenderEmail   string
	AdvanceNotice time.Duration
}

// ScheduleReport summarizes one scheduling run.
type ScheduleReport struct {
	NotificationsCreated int                       `json:"notificationsCreated"`
	EmailsCreated        int                       `json:"emailsCreated"`
	Skipped              []domain.NotificationType `json:"skipped,omitempty"`
}

// NotificationScheduler writes dashboard notifications and outbox emails for
// a competition's advance notice, day-of and results events.
type NotificationScheduler struct {
	store   Store
	users   UserDirectory
	clock   clock.Clock
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	cfg     SchedulerConfig
}

func NewNotificationScheduler(store Store, users UserDirectory, clk clock.Clock, log logrus.FieldLogger, m *metrics.Metrics, cfg SchedulerConfig) *NotificationScheduler {
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = logger.Discard()
	}
	if cfg.AdvanceNotice <= 0 {
		cfg.AdvanceNotice = 72 * time.Hour
	}
	return &NotificationScheduler{store: store, users: users, clock: clk, log: log, metrics: m, cfg: cfg}
}

// ScheduleCompetitionNotifications enqueues advance_notice at StartDate minus
// the lead time and day_of at StartDate for every active user. Events whose
// send time already passed are skipped. Re-running creates no duplicates.
func (s *NotificationScheduler) ScheduleCompetitionNotifications(ctx context.Context, competitionID string) (ScheduleReport, error) {
	comp, err := s.store.GetCompetition(ctx, competitionID)
	if err != nil {
		return ScheduleReport{}, err
	}
	now := s.clock.Now()
	log := s.log.WithField("competition_id", competitionID)

	events := []struct {
		typ domain.NotificationType
		at  time.Time
	}{
		{domain.NotificationAdvanceNotice, comp.StartDate.Add(-s.cfg.AdvanceNotice)},
		{domain.NotificationDayOf, comp.StartDate},
	}

	var report ScheduleReport
	var due []int
	for i, ev := range events {
		if ev.at.Before(now) {
			log.WithFields(logrus.Fields{
				"notification_type": ev.typ,
				"scheduled_for":     ev.at,
			}).Info("skipping notification whose send time has passed")
			s.metrics.NotificationSkipped(string(ev.typ))
			report.Skipped = append(report.Skipped, ev.typ)
			continue
		}
		due = append(due, i)
	}
	if len(due) == 0 {
		return report, nil
	}

	users, err := s.users.ActiveUsers(ctx)
	if err != nil {
		return report, fmt.Errorf("list active users: %w", err)
	}
	for _, i := range due {
		ev := events[i]
		for _, u := range users {
			c, err := renderContent(ev.typ, comp, u, nil)
			if err != nil {
				return report, err
			}
			n, e, err := s.enqueue(ctx, comp, u, ev.typ, ev.at, c)
			if err != nil {
				return report, err
			}
			report.NotificationsCreated += n
			report.EmailsCreated += e
		}
	}
	log.WithFields(logrus.Fields{
		"notifications": report.NotificationsCreated,
		"emails":        report.EmailsCreated,
		"users":         len(users),
	}).Info("competition notifications scheduled")
	return report, nil
}

// SendResultsNotifications enqueues one results notification and email per
// ranked attempt. Copy differs for top-3 finishers.
func (s *NotificationScheduler) SendResultsNotifications(ctx context.Context, comp domain.Competition, attempts []domain.Attempt) (ScheduleReport, error) {
	now := s.clock.Now()
	log := s.log.WithField("competition_id", comp.ID)

	var report ScheduleReport
	for i := range attempts {
		a := attempts[i]
		if a.Rank == nil {
			continue
		}
		u, err := s.users.GetUser(ctx, a.UserID)
		if errors.Is(err, domain.ErrUserNotFound) {
			log.WithField("user_id", a.UserID).Warn("skipping results for unknown user")
			continue
		}
		if err != nil {
			return report, fmt.Errorf("get user %s: %w", a.UserID, err)
		}
		c, err := renderContent(domain.NotificationResults, comp, u, &a)
		if err != nil {
			return report, err
		}
		n, e, err := s.enqueue(ctx, comp, u, domain.NotificationResults, now, c)
		if err != nil {
			return report, err
		}
		report.NotificationsCreated += n
		report.EmailsCreated += e
	}
	log.WithField("notifications", report.NotificationsCreated).Info("results notifications enqueued")
	return report, nil
}

// enqueue writes the dashboard row and the outbox email independently, each
// guarded by its own uniqueness key, so a partial failure heals on re-run.
func (s *NotificationScheduler) enqueue(ctx context.Context, comp domain.Competition, u domain.User, typ domain.NotificationType, at time.Time, c content) (int, int, error) {
	now := s.clock.Now()
	created, emailed := 0, 0

	inserted, err := s.store.InsertNotification(ctx, domain.Notification{
		ID:            uuid.NewString(),
		CompetitionID: comp.ID,
		UserID:        u.ID,
		Type:          typ,
		Channel:       domain.ChannelDashboard,
		Title:         c.Title,
		Message:       c.Message,
		SentAt:        at,
		CreatedAt:     now,
	})
	if err != nil {
		return 0, 0, fmt.Errorf("insert %s notification for %s: %w", typ, u.ID, err)
	}
	if inserted {
		created++
		s.metrics.NotificationEnqueued(string(typ))
	}

	if u.Email == "" {
		return created, 0, nil
	}
	inserted, err = s.store.EnqueueEmail(ctx, domain.EmailQueueEntry{
		ID:             uuid.NewString(),
		DedupeKey:      domain.EmailDedupeKey(comp.ID, u.ID, typ),
		RecipientEmail: u.Email,
		SenderEmail:    s.cfg.SenderEmail,
		Subject:        c.Subject,
		HTMLContent:    c.HTML,
		TextContent:    c.Text,
		ScheduledFor:   at,
		NextAttemptAt:  at,
		Status:         domain.EmailPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return created, 0, fmt.Errorf("enqueue %s email for %s: %w", typ, u.ID, err)
	}
	if inserted {
		emailed++
	}
	return created, emailed, nil
}

// ListNotifications returns the user's notifications that are already visible.
func (s *NotificationScheduler) ListNotifications(ctx context.Context, userID string) ([]domain.Notification, error) {
	return s.store.ListNotifications(ctx, userID, s.clock.Now())
}

// MarkRead marks a notification read; repeating it keeps the first read time.
func (s *NotificationScheduler) MarkRead(ctx context.Context, notificationID, userID string) error {
	return s.store.MarkNotificationRead(ctx, notificationID, userID, s.clock.Now())
}
