package cli

import (
	"context"
	"fmt"
	"time"

	"competition-service/internal/app"
	"competition-service/internal/clock"
	"competition-service/internal/config"
	"competition-service/internal/domain"
	"competition-service/internal/infra/mail"
	"competition-service/internal/infra/memory"
	"competition-service/internal/infra/postgres"
	infraredis "competition-service/internal/infra/redis"
	"competition-service/internal/logger"
	"competition-service/internal/metrics"
	transport "competition-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const serviceName = "competition-service"

// runtime holds the services shared by every command plus the resources to
// release on exit.
type runtime struct {
	cfg      config.Config
	log      *logrus.Entry
	metrics  *metrics.Metrics
	services transport.Services
	closers  []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func loadRuntime(ctx context.Context, configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return newRuntime(ctx, cfg, logger.New(serviceName, cfg.Log.Level), prometheus.NewRegistry())
}

// newRuntime wires adapters from config. Without a Postgres URL everything
// runs in memory, which is only useful for local experiments.
func newRuntime(ctx context.Context, cfg config.Config, log *logrus.Entry, reg *prometheus.Registry) (*runtime, error) {
	competitionCfg, err := competitionConfig(cfg)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, log: log, metrics: metrics.New(reg)}
	clk := clock.System{}

	var (
		store   app.Store
		users   app.UserDirectory
		rewards app.RewardApplier
		loader  interface {
			memory.QuestionLoader
			app.QuestionBankWriter
		}
	)
	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg, log); err != nil {
			return nil, err
		}
		db := postgres.Open(cfg.Postgres.URL)
		rt.closers = append(rt.closers, func() { _ = db.Close() })
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, pool.Close)

		store = postgres.NewStore(db)
		users = postgres.NewUserDirectory(pool)
		rewards = postgres.NewRewardLedger(pool)
		loader = postgres.NewQuestionLoader(pool)
	} else {
		log.Warn("postgres url not configured, using in-memory store")
		store = memory.NewStore()
		users = memory.NewUserDirectory()
		rewards = memory.NewRewardLedger()
		loader = memory.NewStaticQuestionLoader(nil)
	}

	questionTTL := config.TTLDuration(cfg.Questions.TTL, 10*time.Minute)
	var (
		questions interface {
			app.QuestionRepository
			app.QuestionCacheInvalidator
		}
		boards app.LeaderboardCache
	)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rt.closers = append(rt.closers, func() { _ = client.Close() })
		questions = infraredis.NewQuestionCache(client, loader, questionTTL)
		boards = infraredis.NewLeaderboardCache(client, config.TTLDuration(cfg.Redis.TTL, 10*time.Minute))
	} else {
		questions = memory.NewQuestionCache(loader, questionTTL)
		boards = memory.NewLeaderboardCache()
	}

	var mailer app.MailTransport
	if cfg.SMTP.Host != "" {
		mailer = mail.NewSMTPTransport(mail.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
		})
	} else {
		log.Warn("smtp host not configured, emails are written to the log")
		mailer = mail.NewLogTransport(log)
	}

	scheduler := app.NewNotificationScheduler(store, users, clk, log, rt.metrics, app.SchedulerConfig{
		SenderEmail:   cfg.Email.Sender,
		AdvanceNotice: config.TTLDuration(cfg.Competition.AdvanceNotice, 72*time.Hour),
	})
	rt.services = transport.Services{
		Competitions: app.NewCompetitionService(store, scheduler, rewards, boards, clk, log, rt.metrics, competitionCfg),
		Attempts:     app.NewAttemptService(store, questions, clk, log, rt.metrics),
		Scheduler:    scheduler,
		Dispatcher:   app.NewDispatcher(store, mailer, clk, log, rt.metrics, dispatcherConfig(cfg)),
		Questions:    app.NewQuestionBankService(store, loader, questions, log),
	}
	return rt, nil
}

func competitionConfig(cfg config.Config) (app.CompetitionConfig, error) {
	out := app.CompetitionConfig{
		Points: app.PointsTable{
			Participation: cfg.Competition.Points.Participation,
			PerScorePoint: cfg.Competition.Points.PerScorePoint,
			RankBonus:     cfg.Competition.Points.RankBonus,
		},
	}
	if err := out.Points.Validate(); err != nil {
		return app.CompetitionConfig{}, fmt.Errorf("competition.points: %w", err)
	}
	if len(cfg.Competition.Rewards) > 0 {
		out.Rewards = make(app.RewardTable, len(cfg.Competition.Rewards))
		for rank, tier := range cfg.Competition.Rewards {
			if rank < 1 || tier == "" {
				return app.CompetitionConfig{}, fmt.Errorf("competition.rewards: invalid tier %q for rank %d", tier, rank)
			}
			out.Rewards[rank] = domain.RewardTier(tier)
		}
	}
	return out, nil
}

func dispatcherConfig(cfg config.Config) app.DispatcherConfig {
	kind := app.BackoffKind(cfg.Email.Backoff)
	if kind != app.BackoffFixed {
		kind = app.BackoffExponential
	}
	return app.DispatcherConfig{
		BatchSize:    cfg.Email.BatchSize,
		PollInterval: config.TTLDuration(cfg.Email.PollInterval, 10*time.Second),
		LeaseTTL:     config.TTLDuration(cfg.Email.LeaseTTL, time.Minute),
		MaxRetries:   cfg.MaxRetries(),
		Backoff: app.BackoffPolicy{
			Kind: kind,
			Base: config.TTLDuration(cfg.Email.BaseDelay, time.Minute),
			Max:  config.TTLDuration(cfg.Email.MaxDelay, time.Hour),
		},
	}
}
