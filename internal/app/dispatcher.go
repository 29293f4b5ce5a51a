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
	"github.com/sirupsen/logrus"
)

// DispatcherConfig tunes the outbox worker.
type DispatcherConfig struct {
	BatchSize    int
	PollInterval time.Duration
	LeaseTTL     time.Duration
	MaxRetries   int
	Backoff      BackoffPolicy
}

// DispatchReport counts the outcomes of one batch.
type DispatchReport struct {
	Sent    int
	Retried int
	Failed  int
}

// Dispatcher drains the email outbox. Delivery is at-least-once: a worker
// that dies between sending and marking the entry sent leaves the lease to
// expire and the email is delivered again.
type Dispatcher struct {
	queue     EmailQueue
	transport MailTransport
	clock     clock.Clock
	log       logrus.FieldLogger
	metrics   *metrics.Metrics
	cfg       DispatcherConfig
}

func NewDispatcher(queue EmailQueue, transport MailTransport, clk clock.Clock, log logrus.FieldLogger, m *metrics.Metrics, cfg DispatcherConfig) *Dispatcher {
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = logger.Discard()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = time.Minute
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Dispatcher{queue: queue, transport: transport, clock: clk, log: log, metrics: m, cfg: cfg}
}

// RunOnce leases one batch of due emails and attempts delivery.
func (d *Dispatcher) RunOnce(ctx context.Context) (DispatchReport, error) {
	now := d.clock.Now()
	entries, err := d.queue.LeaseDueEmails(ctx, now, d.cfg.BatchSize, d.cfg.LeaseTTL)
	if err != nil {
		return DispatchReport{}, fmt.Errorf("lease due emails: %w", err)
	}

	var report DispatchReport
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		log := d.log.WithFields(logrus.Fields{"email_id": e.ID, "recipient": e.RecipientEmail})

		sendErr := d.transport.Send(ctx, e.Message())
		at := d.clock.Now()
		if sendErr == nil {
			if err := d.queue.MarkEmailSent(ctx, e.ID, at); err != nil {
				return report, fmt.Errorf("mark email %s sent: %w", e.ID, err)
			}
			d.metrics.EmailOutcome("sent")
			report.Sent++
			continue
		}

		// Any error not marked undeliverable is treated as transient.
		retries := e.RetryCount + 1
		if errors.Is(sendErr, domain.ErrUndeliverable) || retries > d.cfg.MaxRetries {
			failure := sendErr
			if !errors.Is(sendErr, domain.ErrUndeliverable) {
				failure = fmt.Errorf("%w after %d attempts: %v", domain.ErrDeliveryExhausted, retries, sendErr)
			}
			if err := d.queue.MarkEmailFailed(ctx, e.ID, failure.Error(), at); err != nil {
				return report, fmt.Errorf("mark email %s failed: %w", e.ID, err)
			}
			log.WithError(failure).Error("email delivery failed permanently, left for operator")
			d.metrics.EmailOutcome("failed")
			report.Failed++
			continue
		}

		next := at.Add(d.cfg.Backoff.Delay(retries))
		if err := d.queue.MarkEmailRetry(ctx, e.ID, next, sendErr.Error(), at); err != nil {
			return report, fmt.Errorf("mark email %s retry: %w", e.ID, err)
		}
		log.WithError(sendErr).WithFields(logrus.Fields{
			"retry_count":     retries,
			"next_attempt_at": next,
		}).Warn("email delivery failed, will retry")
		d.metrics.EmailOutcome("retry")
		report.Retried++
	}
	return report, nil
}

// Run polls the outbox until ctx is done. A full batch is followed
// immediately by another poll.
func (d *Dispatcher) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		report, err := d.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			d.log.WithError(err).Warn("dispatch batch failed")
		}
		wait := d.cfg.PollInterval
		if err == nil && report.Sent+report.Retried+report.Failed >= d.cfg.BatchSize {
			wait = 0
		}
		timer.Reset(wait)
	}
}

// FailedEmails lists entries that exhausted their retries.
func (d *Dispatcher) FailedEmails(ctx context.Context) ([]domain.EmailQueueEntry, error) {
	return d.queue.ListFailedEmails(ctx)
}

// Requeue puts a failed entry back to pending with a fresh retry budget.
func (d *Dispatcher) Requeue(ctx context.Context, id string) error {
	return d.queue.RequeueFailedEmail(ctx, id, d.clock.Now())
}
