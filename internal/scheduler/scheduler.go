// Package scheduler delivers scheduled messages once they are due. Sweeps
// never overlap: the run loop is sequential, Sweep refuses to start while
// another is in progress and the Locker extends that guarantee across
// instances.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"
	"github.com/vedran77/courier/internal/domain"
	"github.com/vedran77/courier/internal/metrics"
	"github.com/vedran77/courier/internal/repository"
	"github.com/vedran77/courier/internal/service"
)

const (
	lockKey       = "courier:scheduler:sweep"
	statusTimeout = 5 * time.Second
)

var ErrSweepInProgress = errors.New("sweep already in progress")

// Deliverer is the relay send path used for due entries.
type Deliverer interface {
	SendMessage(ctx context.Context, senderID, receiverID uuid.UUID, content domain.MessageContent) (*domain.Message, error)
}

type Config struct {
	Interval time.Duration
	// Cron, when set, replaces Interval as the sweep cadence.
	Cron            string
	DeliveryTimeout time.Duration
	// BatchSize caps entries per sweep; zero means no cap.
	BatchSize int
}

type SweepResult struct {
	Due     int
	Sent    int
	Failed  int
	Skipped int
}

type Scheduler struct {
	store  repository.ScheduledMessageRepository
	relay  Deliverer
	locker Locker
	cfg    Config
	now    func() time.Time

	sweeping sync.Mutex
}

func New(store repository.ScheduledMessageRepository, relay Deliverer, locker Locker, cfg Config) (*Scheduler, error) {
	if cfg.Cron != "" && !gronx.IsValid(cfg.Cron) {
		return nil, fmt.Errorf("invalid cron expression %q", cfg.Cron)
	}
	if cfg.Cron == "" && cfg.Interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive")
	}
	if cfg.DeliveryTimeout <= 0 {
		return nil, fmt.Errorf("delivery timeout must be positive")
	}
	if cfg.BatchSize < 0 {
		return nil, fmt.Errorf("batch size must not be negative")
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &Scheduler{
		store:  store,
		relay:  relay,
		locker: locker,
		cfg:    cfg,
		now:    time.Now,
	}, nil
}

// Run sweeps on the configured cadence until ctx is cancelled. A sweep in
// flight when ctx is cancelled stops before its next entry.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("scheduler: started", "interval", s.cfg.Interval, "cron", s.cfg.Cron, "delivery_timeout", s.cfg.DeliveryTimeout)

	for {
		wait, err := s.nextWait()
		if err != nil {
			return err
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("scheduler: stopped")
			return nil
		case <-timer.C:
		}

		_, err = s.Sweep(ctx)
		switch {
		case err == nil, errors.Is(err, ErrSweepInProgress):
		default:
			slog.ErrorContext(ctx, "scheduler: sweep failed", "error", err)
		}
	}
}

func (s *Scheduler) nextWait() (time.Duration, error) {
	if s.cfg.Cron == "" {
		return s.cfg.Interval, nil
	}
	now := s.now()
	next, err := gronx.NextTickAfter(s.cfg.Cron, now, false)
	if err != nil {
		return 0, fmt.Errorf("next tick for %q: %w", s.cfg.Cron, err)
	}
	if wait := next.Sub(now); wait > 0 {
		return wait, nil
	}
	return time.Second, nil
}

// Sweep delivers every pending entry due at the time of the call. Each entry
// succeeds or fails on its own; failures are terminal. If the sweep lock is
// lost midway, the remaining entries stay pending and ErrLockLost is returned.
func (s *Scheduler) Sweep(ctx context.Context) (SweepResult, error) {
	if !s.sweeping.TryLock() {
		metrics.Sweeps.WithLabelValues("skipped").Inc()
		return SweepResult{}, ErrSweepInProgress
	}
	defer s.sweeping.Unlock()

	lockCtx, release, err := s.locker.Acquire(ctx, lockKey)
	if err != nil {
		if errors.Is(err, ErrLockHeld) {
			metrics.Sweeps.WithLabelValues("skipped").Inc()
			return SweepResult{}, fmt.Errorf("%w: %w", ErrSweepInProgress, err)
		}
		metrics.Sweeps.WithLabelValues("error").Inc()
		return SweepResult{}, err
	}
	defer release()

	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	due, err := s.store.ListDue(lockCtx, s.now(), s.cfg.BatchSize)
	if err != nil {
		metrics.Sweeps.WithLabelValues("error").Inc()
		return SweepResult{}, fmt.Errorf("listing due messages: %w: %w", service.ErrStorage, err)
	}

	res := SweepResult{Due: len(due)}
	for i := range due {
		if lockCtx.Err() != nil {
			res.Skipped += len(due) - i
			break
		}
		switch s.deliver(lockCtx, &due[i]) {
		case domain.ScheduledSent:
			res.Sent++
		case domain.ScheduledFailed:
			res.Failed++
		default:
			res.Skipped++
		}
	}

	if errors.Is(context.Cause(lockCtx), ErrLockLost) {
		metrics.Sweeps.WithLabelValues("lock_lost").Inc()
		slog.WarnContext(ctx, "scheduler: sweep lock lost, remaining entries left pending",
			"due", res.Due, "sent", res.Sent, "failed", res.Failed, "skipped", res.Skipped)
		return res, fmt.Errorf("sweep interrupted: %w", ErrLockLost)
	}

	metrics.Sweeps.WithLabelValues("ok").Inc()
	if res.Due > 0 {
		slog.InfoContext(ctx, "scheduler: sweep finished",
			"due", res.Due, "sent", res.Sent, "failed", res.Failed, "skipped", res.Skipped,
			"took", time.Since(start))
	}
	return res, nil
}

// deliver sends one entry and records its terminal status. It returns the
// status written, or pending if the entry was left untouched.
func (s *Scheduler) deliver(ctx context.Context, entry *domain.ScheduledMessage) domain.ScheduledStatus {
	log := slog.With("scheduled_id", entry.ID, "sender_id", entry.SenderID, "receiver_id", entry.ReceiverID)

	dctx, cancel := context.WithTimeout(ctx, s.cfg.DeliveryTimeout)
	_, err := s.relay.SendMessage(dctx, entry.SenderID, entry.ReceiverID, domain.MessageContent{Text: entry.Message})
	timedOut := errors.Is(dctx.Err(), context.DeadlineExceeded)
	cancel()

	status := domain.ScheduledSent
	if err != nil {
		if ctx.Err() != nil {
			log.Info("scheduler: delivery interrupted, left pending", "error", err)
			return domain.ScheduledPending
		}
		if timedOut {
			err = fmt.Errorf("%w: timed out after %s: %w", service.ErrDelivery, s.cfg.DeliveryTimeout, err)
		}
		log.Warn("scheduler: delivery failed", "error", err)
		status = domain.ScheduledFailed
	}

	uctx, ucancel := context.WithTimeout(context.WithoutCancel(ctx), statusTimeout)
	defer ucancel()
	updated, err := s.store.UpdateStatus(uctx, entry.ID, status, s.now())
	if err != nil {
		log.Error("scheduler: recording status failed", "status", status, "error", err)
		return domain.ScheduledPending
	}
	if !updated {
		log.Warn("scheduler: entry no longer pending", "status", status)
		return domain.ScheduledPending
	}

	metrics.ScheduledDeliveries.WithLabelValues(string(status)).Inc()
	return status
}
