package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/hoangnm/dailyquiz/internal/errors"
)

type SchedulerConfig struct {
	Collector *Collector
	ChannelID string

	// PostAt is the local wall-clock time ("15:04") the daily question is
	// posted. Empty disables automatic posting; the chat command still works.
	PostAt string

	Now func() time.Time
}

// Scheduler posts the daily question at a fixed time of day. Days without a
// scheduled question are skipped quietly.
type Scheduler struct {
	collector *Collector
	channelID string
	postAt    string
	now       func() time.Time
}

func NewScheduler(c SchedulerConfig) *Scheduler {
	if c.Now == nil {
		c.Now = time.Now
	}
	return &Scheduler{
		collector: c.Collector,
		channelID: c.ChannelID,
		postAt:    c.PostAt,
		now:       c.Now,
	}
}

// Run blocks until ctx is done, firing once per day at the configured time.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.postAt == "" {
		<-ctx.Done()
		return nil
	}
	if _, err := time.Parse("15:04", s.postAt); err != nil {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("quiz.postat must be formatted as 15:04"),
			errors.WithCause(err))
	}

	for {
		next := NextRun(s.now(), s.postAt)
		timer := time.NewTimer(next.Sub(s.now()))

		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		if _, err := s.collector.Start(ctx, s.channelID); err != nil {
			switch {
			case errors.IsCode(err, errors.CodeNotFound):
				slog.InfoContext(ctx, "scheduler: no question scheduled today")
			case errors.IsCode(err, errors.CodeAlreadyExists):
				slog.InfoContext(ctx, "scheduler: question already open, skipping")
			default:
				slog.ErrorContext(ctx, "scheduler: start collection failed", "error", err)
			}
		}
	}
}

// NextRun returns the first instant strictly after now whose wall-clock time
// equals postAt ("15:04"), in now's location.
func NextRun(now time.Time, postAt string) time.Time {
	at, _ := time.Parse("15:04", postAt)
	next := time.Date(now.Year(), now.Month(), now.Day(), at.Hour(), at.Minute(), 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
