package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"sweepbot/internal/bot"
	"sweepbot/internal/cleanup"
	"sweepbot/internal/registry"
)

// Sender is the interface for sending Telegram messages.
type Sender interface {
	SendMessage(chatID int64, text string)
}

// Runner executes a cleanup run for one filter.
type Runner interface {
	Run(ctx context.Context, tenant, filterID string, dryRun bool, progress cleanup.Progress) cleanup.RunResult
}

// Scheduler starts the auto-run filters at their configured time of day.
type Scheduler struct {
	registry *registry.Registry
	runner   Runner
	sender   Sender
	chatID   int64
	log      *zap.Logger
	tick     time.Duration
	now      func() time.Time

	// lastRun maps tenant/filter to the day it last ran.
	lastRun map[string]string
}

// New creates a Scheduler. Run summaries go to chatID when it is non-zero.
func New(reg *registry.Registry, runner Runner, sender Sender, chatID int64, log *zap.Logger) *Scheduler {
	return &Scheduler{
		registry: reg,
		runner:   runner,
		sender:   sender,
		chatID:   chatID,
		log:      log,
		tick:     1 * time.Minute,
		now:      time.Now,
		lastRun:  make(map[string]string),
	}
}

// SetTickInterval overrides the default 1-minute check interval.
func (s *Scheduler) SetTickInterval(d time.Duration) {
	s.tick = d
}

// Run starts the scheduler loop, blocking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.checkAll(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkAll(ctx)
		}
	}
}

func (s *Scheduler) checkAll(ctx context.Context) {
	now := s.now()
	due, err := s.registry.DueAutoRuns(ctx, now)
	if err != nil {
		s.log.Error("list due auto-runs", zap.Error(err))
		return
	}

	day := now.Format(time.DateOnly)
	for _, d := range due {
		if ctx.Err() != nil {
			return
		}
		key := d.Tenant + "/" + d.Filter.ID
		if s.lastRun[key] == day {
			continue
		}
		s.lastRun[key] = day
		s.runFilter(ctx, d)
	}
}

func (s *Scheduler) runFilter(ctx context.Context, d registry.AutoRun) {
	s.log.Info("auto-run started",
		zap.String("tenant", d.Tenant),
		zap.String("filter_id", d.Filter.ID),
		zap.String("name", d.Filter.Name),
	)

	res := s.runner.Run(ctx, d.Tenant, d.Filter.ID, false, nil)
	if !res.Success {
		s.log.Error("auto-run failed",
			zap.String("tenant", d.Tenant),
			zap.String("filter_id", d.Filter.ID),
			zap.String("error", res.Error),
		)
	}

	if s.sender != nil && s.chatID != 0 {
		s.sender.SendMessage(s.chatID, bot.FormatRunSummary(d.Tenant, d.Filter.Name, res))
	}
}
