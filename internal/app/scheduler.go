/**
 * @description
 * Cron scheduler setup for the ledger-service's periodic passes: the weekly
 * honor score recomputation and the daily overdue guarantee sweep.
 */

package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// jobTimeout bounds a single scheduled pass.
const jobTimeout = 10 * time.Minute

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron       *cron.Cron
	sweep      *GuaranteeSweep
	aggregator *HonorScoreAggregator
	logger     *slog.Logger

	sweepSchedule string
	honorSchedule string
}

// NewScheduler creates a new scheduler instance. Schedules use standard cron
// expressions; the defaults are daily at 01:00 for the sweep and Sunday 00:00
// for the honor score pass.
func NewScheduler(sweep *GuaranteeSweep, aggregator *HonorScoreAggregator, logger *slog.Logger, sweepSchedule, honorSchedule string) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	if sweepSchedule == "" {
		sweepSchedule = "0 1 * * *"
	}
	if honorSchedule == "" {
		honorSchedule = "0 0 * * 0"
	}

	return &Scheduler{
		cron:          c,
		sweep:         sweep,
		aggregator:    aggregator,
		logger:        logger,
		sweepSchedule: sweepSchedule,
		honorSchedule: honorSchedule,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.sweepSchedule, s.runSweep); err != nil {
		s.logger.Error("failed to schedule guarantee sweep", "error", err)
	} else {
		s.logger.Info("scheduled guarantee sweep", "schedule", s.sweepSchedule)
	}

	if _, err := s.cron.AddFunc(s.honorSchedule, s.runHonorScorePass); err != nil {
		s.logger.Error("failed to schedule honor score pass", "error", err)
	} else {
		s.logger.Info("scheduled honor score pass", "schedule", s.honorSchedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	s.logger.Info("starting guarantee sweep")
	if err := s.sweep.Run(ctx); err != nil {
		s.logger.Error("guarantee sweep failed", "error", err)
	}
}

func (s *Scheduler) runHonorScorePass() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	s.logger.Info("starting honor score pass")
	if err := s.aggregator.Run(ctx); err != nil {
		s.logger.Error("honor score pass failed", "error", err)
	}
}
