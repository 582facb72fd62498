package cron

import (
	"context"
	"fmt"

	"github.com/restockhq/restock-backend/internal/renewals"
	"github.com/restockhq/restock-backend/pkg/logger"
)

// renewalSweeper is the slice of the renewal service the job drives.
type renewalSweeper interface {
	Sweep(ctx context.Context, input renewals.SweepInput) (*renewals.Report, error)
}

// RenewalSweepJob renews due subscriptions each cron cycle.
type RenewalSweepJob struct {
	sweeper renewalSweeper
	logg    *logger.Logger
}

// NewRenewalSweepJob builds the renewal sweep job.
func NewRenewalSweepJob(sweeper renewalSweeper, logg *logger.Logger) (*RenewalSweepJob, error) {
	if sweeper == nil {
		return nil, fmt.Errorf("renewal sweeper required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &RenewalSweepJob{sweeper: sweeper, logg: logg}, nil
}

// Name identifies the job in logs and metrics.
func (j *RenewalSweepJob) Name() string { return "renewal_sweep" }

// Run executes one sweep. Per-item failures live in the report; only a sweep
// that could not run at all fails the job.
func (j *RenewalSweepJob) Run(ctx context.Context) error {
	report, err := j.sweeper.Sweep(ctx, renewals.SweepInput{})
	if err != nil {
		return fmt.Errorf("renewal sweep: %w", err)
	}
	if report.Failed > 0 {
		j.logg.Warn(ctx, fmt.Sprintf("renewal sweep had %d failed of %d items", report.Failed, report.Total))
	}
	return nil
}
