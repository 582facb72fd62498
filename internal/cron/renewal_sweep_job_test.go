package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/restockhq/restock-backend/internal/renewals"
	"github.com/restockhq/restock-backend/pkg/logger"
)

type fakeSweeper struct {
	report *renewals.Report
	err    error
	calls  int
}

func (f *fakeSweeper) Sweep(context.Context, renewals.SweepInput) (*renewals.Report, error) {
	f.calls++
	return f.report, f.err
}

func TestRenewalSweepJobTreatsItemFailuresAsSuccess(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "cron-test"})
	sweeper := &fakeSweeper{report: &renewals.Report{Total: 3, Processed: 3, Succeeded: 2, Failed: 1}}
	job, err := NewRenewalSweepJob(sweeper, logg)
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sweeper.calls != 1 {
		t.Fatalf("expected one sweep, got %d", sweeper.calls)
	}
}

func TestRenewalSweepJobPropagatesSweepError(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "cron-test"})
	sweeper := &fakeSweeper{err: errors.New("db down")}
	job, err := NewRenewalSweepJob(sweeper, logg)
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

type fakeReaper struct {
	closed int
	seen   time.Time
}

func (f *fakeReaper) ReapExpired(_ context.Context, now time.Time) int {
	f.seen = now
	return f.closed
}

func TestSessionReaperJobRuns(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "cron-test"})
	reaper := &fakeReaper{closed: 2}
	job, err := NewSessionReaperJob(reaper, logg)
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if reaper.seen.IsZero() {
		t.Fatal("expected reap time to be passed")
	}
}
