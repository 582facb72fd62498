package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/restockhq/restock-backend/pkg/logger"
)

// sessionReaper closes browser sessions past their TTL.
type sessionReaper interface {
	ReapExpired(ctx context.Context, now time.Time) int
}

// SessionReaperJob closes expired agent browser sessions, including ones left
// open for manual intervention that nobody finished.
type SessionReaperJob struct {
	reaper sessionReaper
	logg   *logger.Logger
}

// NewSessionReaperJob builds the session reaper job.
func NewSessionReaperJob(reaper sessionReaper, logg *logger.Logger) (*SessionReaperJob, error) {
	if reaper == nil {
		return nil, fmt.Errorf("session reaper required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &SessionReaperJob{reaper: reaper, logg: logg}, nil
}

// Name identifies the job in logs and metrics.
func (j *SessionReaperJob) Name() string { return "session_reaper" }

// Run closes every expired session.
func (j *SessionReaperJob) Run(ctx context.Context) error {
	closed := j.reaper.ReapExpired(ctx, time.Now().UTC())
	if closed > 0 {
		j.logg.Info(ctx, fmt.Sprintf("reaped %d expired browser sessions", closed))
	}
	return nil
}
