package job

import (
	"context"
	"time"

	"github.com/xxxsen/mdraft/internal/session"
)

// SessionReaperJob flushes dirty idle sessions and closes abandoned ones so
// unsaved edits never outlive a forgotten tab.
type SessionReaperJob struct {
	sessions *session.Manager
	idle     time.Duration
}

func NewSessionReaperJob(sessions *session.Manager, idle time.Duration) *SessionReaperJob {
	if idle <= 0 {
		idle = 30 * time.Minute
	}
	return &SessionReaperJob{sessions: sessions, idle: idle}
}

func (j *SessionReaperJob) Name() string {
	return "session_reaper"
}

func (j *SessionReaperJob) Run(ctx context.Context) error {
	j.sessions.ReapIdle(ctx, j.idle)
	return nil
}
