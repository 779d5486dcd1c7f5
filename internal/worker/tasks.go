// Package worker runs background work for the gestor service: email jobs
// claimed from job_queue (FOR UPDATE SKIP LOCKED) and periodic maintenance
// such as purging expired sessions.
//
// Register queue handlers and periodic tasks, then call Pool.Start.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Handler processes one claimed job. An error schedules a retry with
// backoff until the job runs out of attempts.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Task is a periodic maintenance function registered with Pool.Every.
type Task func(ctx context.Context) error

// SessionPurger deletes expired sessions.
type SessionPurger interface {
	PurgeExpiredSessions(ctx context.Context) (int64, error)
}

// PurgeSessions returns a Task that removes expired sessions so the sessions
// table does not grow with every login.
func PurgeSessions(s SessionPurger) Task {
	return func(ctx context.Context) error {
		n, err := s.PurgeExpiredSessions(ctx)
		if err != nil {
			return fmt.Errorf("purge sessions: %w", err)
		}
		if n > 0 {
			slog.InfoContext(ctx, "purged expired sessions", "count", n)
		}
		return nil
	}
}
