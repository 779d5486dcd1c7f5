// ABOUTME: Email jobs: HTTP handlers enqueue EmailJob payloads; the worker renders and sends them.
// ABOUTME: Sending off the request path keeps SMTP latency and outages out of member management.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// QueueEmail is the job_queue queue name for outbound email.
const QueueEmail = "email"

// emailMaxAttempts bounds SMTP retries before a job is marked dead.
const emailMaxAttempts = 5

// Email kinds.
const (
	KindMemberAdded = "member_added"
	KindInvitation  = "invitation"
)

// EmailJob is the JSON payload of an email job. Link is the login URL for
// KindMemberAdded and the accept URL for KindInvitation.
type EmailJob struct {
	Kind      string    `json:"kind"`
	To        string    `json:"to"`
	OrgName   string    `json:"org_name"`
	Role      string    `json:"role"`
	Link      string    `json:"link"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// EnqueueEmail marshals job and inserts it into the email queue.
func EnqueueEmail(ctx context.Context, enqueue EnqueueFunc, job EmailJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal email job: %w", err)
	}
	if err := enqueue(ctx, QueueEmail, 0, payload, emailMaxAttempts, nil); err != nil {
		return fmt.Errorf("enqueue email job: %w", err)
	}
	return nil
}

// EnqueueFunc inserts a job. Adapt store.Store.EnqueueJob with a closure that
// drops the returned ID.
type EnqueueFunc func(ctx context.Context, queue string, priority int32, payload json.RawMessage, maxAttempts int32, runAfter *time.Time) error

// EmailHandler returns the worker handler for QueueEmail. send is normally EmailSend.
func EmailHandler(cfg SmtpConfig, send SendFunc) func(ctx context.Context, payload json.RawMessage) error {
	return func(ctx context.Context, payload json.RawMessage) error {
		var job EmailJob
		if err := json.Unmarshal(payload, &job); err != nil {
			return fmt.Errorf("decode email job: %w", err)
		}

		var subject, htmlBody, textBody string
		var err error
		switch job.Kind {
		case KindMemberAdded:
			subject, htmlBody, textBody, err = RenderMemberAdded(MemberAddedData{
				OrgName:  job.OrgName,
				Role:     job.Role,
				LoginURL: job.Link,
			})
		case KindInvitation:
			subject, htmlBody, textBody, err = RenderInvitation(InvitationData{
				OrgName:   job.OrgName,
				Role:      job.Role,
				AcceptURL: job.Link,
				ExpiresAt: job.ExpiresAt,
			})
		default:
			return fmt.Errorf("unknown email kind %q", job.Kind)
		}
		if err != nil {
			return fmt.Errorf("render %s email: %w", job.Kind, err)
		}

		if err := send(ctx, cfg, job.To, subject, htmlBody, textBody); err != nil {
			return err
		}
		slog.InfoContext(ctx, "email sent", "kind", job.Kind, "org", job.OrgName)
		return nil
	}
}
