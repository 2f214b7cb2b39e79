// internal/queue/queue.go
package queue

import (
	"context"
	"time"

	"github.com/zapfy/broadcast-backend/internal/model"
)

// Job is one recipient's pending send with parameters already resolved
// at materialization time, so a later mutation of the member's profile
// cannot change an in-flight campaign.
type Job struct {
	ID               string              `json:"id"`
	CampaignID       string              `json:"campaign_id"`
	MemberID         string              `json:"member_id"`
	ContactID        string              `json:"contact_id"`
	ContactWaID      string              `json:"contact_wa_id"`
	InstanceID       string              `json:"instance_id"`
	TemplateID       string              `json:"template_id"`
	TemplateName     string              `json:"template_name"`
	TemplateLanguage string              `json:"template_language"`
	BodyValues       []string            `json:"body_values,omitempty"`
	ButtonValues     []model.ButtonValue `json:"button_values,omitempty"`

	// Attempt is the delivery attempt this claim represents, starting
	// at 1. Maintained by the queue, not the producer.
	Attempt int `json:"-"`
}

// Queue is a durable, at-least-once job store ordered by scheduled
// time. A claimed job is invisible to other consumers until it is
// acked, retried, dead-lettered, or reclaimed by the recovery pass
// after a worker crash.
type Queue interface {
	// EnqueueBulk submits all jobs in one atomic operation, scheduling
	// job i at a delay of i*stagger from now. The returned count is
	// exactly the number of jobs queued.
	EnqueueBulk(ctx context.Context, jobs []*Job, stagger time.Duration) (int, error)

	// Claim leases up to limit due jobs to the caller.
	Claim(ctx context.Context, limit int) ([]*Job, error)

	Ack(ctx context.Context, jobID string) error
	Retry(ctx context.Context, jobID string, delay time.Duration) error
	DeadLetter(ctx context.Context, jobID string) error
}
