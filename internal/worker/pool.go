// internal/worker/pool.go
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zapfy/broadcast-backend/internal/config"
	appErrors "github.com/zapfy/broadcast-backend/internal/errors"
	"github.com/zapfy/broadcast-backend/internal/model"
	"github.com/zapfy/broadcast-backend/internal/notifier"
	"github.com/zapfy/broadcast-backend/internal/queue"
	"github.com/zapfy/broadcast-backend/internal/ratelimit"
	"github.com/zapfy/broadcast-backend/internal/repository"
	"github.com/zapfy/broadcast-backend/internal/whatsapp"
)

// persistAttempts bounds the independent retry budget for writing a
// job's outcome. It is deliberately separate from the job's own retry
// budget: once the provider accepted a message we never re-send it just
// because our own write failed.
const persistAttempts = 5

// Pool consumes dispatch jobs with bounded concurrency under the global
// rate limiter and drives each job to exactly one terminal outcome.
type Pool struct {
	Queue     queue.Queue
	Limiter   ratelimit.Limiter
	Sender    whatsapp.Sender
	Campaigns repository.CampaignRepositoryInterface
	Messages  repository.MessageRepositoryInterface
	Instances repository.InstanceRepositoryInterface
	Notifier  notifier.Notifier
	Config    config.DispatchConfig

	// Instance credentials are read-only shared state; cache them so N
	// workers don't re-read the same row per job.
	instanceMu    sync.RWMutex
	instanceCache map[string]*model.Instance

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	totalSent   int64
	totalFailed int64
}

func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("pool already running")
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(context.Background())
	if p.instanceCache == nil {
		p.instanceCache = make(map[string]*model.Instance)
	}
	if p.Notifier == nil {
		p.Notifier = notifier.Noop{}
	}

	log.Info().
		Int("workers", p.Config.Workers).
		Int("claim_batch", p.Config.ClaimBatch).
		Int("rate_limit_max", p.Config.RateLimitMax).
		Dur("rate_limit_window", p.Config.RateLimitWindow).
		Msg("dispatch pool starting")

	for i := 0; i < p.Config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return nil
}

// Stop cancels the workers and waits for in-flight jobs to settle.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	log.Info().
		Int64("sent", atomic.LoadInt64(&p.totalSent)).
		Int64("failed", atomic.LoadInt64(&p.totalFailed)).
		Msg("dispatch pool stopped")
}

func (p *Pool) Stats() (sent, failed int64) {
	return atomic.LoadInt64(&p.totalSent), atomic.LoadInt64(&p.totalFailed)
}

func (p *Pool) worker(num int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		jobs, err := p.Queue.Claim(p.ctx, p.Config.ClaimBatch)
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Int("worker", num).Msg("claim failed")
			p.sleep(p.Config.PollInterval)
			continue
		}
		if len(jobs) == 0 {
			p.sleep(p.Config.PollInterval)
			continue
		}

		for _, job := range jobs {
			if p.ctx.Err() != nil {
				// Leave the claim to the recovery pass.
				return
			}
			p.ProcessJob(p.ctx, job)
		}
	}
}

func (p *Pool) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-p.ctx.Done():
	case <-timer.C:
	}
}

// ProcessJob runs one delivery attempt to its conclusion: ack after a
// terminal outcome, a rescheduled retry, or a dead-letter. Exported for
// the tests that drive jobs synchronously.
func (p *Pool) ProcessJob(ctx context.Context, job *queue.Job) {
	campaignStatus, err := p.Campaigns.GetStatus(job.CampaignID)
	if err != nil {
		if appErrors.IsNotFound(err) {
			log.Error().Str("job_id", job.ID).Str("campaign_id", job.CampaignID).Msg("job references unknown campaign, dead-lettering")
			p.must(p.Queue.DeadLetter(ctx, job.ID), job, "dead-letter")
			return
		}
		log.Error().Err(err).Str("job_id", job.ID).Msg("campaign status lookup failed")
		p.must(p.Queue.Retry(ctx, job.ID, p.Config.RetryBaseDelay), job, "retry")
		return
	}
	if campaignStatus == model.CampaignCancelled {
		log.Info().Str("job_id", job.ID).Str("campaign_id", job.CampaignID).Msg("campaign cancelled, dropping job")
		p.must(p.Queue.Ack(ctx, job.ID), job, "ack")
		return
	}

	if err := p.Limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Error().Err(err).Str("job_id", job.ID).Msg("rate limiter failed")
		p.must(p.Queue.Retry(ctx, job.ID, p.Config.RetryBaseDelay), job, "retry")
		return
	}

	instance, err := p.instance(job.InstanceID)
	if err != nil || instance == nil {
		log.Error().Err(err).Str("job_id", job.ID).Str("instance_id", job.InstanceID).Msg("instance unavailable")
		p.retryOrFail(ctx, job, &appErrors.DispatchError{Desc: "instance unavailable", Transient: true}, instance)
		return
	}

	result, err := p.Sender.Send(ctx, instance, &whatsapp.SendRequest{
		To:           job.ContactWaID,
		TemplateName: job.TemplateName,
		Language:     job.TemplateLanguage,
		BodyValues:   job.BodyValues,
		ButtonValues: job.ButtonValues,
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		de, ok := appErrors.AsDispatch(err)
		if !ok {
			de = &appErrors.DispatchError{Desc: err.Error(), Transient: true}
		}
		if de.Transient {
			p.retryOrFail(ctx, job, de, instance)
		} else {
			p.failJob(ctx, job, de, instance)
			p.must(p.Queue.Ack(ctx, job.ID), job, "ack")
		}
		return
	}

	p.succeedJob(ctx, job, result, instance)
	p.must(p.Queue.Ack(ctx, job.ID), job, "ack")
}

// retryOrFail reschedules a transient failure with exponential backoff,
// or converts it into the permanent path once the attempt budget is
// spent.
func (p *Pool) retryOrFail(ctx context.Context, job *queue.Job, de *appErrors.DispatchError, instance *model.Instance) {
	attempt := job.Attempt
	if attempt < 1 {
		attempt = 1
	}
	if attempt < p.Config.MaxAttempts {
		delay := p.Config.RetryBaseDelay << (attempt - 1)
		log.Warn().
			Str("job_id", job.ID).
			Int("attempt", job.Attempt).
			Dur("delay", delay).
			Str("error", de.Desc).
			Msg("transient send failure, retrying")
		p.must(p.Queue.Retry(ctx, job.ID, delay), job, "retry")
		return
	}

	log.Error().
		Str("job_id", job.ID).
		Int("attempt", attempt).
		Str("error", de.Desc).
		Msg("attempts exhausted, failing job")
	p.failJob(ctx, job, de, instance)
	p.must(p.Queue.DeadLetter(ctx, job.ID), job, "dead-letter")
}

// succeedJob records the SENT message and bumps the campaign counter.
func (p *Pool) succeedJob(ctx context.Context, job *queue.Job, result *whatsapp.SendResult, instance *model.Instance) {
	campaignID := job.CampaignID
	msg := &model.Message{
		WamID:      result.MessageID,
		InstanceID: job.InstanceID,
		ContactID:  job.ContactID,
		CampaignID: &campaignID,
		Direction:  model.DirectionOutbound,
		Type:       "template",
		Body:       "Template: " + job.TemplateName,
		Status:     model.MessageSent,
		Timestamp:  result.SentAt.Unix(),
		TemplateParams: &model.TemplateParamsSnapshot{
			TemplateID:   job.TemplateID,
			TemplateName: job.TemplateName,
			Language:     job.TemplateLanguage,
			BodyValues:   job.BodyValues,
			ButtonValues: job.ButtonValues,
		},
	}

	err := p.persist(ctx, func() error {
		if err := p.Messages.Create(msg); err != nil {
			return err
		}
		return p.Campaigns.IncrementSent(job.CampaignID)
	})
	if err != nil {
		// The provider accepted the send; re-running the job would
		// duplicate it. Surface loudly and move on; the wamid is the
		// reconciliation handle.
		log.Error().Err(err).
			Str("wamid", result.MessageID).
			Str("campaign_id", job.CampaignID).
			Msg("PERSISTENCE FAILURE after successful send")
		return
	}

	atomic.AddInt64(&p.totalSent, 1)
	p.finalize(job, instance, notifier.EventMessageSent, result.MessageID)
	log.Info().Str("wamid", result.MessageID).Str("to", job.ContactWaID).Msg("message sent")
}

// failJob records the FAILED message with a synthetic wamid and bumps
// the failure counter.
func (p *Pool) failJob(ctx context.Context, job *queue.Job, de *appErrors.DispatchError, instance *model.Instance) {
	campaignID := job.CampaignID
	wamid := fmt.Sprintf("failed-%s-%s-%d", job.CampaignID, job.MemberID, time.Now().UnixMilli())
	msg := &model.Message{
		WamID:      wamid,
		InstanceID: job.InstanceID,
		ContactID:  job.ContactID,
		CampaignID: &campaignID,
		Direction:  model.DirectionOutbound,
		Type:       "template",
		Body:       "Template: " + job.TemplateName,
		Status:     model.MessageFailed,
		ErrorCode:  de.Code,
		ErrorDesc:  de.Desc,
		TemplateParams: &model.TemplateParamsSnapshot{
			TemplateID:   job.TemplateID,
			TemplateName: job.TemplateName,
			Language:     job.TemplateLanguage,
			BodyValues:   job.BodyValues,
			ButtonValues: job.ButtonValues,
		},
	}

	err := p.persist(ctx, func() error {
		if err := p.Messages.Create(msg); err != nil {
			return err
		}
		return p.Campaigns.IncrementFailed(job.CampaignID)
	})
	if err != nil {
		log.Error().Err(err).
			Str("campaign_id", job.CampaignID).
			Str("member_id", job.MemberID).
			Msg("PERSISTENCE FAILURE recording failed send")
		return
	}

	atomic.AddInt64(&p.totalFailed, 1)
	p.finalize(job, instance, notifier.EventMessageFailed, wamid)
	log.Warn().Str("to", job.ContactWaID).Str("error", de.Desc).Msg("message failed")
}

// finalize flips the campaign to COMPLETED when this was the last
// outstanding job, then emits the best-effort org event.
func (p *Pool) finalize(job *queue.Job, instance *model.Instance, eventType, wamid string) {
	completed, err := p.Campaigns.MarkCompletedIfDone(job.CampaignID)
	if err != nil {
		log.Error().Err(err).Str("campaign_id", job.CampaignID).Msg("completion check failed")
	} else if completed {
		log.Info().Str("campaign_id", job.CampaignID).Msg("campaign completed")
	}

	if p.Notifier == nil {
		return
	}
	orgID := ""
	if instance != nil {
		orgID = instance.OrganizationID
	}
	p.Notifier.Emit(notifier.Event{
		Type:           eventType,
		OrganizationID: orgID,
		CampaignID:     job.CampaignID,
		ContactID:      job.ContactID,
		WamID:          wamid,
	})
}

// persist retries a write with its own linear backoff, independent of
// the job's retry budget.
func (p *Pool) persist(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		time.Sleep(time.Duration(attempt) * 200 * time.Millisecond)
	}
	return err
}

func (p *Pool) instance(id string) (*model.Instance, error) {
	p.instanceMu.RLock()
	inst, ok := p.instanceCache[id]
	p.instanceMu.RUnlock()
	if ok {
		return inst, nil
	}

	inst, err := p.Instances.GetByID(id)
	if err != nil || inst == nil {
		return inst, err
	}
	p.instanceMu.Lock()
	if p.instanceCache == nil {
		p.instanceCache = make(map[string]*model.Instance)
	}
	p.instanceCache[id] = inst
	p.instanceMu.Unlock()
	return inst, nil
}

func (p *Pool) must(err error, job *queue.Job, op string) {
	if err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Str("op", op).Msg("queue operation failed")
	}
}
