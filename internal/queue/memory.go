// internal/queue/memory.go
package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue implements Queue in memory with the same scheduling and
// leasing semantics as the postgres implementation. Used by tests and
// local development without a database.
type MemoryQueue struct {
	mu    sync.Mutex
	items map[string]*memoryItem

	// Now is swappable so scheduling tests can move time instead of
	// sleeping.
	Now func() time.Time
}

type memoryItem struct {
	job      *Job
	status   string
	readyAt  time.Time
	attempts int
	seq      int
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		items: make(map[string]*memoryItem),
		Now:   time.Now,
	}
}

func (q *MemoryQueue) EnqueueBulk(_ context.Context, jobs []*Job, stagger time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.Now()
	queued := 0
	for i, job := range jobs {
		if job.ID == "" {
			job.ID = uuid.NewString()
		}
		dup := false
		for _, item := range q.items {
			if item.job.CampaignID == job.CampaignID && item.job.MemberID == job.MemberID {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		q.items[job.ID] = &memoryItem{
			job:     job,
			status:  statusQueued,
			readyAt: now.Add(time.Duration(i) * stagger),
			seq:     len(q.items),
		}
		queued++
	}
	return queued, nil
}

func (q *MemoryQueue) Claim(_ context.Context, limit int) ([]*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.Now()
	var due []*memoryItem
	for _, item := range q.items {
		if item.status == statusQueued && !item.readyAt.After(now) {
			due = append(due, item)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].readyAt.Equal(due[j].readyAt) {
			return due[i].seq < due[j].seq
		}
		return due[i].readyAt.Before(due[j].readyAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	jobs := make([]*Job, 0, len(due))
	for _, item := range due {
		item.status = statusClaimed
		item.attempts++
		claimed := *item.job
		claimed.Attempt = item.attempts
		jobs = append(jobs, &claimed)
	}
	return jobs, nil
}

func (q *MemoryQueue) Ack(_ context.Context, jobID string) error {
	return q.setStatus(jobID, statusDone)
}

func (q *MemoryQueue) Retry(_ context.Context, jobID string, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[jobID]
	if !ok {
		return fmt.Errorf("unknown job %s", jobID)
	}
	item.status = statusQueued
	item.readyAt = q.Now().Add(delay)
	return nil
}

func (q *MemoryQueue) DeadLetter(_ context.Context, jobID string) error {
	return q.setStatus(jobID, statusDead)
}

func (q *MemoryQueue) setStatus(jobID, status string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[jobID]
	if !ok {
		return fmt.Errorf("unknown job %s", jobID)
	}
	item.status = status
	return nil
}

// Snapshot helpers for tests.

func (q *MemoryQueue) Status(jobID string) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if item, ok := q.items[jobID]; ok {
		return item.status
	}
	return ""
}

func (q *MemoryQueue) ReadyAt(jobID string) time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	if item, ok := q.items[jobID]; ok {
		return item.readyAt
	}
	return time.Time{}
}

func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
