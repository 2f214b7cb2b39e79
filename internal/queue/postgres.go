// internal/queue/postgres.go
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job statuses in the broadcast_jobs table.
const (
	statusQueued  = "queued"
	statusClaimed = "claimed"
	statusDone    = "done"
	statusDead    = "dead"
)

// PostgresQueue stores jobs in the broadcast_jobs table. Claiming uses
// FOR UPDATE SKIP LOCKED so concurrent workers never double-lease a
// job, and a unique (campaign_id, member_id) index guarantees at most
// one job per recipient per campaign.
type PostgresQueue struct {
	DB *sql.DB
}

var _ Queue = (*PostgresQueue)(nil)

func NewPostgresQueue(db *sql.DB) *PostgresQueue {
	return &PostgresQueue{DB: db}
}

func (q *PostgresQueue) EnqueueBulk(ctx context.Context, jobs []*Job, stagger time.Duration) (int, error) {
	if len(jobs) == 0 {
		return 0, nil
	}

	tx, err := q.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin enqueue tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO broadcast_jobs (id, campaign_id, member_id, payload, status, attempts, scheduled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7)
		ON CONFLICT (campaign_id, member_id) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare enqueue: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	queued := 0
	for i, job := range jobs {
		if job.ID == "" {
			job.ID = uuid.NewString()
		}
		payload, err := json.Marshal(job)
		if err != nil {
			return 0, fmt.Errorf("marshal job %s: %w", job.ID, err)
		}
		res, err := stmt.ExecContext(ctx,
			job.ID, job.CampaignID, job.MemberID, payload, statusQueued,
			now.Add(time.Duration(i)*stagger), now,
		)
		if err != nil {
			return 0, fmt.Errorf("enqueue job %s: %w", job.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			queued++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit enqueue tx: %w", err)
	}
	return queued, nil
}

func (q *PostgresQueue) Claim(ctx context.Context, limit int) ([]*Job, error) {
	rows, err := q.DB.QueryContext(ctx, `
		UPDATE broadcast_jobs SET status=$1, attempts=attempts+1, claimed_at=NOW()
		WHERE id IN (
			SELECT id FROM broadcast_jobs
			WHERE status=$2 AND scheduled_at <= NOW()
			ORDER BY scheduled_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING payload, attempts
	`, statusClaimed, statusQueued, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var payload []byte
		var attempts int
		if err := rows.Scan(&payload, &attempts); err != nil {
			return nil, err
		}
		var job Job
		if err := json.Unmarshal(payload, &job); err != nil {
			return nil, fmt.Errorf("unmarshal job payload: %w", err)
		}
		job.Attempt = attempts
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}

func (q *PostgresQueue) Ack(ctx context.Context, jobID string) error {
	_, err := q.DB.ExecContext(ctx,
		`UPDATE broadcast_jobs SET status=$1, claimed_at=NULL WHERE id=$2`, statusDone, jobID)
	return err
}

func (q *PostgresQueue) Retry(ctx context.Context, jobID string, delay time.Duration) error {
	_, err := q.DB.ExecContext(ctx, `
		UPDATE broadcast_jobs SET status=$1, claimed_at=NULL, scheduled_at=NOW() + $2::interval
		WHERE id=$3
	`, statusQueued, fmt.Sprintf("%f seconds", delay.Seconds()), jobID)
	return err
}

func (q *PostgresQueue) DeadLetter(ctx context.Context, jobID string) error {
	_, err := q.DB.ExecContext(ctx,
		`UPDATE broadcast_jobs SET status=$1, claimed_at=NULL WHERE id=$2`, statusDead, jobID)
	return err
}
