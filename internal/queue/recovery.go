// internal/queue/recovery.go
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Recovery requeues jobs whose claim went stale because the holding
// worker crashed mid-processing. This is what makes delivery
// at-least-once: a crashed attempt reappears instead of being lost.
type Recovery struct {
	db       *sql.DB
	interval time.Duration
	staleAge time.Duration
}

func NewRecovery(db *sql.DB, interval, staleAge time.Duration) *Recovery {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	if staleAge <= 0 {
		staleAge = 5 * time.Minute
	}
	return &Recovery{db: db, interval: interval, staleAge: staleAge}
}

// Run blocks until ctx is cancelled.
func (r *Recovery) Run(ctx context.Context) {
	log.Info().
		Dur("interval", r.interval).
		Dur("stale_age", r.staleAge).
		Msg("queue recovery started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("queue recovery stopped")
			return
		case <-ticker.C:
			r.requeueStale(ctx)
		}
	}
}

func (r *Recovery) requeueStale(ctx context.Context) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE broadcast_jobs SET status=$1, claimed_at=NULL
		WHERE status=$2 AND claimed_at < NOW() - $3::interval
	`, statusQueued, statusClaimed, fmt.Sprintf("%f seconds", r.staleAge.Seconds()))
	if err != nil {
		log.Error().Err(err).Msg("queue recovery scan failed")
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		log.Warn().Int64("jobs", n).Msg("requeued stale claims")
	}
}
