package cleanup

import (
	"context"
	"time"

	"github.com/n0rdy/tableq/common"
	"github.com/n0rdy/tableq/db"
	"github.com/n0rdy/tableq/metrics"

	"github.com/rs/zerolog/log"
)

// PendingMessagesJob recovers messages claimed longer than the pending timeout ago and never resolved.
// With the requeue policy they go back to IN_QUEUE (at-least-once delivery),
// with the undeliverable policy they become ACK_NOT_RECEIVED (at-most-once delivery).
type PendingMessagesJob struct {
	repo           *db.MessageRepo
	metricsService metrics.Service
	timeout        time.Duration
	policy         string
	ticker         *time.Ticker
	done           chan struct{}
}

func NewPendingMessagesJob(repo *db.MessageRepo, metricsService metrics.Service, interval time.Duration, timeout time.Duration, policy string) *PendingMessagesJob {
	j := &PendingMessagesJob{
		repo:           repo,
		metricsService: metricsService,
		timeout:        timeout,
		policy:         policy,
		ticker:         time.NewTicker(interval),
		done:           make(chan struct{}),
	}

	go func() {
		for {
			select {
			case <-j.ticker.C:
				ctx, cancelFunc := context.WithTimeout(context.Background(), tickTimeout(interval))
				j.recoverPending(ctx)
				cancelFunc()
			case <-j.done:
				return
			}
		}
	}()

	return j
}

func (j *PendingMessagesJob) recoverPending(ctx context.Context) {
	var (
		recovered int64
		err       error
	)
	switch j.policy {
	case common.UndeliverablePendingPolicy:
		recovered, err = j.repo.CleanPendingMessages(ctx, j.timeout)
	default:
		recovered, err = j.repo.ResetPendingMessages(ctx, j.timeout)
	}
	if err != nil {
		log.Error().Err(err).Str("policy", j.policy).Msg("failed to recover pending messages")
		return
	}
	if recovered > 0 {
		log.Warn().Int64("recovered", recovered).Str("policy", j.policy).Msg("pending messages timed out")
		j.metricsService.IncMessagesPendingRecoveredTotalBy(recovered, j.policy)
	}
}

func (j *PendingMessagesJob) Close() error {
	j.ticker.Stop()
	close(j.done)
	return nil
}
