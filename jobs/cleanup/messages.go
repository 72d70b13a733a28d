package cleanup

import (
	"context"
	"time"

	"github.com/n0rdy/tableq/db"
	"github.com/n0rdy/tableq/metrics"

	"github.com/rs/zerolog/log"
)

// MessagesCleanupJob deletes resolved messages once they are older than the retention.
// Which statuses count as resolved is decided by the bitmask.
type MessagesCleanupJob struct {
	repo           *db.MessageRepo
	metricsService metrics.Service
	retention      time.Duration
	bitmask        int
	ticker         *time.Ticker
	done           chan struct{}
}

func NewMessagesCleanupJob(repo *db.MessageRepo, metricsService metrics.Service, interval time.Duration, retention time.Duration, bitmask int) *MessagesCleanupJob {
	j := &MessagesCleanupJob{
		repo:           repo,
		metricsService: metricsService,
		retention:      retention,
		bitmask:        bitmask,
		ticker:         time.NewTicker(interval),
		done:           make(chan struct{}),
	}

	go func() {
		for {
			select {
			case <-j.ticker.C:
				ctx, cancelFunc := context.WithTimeout(context.Background(), tickTimeout(interval))
				j.cleanup(ctx)
				cancelFunc()
			case <-j.done:
				return
			}
		}
	}()

	return j
}

func (j *MessagesCleanupJob) cleanup(ctx context.Context) {
	deleted, err := j.repo.CleanMessages(ctx, j.retention, j.bitmask)
	if err != nil {
		log.Error().Err(err).Msg("failed to clean up resolved messages")
		return
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("resolved messages cleaned up")
		j.metricsService.IncMessagesCleanupTotalBy(deleted)
	}
}

func (j *MessagesCleanupJob) Close() error {
	j.ticker.Stop()
	close(j.done)
	return nil
}

// tickTimeout leaves a second between two runs, unless the interval is too short for that.
func tickTimeout(interval time.Duration) time.Duration {
	if interval > 2*time.Second {
		return interval - time.Second
	}
	return interval
}
