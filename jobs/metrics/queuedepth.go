package metrics

import (
	"context"
	"time"

	"github.com/n0rdy/tableq/common"
	"github.com/n0rdy/tableq/db"
	"github.com/n0rdy/tableq/metrics"

	"github.com/rs/zerolog/log"
)

type QueueDepthMetricsJob struct {
	repo           *db.MessageRepo
	metricsService metrics.Service
	ticker         *time.Ticker
	done           chan struct{}
}

func NewQueueDepthMetricsJob(metricsService metrics.Service, repo *db.MessageRepo, interval time.Duration) *QueueDepthMetricsJob {
	j := &QueueDepthMetricsJob{
		repo:           repo,
		metricsService: metricsService,
		ticker:         time.NewTicker(interval),
		done:           make(chan struct{}),
	}

	go func() {
		for {
			select {
			case <-j.ticker.C:
				ctx, cancelFunc := context.WithTimeout(context.Background(), interval)
				j.refresh(ctx)
				cancelFunc()
			case <-j.done:
				return
			}
		}
	}()

	return j
}

// refresh sets one gauge per status, zero included, so that drained statuses don't keep a stale value.
func (j *QueueDepthMetricsJob) refresh(ctx context.Context) {
	counts, err := j.repo.CountByStatus(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to count messages by status by QueueDepthMetricsJob")
		return
	}
	for _, status := range common.AllStatuses() {
		j.metricsService.SetQueueDepth(common.StatusName(status), counts[status])
	}
}

func (j *QueueDepthMetricsJob) Close() error {
	j.ticker.Stop()
	close(j.done)
	return nil
}
