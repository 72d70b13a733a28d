package maintenance

import (
	"context"
	"time"

	"github.com/n0rdy/tableq/db"

	"github.com/rs/zerolog/log"
)

type DbOptimizationJob struct {
	ticker *time.Ticker
	done   chan struct{}
}

func NewDbOptimizationJob(repo *db.MessageRepo, interval time.Duration, maxDuration time.Duration) *DbOptimizationJob {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				ctx, cancelFunc := context.WithTimeout(context.Background(), maxDuration)
				if err := repo.Optimize(ctx); err != nil {
					log.Error().Err(err).Msg("failed to optimize database")
				}
				cancelFunc()
			case <-done:
				return
			}
		}
	}()

	return &DbOptimizationJob{
		ticker: ticker,
		done:   done,
	}
}

func (j *DbOptimizationJob) Close() error {
	j.ticker.Stop()
	close(j.done)
	return nil
}
