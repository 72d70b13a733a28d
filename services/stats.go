package services

import (
	"context"

	"github.com/n0rdy/tableq/common"
	"github.com/n0rdy/tableq/db"
)

type StatsService struct {
	repo *db.MessageRepo
}

func NewStatsService(repo *db.MessageRepo) *StatsService {
	return &StatsService{
		repo: repo,
	}
}

// GetStats reports the number of messages per status, every status included even when empty.
func (ss *StatsService) GetStats(ctx context.Context) (*common.StatsResponse, error) {
	counts, err := ss.repo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	stats := &common.StatsResponse{
		ByStatus: make(map[string]int64, len(common.AllStatuses())),
	}
	for _, status := range common.AllStatuses() {
		count := counts[status]
		stats.ByStatus[common.StatusName(status)] = count
		stats.TotalMessages += count
	}
	return stats, nil
}
