package services

import (
	"context"

	"github.com/n0rdy/tableq/db"
)

type MonitoringService struct {
	repo *db.MessageRepo
}

func NewMonitoringService(repo *db.MessageRepo) *MonitoringService {
	return &MonitoringService{
		repo: repo,
	}
}

func (ms *MonitoringService) IsHealthy(ctx context.Context) bool {
	err := ms.repo.Ping(ctx)
	return err == nil
}
